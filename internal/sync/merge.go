package sync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wordcards/cardsync/internal/ledger"
	"github.com/wordcards/cardsync/internal/schema"
	"github.com/wordcards/cardsync/internal/tracked"
)

// pass reconciles one repository between the local store and the working
// copy of its shared replica.
type pass[T schema.Entity] struct {
	spec         *RepositorySpec[T]
	local        *tracked.Repository[T]
	shared       *tracked.Repository[T]
	localLedger  *ledger.Ledger
	sharedLedger *ledger.Ledger
	result       *Result
	logger       *zap.Logger

	// sharedWrites counts modifications of the working copy; zero means
	// the shared file does not need replacing.
	sharedWrites int
}

// run visits every key that appears in the shared replica, in either
// ledger since the marker, or among local changes since the marker.
func (p *pass[T]) run(ctx context.Context, since time.Time) error {
	keys := make(map[string]schema.EntityKey)

	sharedEntities := make(map[string]T)
	for e, err := range p.shared.All(ctx) {
		if err != nil {
			return fmt.Errorf("failed to read shared entities: %w", err)
		}
		id := e.Key().ID()
		sharedEntities[id] = e
		keys[id] = e.Key()
	}

	sharedTombs := make(map[string]*schema.DeletionRecord)
	for rec, err := range p.sharedLedger.All(ctx) {
		if err != nil {
			return fmt.Errorf("failed to read shared tombstones: %w", err)
		}
		id := rec.Key.ID()
		sharedTombs[id] = rec
		keys[id] = rec.Key
	}

	localEntities := make(map[string]T)
	for e, err := range p.local.ChangedSince(ctx, since) {
		if err != nil {
			return fmt.Errorf("failed to read local changes: %w", err)
		}
		id := e.Key().ID()
		localEntities[id] = e
		keys[id] = e.Key()
	}

	localTombs := make(map[string]*schema.DeletionRecord)
	for rec, err := range p.localLedger.Since(ctx, since) {
		if err != nil {
			return fmt.Errorf("failed to read local tombstones: %w", err)
		}
		id := rec.Key.ID()
		localTombs[id] = rec
		keys[id] = rec.Key
	}

	for _, id := range slices.Sorted(maps.Keys(keys)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := keys[id]

		l, hasL := localEntities[id]
		if !hasL {
			var err error
			if l, hasL, err = p.loadLocal(ctx, key); err != nil {
				return err
			}
		}

		lt, ok := localTombs[id]
		if !ok {
			var err error
			if lt, err = p.localLedger.TryGet(ctx, key); err != nil {
				return err
			}
		}

		s, hasS := sharedEntities[id]
		st := sharedTombs[id]

		if err := p.reconcile(ctx, key, l, hasL, lt, s, hasS, st); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	return nil
}

func (p *pass[T]) loadLocal(ctx context.Context, key schema.EntityKey) (T, bool, error) {
	e, err := p.local.Get(ctx, key)
	switch {
	case err == nil:
		return e, true, nil
	case errors.Is(err, tracked.ErrNotFound):
		var zero T
		return zero, false, nil
	default:
		return e, false, err
	}
}

func (p *pass[T]) reconcile(ctx context.Context, key schema.EntityKey,
	l T, hasL bool, lt *schema.DeletionRecord,
	s T, hasS bool, st *schema.DeletionRecord,
) error {
	newest := schema.Newer(lt, st)

	var latest time.Time
	if hasL {
		latest = l.ModifiedAt()
	}
	if hasS && s.ModifiedAt().After(latest) {
		latest = s.ModifiedAt()
	}

	if newest != nil && ((!hasL && !hasS) || newest.DeletedDate.After(latest)) {
		return p.applyDeletion(ctx, key, newest, l, hasL, lt, hasS, st)
	}

	switch {
	case hasL && hasS:
		if l.ModifiedAt().After(s.ModifiedAt()) {
			if err := p.push(ctx, l); err != nil {
				return err
			}
		} else if s.ModifiedAt().After(l.ModifiedAt()) {
			if err := p.pull(ctx, key, l, true, s); err != nil {
				return err
			}
		}
	case hasL:
		if err := p.push(ctx, l); err != nil {
			return err
		}
	case hasS:
		if err := p.pull(ctx, key, l, false, s); err != nil {
			return err
		}
	}

	if newest != nil {
		return p.copyTombstone(ctx, newest, lt, st, true)
	}
	return nil
}

func (p *pass[T]) push(ctx context.Context, e T) error {
	if err := p.shared.Put(ctx, e); err != nil {
		return err
	}
	p.result.Pushed++
	p.sharedWrites++
	return nil
}

func (p *pass[T]) pull(ctx context.Context, key schema.EntityKey, l T, hasL bool, s T) error {
	c := Change[T]{Key: key, Local: l, HasLocal: hasL, Incoming: s}
	ok, err := p.accept(ctx, c)
	if err != nil || !ok {
		return err
	}
	if err := p.local.Put(ctx, s); err != nil {
		return err
	}
	p.result.Pulled++
	p.notify(ctx, c)
	return nil
}

func (p *pass[T]) applyDeletion(ctx context.Context, key schema.EntityKey, d *schema.DeletionRecord,
	l T, hasL bool, lt *schema.DeletionRecord, hasS bool, st *schema.DeletionRecord,
) error {
	applyLocal := true
	if hasL {
		c := Change[T]{Key: key, Local: l, HasLocal: true, Deleted: true}
		ok, err := p.accept(ctx, c)
		if err != nil {
			return err
		}
		if ok {
			if err := p.local.Remove(ctx, key); err != nil {
				return err
			}
			p.result.DeletedLocal++
			p.notify(ctx, c)
		}
		applyLocal = ok
	}

	if hasS {
		if err := p.shared.Remove(ctx, key); err != nil {
			return err
		}
		p.result.DeletedShared++
		p.sharedWrites++
	}

	return p.copyTombstone(ctx, d, lt, st, applyLocal)
}

// copyTombstone writes d into each ledger that lacks it or holds an older
// record for the key.
func (p *pass[T]) copyTombstone(ctx context.Context, d, lt, st *schema.DeletionRecord, toLocal bool) error {
	if toLocal && (lt == nil || d.DeletedDate.After(lt.DeletedDate)) {
		if err := p.localLedger.Record(ctx, d.Key, d.DeletedDate); err != nil {
			return err
		}
		p.result.TombstonesCopied++
	}
	if st == nil || d.DeletedDate.After(st.DeletedDate) {
		if err := p.sharedLedger.Record(ctx, d.Key, d.DeletedDate); err != nil {
			return err
		}
		p.result.TombstonesCopied++
		p.sharedWrites++
	}
	return nil
}

func (p *pass[T]) accept(ctx context.Context, c Change[T]) (bool, error) {
	for _, pre := range p.spec.PreProcessors {
		ok, err := pre(ctx, c)
		if err != nil {
			return false, fmt.Errorf("pre-processor: %w", err)
		}
		if !ok {
			p.result.Rejected++
			p.logger.Debug("incoming change rejected",
				zap.String("key", c.Key.ID()),
				zap.Bool("deleted", c.Deleted))
			return false, nil
		}
	}
	return true, nil
}

func (p *pass[T]) notify(ctx context.Context, c Change[T]) {
	for _, post := range p.spec.PostProcessors {
		post(ctx, c)
	}
}
