package tracked

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/wordcards/cardsync/internal/dbx"
	"github.com/wordcards/cardsync/internal/ledger"
	"github.com/wordcards/cardsync/internal/schema"
)

// Repository is a keyed document store for one entity type.
type Repository[T schema.Entity] struct {
	db         *sql.DB
	collection string
	newFn      func() T
	clock      func() time.Time
}

// Option configures a Repository.
type Option[T schema.Entity] func(*Repository[T])

// WithClock overrides the time source used to stamp writes.
func WithClock[T schema.Entity](clock func() time.Time) Option[T] {
	return func(r *Repository[T]) { r.clock = clock }
}

// New returns a repository over the given collection. newFn allocates an
// empty entity to decode documents into.
func New[T schema.Entity](db *sql.DB, collection string, newFn func() T, opts ...Option[T]) *Repository[T] {
	r := &Repository[T]{
		db:         db,
		collection: collection,
		newFn:      newFn,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Collection returns the collection name.
func (r *Repository[T]) Collection() string {
	return r.collection
}

// Ledger returns the deletion ledger paired with this repository.
func (r *Repository[T]) Ledger() *ledger.Ledger {
	return ledger.New(r.db, r.collection)
}

func (r *Repository[T]) storageErr(op string, err error) error {
	return &StorageError{Op: op, Collection: r.collection, Err: err}
}

// Get returns the entity stored under key, or ErrNotFound.
func (r *Repository[T]) Get(ctx context.Context, key schema.EntityKey) (T, error) {
	var zero T
	row := r.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		r.collection, key.ID())

	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fmt.Errorf("%s %s: %w", r.collection, key.ID(), ErrNotFound)
		}
		return zero, r.storageErr("get", err)
	}
	return r.decode(body)
}

// Upsert stamps the entity's ModifiedAt with the current time and stores
// it. The stamp is always strictly later than the previously stored value
// for the same key, even if the clock has not advanced.
func (r *Repository[T]) Upsert(ctx context.Context, entity T) error {
	key := entity.Key()
	if err := key.Validate(); err != nil {
		return err
	}

	err := dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		var prevNanos int64
		err := tx.QueryRowContext(ctx,
			`SELECT modified_at FROM documents WHERE collection = ? AND id = ?`,
			r.collection, key.ID()).Scan(&prevNanos)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		stamp := r.clock().UTC()
		if err == nil {
			if prev := time.Unix(0, prevNanos); !stamp.After(prev) {
				stamp = prev.Add(time.Nanosecond).UTC()
			}
		}
		if prev := entity.ModifiedAt(); !prev.IsZero() && !stamp.After(prev) {
			stamp = prev.Add(time.Nanosecond).UTC()
		}

		old := entity.ModifiedAt()
		entity.SetModifiedAt(stamp)
		if err := r.put(ctx, tx, entity); err != nil {
			entity.SetModifiedAt(old)
			return err
		}
		return nil
	})
	if err != nil {
		return r.storageErr("upsert", err)
	}
	return nil
}

// Put stores the entity exactly as given, keeping its ModifiedAt. It is
// meant for replaying a change that was stamped on another replica.
func (r *Repository[T]) Put(ctx context.Context, entity T) error {
	if err := entity.Key().Validate(); err != nil {
		return err
	}
	if err := r.put(ctx, r.db, entity); err != nil {
		return r.storageErr("put", err)
	}
	return nil
}

func (r *Repository[T]) put(ctx context.Context, db dbx.DBTX, entity T) error {
	body, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	query := `
	INSERT INTO documents (collection, id, modified_at, body)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		modified_at = excluded.modified_at,
		body = excluded.body
	`
	_, err = db.ExecContext(ctx, query,
		r.collection, entity.Key().ID(), entity.ModifiedAt().UnixNano(), string(body))
	return err
}

// Delete records a tombstone for key in the paired ledger and removes the
// entity, atomically. The tombstone is dated strictly after the entity's
// ModifiedAt so the deletion wins over the version it removes.
func (r *Repository[T]) Delete(ctx context.Context, key schema.EntityKey) error {
	err := dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		var modNanos int64
		err := tx.QueryRowContext(ctx,
			`SELECT modified_at FROM documents WHERE collection = ? AND id = ?`,
			r.collection, key.ID()).Scan(&modNanos)
		if err != nil {
			return err
		}

		deleted := r.clock().UTC()
		if mod := time.Unix(0, modNanos); !deleted.After(mod) {
			deleted = mod.Add(time.Nanosecond).UTC()
		}

		if err := ledger.New(tx, r.collection).Record(ctx, key, deleted); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`,
			r.collection, key.ID())
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", r.collection, key.ID(), ErrNotFound)
	}
	if err != nil {
		return r.storageErr("delete", err)
	}
	return nil
}

// Remove deletes the entity without leaving a tombstone. Removing a
// missing key is not an error.
func (r *Repository[T]) Remove(ctx context.Context, key schema.EntityKey) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		r.collection, key.ID())
	if err != nil {
		return r.storageErr("remove", err)
	}
	return nil
}

// ChangedSince lazily yields entities whose ModifiedAt is at or after t,
// in ascending ModifiedAt order. A zero t yields every entity.
func (r *Repository[T]) ChangedSince(ctx context.Context, t time.Time) iter.Seq2[T, error] {
	var since int64
	if !t.IsZero() {
		since = t.UnixNano()
	}
	return r.query(ctx, "changed since",
		`SELECT body FROM documents
		WHERE collection = ? AND modified_at >= ?
		ORDER BY modified_at ASC, id ASC`,
		r.collection, since)
}

// All lazily yields every entity, oldest change first.
func (r *Repository[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return r.ChangedSince(ctx, time.Time{})
}

// Count returns the number of stored entities.
func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, r.collection).Scan(&n)
	if err != nil {
		return 0, r.storageErr("count", err)
	}
	return n, nil
}

func (r *Repository[T]) query(ctx context.Context, op, query string, args ...any) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(zero, r.storageErr(op, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var body string
			if err := rows.Scan(&body); err != nil {
				yield(zero, r.storageErr(op, err))
				return
			}
			entity, err := r.decode(body)
			if !yield(entity, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, r.storageErr(op, err))
		}
	}
}

func (r *Repository[T]) decode(body string) (T, error) {
	entity := r.newFn()
	if err := json.Unmarshal([]byte(body), entity); err != nil {
		var zero T
		return zero, r.storageErr("decode", err)
	}
	return entity, nil
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
