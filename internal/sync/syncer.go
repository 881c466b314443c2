package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wordcards/cardsync/internal/ledger"
	"github.com/wordcards/cardsync/internal/schema"
	"github.com/wordcards/cardsync/internal/tracked"
)

// DefaultLockContentionThreshold is how many consecutive contended passes
// are tolerated before ErrLockContention is reported.
const DefaultLockContentionThreshold = 3

// Synchronizer reconciles registered repositories between the local store
// and their shared replicas. It is safe for concurrent use; passes over the
// same repository are serialized, passes over different repositories run
// independently.
type Synchronizer struct {
	paths  Paths
	local  *sql.DB
	times  SyncTimes
	logger *zap.Logger
	clock  func() time.Time

	threshold   int
	concurrency int

	mu    stdsync.RWMutex
	repos map[string]runner
	order []string
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synchronizer) {
		if logger == nil {
			logger = zap.NewNop()
		}
		s.logger = logger
	}
}

// WithClock overrides the time source used for sync markers.
func WithClock(clock func() time.Time) Option {
	return func(s *Synchronizer) { s.clock = clock }
}

// WithLockContentionThreshold sets how many consecutive skipped passes
// are tolerated before ErrLockContention is returned.
func WithLockContentionThreshold(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithConcurrency limits how many repositories SyncAll processes at once.
// Zero means no limit.
func WithConcurrency(n int) Option {
	return func(s *Synchronizer) { s.concurrency = n }
}

// New creates a synchronizer over the local database. Repositories must be
// added with Register before they can be synchronized.
//
// Example:
//
//	store := settings.New(local.Conn())
//	s := sync.New(paths, local.Conn(), store, sync.WithLogger(logger))
//	err := sync.Register(s, sync.RepositorySpec[*schema.LearningInfo]{
//	    Name: "learning",
//	    New:  func() *schema.LearningInfo { return new(schema.LearningInfo) },
//	})
func New(paths Paths, local *sql.DB, times SyncTimes, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		paths:     paths,
		local:     local,
		times:     times,
		logger:    zap.NewNop(),
		clock:     time.Now,
		threshold: DefaultLockContentionThreshold,
		repos:     make(map[string]runner),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// runner erases the entity type of a registered repository.
type runner interface {
	run(ctx context.Context, s *Synchronizer) (*Result, error)
	prune(ctx context.Context, s *Synchronizer, before time.Time) (*PruneResult, error)
}

// Register adds a repository. Names must be unique.
func Register[T schema.Entity](s *Synchronizer, spec RepositorySpec[T]) error {
	if spec.Name == "" {
		return errors.New("repository name is required")
	}
	if spec.New == nil {
		return fmt.Errorf("repository %s: New is required", spec.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repos[spec.Name]; ok {
		return fmt.Errorf("repository %s already registered", spec.Name)
	}
	s.repos[spec.Name] = &repo[T]{spec: spec}
	s.order = append(s.order, spec.Name)
	return nil
}

// Repositories returns the registered names in registration order.
func (s *Synchronizer) Repositories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Paths returns the folder layout in use.
func (s *Synchronizer) Paths() Paths {
	return s.paths
}

// SyncRepository runs one pass over the named repository.
//
// A pass that finds the lock held by another process is skipped: the
// returned Result has Skipped set and the error is nil, unless the pass has
// now been skipped LockContentionThreshold times in a row, in which case
// ErrLockContention is returned alongside the Result.
//
// On any other failure the sync marker is left untouched and the shared
// replica is not modified.
func (s *Synchronizer) SyncRepository(ctx context.Context, name string) (*Result, error) {
	s.mu.RLock()
	r, ok := s.repos[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRepository, name)
	}
	return r.run(ctx, s)
}

// SyncAll runs a pass over every registered repository concurrently. One
// repository failing does not stop the others; all errors are joined.
// Results of the passes that completed (including skipped ones) are
// returned in registration order.
func (s *Synchronizer) SyncAll(ctx context.Context) ([]*Result, error) {
	names := s.Repositories()
	results := make([]*Result, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, name := range names {
		g.Go(func() error {
			results[i], errs[i] = s.SyncRepository(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

// PruneTombstones removes deletion records older than before from the
// local store and from every shared replica. Each repository is pruned
// while holding its sync lock, on a working copy that is committed the way
// a pass commits, so the next pass has nothing to copy back. A repository
// whose lock is held elsewhere fails with ErrRepositoryBusy; the others
// are still pruned.
func (s *Synchronizer) PruneTombstones(ctx context.Context, before time.Time) ([]*PruneResult, error) {
	var (
		results []*PruneResult
		errs    []error
	)
	for _, name := range s.Repositories() {
		s.mu.RLock()
		r := s.repos[name]
		s.mu.RUnlock()

		res, err := r.prune(ctx, s, before)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// repo is a registered repository with its pass state.
type repo[T schema.Entity] struct {
	spec RepositorySpec[T]

	mu        stdsync.Mutex
	contended int
}

func (r *repo[T]) run(ctx context.Context, s *Synchronizer) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := r.spec.Name
	started := s.clock()
	result := &Result{Repository: name, PassID: uuid.NewString()}
	logger := s.logger.With(zap.String("repository", name), zap.String("pass_id", result.PassID))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.paths.Ensure(); err != nil {
		return nil, err
	}

	lock, err := tryLock(s.paths.LockFile(name))
	if errors.Is(err, errLocked) {
		contended := r.contention(ctx, s, logger) + 1
		r.setContention(ctx, s, contended, logger)
		result.Skipped = true
		result.Duration = s.clock().Sub(started)
		logger.Warn("sync pass skipped, repository locked",
			zap.Int("consecutive", contended))
		if contended >= s.threshold {
			return result, fmt.Errorf("%s: %w (%d consecutive passes)", name, ErrLockContention, contended)
		}
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	if r.contention(ctx, s, logger) != 0 {
		r.setContention(ctx, s, 0, logger)
	}
	defer func() {
		if err := lock.unlock(); err != nil {
			logger.Warn("failed to release sync lock", zap.Error(err))
		}
	}()

	replica, err := openShared(ctx, s.paths.SharedFile(name), s.paths.WorkingFile(name))
	if err != nil {
		return nil, err
	}
	defer replica.discard()

	since, err := s.times.GetSyncTime(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync time: %w", err)
	}
	if !replica.existed {
		// Nothing shared yet: push everything.
		since = time.Time{}
	}

	local := tracked.New(s.local, name, r.spec.New)
	shared := tracked.New(replica.db.Conn(), name, r.spec.New)
	p := &pass[T]{
		spec:         &r.spec,
		local:        local,
		shared:       shared,
		localLedger:  local.Ledger(),
		sharedLedger: shared.Ledger(),
		result:       result,
		logger:       logger,
	}
	if err := p.run(ctx, since); err != nil {
		return nil, fmt.Errorf("sync %s: %w", name, err)
	}

	if hook := r.spec.Hooks.OnSynchronizing; hook != nil {
		if err := hook(ctx, result); err != nil {
			return nil, fmt.Errorf("sync %s: synchronizing hook: %w", name, err)
		}
	}

	if p.sharedWrites > 0 || !replica.existed {
		if err := replica.commit(); err != nil {
			return nil, fmt.Errorf("sync %s: %w", name, err)
		}
	}

	if hook := r.spec.Hooks.OnSynchronizationFinished; hook != nil {
		hook(ctx, result)
	}

	if err := s.times.AddOrUpdateSyncTime(ctx, name, started); err != nil {
		return nil, fmt.Errorf("failed to store sync time: %w", err)
	}

	result.Duration = s.clock().Sub(started)
	logger.Info("sync pass complete",
		zap.Int("pushed", result.Pushed),
		zap.Int("pulled", result.Pulled),
		zap.Int("deleted_local", result.DeletedLocal),
		zap.Int("deleted_shared", result.DeletedShared),
		zap.Int("tombstones_copied", result.TombstonesCopied),
		zap.Int("rejected", result.Rejected),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// contention returns the number of consecutive skipped passes, preferring
// the persisted count when the synchronizer has one.
func (r *repo[T]) contention(ctx context.Context, s *Synchronizer, logger *zap.Logger) int {
	counts, ok := s.times.(ContentionCounts)
	if !ok {
		return r.contended
	}
	n, err := counts.GetSyncContention(ctx, r.spec.Name)
	if err != nil {
		logger.Warn("failed to read lock contention count", zap.Error(err))
		return r.contended
	}
	return n
}

func (r *repo[T]) setContention(ctx context.Context, s *Synchronizer, n int, logger *zap.Logger) {
	r.contended = n
	if counts, ok := s.times.(ContentionCounts); ok {
		if err := counts.SetSyncContention(ctx, r.spec.Name, n); err != nil {
			logger.Warn("failed to store lock contention count", zap.Error(err))
		}
	}
}

func (r *repo[T]) prune(ctx context.Context, s *Synchronizer, before time.Time) (*PruneResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := r.spec.Name
	logger := s.logger.With(zap.String("repository", name))

	if err := s.paths.Ensure(); err != nil {
		return nil, err
	}
	lock, err := tryLock(s.paths.LockFile(name))
	if errors.Is(err, errLocked) {
		return nil, fmt.Errorf("%s: %w", name, ErrRepositoryBusy)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	defer func() {
		if err := lock.unlock(); err != nil {
			logger.Warn("failed to release sync lock", zap.Error(err))
		}
	}()

	replica, err := openShared(ctx, s.paths.SharedFile(name), s.paths.WorkingFile(name))
	if err != nil {
		return nil, err
	}
	defer replica.discard()

	result := &PruneResult{Repository: name}
	if replica.existed {
		if result.Shared, err = ledger.New(replica.db.Conn(), name).Prune(ctx, before); err != nil {
			return nil, fmt.Errorf("prune %s: shared replica: %w", name, err)
		}
		if result.Shared > 0 {
			if err := replica.commit(); err != nil {
				return nil, fmt.Errorf("prune %s: %w", name, err)
			}
		}
	}

	// The shared replica goes first: if its commit fails, the local
	// records are still there for the next attempt.
	if result.Local, err = ledger.New(s.local, name).Prune(ctx, before); err != nil {
		return nil, fmt.Errorf("prune %s: local store: %w", name, err)
	}

	logger.Info("pruned deletion records",
		zap.Int64("local", result.Local),
		zap.Int64("shared", result.Shared),
		zap.Time("before", before))
	return result, nil
}
