package sync

import (
	"context"
	"errors"
	"time"

	"github.com/wordcards/cardsync/internal/schema"
)

var (
	// ErrLockContention is returned once a repository's pass has been
	// skipped for lock contention too many times in a row.
	ErrLockContention = errors.New("sync lock contended")

	// ErrUnknownRepository is returned for a name that was never registered.
	ErrUnknownRepository = errors.New("unknown repository")

	// ErrSharedChanged aborts a pass when the shared replica was replaced
	// underneath it, usually by the cloud client delivering another
	// machine's write. The next pass starts over from the new file.
	ErrSharedChanged = errors.New("shared replica changed during sync")

	// ErrRepositoryBusy is returned by maintenance that needs the sync lock
	// while another process holds it.
	ErrRepositoryBusy = errors.New("repository is being synchronized")
)

// SyncTimes stores the per-repository sync marker.
type SyncTimes interface {
	GetSyncTime(ctx context.Context, repository string) (time.Time, error)
	AddOrUpdateSyncTime(ctx context.Context, repository string, t time.Time) error
}

// ContentionCounts persists the number of consecutive passes skipped for
// lock contention. When the SyncTimes given to New also implements it, the
// count survives across processes, so short-lived invocations escalate to
// ErrLockContention the same way a long-running one does.
type ContentionCounts interface {
	GetSyncContention(ctx context.Context, repository string) (int, error)
	SetSyncContention(ctx context.Context, repository string, n int) error
}

// Change describes one incoming modification of the local replica.
//
// For a pull, Incoming is the shared entity. For a deletion, Deleted is set
// and Incoming is the zero value. Local is the current local entity when
// HasLocal is set.
type Change[T schema.Entity] struct {
	Key      schema.EntityKey
	Local    T
	HasLocal bool
	Incoming T
	Deleted  bool
}

// PreProcessor inspects a change before it is applied locally. Returning
// false rejects the change and leaves the local replica untouched. An error
// aborts the pass.
type PreProcessor[T schema.Entity] func(ctx context.Context, c Change[T]) (bool, error)

// PostProcessor observes a change after it was applied locally. In this
// call Local holds the value that was replaced.
type PostProcessor[T schema.Entity] func(ctx context.Context, c Change[T])

// Hooks run around the end of a pass.
type Hooks struct {
	// OnSynchronizing runs after reconciliation while the lock is held and
	// before the shared replica is committed. An error aborts the pass.
	OnSynchronizing func(ctx context.Context, r *Result) error

	// OnSynchronizationFinished runs after the shared replica is committed.
	OnSynchronizationFinished func(ctx context.Context, r *Result)
}

// RepositorySpec registers one tracked collection with the synchronizer.
type RepositorySpec[T schema.Entity] struct {
	// Name is the collection name; it also names the shared replica file.
	Name string

	// New allocates an empty entity for decoding.
	New func() T

	PreProcessors  []PreProcessor[T]
	PostProcessors []PostProcessor[T]
	Hooks          Hooks
}

// Result summarizes one pass over one repository.
type Result struct {
	Repository       string        `json:"repository"`
	PassID           string        `json:"pass_id"`
	Pushed           int           `json:"pushed"`
	Pulled           int           `json:"pulled"`
	DeletedLocal     int           `json:"deleted_local"`
	DeletedShared    int           `json:"deleted_shared"`
	TombstonesCopied int           `json:"tombstones_copied"`
	Rejected         int           `json:"rejected"`
	Skipped          bool          `json:"skipped"`
	Duration         time.Duration `json:"duration"`
}

// Changed reports whether the pass modified either replica.
func (r *Result) Changed() bool {
	return r.Pushed+r.Pulled+r.DeletedLocal+r.DeletedShared+r.TombstonesCopied > 0
}

// PruneResult reports the deletion records removed from one repository.
type PruneResult struct {
	Repository string `json:"repository"`
	Local      int64  `json:"local"`
	Shared     int64  `json:"shared"`
}
