// Package sync keeps tracked repositories consistent across machines that
// share a cloud-synchronized folder.
//
// # Overview
//
// Every registered repository has one shared replica, a SQLite file in the
// sync root that the cloud client copies between machines. A pass
// reconciles the local store with that file:
//
//	local store  ──┐                       ┌── {SyncRoot}/{repo}.db
//	  changes since │   reconcile per key   │   all entities
//	  the marker    ├──────────────────────►│   all tombstones
//	local ledger ──┘                       └──
//
// Per key, the newest tombstone from either ledger is compared with the
// newest entity from either replica. A strictly newer tombstone deletes the
// entity everywhere; otherwise the entity with the strictly greater
// ModifiedAt wins and equal timestamps are left alone. An entity written
// after a deletion therefore comes back on every machine. Tombstones are
// copied into whichever ledger lacks them.
//
// # Atomicity
//
// The shared file is never written in place. A pass copies it into the
// machine's own directory, works on the copy and renames it over the
// original when something changed. If the original was replaced in the
// meantime the pass fails with ErrSharedChanged and the next pass starts
// from the new file.
//
// # Locking
//
// A pass holds an exclusive advisory lock on {MachineDir}/{repo}.lock. A
// contended lock skips the pass; after LockContentionThreshold consecutive
// skips ErrLockContention is returned so the caller can surface it. When
// the SyncTimes store also implements ContentionCounts the skip count is
// persisted, so separate short-lived processes escalate as well.
//
// # Pruning
//
// Synchronizer.PruneTombstones removes old deletion records from the
// shared replica and the local ledger while holding the repository's lock,
// committing the shared copy like a pass does. Pruning only the local
// ledger would let the next pass copy every record back.
//
// # Sync marker
//
// After a successful pass the time the pass started is stored through
// SyncTimes. The next pass only reads local changes made since then, while
// the shared replica is always read in full. A failed pass leaves the
// marker alone, so nothing is lost; it is simply redone.
//
// # Processors and hooks
//
// PreProcessors can veto an incoming change (a pull or a deletion) before
// it touches the local store. PostProcessors observe applied changes.
// Hooks.OnSynchronizing runs before the shared commit while the lock is
// held and can abort the pass; Hooks.OnSynchronizationFinished runs after.
//
// Usage
//
//	paths := sync.NewPaths(cfg.Sync.Root, "cardsync", cfg.DataDir, hostname)
//	s := sync.New(paths, local.Conn(), store, sync.WithLogger(logger))
//	_ = sync.Register(s, sync.RepositorySpec[*schema.LearningInfo]{
//	    Name:          "learning",
//	    New:           func() *schema.LearningInfo { return new(schema.LearningInfo) },
//	    PreProcessors: []sync.PreProcessor[*schema.LearningInfo]{sync.ExcludedWords[*schema.LearningInfo](store.ExcludedWords)},
//	})
//	results, err := s.SyncAll(ctx)
package sync
