// Package tracked provides the keyed document repository used for every
// synchronized entity type.
//
// # Overview
//
// A Repository[T] stores entities of one type as JSON documents in a named
// collection of the documents table. Every mutating write made through
// Upsert stamps the entity's ModifiedAt, which is the only conflict signal
// the synchronizer uses, so callers must not set it themselves.
//
// Each repository is paired with a ledger.Ledger for the same collection:
// Delete writes the tombstone and removes the document in one transaction.
//
// # Sync primitives
//
// Put and Remove write without stamping and without tombstones. They exist
// for the synchronizer, which must reproduce the winning replica's
// timestamp exactly. Application code uses Upsert and Delete.
//
// # Errors
//
// Failures of the storage engine are returned as *StorageError. Missing
// entities are reported with ErrNotFound.
//
// Typical usage:
//
//	repo := tracked.New(database.Conn(), "learning", func() *schema.LearningInfo {
//	    return new(schema.LearningInfo)
//	})
//	_ = repo.Upsert(ctx, info)
//	for info, err := range repo.ChangedSince(ctx, lastSync) {
//	    ...
//	}
package tracked
