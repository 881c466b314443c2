// Package schema defines the entities shared by the storage, sync and
// scheduling layers.
//
// # Keys
//
// Every synchronized record is identified by an EntityKey: the card text plus
// its source and target languages. Keys are normalized by NewKey so that two
// machines typing the same word derive the same key:
//
//	k := schema.NewKey("  Apple ", "EN", "fr")
//	k.ID() // "en|fr|apple"
//
// # Entities
//
// Entity is the contract every tracked record satisfies. ModifiedAt is the
// only signal used to resolve conflicts between replicas (last write wins),
// so it must only be stamped by the tracked repository.
//
//   - LearningInfo: review progress for a card (scheduled entity)
//   - Translation: the card content
//   - DeletionRecord: tombstone left behind when an entity is deleted
//
// All entities are stored as JSON documents.
package schema
