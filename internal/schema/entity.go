package schema

import "time"

// Entity is a persisted record that takes part in synchronization.
//
// ModifiedAt is the last local write time and the sole conflict-resolution
// signal. Implementations must be pointer types so the repository can stamp
// them in place.
type Entity interface {
	Key() EntityKey
	ModifiedAt() time.Time
	SetModifiedAt(time.Time)
}

// DeletionRecord is the tombstone of a deleted entity. Its presence proves
// the entity was intentionally removed, as opposed to never having been
// synchronized.
type DeletionRecord struct {
	Key         EntityKey `json:"key"`
	DeletedDate time.Time `json:"deleted_date"`
}

// Newer returns whichever record has the later DeletedDate. Either argument
// may be nil.
func Newer(a, b *DeletionRecord) *DeletionRecord {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.DeletedDate.After(a.DeletedDate):
		return b
	default:
		return a
	}
}
