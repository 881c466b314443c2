// Package ledger stores tombstones for deleted entities.
//
// A ledger is the companion of one tracked collection and is keyed the same
// way. The synchronizer consults it on every pass to tell "deleted after
// being synced" apart from "never synced yet". Tombstones are never expired
// automatically; Prune is the explicit maintenance hook.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/wordcards/cardsync/internal/dbx"
	"github.com/wordcards/cardsync/internal/schema"
)

// Ledger records and serves DeletionRecords for one collection.
type Ledger struct {
	db         dbx.DBTX
	collection string
}

// New returns a ledger for the given collection bound to db, which may be
// a transaction.
func New(db dbx.DBTX, collection string) *Ledger {
	return &Ledger{db: db, collection: collection}
}

// Collection returns the collection the ledger belongs to.
func (l *Ledger) Collection() string {
	return l.collection
}

// Record stores a tombstone. When one already exists for the key, the
// newer deletion date is kept.
func (l *Ledger) Record(ctx context.Context, key schema.EntityKey, deletedDate time.Time) error {
	if err := key.Validate(); err != nil {
		return err
	}
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}

	query := `
	INSERT INTO deletions (collection, id, deleted_at, key)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		deleted_at = MAX(deleted_at, excluded.deleted_at)
	`
	_, err = l.db.ExecContext(ctx, query, l.collection, key.ID(), deletedDate.UnixNano(), string(keyJSON))
	if err != nil {
		return fmt.Errorf("failed to record deletion of %s: %w", key.ID(), err)
	}
	return nil
}

// TryGet returns the tombstone for key, or nil when there is none.
func (l *Ledger) TryGet(ctx context.Context, key schema.EntityKey) (*schema.DeletionRecord, error) {
	query := `SELECT deleted_at, key FROM deletions WHERE collection = ? AND id = ?`
	row := l.db.QueryRowContext(ctx, query, l.collection, key.ID())

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deletion of %s: %w", key.ID(), err)
	}
	return rec, nil
}

// All yields every tombstone of the collection, oldest first.
func (l *Ledger) All(ctx context.Context) iter.Seq2[*schema.DeletionRecord, error] {
	return l.Since(ctx, time.Time{})
}

// Since yields tombstones recorded at or after t, oldest first.
func (l *Ledger) Since(ctx context.Context, t time.Time) iter.Seq2[*schema.DeletionRecord, error] {
	return func(yield func(*schema.DeletionRecord, error) bool) {
		query := `
		SELECT deleted_at, key FROM deletions
		WHERE collection = ? AND deleted_at >= ?
		ORDER BY deleted_at ASC, id ASC
		`
		rows, err := l.db.QueryContext(ctx, query, l.collection, sinceNanos(t))
		if err != nil {
			yield(nil, fmt.Errorf("failed to query deletions: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				yield(nil, fmt.Errorf("failed to scan deletion: %w", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("error iterating deletions: %w", err))
		}
	}
}

// Prune removes tombstones deleted before the given time and returns how
// many were removed.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM deletions WHERE collection = ? AND deleted_at < ?`,
		l.collection, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune deletions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*schema.DeletionRecord, error) {
	var deletedAt int64
	var keyJSON string
	if err := s.Scan(&deletedAt, &keyJSON); err != nil {
		return nil, err
	}

	rec := &schema.DeletionRecord{DeletedDate: time.Unix(0, deletedAt).UTC()}
	if err := json.Unmarshal([]byte(keyJSON), &rec.Key); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key: %w", err)
	}
	return rec, nil
}

// sinceNanos maps the zero time to the smallest stored value instead of
// the far-negative UnixNano of year 1.
func sinceNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
