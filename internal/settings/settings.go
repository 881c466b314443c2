// Package settings persists small per-machine values as JSON in the local
// database.
//
// Well-known keys:
//
//	IsActive                  bool, default true
//	SyncTime_{repository}     time of the last successful sync pass
//	SyncContention_{repo}     consecutive passes skipped for lock contention
//	PauseTime_{reason}        recorded pause runs (owned by package pause)
//	UiLanguage                string
//	BlacklistedProcesses      []string
//	ExcludedWords             []string
//
// Settings are never synchronized between machines.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	KeyIsActive             = "IsActive"
	KeyUILanguage           = "UiLanguage"
	KeyBlacklistedProcesses = "BlacklistedProcesses"
	KeyExcludedWords        = "ExcludedWords"

	syncTimePrefix       = "SyncTime_"
	syncContentionPrefix = "SyncContention_"
)

// Store reads and writes settings.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// New returns a store backed by the settings table of db.
func New(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

// Get decodes the value stored under key into v. It reports false, leaving
// v untouched, when the key is absent.
func (s *Store) Get(ctx context.Context, key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode setting %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}

	query := `
	INSERT INTO settings (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, string(raw), s.clock().UnixNano()); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Removing a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys with the given prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM settings WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan setting key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetSyncTime returns the time of the last successful pass for the
// repository, or the zero time when it never synced.
func (s *Store) GetSyncTime(ctx context.Context, repository string) (time.Time, error) {
	var t time.Time
	if _, err := s.Get(ctx, syncTimePrefix+repository, &t); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// AddOrUpdateSyncTime records the sync marker for the repository.
func (s *Store) AddOrUpdateSyncTime(ctx context.Context, repository string, t time.Time) error {
	return s.Set(ctx, syncTimePrefix+repository, t.UTC())
}

// GetSyncContention returns how many passes in a row were skipped because
// the repository's sync lock was held.
func (s *Store) GetSyncContention(ctx context.Context, repository string) (int, error) {
	var n int
	if _, err := s.Get(ctx, syncContentionPrefix+repository, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) SetSyncContention(ctx context.Context, repository string, n int) error {
	return s.Set(ctx, syncContentionPrefix+repository, n)
}

// IsActive reports whether the user left the application active. It
// defaults to true.
func (s *Store) IsActive(ctx context.Context) (bool, error) {
	active := true
	if _, err := s.Get(ctx, KeyIsActive, &active); err != nil {
		return true, err
	}
	return active, nil
}

func (s *Store) SetActive(ctx context.Context, active bool) error {
	return s.Set(ctx, KeyIsActive, active)
}

// UILanguage returns the interface language, or "" when unset.
func (s *Store) UILanguage(ctx context.Context) (string, error) {
	var lang string
	_, err := s.Get(ctx, KeyUILanguage, &lang)
	return lang, err
}

func (s *Store) SetUILanguage(ctx context.Context, lang string) error {
	return s.Set(ctx, KeyUILanguage, lang)
}

// BlacklistedProcesses returns the process names that pause the
// application while running.
func (s *Store) BlacklistedProcesses(ctx context.Context) ([]string, error) {
	var names []string
	_, err := s.Get(ctx, KeyBlacklistedProcesses, &names)
	return names, err
}

func (s *Store) SetBlacklistedProcesses(ctx context.Context, names []string) error {
	return s.Set(ctx, KeyBlacklistedProcesses, normalizeList(names))
}

// ExcludedWords returns the words the user never wants to see again.
func (s *Store) ExcludedWords(ctx context.Context) ([]string, error) {
	var words []string
	_, err := s.Get(ctx, KeyExcludedWords, &words)
	return words, err
}

func (s *Store) SetExcludedWords(ctx context.Context, words []string) error {
	return s.Set(ctx, KeyExcludedWords, normalizeList(words))
}

// AddExcludedWord appends word to the excluded list if it is not there yet.
func (s *Store) AddExcludedWord(ctx context.Context, word string) error {
	words, err := s.ExcludedWords(ctx)
	if err != nil {
		return err
	}
	return s.SetExcludedWords(ctx, append(words, word))
}

// normalizeList trims, drops empties and removes duplicates while keeping
// first-seen order.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
