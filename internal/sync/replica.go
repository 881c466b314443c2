package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/wordcards/cardsync/internal/db"
)

// sharedReplica is a private working copy of a shared replica file. Writes
// go to the copy; commit renames it over the shared file so other machines
// never observe a half-written database.
type sharedReplica struct {
	db      *db.DB
	shared  string
	working string
	existed bool
	origin  fs.FileInfo
}

// openShared copies the shared file (when present) to the working path and
// opens the copy.
func openShared(ctx context.Context, shared, working string) (*sharedReplica, error) {
	if err := os.Remove(working); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale working copy: %w", err)
	}

	r := &sharedReplica{shared: shared, working: working}

	info, err := os.Stat(shared)
	switch {
	case err == nil:
		r.existed = true
		r.origin = info
		if err := copyFile(shared, working); err != nil {
			return nil, fmt.Errorf("failed to copy shared replica: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to stat shared replica: %w", err)
	}

	r.db, err = db.Open(ctx, working, db.ModeShared)
	if err != nil {
		_ = os.Remove(working)
		return nil, fmt.Errorf("failed to open shared replica: %w", err)
	}
	return r, nil
}

// commit replaces the shared file with the working copy. It refuses when
// the shared file changed since it was copied.
func (r *sharedReplica) commit() error {
	if err := r.closeDB(); err != nil {
		r.discard()
		return err
	}

	info, err := os.Stat(r.shared)
	switch {
	case err == nil:
		if !r.existed || !sameFile(r.origin, info) {
			r.discard()
			return ErrSharedChanged
		}
	case errors.Is(err, fs.ErrNotExist):
		if r.existed {
			r.discard()
			return ErrSharedChanged
		}
	default:
		r.discard()
		return fmt.Errorf("failed to stat shared replica: %w", err)
	}

	if err := os.Rename(r.working, r.shared); err != nil {
		r.discard()
		return fmt.Errorf("failed to replace shared replica: %w", err)
	}
	return nil
}

// discard drops the working copy. It is safe to call more than once.
func (r *sharedReplica) discard() {
	_ = r.closeDB()
	_ = os.Remove(r.working)
}

func (r *sharedReplica) closeDB() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func sameFile(a, b fs.FileInfo) bool {
	return a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
