package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a replica appeared, usually by rename.
	OpCreate EventOp = iota
	// OpModify indicates an existing replica was written.
	OpModify
	// OpDelete indicates a replica was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ReplicaEvent reports a change to a shared replica file.
type ReplicaEvent struct {
	// Path is the file that changed.
	Path string
	// Repository is derived from the file name: {repository}.db.
	Repository string
	Op         EventOp
}

// ReplicaWatcher watches the sync root for shared replicas being replaced,
// typically by the cloud client delivering another machine's pass.
// Subdirectories (machine directories) are not watched.
type ReplicaWatcher struct {
	watcher *fsnotify.Watcher
	events  chan ReplicaEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewReplicaWatcher creates a watcher. It must be started with Start
// before it emits events.
func NewReplicaWatcher() (*ReplicaWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &ReplicaWatcher{
		watcher: watcher,
		events:  make(chan ReplicaEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir for *.db events.
func (rw *ReplicaWatcher) Start(dir string) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.running {
		return fmt.Errorf("watcher already running")
	}
	if err := rw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	rw.dir = dir
	rw.running = true
	rw.wg.Add(1)
	go rw.processEvents()
	return nil
}

// Stop stops watching and closes the event channels. It blocks until the
// event loop has exited.
func (rw *ReplicaWatcher) Stop() error {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return nil
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.done)
	if err := rw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	rw.wg.Wait()

	close(rw.events)
	close(rw.errors)
	return nil
}

// Events returns the channel of replica events. It is closed by Stop.
func (rw *ReplicaWatcher) Events() <-chan ReplicaEvent {
	return rw.events
}

// Errors returns the channel of watcher errors. It is closed by Stop.
func (rw *ReplicaWatcher) Errors() <-chan error {
	return rw.errors
}

// IsRunning returns true if the watcher is currently running.
func (rw *ReplicaWatcher) IsRunning() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.running
}

func (rw *ReplicaWatcher) processEvents() {
	defer rw.wg.Done()

	for {
		select {
		case <-rw.done:
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if ev, ok := convertEvent(event); ok {
				select {
				case rw.events <- ev:
				case <-rw.done:
					return
				}
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case rw.errors <- err:
			case <-rw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a ReplicaEvent. Journal files and
// anything that is not a .db file are ignored.
func convertEvent(event fsnotify.Event) (ReplicaEvent, bool) {
	repo, ok := RepositoryFromPath(event.Name)
	if !ok {
		return ReplicaEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return ReplicaEvent{}, false
	}

	return ReplicaEvent{Path: event.Name, Repository: repo, Op: op}, true
}

// RepositoryFromPath extracts the repository name from a shared replica
// path, e.g. /cloud/cardsync/learning.db → learning.
func RepositoryFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if filepath.Ext(base) != ".db" {
		return "", false
	}
	name := strings.TrimSuffix(base, ".db")
	if name == "" || strings.HasSuffix(name, ".working") || strings.HasPrefix(name, ".") {
		return "", false
	}
	return name, true
}
