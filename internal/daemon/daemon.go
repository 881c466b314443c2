// Package daemon runs synchronization in the background.
//
// The daemon:
//  1. Runs a full pass over every registered repository on a fixed interval
//  2. Watches the sync root and runs an extra pass when another machine's
//     replica arrives
//  3. Pauses review while a blacklisted process is running
//  4. Handles graceful shutdown
//
// Every pass is bracketed by an OperationInProgress pause so that the
// scheduler does not offer cards while the local store is being rewritten.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wordcards/cardsync/internal/pause"
	csync "github.com/wordcards/cardsync/internal/sync"
)

// Syncer is the part of the synchronizer the daemon drives.
type Syncer interface {
	SyncAll(ctx context.Context) ([]*csync.Result, error)
	SyncRepository(ctx context.Context, name string) (*csync.Result, error)
	Paths() csync.Paths
}

// Pauser records pause and resume requests.
type Pauser interface {
	Pause(ctx context.Context, reason pause.Reason, description string) error
	Resume(ctx context.Context, reason pause.Reason) error
}

// ProcessLister returns the names of running processes.
type ProcessLister interface {
	Processes(ctx context.Context) ([]string, error)
}

// Blacklist returns the configured process names that pause review.
type Blacklist func(ctx context.Context) ([]string, error)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a full pass runs.
	SyncInterval time.Duration

	// Debounce is how long a replica must stay quiet before its change
	// triggers a pass. Cloud clients write files in several steps.
	Debounce time.Duration

	// MonitorInterval is how often running processes are checked against
	// the blacklist. Zero disables the monitor.
	MonitorInterval time.Duration

	// Processes and Blacklist enable the process monitor when both are set.
	Processes ProcessLister
	Blacklist Blacklist

	// Logger for daemon activity
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:    5 * time.Minute,
		Debounce:        2 * time.Second,
		MonitorInterval: 10 * time.Second,
		Processes:       SystemProcesses(),
		Logger:          zap.NewNop(),
	}
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// Daemon orchestrates replica watching and synchronization.
type Daemon struct {
	syncer Syncer
	pauser Pauser
	config *Config
	logger *zap.Logger

	watcher       *ReplicaWatcher
	changeQueue   map[string]time.Time // repository -> last event
	changeQueueMu sync.Mutex

	// seen holds the shared file stamp observed after this machine's last
	// pass, so its own commits do not trigger another pass.
	seen   map[string]fileStamp
	seenMu sync.Mutex

	passMu sync.Mutex

	observersMu sync.RWMutex
	observers   []func(*csync.Result)

	blockedBy string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. A nil config uses DefaultConfig.
func New(syncer Syncer, pauser Pauser, config *Config) *Daemon {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Daemon{
		syncer:      syncer,
		pauser:      pauser,
		config:      config,
		logger:      logger.Named("daemon"),
		changeQueue: make(map[string]time.Time),
		seen:        make(map[string]fileStamp),
	}
}

// OnResult registers fn to receive every pass result.
func (d *Daemon) OnResult(fn func(*csync.Result)) {
	d.observersMu.Lock()
	defer d.observersMu.Unlock()
	d.observers = append(d.observers, fn)
}

// Start runs an initial pass and launches the background loops.
// A missing or unwatchable sync root is logged and the daemon falls back
// to interval passes only.
func (d *Daemon) Start(ctx context.Context) error {
	if d.ctx != nil {
		return fmt.Errorf("daemon already started")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.logger.Info("starting",
		zap.String("sync_root", d.syncer.Paths().SyncRoot),
		zap.Duration("interval", d.config.SyncInterval))

	_, _ = d.SyncNow(d.ctx)

	watcher, err := NewReplicaWatcher()
	if err == nil {
		if err = watcher.Start(d.syncer.Paths().SyncRoot); err != nil {
			_ = watcher.watcher.Close()
		}
	}
	if err != nil {
		d.logger.Warn("replica watcher disabled", zap.Error(err))
	} else {
		d.watcher = watcher
		d.wg.Add(2)
		go d.watchReplicaEvents()
		go d.processChangeQueue()
	}

	if d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicSync()
	}

	if d.config.MonitorInterval > 0 && d.config.Processes != nil && d.config.Blacklist != nil {
		d.wg.Add(1)
		go d.monitorProcesses()
	}

	return nil
}

// Stop gracefully shuts down the daemon. The blacklist pause, if any, is
// lifted.
func (d *Daemon) Stop() error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()

	var err error
	if d.watcher != nil {
		err = d.watcher.Stop()
	}
	d.wg.Wait()

	if d.blockedBy != "" {
		if rerr := d.pauser.Resume(context.Background(), pause.ProcessBlacklisted); rerr != nil {
			err = errors.Join(err, rerr)
		}
		d.blockedBy = ""
	}

	d.logger.Info("stopped")
	return err
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop()
}

// SyncNow runs a full pass over every repository. The results of
// repositories that ran are returned alongside the joined errors of those
// that failed or escalated lock contention. Failures are also logged.
func (d *Daemon) SyncNow(ctx context.Context) ([]*csync.Result, error) {
	var (
		results []*csync.Result
		err     error
	)
	d.withOperation(ctx, "sync", func() {
		results, err = d.syncer.SyncAll(ctx)
	})
	if err != nil {
		d.logPassError("", err)
	}
	for _, r := range results {
		d.afterPass(r)
	}
	return results, err
}

// SyncRepository runs a single pass for one repository.
func (d *Daemon) SyncRepository(ctx context.Context, name string) (*csync.Result, error) {
	var (
		result *csync.Result
		err    error
	)
	d.withOperation(ctx, "sync "+name, func() {
		result, err = d.syncer.SyncRepository(ctx, name)
	})
	if err != nil {
		d.logPassError(name, err)
		return nil, err
	}
	d.afterPass(result)
	return result, nil
}

func (d *Daemon) withOperation(ctx context.Context, desc string, fn func()) {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	if err := d.pauser.Pause(ctx, pause.OperationInProgress, desc); err != nil {
		d.logger.Warn("failed to record operation pause", zap.Error(err))
	}
	defer func() {
		// ctx may already be cancelled; the pause must still be lifted.
		if err := d.pauser.Resume(context.WithoutCancel(ctx), pause.OperationInProgress); err != nil {
			d.logger.Warn("failed to lift operation pause", zap.Error(err))
		}
	}()
	fn()
}

func (d *Daemon) logPassError(repo string, err error) {
	fields := []zap.Field{zap.Error(err)}
	if repo != "" {
		fields = append(fields, zap.String("repository", repo))
	}
	switch {
	case errors.Is(err, context.Canceled):
		d.logger.Debug("pass cancelled", fields...)
	case errors.Is(err, csync.ErrLockContention):
		d.logger.Warn("sync lock held by another process", fields...)
	default:
		d.logger.Error("sync pass failed", fields...)
	}
}

func (d *Daemon) afterPass(r *csync.Result) {
	if r == nil {
		return
	}
	if st, ok := d.stat(r.Repository); ok {
		d.seenMu.Lock()
		d.seen[r.Repository] = st
		d.seenMu.Unlock()
	}

	d.observersMu.RLock()
	observers := slices.Clone(d.observers)
	d.observersMu.RUnlock()
	for _, fn := range observers {
		fn(r)
	}
}

func (d *Daemon) stat(repo string) (fileStamp, bool) {
	fi, err := os.Stat(d.syncer.Paths().SharedFile(repo))
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{size: fi.Size(), modTime: fi.ModTime()}, true
}

// changedSinceOwnPass reports whether the shared replica differs from the
// one this machine last committed or read.
func (d *Daemon) changedSinceOwnPass(repo string) bool {
	st, ok := d.stat(repo)
	if !ok {
		return false
	}
	d.seenMu.Lock()
	defer d.seenMu.Unlock()
	prev, seen := d.seen[repo]
	return !seen || prev.size != st.size || !prev.modTime.Equal(st.modTime)
}

// watchReplicaEvents processes watcher events and queues them for
// debounced syncing.
func (d *Daemon) watchReplicaEvents() {
	defer d.wg.Done()

	events := d.watcher.Events()
	errs := d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Op == OpDelete {
				continue
			}
			d.logger.Debug("replica changed",
				zap.String("repository", ev.Repository),
				zap.Stringer("op", ev.Op))
			d.queueChange(ev.Repository)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (d *Daemon) queueChange(repo string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[repo] = time.Now()
}

// processChangeQueue syncs repositories whose replicas have been quiet for
// the debounce interval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	tick := d.config.Debounce / 2
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			for _, repo := range d.readyChanges(time.Now()) {
				if !d.changedSinceOwnPass(repo) {
					continue
				}
				_, _ = d.SyncRepository(d.ctx, repo)
			}
		}
	}
}

func (d *Daemon) readyChanges(now time.Time) []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	var ready []string
	for repo, at := range d.changeQueue {
		if now.Sub(at) >= d.config.Debounce {
			ready = append(ready, repo)
			delete(d.changeQueue, repo)
		}
	}
	slices.Sort(ready)
	return ready
}

func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			_, _ = d.SyncNow(d.ctx)
		}
	}
}

func (d *Daemon) monitorProcesses() {
	defer d.wg.Done()

	d.checkProcesses(d.ctx)

	ticker := time.NewTicker(d.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.checkProcesses(d.ctx)
		}
	}
}

// checkProcesses pauses review while any blacklisted process runs and
// resumes once none does. Only transitions are recorded.
func (d *Daemon) checkProcesses(ctx context.Context) {
	blacklist, err := d.config.Blacklist(ctx)
	if err != nil {
		d.logger.Warn("failed to read process blacklist", zap.Error(err))
		return
	}

	var running string
	if len(blacklist) > 0 {
		procs, err := d.config.Processes.Processes(ctx)
		if err != nil {
			d.logger.Warn("failed to list processes", zap.Error(err))
			return
		}
		running = matchProcess(procs, blacklist)
	}

	switch {
	case running != "" && d.blockedBy == "":
		if err := d.pauser.Pause(ctx, pause.ProcessBlacklisted, running); err != nil {
			d.logger.Warn("failed to pause", zap.Error(err))
			return
		}
		d.logger.Info("paused for blacklisted process", zap.String("process", running))
		d.blockedBy = running
	case running == "" && d.blockedBy != "":
		if err := d.pauser.Resume(ctx, pause.ProcessBlacklisted); err != nil {
			d.logger.Warn("failed to resume", zap.Error(err))
			return
		}
		d.logger.Info("blacklisted process exited", zap.String("process", d.blockedBy))
		d.blockedBy = ""
	}
}

// matchProcess returns the first blacklisted name found among procs.
// Names compare case-insensitively and ignore a trailing .exe.
func matchProcess(procs, blacklist []string) string {
	running := make(map[string]struct{}, len(procs))
	for _, p := range procs {
		running[processKey(p)] = struct{}{}
	}
	for _, b := range blacklist {
		if _, ok := running[processKey(b)]; ok {
			return b
		}
	}
	return ""
}

func processKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".exe")
}
