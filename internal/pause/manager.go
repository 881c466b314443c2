// Package pause tracks the independent reasons for which the application
// should stay quiet, such as a blacklisted process running, the user
// switching to inactive mode or a card already being on screen.
//
// Each reason keeps a history of runs. A reason is paused while its last run
// is open; the application is paused while any reason is. History is
// persisted through a KV store under "PauseTime_{reason}" so durations
// survive restarts, and the InactiveMode reason is mirrored into the
// "IsActive" setting.
//
// Several processes can share one store. An open run carries a lease naming
// the process that opened it; the owner renews the lease while it runs, and
// other managers treat the run as open until the lease expires. Every write
// re-reads the stored history and changes only the run it is about, so one
// process never overwrites another's history with a stale copy.
package pause

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	keyPrefix   = "PauseTime_"
	keyIsActive = "IsActive"

	// DefaultLeaseTTL is how long an open run stays open for other
	// processes after its owner last renewed it.
	DefaultLeaseTTL = 2 * time.Minute
)

// KV is the settings store the manager persists to.
type KV interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

// Lease identifies the process holding an open run.
type Lease struct {
	PID       int       `json:"pid"`
	Session   string    `json:"session"`
	Heartbeat time.Time `json:"heartbeat"`
	Note      string    `json:"note,omitempty"`

	// Expired is set when another process closed the run because the
	// lease ran out. The owner reopens it if it is still running.
	Expired bool `json:"expired,omitempty"`
}

// Run is one pause interval. End is nil while the run is open.
type Run struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
	Owner *Lease     `json:"owner,omitempty"`
}

// Open reports whether the run has not ended yet.
func (r Run) Open() bool {
	return r.End == nil
}

// Duration returns the run length, measuring open runs up to now.
func (r Run) Duration(now time.Time) time.Duration {
	if r.End != nil {
		return r.End.Sub(r.Start)
	}
	return now.Sub(r.Start)
}

// Event is published whenever a reason opens or closes. Paused is the
// global state after the change.
type Event struct {
	Reason Reason `json:"reason"`
	Paused bool   `json:"paused"`
}

// Manager owns the pause state. It is safe for concurrent use.
type Manager struct {
	kv       KV
	clock    func() time.Time
	logger   *zap.Logger
	session  string
	leaseTTL time.Duration

	// storeMu serializes read-modify-write cycles against kv. It is always
	// taken before mu.
	storeMu sync.Mutex

	mu           sync.Mutex
	runs         map[Reason][]Run
	descriptions map[Reason]string
	subscribers  map[int]func(Event)
	nextID       int

	stop      chan struct{}
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger == nil {
			logger = zap.NewNop()
		}
		m.logger = logger
	}
}

// WithLeaseTTL sets how long other processes honor an open run after its
// owner last renewed it. The manager renews its own runs every third of
// ttl until Close.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.leaseTTL = ttl
		}
	}
}

// NewManager loads the persisted history. Open runs whose owner still holds
// a live lease stay open; runs left open by a process that is gone are
// closed at the owner's last heartbeat. When the IsActive setting is false
// and no live process holds InactiveMode, the reason is reopened.
func NewManager(ctx context.Context, kv KV, opts ...Option) (*Manager, error) {
	m := &Manager{
		kv:           kv,
		clock:        time.Now,
		logger:       zap.NewNop(),
		session:      uuid.NewString(),
		leaseTTL:     DefaultLeaseTTL,
		runs:         make(map[Reason][]Run),
		descriptions: make(map[Reason]string),
		subscribers:  make(map[int]func(Event)),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	go m.keepAlive()
	return m, nil
}

// keepAlive renews this manager's leases and picks up other processes'
// changes until Close.
func (m *Manager) keepAlive() {
	interval := max(m.leaseTTL/3, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := m.Heartbeat(ctx); err != nil {
				m.logger.Warn("failed to renew pause lease", zap.Error(err))
			}
			if err := m.Refresh(ctx); err != nil {
				m.logger.Warn("failed to reload pause state", zap.Error(err))
			}
			cancel()
		}
	}
}

func storageKey(r Reason) string {
	return keyPrefix + r.String()
}

// Refresh reloads every reason from the store so pauses opened or closed
// by other processes become visible. Runs whose owner's lease has expired
// are closed at the last heartbeat; this manager's own expired runs are
// reopened since it is evidently still running.
func (m *Manager) Refresh(ctx context.Context) error {
	m.storeMu.Lock()
	now := m.clock()
	stored := make(map[Reason][]Run, len(AllReasons))
	for _, reason := range AllReasons {
		runs, err := m.load(ctx, reason)
		if err != nil {
			m.storeMu.Unlock()
			return err
		}
		revived := m.revive(runs, now)
		expired := m.settle(runs, now)
		if expired {
			m.logger.Info("closed pause run left open by a process that is gone",
				zap.Stringer("reason", reason))
		}
		if revived || expired {
			if err := m.store(ctx, reason, runs); err != nil {
				m.storeMu.Unlock()
				return err
			}
		}
		stored[reason] = runs
	}

	active := true
	if _, err := m.kv.Get(ctx, keyIsActive, &active); err != nil {
		m.storeMu.Unlock()
		return fmt.Errorf("failed to load active flag: %w", err)
	}
	if !active && !lastOpen(stored[InactiveMode]) {
		stored[InactiveMode] = append(stored[InactiveMode], Run{Start: now, Owner: m.lease(now, "")})
		if err := m.store(ctx, InactiveMode, stored[InactiveMode]); err != nil {
			m.storeMu.Unlock()
			return err
		}
	}

	m.mu.Lock()
	var changed []Reason
	for _, reason := range AllReasons {
		was := m.openLocked(reason)
		m.runs[reason] = stored[reason]
		is := m.openLocked(reason)
		if is != was {
			changed = append(changed, reason)
		}
		switch runs := stored[reason]; {
		case !is:
			delete(m.descriptions, reason)
		case !m.owns(runs[len(runs)-1]):
			if note := noteOf(runs[len(runs)-1]); note != "" {
				m.descriptions[reason] = note
			} else {
				delete(m.descriptions, reason)
			}
		}
	}
	paused := m.isPausedLocked()
	subs := m.subscribersLocked()
	m.mu.Unlock()
	m.storeMu.Unlock()

	for _, reason := range changed {
		m.publish(subs, Event{Reason: reason, Paused: paused})
	}
	return nil
}

// Heartbeat renews the lease of every run this manager holds open. The
// manager calls it periodically on its own; it is exported for callers
// that need the lease renewed at a specific moment.
func (m *Manager) Heartbeat(ctx context.Context) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	now := m.clock()
	held := make(map[Reason]Run)
	for _, reason := range AllReasons {
		runs := m.runs[reason]
		if !lastOpen(runs) || !m.owns(runs[len(runs)-1]) {
			continue
		}
		lease := *runs[len(runs)-1].Owner
		lease.Heartbeat = now
		runs[len(runs)-1].Owner = &lease
		held[reason] = runs[len(runs)-1]
	}
	m.mu.Unlock()

	var errs []error
	for _, reason := range AllReasons {
		target, ok := held[reason]
		if !ok {
			continue
		}
		errs = append(errs, m.update(ctx, reason, func(runs []Run) []Run {
			if i := findRun(runs, target); i >= 0 {
				runs[i].End = nil
				runs[i].Owner = cloneLease(target.Owner)
			}
			return runs
		}))
	}
	return errors.Join(errs...)
}

// Pause opens a run for reason unless one is already open, here or in
// another process. A non-empty description replaces the one shown by
// PauseReasons. Pausing an open reason again is a no-op and publishes
// nothing.
func (m *Manager) Pause(ctx context.Context, reason Reason, description string) error {
	if !reason.valid() {
		return fmt.Errorf("invalid pause reason %d", reason)
	}

	m.storeMu.Lock()
	m.mu.Lock()
	if description != "" {
		m.descriptions[reason] = description
	}
	if m.openLocked(reason) {
		m.mu.Unlock()
		m.storeMu.Unlock()
		return nil
	}
	now := m.clock()
	run := Run{Start: now, Owner: m.lease(now, m.descriptions[reason])}
	m.runs[reason] = append(m.runs[reason], run)
	ev := Event{Reason: reason, Paused: true}
	subs := m.subscribersLocked()
	m.mu.Unlock()

	err := m.update(ctx, reason, func(runs []Run) []Run {
		return append(runs, cloneRun(run))
	})
	if reason == InactiveMode {
		err = errors.Join(err, m.storeActive(ctx, false))
	}
	m.storeMu.Unlock()

	m.publish(subs, ev)
	return err
}

// Resume closes the open run for reason, clears its description and
// persists its history. The run may belong to another process. Resuming a
// reason that is not paused is a no-op.
func (m *Manager) Resume(ctx context.Context, reason Reason) error {
	if !reason.valid() {
		return fmt.Errorf("invalid pause reason %d", reason)
	}

	m.storeMu.Lock()
	m.mu.Lock()
	runs := m.runs[reason]
	if !lastOpen(runs) {
		m.mu.Unlock()
		m.storeMu.Unlock()
		return nil
	}
	end := m.clock()
	target := runs[len(runs)-1]
	runs[len(runs)-1].End = &end
	delete(m.descriptions, reason)
	ev := Event{Reason: reason, Paused: m.isPausedLocked()}
	subs := m.subscribersLocked()
	m.mu.Unlock()

	err := m.update(ctx, reason, func(runs []Run) []Run {
		endRun(runs, target, end)
		return runs
	})
	if reason == InactiveMode {
		err = errors.Join(err, m.storeActive(ctx, true))
	}
	m.storeMu.Unlock()

	m.publish(subs, ev)
	return err
}

// IsPaused reports whether any reason is open.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isPausedLocked()
}

// Active returns the set of open reasons.
func (m *Manager) Active() Reason {
	m.mu.Lock()
	defer m.mu.Unlock()
	var set Reason
	for _, r := range AllReasons {
		if m.openLocked(r) {
			set |= r
		}
	}
	return set
}

// Runs returns a copy of the history for reason, oldest first.
func (m *Manager) Runs(reason Reason) []Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRuns(m.runs[reason])
}

// TotalDuration sums every run of reason, counting an open run up to now.
func (m *Manager) TotalDuration(reason Reason) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	var total time.Duration
	for _, r := range m.runs[reason] {
		total += r.Duration(now)
	}
	return total
}

// PauseReasons describes the open reasons, e.g.
// "ProcessBlacklisted (obs), InactiveMode". The bool is false when nothing
// is paused.
func (m *Manager) PauseReasons() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var parts []string
	for _, r := range AllReasons {
		if !m.openLocked(r) {
			continue
		}
		if d := m.descriptions[r]; d != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", r, d))
		} else {
			parts = append(parts, r.String())
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, ", "), true
}

// ResetPauseTimes clears the stored history of every reason. Reasons that
// are currently paused, here or in another live process, stay paused with
// a run restarted at the current time.
func (m *Manager) ResetPauseTimes(ctx context.Context) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	now := m.clock()
	var errs []error
	fresh := make(map[Reason][]Run, len(AllReasons))
	for _, reason := range AllReasons {
		runs, err := m.load(ctx, reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.settle(runs, now)
		var kept []Run
		if lastOpen(runs) {
			run := runs[len(runs)-1]
			run.Start = now
			kept = []Run{run}
		}
		if err := m.store(ctx, reason, kept); err != nil {
			errs = append(errs, err)
			continue
		}
		fresh[reason] = kept
	}

	m.mu.Lock()
	for reason, runs := range fresh {
		m.runs[reason] = runs
	}
	m.mu.Unlock()
	return errors.Join(errs...)
}

// Subscribe registers fn for every state change. fn runs on the goroutine
// that caused the change, outside the manager's lock, so it may call back
// into the manager. The returned function unsubscribes.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Close stops renewing leases and ends the runs this manager holds open
// at the current time. Runs held by other processes and the history of
// reasons this manager did not hold are left untouched, as is the IsActive
// setting, so inactive mode resumes on the next start.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.stop) })

	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	now := m.clock()
	held := make(map[Reason]Run)
	for _, reason := range AllReasons {
		runs := m.runs[reason]
		if !lastOpen(runs) || !m.owns(runs[len(runs)-1]) {
			continue
		}
		held[reason] = runs[len(runs)-1]
		end := now
		runs[len(runs)-1].End = &end
	}
	m.mu.Unlock()

	var errs []error
	for _, reason := range AllReasons {
		target, ok := held[reason]
		if !ok {
			continue
		}
		errs = append(errs, m.update(ctx, reason, func(runs []Run) []Run {
			endRun(runs, target, now)
			return runs
		}))
	}
	return errors.Join(errs...)
}

func (m *Manager) lease(now time.Time, note string) *Lease {
	return &Lease{PID: os.Getpid(), Session: m.session, Heartbeat: now, Note: note}
}

func (m *Manager) owns(r Run) bool {
	return r.Owner != nil && r.Owner.Session == m.session
}

// settle closes open runs of other processes whose lease ran out, ending
// them at the last heartbeat. It reports whether anything changed.
func (m *Manager) settle(runs []Run, now time.Time) bool {
	changed := false
	for i := range runs {
		r := &runs[i]
		if !r.Open() || m.owns(*r) {
			continue
		}
		if r.Owner != nil && now.Sub(r.Owner.Heartbeat) <= m.leaseTTL {
			continue
		}
		end := r.Start
		if r.Owner != nil {
			if r.Owner.Heartbeat.After(end) {
				end = r.Owner.Heartbeat
			}
			r.Owner.Expired = true
		}
		r.End = &end
		changed = true
	}
	return changed
}

// revive reopens this manager's runs that another process closed because
// the lease looked expired.
func (m *Manager) revive(runs []Run, now time.Time) bool {
	changed := false
	for i := range runs {
		r := &runs[i]
		if r.Open() || !m.owns(*r) || !r.Owner.Expired {
			continue
		}
		r.End = nil
		r.Owner.Expired = false
		r.Owner.Heartbeat = now
		changed = true
	}
	return changed
}

func (m *Manager) openLocked(reason Reason) bool {
	return lastOpen(m.runs[reason])
}

func (m *Manager) isPausedLocked() bool {
	for _, r := range AllReasons {
		if m.openLocked(r) {
			return true
		}
	}
	return false
}

func (m *Manager) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(m.subscribers))
	for id := range m.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, m.subscribers[id])
	}
	return subs
}

func (m *Manager) publish(subs []func(Event), ev Event) {
	m.logger.Debug("pause state changed",
		zap.Stringer("reason", ev.Reason),
		zap.Bool("paused", ev.Paused))
	for _, fn := range subs {
		fn(ev)
	}
}

// load, store and update must be called with storeMu held.

func (m *Manager) load(ctx context.Context, reason Reason) ([]Run, error) {
	var runs []Run
	if _, err := m.kv.Get(ctx, storageKey(reason), &runs); err != nil {
		return nil, fmt.Errorf("failed to load pause history for %s: %w", reason, err)
	}
	return runs, nil
}

func (m *Manager) store(ctx context.Context, reason Reason, runs []Run) error {
	if err := m.kv.Set(ctx, storageKey(reason), runs); err != nil {
		return fmt.Errorf("failed to persist pause history for %s: %w", reason, err)
	}
	return nil
}

// update applies fn to the stored history of reason and writes the result
// back, so changes made by other processes since this manager last read
// the store are kept.
func (m *Manager) update(ctx context.Context, reason Reason, fn func([]Run) []Run) error {
	runs, err := m.load(ctx, reason)
	if err != nil {
		return err
	}
	return m.store(ctx, reason, fn(runs))
}

// storeActive mirrors the InactiveMode state into the IsActive setting.
func (m *Manager) storeActive(ctx context.Context, active bool) error {
	if err := m.kv.Set(ctx, keyIsActive, active); err != nil {
		return fmt.Errorf("failed to persist active flag: %w", err)
	}
	return nil
}

func lastOpen(runs []Run) bool {
	return len(runs) > 0 && runs[len(runs)-1].Open()
}

func noteOf(r Run) string {
	if r.Owner == nil {
		return ""
	}
	return r.Owner.Note
}

// findRun locates target in runs: by owner session for leased runs, by
// start time for runs written without a lease. Only runs that are open or
// were closed by lease expiry match.
func findRun(runs []Run, target Run) int {
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		if target.Owner == nil {
			if r.Open() && r.Owner == nil && r.Start.Equal(target.Start) {
				return i
			}
			continue
		}
		if r.Owner != nil && r.Owner.Session == target.Owner.Session && (r.Open() || r.Owner.Expired) {
			return i
		}
	}
	return -1
}

// endRun closes target in runs at end. A run that is no longer stored,
// because another process reset the history, is left alone.
func endRun(runs []Run, target Run, end time.Time) {
	i := findRun(runs, target)
	if i < 0 {
		return
	}
	if end.Before(runs[i].Start) {
		end = runs[i].Start
	}
	runs[i].End = &end
	if runs[i].Owner != nil {
		runs[i].Owner.Expired = false
	}
}

func cloneLease(l *Lease) *Lease {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func cloneRun(r Run) Run {
	if r.End != nil {
		end := *r.End
		r.End = &end
	}
	r.Owner = cloneLease(r.Owner)
	return r
}

func cloneRuns(runs []Run) []Run {
	if runs == nil {
		return nil
	}
	out := make([]Run, len(runs))
	for i, r := range runs {
		out[i] = cloneRun(r)
	}
	return out
}
