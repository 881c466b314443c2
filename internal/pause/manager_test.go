package pause

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordcards/cardsync/internal/db"
	"github.com/wordcards/cardsync/internal/settings"
)

// memKV stores JSON like the settings store does.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	fail error
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (k *memKV) Get(_ context.Context, key string, v any) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	raw, ok := k.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (k *memKV) Set(_ context.Context, key string, v any) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fail != nil {
		return k.fail
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	k.data[key] = raw
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)}
}

func newTestManager(t *testing.T, kv KV, c *clock) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), kv, WithClock(c.Now))
	require.NoError(t, err)
	return m
}

func TestPauseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemKV(), newClock())

	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	require.NoError(t, m.Pause(ctx, CardVisible, ""))
	require.NoError(t, m.Pause(ctx, CardVisible, ""))

	runs := m.Runs(CardVisible)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Open())
	assert.Len(t, events, 1)
	assert.Equal(t, Event{Reason: CardVisible, Paused: true}, events[0])
}

func TestResumeWithoutPauseIsNoOp(t *testing.T) {
	m := newTestManager(t, newMemKV(), newClock())

	called := false
	m.Subscribe(func(Event) { called = true })

	require.NoError(t, m.Resume(context.Background(), CardLoading))
	assert.False(t, called)
	assert.Empty(t, m.Runs(CardLoading))
}

func TestAggregatedPauseState(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemKV(), newClock())

	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	assert.False(t, m.IsPaused())
	require.NoError(t, m.Pause(ctx, ProcessBlacklisted, "obs"))
	require.NoError(t, m.Pause(ctx, OperationInProgress, ""))
	assert.True(t, m.IsPaused())
	assert.Equal(t, ProcessBlacklisted|OperationInProgress, m.Active())

	require.NoError(t, m.Resume(ctx, ProcessBlacklisted))
	assert.True(t, m.IsPaused())
	require.NoError(t, m.Resume(ctx, OperationInProgress))
	assert.False(t, m.IsPaused())

	require.Len(t, events, 4)
	assert.Equal(t, Event{Reason: ProcessBlacklisted, Paused: true}, events[2])
	assert.Equal(t, Event{Reason: OperationInProgress, Paused: false}, events[3])
}

func TestPauseReasonsSummary(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemKV(), newClock())

	_, paused := m.PauseReasons()
	assert.False(t, paused)

	require.NoError(t, m.Pause(ctx, InactiveMode, ""))
	require.NoError(t, m.Pause(ctx, ProcessBlacklisted, "obs"))

	summary, paused := m.PauseReasons()
	assert.True(t, paused)
	assert.Equal(t, "ProcessBlacklisted (obs), InactiveMode", summary)

	require.NoError(t, m.Resume(ctx, ProcessBlacklisted))
	require.NoError(t, m.Pause(ctx, ProcessBlacklisted, ""))
	summary, _ = m.PauseReasons()
	assert.Equal(t, "ProcessBlacklisted, InactiveMode", summary, "resume clears the description")
}

func TestDurations(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := newTestManager(t, newMemKV(), c)

	require.NoError(t, m.Pause(ctx, CardVisible, ""))
	c.Advance(10 * time.Second)
	require.NoError(t, m.Resume(ctx, CardVisible))
	c.Advance(time.Minute)
	require.NoError(t, m.Pause(ctx, CardVisible, ""))
	c.Advance(5 * time.Second)

	assert.Equal(t, 15*time.Second, m.TotalDuration(CardVisible))
	runs := m.Runs(CardVisible)
	require.Len(t, runs, 2)
	assert.Equal(t, 10*time.Second, runs[0].Duration(c.Now()))
}

func TestRunsReturnsCopy(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := newTestManager(t, newMemKV(), c)

	require.NoError(t, m.Pause(ctx, CardVisible, ""))
	c.Advance(time.Second)
	require.NoError(t, m.Resume(ctx, CardVisible))

	runs := m.Runs(CardVisible)
	*runs[0].End = runs[0].Start.Add(time.Hour)
	assert.Equal(t, time.Second, m.TotalDuration(CardVisible))
}

func TestSubscriberMayReenter(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemKV(), newClock())

	var seen []bool
	m.Subscribe(func(e Event) {
		seen = append(seen, m.IsPaused())
		if e.Reason == CardLoading && e.Paused {
			assert.NoError(t, m.Pause(ctx, CardVisible, ""))
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, m.Pause(ctx, CardLoading, ""))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber deadlocked the manager")
	}
	assert.Equal(t, []bool{true, true}, seen)
	assert.Equal(t, CardLoading|CardVisible, m.Active())
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemKV(), newClock())

	count := 0
	unsubscribe := m.Subscribe(func(Event) { count++ })
	require.NoError(t, m.Pause(ctx, CardVisible, ""))
	unsubscribe()
	require.NoError(t, m.Resume(ctx, CardVisible))
	assert.Equal(t, 1, count)
}

func TestResumePersistsHistory(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	c := newClock()
	m := newTestManager(t, kv, c)

	require.NoError(t, m.Pause(ctx, CardVisible, ""))
	c.Advance(time.Minute)
	require.NoError(t, m.Resume(ctx, CardVisible))

	var stored []Run
	ok, err := kv.Get(ctx, "PauseTime_CardVisible", &stored)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, stored, 1)
	assert.Equal(t, time.Minute, stored[0].End.Sub(stored[0].Start))
}

func TestInactiveModeSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "local.db"), db.ModeLocal)
	require.NoError(t, err)
	defer database.Close()
	store := settings.New(database.Conn())
	c := newClock()

	m := newTestManager(t, store, c)
	require.NoError(t, m.Pause(ctx, InactiveMode, ""))
	active, err := store.IsActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)
	require.NoError(t, m.Close(ctx))

	c.Advance(time.Hour)
	restarted := newTestManager(t, store, c)
	assert.True(t, restarted.IsPaused())
	summary, _ := restarted.PauseReasons()
	assert.Equal(t, "InactiveMode", summary)
	assert.Len(t, restarted.Runs(InactiveMode), 2)

	require.NoError(t, restarted.Resume(ctx, InactiveMode))
	active, err = store.IsActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	again := newTestManager(t, store, c)
	assert.False(t, again.IsPaused())
}

func TestDanglingRunsClosedAtLoad(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, kv.Set(ctx, "PauseTime_CardLoading", []Run{{Start: start}}))

	m := newTestManager(t, kv, newClock())
	assert.False(t, m.IsPaused())

	runs := m.Runs(CardLoading)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].End)
	assert.True(t, runs[0].End.Equal(start))

	var stored []Run
	_, err := kv.Get(ctx, "PauseTime_CardLoading", &stored)
	require.NoError(t, err)
	assert.NotNil(t, stored[0].End)
}

func TestResetPauseTimes(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	c := newClock()
	m := newTestManager(t, kv, c)

	require.NoError(t, m.Pause(ctx, CardVisible, ""))
	c.Advance(time.Minute)
	require.NoError(t, m.Resume(ctx, CardVisible))
	require.NoError(t, m.Pause(ctx, InactiveMode, ""))
	c.Advance(time.Minute)

	require.NoError(t, m.ResetPauseTimes(ctx))
	assert.Empty(t, m.Runs(CardVisible))
	assert.True(t, m.IsPaused())
	assert.Zero(t, m.TotalDuration(InactiveMode))

	var stored []Run
	_, err := kv.Get(ctx, "PauseTime_CardVisible", &stored)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestPersistenceFailureStillChangesState(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	m := newTestManager(t, kv, newClock())

	require.NoError(t, m.Pause(ctx, CardVisible, ""))
	kv.fail = errors.New("disk full")

	err := m.Resume(ctx, CardVisible)
	assert.ErrorIs(t, err, kv.fail)
	assert.False(t, m.IsPaused())
}

func TestInvalidReason(t *testing.T) {
	m := newTestManager(t, newMemKV(), newClock())
	assert.Error(t, m.Pause(context.Background(), CardVisible|CardLoading, ""))
	assert.Error(t, m.Resume(context.Background(), 0))
}

func TestConcurrentPauseResume(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemKV(), newClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, r := range AllReasons {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = m.Pause(ctx, r, "")
				_ = m.Resume(ctx, r)
			}()
		}
	}
	wg.Wait()

	assert.False(t, m.IsPaused())
	for _, r := range AllReasons {
		for _, run := range m.Runs(r) {
			assert.False(t, run.Open())
		}
	}
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "CardVisible", CardVisible.String())
	assert.Equal(t, "ProcessBlacklisted|InactiveMode", (ProcessBlacklisted | InactiveMode).String())
	assert.Equal(t, "None", Reason(0).String())

	r, ok := ParseReason("inactivemode")
	assert.True(t, ok)
	assert.Equal(t, InactiveMode, r)
	assert.True(t, (InactiveMode | CardVisible).Has(CardVisible))
}

func TestPauseVisibleToOtherManager(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	c := newClock()

	daemon := newTestManager(t, kv, c)
	require.NoError(t, daemon.Pause(ctx, ProcessBlacklisted, "obs"))

	c.Advance(time.Minute)
	cli := newTestManager(t, kv, c)
	assert.True(t, cli.IsPaused())
	summary, _ := cli.PauseReasons()
	assert.Equal(t, "ProcessBlacklisted (obs)", summary)

	require.NoError(t, cli.Close(ctx))
	again := newTestManager(t, kv, c)
	assert.True(t, again.IsPaused(), "closing a manager must not end runs it does not hold")

	var events []Event
	again.Subscribe(func(e Event) { events = append(events, e) })
	require.NoError(t, daemon.Resume(ctx, ProcessBlacklisted))
	require.NoError(t, again.Refresh(ctx))
	assert.False(t, again.IsPaused())
	assert.Equal(t, []Event{{Reason: ProcessBlacklisted, Paused: false}}, events)
}

func TestResumeEndsOtherManagersRun(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	c := newClock()

	daemon := newTestManager(t, kv, c)
	require.NoError(t, daemon.Pause(ctx, InactiveMode, ""))

	c.Advance(time.Minute)
	cli := newTestManager(t, kv, c)
	require.True(t, cli.IsPaused())
	require.NoError(t, cli.Resume(ctx, InactiveMode))
	require.NoError(t, cli.Close(ctx))

	require.NoError(t, daemon.Refresh(ctx))
	assert.False(t, daemon.IsPaused())
	require.NoError(t, daemon.Heartbeat(ctx))
	require.NoError(t, daemon.Close(ctx))

	after := newTestManager(t, kv, c)
	assert.False(t, after.IsPaused())
	runs := after.Runs(InactiveMode)
	require.Len(t, runs, 1)
	assert.Equal(t, time.Minute, runs[0].End.Sub(runs[0].Start))
}

func TestExpiredLeaseIsClosedAndOwnerReopensIt(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	c := newClock()
	start := c.Now()

	daemon := newTestManager(t, kv, c)
	require.NoError(t, daemon.Pause(ctx, ProcessBlacklisted, "obs"))

	c.Advance(DefaultLeaseTTL + time.Second)
	cli := newTestManager(t, kv, c)
	assert.False(t, cli.IsPaused(), "a run whose owner stopped renewing it is over")

	var stored []Run
	_, err := kv.Get(ctx, "PauseTime_ProcessBlacklisted", &stored)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].End)
	assert.True(t, stored[0].End.Equal(start), "closed at the last heartbeat")

	require.NoError(t, daemon.Heartbeat(ctx))
	require.NoError(t, cli.Refresh(ctx))
	assert.True(t, cli.IsPaused())
	assert.True(t, daemon.IsPaused())
}

func TestHeartbeatKeepsLeaseAlive(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	c := newClock()

	daemon := newTestManager(t, kv, c)
	require.NoError(t, daemon.Pause(ctx, OperationInProgress, "sync"))
	for range 3 {
		c.Advance(DefaultLeaseTTL - time.Second)
		require.NoError(t, daemon.Heartbeat(ctx))
	}

	c.Advance(time.Second)
	cli := newTestManager(t, kv, c)
	assert.True(t, cli.IsPaused())
	assert.Equal(t, OperationInProgress, cli.Active())
}

func TestCloseKeepsOtherManagersReset(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	c := newClock()

	daemon := newTestManager(t, kv, c)
	require.NoError(t, daemon.Pause(ctx, ProcessBlacklisted, "obs"))
	c.Advance(time.Hour)
	require.NoError(t, daemon.Resume(ctx, ProcessBlacklisted))

	cli := newTestManager(t, kv, c)
	require.NoError(t, cli.ResetPauseTimes(ctx))
	require.NoError(t, cli.Close(ctx))

	c.Advance(time.Minute)
	require.NoError(t, daemon.Close(ctx))

	after := newTestManager(t, kv, c)
	assert.Empty(t, after.Runs(ProcessBlacklisted))
	assert.Zero(t, after.TotalDuration(ProcessBlacklisted))
}

func TestResetWhileOtherManagerHoldsRun(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	c := newClock()

	daemon := newTestManager(t, kv, c)
	require.NoError(t, daemon.Pause(ctx, CardVisible, ""))
	c.Advance(time.Hour)
	require.NoError(t, daemon.Heartbeat(ctx))

	cli := newTestManager(t, kv, c)
	require.NoError(t, cli.ResetPauseTimes(ctx))
	assert.True(t, cli.IsPaused())
	require.NoError(t, cli.Close(ctx))

	c.Advance(time.Minute)
	require.NoError(t, daemon.Close(ctx))

	after := newTestManager(t, kv, c)
	runs := after.Runs(CardVisible)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Open())
	assert.Equal(t, time.Minute, runs[0].End.Sub(runs[0].Start))
}
