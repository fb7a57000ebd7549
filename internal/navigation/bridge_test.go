package navigation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hperssn/dailypractice/internal/clock"
	"github.com/hperssn/dailypractice/internal/domain"
	"github.com/hperssn/dailypractice/internal/navigation"
	"github.com/hperssn/dailypractice/internal/quirk"
	"github.com/hperssn/dailypractice/internal/restore"
	"github.com/hperssn/dailypractice/internal/runner"
	"github.com/hperssn/dailypractice/internal/storage"
	"github.com/hperssn/dailypractice/internal/timerstate"
)

type eventLog struct {
	mu     sync.Mutex
	events []navigation.Event
}

func (l *eventLog) Publish(e navigation.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(kind navigation.EventKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

type harness struct {
	ctx     context.Context
	clock   *clock.Fake
	store   *storage.MemoryStore
	records *timerstate.Global
	manager *runner.Manager
	bridge  *navigation.Bridge
	events  *eventLog
}

func newHarness(t *testing.T, cfg navigation.Config) *harness {
	t.Helper()

	fc := clock.NewFake(time.Date(2026, 7, 14, 7, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore()
	records := timerstate.New(store, timerstate.WithClock(fc))
	manager := runner.NewManager(runner.WithClock(fc))
	events := &eventLog{}

	catalog := domain.NewCatalog(
		domain.Step{ID: 5, Title: "Breathing", Practices: []domain.Practice{
			{Title: "Box breathing", DurationSeconds: 120},
			{Title: "Body scan", DurationSeconds: 300},
		}},
		domain.Step{ID: 6, Title: "Focus", Practices: []domain.Practice{
			{Title: "Candle", DurationSeconds: 60},
		}},
	)

	bridge := navigation.NewBridge(cfg, navigation.Deps{
		Catalog:   catalog,
		Records:   records,
		Progress:  store,
		Manager:   manager,
		Clock:     fc,
		Publisher: events,
	})
	t.Cleanup(manager.StopAll)

	return &harness{
		ctx:     context.Background(),
		clock:   fc,
		store:   store,
		records: records,
		manager: manager,
		bridge:  bridge,
		events:  events,
	}
}

func (h *harness) open(t *testing.T, stepID int, platform string) *navigation.Screen {
	t.Helper()
	s, err := h.bridge.Open(stepID, platform)
	require.NoError(t, err)
	return s
}

func (h *harness) rawRecord(t *testing.T) []byte {
	t.Helper()
	raw, ok, err := h.store.Get(h.ctx, timerstate.RecordKey)
	require.NoError(t, err)
	require.True(t, ok, "expected a timer record")
	return raw
}

func (h *harness) noRecord(t *testing.T) {
	t.Helper()
	_, err := h.records.Load(h.ctx)
	require.True(t, errors.Is(err, timerstate.ErrNoRecord), "expected no record, got %v", err)
}

// startOn activates a screen for step 5 and starts its first practice.
func (h *harness) startOn(t *testing.T) *navigation.Screen {
	t.Helper()
	a := h.open(t, 5, "")
	_, err := a.Activate(h.ctx)
	require.NoError(t, err)

	started, err := a.Start(h.ctx)
	require.NoError(t, err)
	require.True(t, started)
	return a
}

func TestScenario_StartPersistsRecord(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	start := h.clock.Now()

	a := h.open(t, 5, "")
	res, err := a.Activate(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, restore.OutcomeNoTimer, res.Outcome)

	started, err := a.Start(h.ctx)
	require.NoError(t, err)
	require.True(t, started)

	r, err := h.records.Load(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, r.StepID)
	assert.Equal(t, 0, r.PracticeIndex)
	assert.False(t, r.Paused)
	assert.Equal(t, start.Add(120*time.Second).UnixMilli(), r.EndTimestamp)
	assert.True(t, h.events.has(navigation.EventStarted))
}

func TestScenario_NavigateAwayLeavesRecordAndDoesNotAutoStart(t *testing.T) {
	h := newHarness(t, navigation.Config{AutoStart: true})
	a := h.startOn(t)
	before := h.rawRecord(t)

	b := h.open(t, 6, "")
	require.NoError(t, b.Select(h.ctx, 0))

	res, err := h.bridge.Navigate(h.ctx, a.ID(), b.ID())
	require.NoError(t, err)
	assert.Equal(t, restore.OutcomeForeignTimer, res.Outcome)

	assert.Equal(t, before, h.rawRecord(t))
	assert.False(t, a.Timer().Running())
	assert.False(t, b.Timer().Running())
	assert.False(t, h.manager.Busy())

	ind, err := h.bridge.Indicator(h.ctx)
	require.NoError(t, err)
	assert.True(t, ind.Present)
	assert.Equal(t, 5, ind.StepID)
	assert.False(t, ind.Running)
}

func TestScenario_NavigateBackResumesFromWallClock(t *testing.T) {
	h := newHarness(t, navigation.Config{AutoStart: true})
	a := h.startOn(t)
	b := h.open(t, 6, "")

	_, err := h.bridge.Navigate(h.ctx, a.ID(), b.ID())
	require.NoError(t, err)

	h.clock.Advance(10 * time.Second)

	res, err := h.bridge.Navigate(h.ctx, b.ID(), a.ID())
	require.NoError(t, err)
	require.Equal(t, restore.OutcomeResumed, res.Outcome)
	assert.InDelta(t, 110, res.Remaining.Seconds(), 1)

	assert.True(t, a.Timer().Running())
	assert.InDelta(t, 110, a.Snapshot().Remaining.Seconds(), 1)
	assert.Same(t, a.Timer(), h.manager.Owner())
}

func TestScenario_PausedTimerIsSticky(t *testing.T) {
	h := newHarness(t, navigation.Config{AutoStart: true})
	a := h.startOn(t)

	h.clock.Advance(40 * time.Second)
	paused, err := a.Pause(h.ctx)
	require.NoError(t, err)
	require.True(t, paused)

	b := h.open(t, 6, "")
	require.NoError(t, b.Select(h.ctx, 0))
	_, err = h.bridge.Navigate(h.ctx, a.ID(), b.ID())
	require.NoError(t, err)
	assert.False(t, b.Timer().Running())

	h.clock.Advance(30 * time.Second)
	cleared, err := h.bridge.Sweep(h.ctx)
	require.NoError(t, err)
	assert.False(t, cleared)

	res, err := h.bridge.Navigate(h.ctx, b.ID(), a.ID())
	require.NoError(t, err)
	require.Equal(t, restore.OutcomePaused, res.Outcome)
	assert.Equal(t, 80*time.Second, res.Remaining)

	snap := a.Snapshot()
	assert.Equal(t, "paused", snap.State)
	assert.Equal(t, 80*time.Second, snap.Remaining)
	assert.False(t, a.Timer().Running())

	r, err := h.records.Load(h.ctx)
	require.NoError(t, err)
	assert.True(t, r.Paused)
	assert.Equal(t, 80, r.PausedRemainingSeconds)

	resumed, err := a.Resume(h.ctx)
	require.NoError(t, err)
	require.True(t, resumed)
	assert.True(t, a.Timer().Running())

	r, err = h.records.Load(h.ctx)
	require.NoError(t, err)
	assert.False(t, r.Paused)
	assert.Equal(t, h.clock.Now().Add(80*time.Second).UnixMilli(), r.EndTimestamp)
}

func TestScenario_ExpiredOnReturnIsDiscarded(t *testing.T) {
	h := newHarness(t, navigation.Config{AutoStart: true})
	a := h.startOn(t)
	b := h.open(t, 6, "")

	_, err := h.bridge.Navigate(h.ctx, a.ID(), b.ID())
	require.NoError(t, err)

	h.clock.Advance(119500 * time.Millisecond)

	res, err := h.bridge.Navigate(h.ctx, b.ID(), a.ID())
	require.NoError(t, err)
	assert.Equal(t, restore.OutcomeExpired, res.Outcome)

	h.noRecord(t)
	assert.False(t, a.Timer().Running())

	h.clock.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, h.events.has(navigation.EventCompleted))

	stats, err := h.store.GetProgressStats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCompletions)
}

func TestCompletionOnActiveScreenMarksPracticeThenClears(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	h.startOn(t)

	h.clock.Advance(120 * time.Second)

	require.Eventually(t, func() bool { return h.events.has(navigation.EventCompleted) }, time.Second, time.Millisecond)
	h.noRecord(t)

	step, err := h.bridge.Progress(h.ctx, 5)
	require.NoError(t, err)
	assert.True(t, step.Practices[0].Completed)
	assert.False(t, step.Practices[1].Completed)
	assert.False(t, h.manager.Busy())
}

func TestAutoStartWaitsForRestoration(t *testing.T) {
	h := newHarness(t, navigation.Config{AutoStart: true})
	a := h.startOn(t)
	b := h.open(t, 6, "")

	_, err := h.bridge.Navigate(h.ctx, a.ID(), b.ID())
	require.NoError(t, err)
	h.clock.Advance(10 * time.Second)

	// A second view of the same step selects another practice before it
	// becomes active; restoration must win.
	a2 := h.open(t, 5, "")
	require.NoError(t, a2.Select(h.ctx, 1))

	res, err := h.bridge.Navigate(h.ctx, b.ID(), a2.ID())
	require.NoError(t, err)
	assert.Equal(t, restore.OutcomeResumed, res.Outcome)

	r, err := h.records.Load(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, r.PracticeIndex)
	assert.Equal(t, 0, a2.Snapshot().Selected)
	assert.Same(t, a2.Timer(), h.manager.Owner())
	assert.Equal(t, runner.Key{StepID: 5, PracticeIndex: 0}, a2.Timer().Status().Key)
}

func TestAutoStartRunsWhenNothingToRestore(t *testing.T) {
	h := newHarness(t, navigation.Config{AutoStart: true})
	c := h.open(t, 6, "")
	require.NoError(t, c.Select(h.ctx, 0))
	assert.False(t, c.Timer().Running())

	res, err := h.bridge.Navigate(h.ctx, "", c.ID())
	require.NoError(t, err)
	assert.Equal(t, restore.OutcomeNoTimer, res.Outcome)
	assert.True(t, c.Timer().Running())

	r, err := h.records.Load(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, r.StepID)

	require.NoError(t, c.Stop(h.ctx))
	h.noRecord(t)

	// Selecting on an active screen starts right away.
	require.NoError(t, c.Select(h.ctx, 0))
	assert.True(t, c.Timer().Running())
}

func TestSecondScreenCannotStartWhileTimerRuns(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	h.startOn(t)
	before := h.rawRecord(t)

	b := h.open(t, 6, "")
	started, err := b.Start(h.ctx)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, before, h.rawRecord(t))
}

func TestStartRejectedWhilePausedRecordExists(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	a := h.startOn(t)
	_, err := a.Pause(h.ctx)
	require.NoError(t, err)

	b := h.open(t, 6, "")
	_, err = h.bridge.Navigate(h.ctx, a.ID(), b.ID())
	require.NoError(t, err)

	started, err := b.Start(h.ctx)
	require.NoError(t, err)
	assert.False(t, started)

	r, err := h.records.Load(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, r.StepID)
	assert.True(t, r.Paused)
}

func TestExplicitStopClearsPausedRecord(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	a := h.startOn(t)

	_, err := a.Pause(h.ctx)
	require.NoError(t, err)
	require.NoError(t, a.Stop(h.ctx))

	h.noRecord(t)
	assert.Equal(t, "idle", a.Snapshot().State)
}

func TestTimerStoppedSignalHonorsGracePeriod(t *testing.T) {
	cfg := navigation.Config{Platforms: quirk.Selector{GracePlatforms: []string{"android"}, Period: time.Second}}

	t.Run("grace platform suppresses an early signal", func(t *testing.T) {
		h := newHarness(t, cfg)
		a := h.open(t, 5, "android")
		_, err := a.Activate(h.ctx)
		require.NoError(t, err)
		started, err := a.Start(h.ctx)
		require.NoError(t, err)
		require.True(t, started)

		// The runtime reports the countdown stopped almost immediately.
		a.Timer().Stop()
		h.clock.Advance(300 * time.Millisecond)

		cleared, err := a.TimerStopped(h.ctx)
		require.NoError(t, err)
		assert.False(t, cleared)
		h.rawRecord(t)

		h.clock.Advance(time.Second)
		cleared, err = a.TimerStopped(h.ctx)
		require.NoError(t, err)
		assert.True(t, cleared)
		h.noRecord(t)
	})

	t.Run("other platforms clear immediately", func(t *testing.T) {
		h := newHarness(t, cfg)
		a := h.open(t, 5, "ios")
		_, err := a.Activate(h.ctx)
		require.NoError(t, err)
		_, err = a.Start(h.ctx)
		require.NoError(t, err)

		a.Timer().Stop()
		cleared, err := a.TimerStopped(h.ctx)
		require.NoError(t, err)
		assert.True(t, cleared)
		h.noRecord(t)
	})

	t.Run("signal ignored while running or paused", func(t *testing.T) {
		h := newHarness(t, cfg)
		a := h.startOn(t)

		cleared, err := a.TimerStopped(h.ctx)
		require.NoError(t, err)
		assert.False(t, cleared)

		_, err = a.Pause(h.ctx)
		require.NoError(t, err)
		cleared, err = a.TimerStopped(h.ctx)
		require.NoError(t, err)
		assert.False(t, cleared)
		h.rawRecord(t)
	})
}

func TestSweepClearsRecordFinishedOffScreen(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	a := h.startOn(t)
	b := h.open(t, 6, "")

	_, err := h.bridge.Navigate(h.ctx, a.ID(), b.ID())
	require.NoError(t, err)

	h.clock.Advance(60 * time.Second)
	cleared, err := h.bridge.Sweep(h.ctx)
	require.NoError(t, err)
	assert.False(t, cleared, "record still counting down elsewhere")

	h.clock.Advance(61 * time.Second)
	cleared, err = h.bridge.Sweep(h.ctx)
	require.NoError(t, err)
	assert.True(t, cleared)
	h.noRecord(t)
	assert.True(t, h.events.has(navigation.EventCleared))
}

func TestSweepLeavesActiveStepAlone(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	a := h.startOn(t)
	a.Timer().Stop()

	h.clock.Advance(5 * time.Minute)
	cleared, err := h.bridge.Sweep(h.ctx)
	require.NoError(t, err)
	assert.False(t, cleared)
	h.rawRecord(t)
}

func TestRunSweepsOnInterval(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	a := h.startOn(t)
	b := h.open(t, 6, "")
	_, err := h.bridge.Navigate(h.ctx, a.ID(), b.ID())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan struct{})
	go func() {
		h.bridge.Run(ctx, 5*time.Second)
		close(done)
	}()

	// Run registers its ticker asynchronously; keep advancing until the
	// finished record is swept.
	require.Eventually(t, func() bool {
		h.clock.Advance(5 * time.Second)
		_, err := h.records.Load(h.ctx)
		return errors.Is(err, timerstate.ErrNoRecord)
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestCloseStopsOnlyLocalCountdown(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	a := h.startOn(t)
	before := h.rawRecord(t)

	require.NoError(t, h.bridge.Close(a.ID()))
	assert.False(t, h.manager.Busy())
	assert.Equal(t, before, h.rawRecord(t))

	_, err := h.bridge.Screen(a.ID())
	assert.True(t, errors.Is(err, navigation.ErrScreenNotFound))
	assert.Nil(t, h.bridge.Active())
}

func TestActivationRunsRestorationOncePerMount(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	a := h.startOn(t)
	b := h.open(t, 6, "")
	_, err := h.bridge.Navigate(h.ctx, a.ID(), b.ID())
	require.NoError(t, err)

	a2 := h.open(t, 5, "")
	res, err := a2.Activate(h.ctx)
	require.NoError(t, err)
	require.Equal(t, restore.OutcomeResumed, res.Outcome)

	// A duplicate activation signal for the same mount does not resume twice.
	res, err = h.bridge.Navigate(h.ctx, a2.ID(), a2.ID())
	require.NoError(t, err)
	assert.Equal(t, restore.OutcomeSkipped, res.Outcome)
	res, err = a2.Activate(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, restore.OutcomeSkipped, res.Outcome)
	assert.True(t, a2.Timer().Running())
	assert.Equal(t, restore.OutcomeResumed, a2.Snapshot().LastRestore.Outcome)
}

func TestRestoredOnNewScreenRecordsFullPractice(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	start := h.clock.Now()
	a := h.startOn(t)

	require.NoError(t, h.bridge.Close(a.ID()))
	h.clock.Advance(10 * time.Second)

	a2 := h.open(t, 5, "")
	res, err := a2.Activate(h.ctx)
	require.NoError(t, err)
	require.Equal(t, restore.OutcomeResumed, res.Outcome)

	// Land exactly on the persisted end instant.
	h.clock.Advance(110 * time.Second)
	require.Eventually(t, func() bool { return h.events.has(navigation.EventCompleted) }, time.Second, time.Millisecond)

	done, err := h.store.GetRecentCompletions(h.ctx, start)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, 120, done[0].DurationSeconds)
	assert.Equal(t, start, done[0].StartedAt)
}

func TestResumedPausedRecordOnNewScreenRecordsFullPractice(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	start := h.clock.Now()
	a := h.startOn(t)

	h.clock.Advance(40 * time.Second)
	_, err := a.Pause(h.ctx)
	require.NoError(t, err)
	require.NoError(t, h.bridge.Close(a.ID()))

	a2 := h.open(t, 5, "")
	res, err := a2.Activate(h.ctx)
	require.NoError(t, err)
	require.Equal(t, restore.OutcomePaused, res.Outcome)

	resumed, err := a2.Resume(h.ctx)
	require.NoError(t, err)
	require.True(t, resumed)

	h.clock.Advance(80 * time.Second)
	require.Eventually(t, func() bool { return h.events.has(navigation.EventCompleted) }, time.Second, time.Millisecond)

	done, err := h.store.GetRecentCompletions(h.ctx, start)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, 120, done[0].DurationSeconds)
}

func TestActivatingScreenThatAlreadyRunsItsTimer(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	a := h.open(t, 5, "")

	started, err := a.Start(h.ctx)
	require.NoError(t, err)
	require.True(t, started)

	res, err := a.Activate(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, restore.OutcomeResumed, res.Outcome)
	assert.True(t, a.Timer().Running())
	assert.Same(t, a.Timer(), h.manager.Owner())
}
