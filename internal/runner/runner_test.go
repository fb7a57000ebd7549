package runner_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hperssn/dailypractice/internal/clock"
	"github.com/hperssn/dailypractice/internal/runner"
)

const waitFor = time.Second

type recorder struct {
	mu          sync.Mutex
	completions []runner.Completion
	ticks       []time.Duration
}

func (r *recorder) options() []runner.Option {
	return []runner.Option{
		runner.OnTick(func(_ runner.Key, remaining time.Duration) {
			r.mu.Lock()
			r.ticks = append(r.ticks, remaining)
			r.mu.Unlock()
		}),
		runner.OnComplete(func(c runner.Completion) {
			r.mu.Lock()
			r.completions = append(r.completions, c)
			r.mu.Unlock()
		}),
	}
}

func (r *recorder) completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completions)
}

func (r *recorder) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func newFake() *clock.Fake {
	return clock.NewFake(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC))
}

func TestTimer_StartReportsFullDuration(t *testing.T) {
	fc := newFake()
	m := runner.NewManager(runner.WithClock(fc))
	tm := m.NewTimer()

	require.True(t, tm.Start(90*time.Second))
	defer tm.Stop()

	got := tm.Remaining()
	assert.LessOrEqual(t, got, 90*time.Second)
	assert.Greater(t, got, 89*time.Second)
	assert.True(t, tm.Running())
	assert.Same(t, tm, m.Owner())
}

func TestTimer_TickDerivesRemainingFromEndInstant(t *testing.T) {
	fc := newFake()
	rec := &recorder{}
	m := runner.NewManager(runner.WithClock(fc))
	tm := m.NewTimer(rec.options()...)

	require.True(t, tm.Start(time.Minute))
	defer tm.Stop()

	// One late tick after a long suspension must see the whole elapsed span.
	fc.Advance(45 * time.Second)
	require.Eventually(t, func() bool { return rec.tickCount() == 1 }, waitFor, time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, 15*time.Second, rec.ticks[0])
	rec.mu.Unlock()
}

func TestTimer_CompletesExactlyOnce(t *testing.T) {
	fc := newFake()
	rec := &recorder{}
	m := runner.NewManager(runner.WithClock(fc))
	tm := m.NewTimer(rec.options()...)
	tm.SetKey(runner.Key{StepID: 5, PracticeIndex: 1})

	require.True(t, tm.Start(2*time.Second))

	fc.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return rec.completed() == 1 }, waitFor, time.Millisecond)

	fc.Advance(time.Second)
	fc.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, rec.completed())
	assert.False(t, tm.Running())
	assert.Nil(t, m.Owner())
	assert.Equal(t, time.Duration(0), tm.Remaining())

	rec.mu.Lock()
	assert.Equal(t, runner.Key{StepID: 5, PracticeIndex: 1}, rec.completions[0].Key)
	rec.mu.Unlock()
}

func TestTimer_PauseResumeConvergesToDuration(t *testing.T) {
	fc := newFake()
	rec := &recorder{}
	m := runner.NewManager(runner.WithClock(fc))
	tm := m.NewTimer(rec.options()...)

	require.True(t, tm.Start(10*time.Second))
	fc.Advance(4 * time.Second)

	remaining, ok := tm.Pause()
	require.True(t, ok)
	assert.Equal(t, 6*time.Second, remaining)
	assert.True(t, tm.Paused())
	assert.Nil(t, m.Owner())

	// Time spent paused does not count.
	fc.Advance(time.Hour)
	assert.Equal(t, 6*time.Second, tm.Remaining())

	require.True(t, tm.Resume())
	fc.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, rec.completed())

	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return rec.completed() == 1 }, waitFor, time.Millisecond)
}

func TestTimer_PauseWhenNotRunningIsNoop(t *testing.T) {
	m := runner.NewManager(runner.WithClock(newFake()))
	tm := m.NewTimer()

	_, ok := tm.Pause()
	assert.False(t, ok)
	assert.False(t, tm.Paused())
}

func TestTimer_StopResetsAndReleases(t *testing.T) {
	m := runner.NewManager(runner.WithClock(newFake()))
	tm := m.NewTimer()

	require.True(t, tm.Start(time.Minute))
	tm.Stop()

	assert.False(t, tm.Running())
	assert.Equal(t, time.Duration(0), tm.Remaining())
	assert.Nil(t, m.Owner())

	tm.Stop()
	assert.Nil(t, m.Owner())
}

func TestTimer_ResumeFromTimeBoundary(t *testing.T) {
	fc := newFake()
	rec := &recorder{}
	m := runner.NewManager(runner.WithClock(fc))
	tm := m.NewTimer(rec.options()...)

	require.True(t, tm.ResumeFromTime(time.Second))
	assert.Same(t, tm, m.Owner())

	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return rec.completed() == 1 }, waitFor, time.Millisecond)

	assert.False(t, tm.ResumeFromTime(0))
	assert.Nil(t, m.Owner())
}

func TestTimer_ResumeFromTimeRejectedWhileRunning(t *testing.T) {
	m := runner.NewManager(runner.WithClock(newFake()))
	tm := m.NewTimer()

	require.True(t, tm.ResumeFromTime(30*time.Second))
	defer tm.Stop()

	assert.False(t, tm.ResumeFromTime(30*time.Second))
	assert.False(t, tm.Start(30*time.Second))
}

type flakyNotifier struct {
	calls atomic.Int32
	panic bool
}

func (n *flakyNotifier) NotifyCompletion(context.Context, runner.Completion) error {
	n.calls.Add(1)
	if n.panic {
		panic("speaker unavailable")
	}
	return errors.New("notification channel closed")
}

func TestTimer_NotifierFailureDoesNotAffectCompletion(t *testing.T) {
	for _, panics := range []bool{false, true} {
		fc := newFake()
		rec := &recorder{}
		n := &flakyNotifier{panic: panics}
		m := runner.NewManager(runner.WithClock(fc), runner.WithNotifier(n))
		tm := m.NewTimer(rec.options()...)

		require.True(t, tm.Start(time.Second))
		fc.Advance(time.Second)

		require.Eventually(t, func() bool { return rec.completed() == 1 }, waitFor, time.Millisecond)
		assert.Equal(t, int32(1), n.calls.Load())
		assert.Nil(t, m.Owner())
	}
}

type countingWake struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (w *countingWake) Acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.acquired++
	return nil
}

func (w *countingWake) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released++
	return errors.New("already released")
}

func (w *countingWake) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acquired, w.released
}

func TestTimer_WakeLockFollowsRunningState(t *testing.T) {
	fc := newFake()
	wake := &countingWake{}
	rec := &recorder{}
	m := runner.NewManager(runner.WithClock(fc), runner.WithWakeLock(wake))
	tm := m.NewTimer(rec.options()...)

	require.True(t, tm.Start(10*time.Second))
	_, ok := tm.Pause()
	require.True(t, ok)
	require.True(t, tm.Resume())
	fc.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return rec.completed() == 1 }, waitFor, time.Millisecond)

	acquired, released := wake.counts()
	assert.Equal(t, 2, acquired)
	assert.Equal(t, 2, released)
}
