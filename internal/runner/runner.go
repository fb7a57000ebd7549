package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hperssn/dailypractice/internal/clock"
)

const (
	DefaultTickInterval = 500 * time.Millisecond

	sideEffectTimeout = 5 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Key names the practice a countdown belongs to.
type Key struct {
	StepID        int `json:"stepId"`
	PracticeIndex int `json:"practiceIndex"`
}

// Completion describes a countdown that reached zero.
type Completion struct {
	TimerID     string        `json:"timerId"`
	Key         Key           `json:"key"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completedAt"`
}

// WakeLock keeps the device awake while a countdown runs. Failures are logged
// and otherwise ignored.
type WakeLock interface {
	Acquire() error
	Release() error
}

// Notifier is told about natural completions. Failures are logged and
// otherwise ignored.
type Notifier interface {
	NotifyCompletion(ctx context.Context, c Completion) error
}

type Status struct {
	ID        string        `json:"id"`
	Key       Key           `json:"key"`
	State     string        `json:"state"`
	Remaining time.Duration `json:"remaining"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"startedAt"`
}

type Option func(*Timer)

func WithClock(c clock.Clock) Option {
	return func(t *Timer) { t.clock = c }
}

func WithTickInterval(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithWakeLock(w WakeLock) Option {
	return func(t *Timer) { t.wake = w }
}

func WithNotifier(n Notifier) Option {
	return func(t *Timer) { t.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Timer) { t.logger = l }
}

// OnTick is called from the tick loop with the freshly derived remaining time.
func OnTick(fn func(key Key, remaining time.Duration)) Option {
	return func(t *Timer) { t.onTick = fn }
}

// OnComplete is called once per countdown that reaches zero.
func OnComplete(fn func(c Completion)) Option {
	return func(t *Timer) { t.onComplete = fn }
}

// Timer is a single countdown. Remaining time is always derived from an
// absolute end instant, never accumulated from ticks. A Timer may only run
// while it holds its Manager's ownership token.
type Timer struct {
	mu sync.Mutex

	id       string
	manager  *Manager
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	wake       WakeLock
	notifier   Notifier
	onTick     func(Key, time.Duration)
	onComplete func(Completion)

	key       Key
	state     State
	duration  time.Duration
	endAt     time.Time
	remaining time.Duration
	startedAt time.Time

	gen  uint64
	stop chan struct{}
}

func newTimer(m *Manager, opts ...Option) *Timer {
	t := &Timer{
		id:       uuid.New().String(),
		manager:  m,
		clock:    clock.System,
		interval: DefaultTickInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("timer_id", t.id)
	return t
}

func (t *Timer) ID() string { return t.id }

// SetKey binds the countdown to a practice. It takes effect for the next
// Start, Resume or ResumeFromTime.
func (t *Timer) SetKey(k Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.key = k
}

// SetDuration records the full length of the practice being counted down, for
// countdowns resumed part way through. It takes effect for the next
// ResumeFromTime.
func (t *Timer) SetDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		t.duration = d
	}
}

// Start begins a countdown of d. It is a silent no-op returning false when
// another Timer holds the ownership token or this Timer is already running.
func (t *Timer) Start(d time.Duration) bool {
	t.mu.Lock()
	if t.state == StateRunning || d <= 0 {
		t.mu.Unlock()
		return false
	}
	if !t.manager.acquire(t) {
		t.mu.Unlock()
		t.logger.Debug("start rejected, another timer owns the token")
		return false
	}

	now := t.clock.Now()
	t.duration = d
	t.startedAt = now
	t.launchLocked(now, d)
	t.mu.Unlock()

	t.acquireWake()
	return true
}

// Pause freezes the countdown and releases ownership. It returns the remaining
// time and whether the Timer was running. A countdown with nothing left
// completes instead of pausing.
func (t *Timer) Pause() (time.Duration, bool) {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return 0, false
	}

	remaining := t.remainingLocked(t.clock.Now())
	if remaining <= 0 {
		c := t.finishLocked()
		t.mu.Unlock()
		t.completed(c)
		return 0, false
	}

	t.haltLocked()
	t.state = StatePaused
	t.remaining = remaining
	t.mu.Unlock()

	t.releaseWake()
	return remaining, true
}

// Resume continues a paused countdown from its frozen remaining time. It is
// subject to the same ownership contention as Start.
func (t *Timer) Resume() bool {
	t.mu.Lock()
	if t.state != StatePaused || t.remaining <= 0 {
		t.mu.Unlock()
		return false
	}
	if !t.manager.acquire(t) {
		t.mu.Unlock()
		t.logger.Debug("resume rejected, another timer owns the token")
		return false
	}

	t.launchLocked(t.clock.Now(), t.remaining)
	t.mu.Unlock()

	t.acquireWake()
	return true
}

// ResumeFromTime anchors a fresh countdown of remaining from now. It is used
// when restoring a persisted timer.
func (t *Timer) ResumeFromTime(remaining time.Duration) bool {
	t.mu.Lock()
	if t.state == StateRunning || remaining <= 0 {
		t.mu.Unlock()
		return false
	}
	if !t.manager.acquire(t) {
		t.mu.Unlock()
		t.logger.Debug("restore rejected, another timer owns the token")
		return false
	}

	now := t.clock.Now()
	if t.duration < remaining {
		t.duration = remaining
	}
	t.startedAt = now
	t.launchLocked(now, remaining)
	t.mu.Unlock()

	t.acquireWake()
	return true
}

// Stop cancels the countdown unconditionally and releases ownership.
func (t *Timer) Stop() {
	t.mu.Lock()
	wasRunning := t.state == StateRunning
	if wasRunning {
		t.haltLocked()
	}
	t.state = StateIdle
	t.remaining = 0
	t.mu.Unlock()

	if wasRunning {
		t.releaseWake()
	}
}

func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateRunning {
		return t.remainingLocked(t.clock.Now())
	}
	return t.remaining
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateRunning
}

func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StatePaused
}

// StartedAt is the instant of the last local start or restore.
func (t *Timer) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

func (t *Timer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := t.remaining
	if t.state == StateRunning {
		remaining = t.remainingLocked(t.clock.Now())
	}
	return Status{
		ID:        t.id,
		Key:       t.key,
		State:     t.state.String(),
		Remaining: remaining,
		Duration:  t.duration,
		StartedAt: t.startedAt,
	}
}

func (t *Timer) remainingLocked(now time.Time) time.Duration {
	r := t.endAt.Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// launchLocked must be called with the token held. The ticker is created
// before the goroutine starts so that no tick can be missed.
func (t *Timer) launchLocked(now time.Time, remaining time.Duration) {
	t.gen++
	t.state = StateRunning
	t.endAt = now.Add(remaining)
	t.remaining = remaining
	t.stop = make(chan struct{})

	tk := t.clock.NewTicker(t.interval)
	go t.loop(t.gen, t.stop, tk)
}

// haltLocked ends the current tick loop and gives the token back.
func (t *Timer) haltLocked() {
	t.gen++
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.manager.release(t)
}

func (t *Timer) finishLocked() Completion {
	t.haltLocked()
	t.state = StateIdle
	t.remaining = 0
	return Completion{
		TimerID:     t.id,
		Key:         t.key,
		Duration:    t.duration,
		CompletedAt: t.clock.Now(),
	}
}

func (t *Timer) loop(gen uint64, stop <-chan struct{}, tk clock.Ticker) {
	defer tk.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tk.C():
			if t.tick(gen) {
				return
			}
		}
	}
}

// tick derives remaining from the end instant and reports whether the loop
// should exit.
func (t *Timer) tick(gen uint64) bool {
	t.mu.Lock()
	if t.gen != gen || t.state != StateRunning {
		t.mu.Unlock()
		return true
	}

	remaining := t.remainingLocked(t.clock.Now())
	t.remaining = remaining
	key := t.key
	onTick := t.onTick

	if remaining > 0 {
		t.mu.Unlock()
		if onTick != nil {
			onTick(key, remaining)
		}
		return false
	}

	c := t.finishLocked()
	t.mu.Unlock()

	if onTick != nil {
		onTick(key, 0)
	}
	t.completed(c)
	return true
}

func (t *Timer) completed(c Completion) {
	t.logger.Info("countdown completed",
		"step_id", c.Key.StepID,
		"practice_index", c.Key.PracticeIndex,
		"duration", c.Duration,
	)

	t.releaseWake()
	t.notify(c)

	if t.onComplete != nil {
		t.onComplete(c)
	}
}

func (t *Timer) notify(c Completion) {
	if t.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("completion notifier panicked", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if err := t.notifier.NotifyCompletion(ctx, c); err != nil {
		t.logger.Warn("completion notifier failed", "error", err)
	}
}

func (t *Timer) acquireWake() {
	if t.wake == nil {
		return
	}
	if err := t.wake.Acquire(); err != nil {
		t.logger.Warn("wake lock acquire failed", "error", err)
	}
}

func (t *Timer) releaseWake() {
	if t.wake == nil {
		return
	}
	if err := t.wake.Release(); err != nil {
		t.logger.Warn("wake lock release failed", "error", err)
	}
}
