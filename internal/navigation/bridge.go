// Package navigation hosts practice screens and owns the rules for what
// happens to the shared timer record and the local countdown when the user
// moves between them.
package navigation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hperssn/dailypractice/internal/clock"
	"github.com/hperssn/dailypractice/internal/domain"
	"github.com/hperssn/dailypractice/internal/quirk"
	"github.com/hperssn/dailypractice/internal/restore"
	"github.com/hperssn/dailypractice/internal/runner"
	"github.com/hperssn/dailypractice/internal/storage"
	"github.com/hperssn/dailypractice/internal/tasks"
	"github.com/hperssn/dailypractice/internal/timerstate"
)

var ErrScreenNotFound = errors.New("screen not found")

const DefaultSweepInterval = 5 * time.Second

// Publisher receives screen events, e.g. for streaming to clients.
type Publisher interface {
	Publish(e Event)
}

type Config struct {
	// AutoStart starts a newly selected practice once no timer exists
	// anywhere and the screen's restoration has finished.
	AutoStart       bool
	ExpiryThreshold time.Duration
	Platforms       quirk.Selector
}

type Deps struct {
	Catalog   *domain.Catalog
	Records   *timerstate.Global
	Progress  storage.ProgressRepository
	Manager   *runner.Manager
	Queue     *tasks.Queue
	Clock     clock.Clock
	Logger    *slog.Logger
	Publisher Publisher
}

type localStart struct {
	at     time.Time
	policy quirk.ClearPolicy
}

// Bridge tracks open screens, which one is active, and applies the
// navigation rules:
//
//   - leaving a screen stops its local countdown but never touches the record
//   - entering a screen runs restoration for it before any auto-start
//   - a paused record is only changed by an explicit resume or stop
//   - a natural completion on the active screen marks the practice complete
//     and then clears the record
//   - a finished record whose step has no active, running screen is swept,
//     subject to the clear policy of the platform that started it
type Bridge struct {
	mu sync.Mutex

	cfg       Config
	catalog   *domain.Catalog
	records   *timerstate.Global
	progress  storage.ProgressRepository
	manager   *runner.Manager
	queue     *tasks.Queue
	clock     clock.Clock
	logger    *slog.Logger
	publisher Publisher

	screens map[string]*Screen
	active  *Screen
	starts  map[int]localStart
}

func NewBridge(cfg Config, deps Deps) *Bridge {
	if cfg.ExpiryThreshold <= 0 {
		cfg.ExpiryThreshold = restore.DefaultExpiryThreshold
	}
	if deps.Clock == nil {
		deps.Clock = clock.System
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Queue == nil {
		deps.Queue = tasks.NewQueue(deps.Logger)
	}

	return &Bridge{
		cfg:       cfg,
		catalog:   deps.Catalog,
		records:   deps.Records,
		progress:  deps.Progress,
		manager:   deps.Manager,
		queue:     deps.Queue,
		clock:     deps.Clock,
		logger:    deps.Logger,
		publisher: deps.Publisher,
		screens:   make(map[string]*Screen),
		starts:    make(map[int]localStart),
	}
}

// Open mounts a screen for stepID. platform selects the clear policy for
// timer-stopped signals coming from this screen.
func (b *Bridge) Open(stepID int, platform string) (*Screen, error) {
	step, err := b.catalog.Step(stepID)
	if err != nil {
		return nil, err
	}

	s := &Screen{
		id:       uuid.New().String(),
		bridge:   b,
		step:     step,
		platform: platform,
		policy:   b.cfg.Platforms.ForPlatform(platform),
	}
	s.timer = b.manager.NewTimer(
		runner.OnTick(func(key runner.Key, remaining time.Duration) {
			b.handleTick(s, key, remaining)
		}),
		runner.OnComplete(func(c runner.Completion) {
			b.handleCompletion(s, c)
		}),
	)
	s.restorer = restore.New(b.records, s.timer,
		restore.WithClock(b.clock),
		restore.WithLogger(b.logger.With("screen_id", s.id)),
		restore.WithExpiryThreshold(b.cfg.ExpiryThreshold),
	)

	b.mu.Lock()
	b.screens[s.id] = s
	b.mu.Unlock()

	b.logger.Debug("screen opened", "screen_id", s.id, "step_id", stepID, "policy", s.policy.Name())
	return s, nil
}

func (b *Bridge) Screen(id string) (*Screen, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.screens[id]
	if !ok {
		return nil, ErrScreenNotFound
	}
	return s, nil
}

// Close unmounts a screen. Like leaving it, this stops only the local
// countdown.
func (b *Bridge) Close(id string) error {
	s, err := b.Screen(id)
	if err != nil {
		return err
	}

	b.leave(s)
	b.manager.Remove(s.timer)

	b.mu.Lock()
	delete(b.screens, id)
	b.mu.Unlock()
	return nil
}

// Navigate leaves from (which may be empty) and activates to.
func (b *Bridge) Navigate(ctx context.Context, fromID, toID string) (restore.Result, error) {
	to, err := b.Screen(toID)
	if err != nil {
		return restore.Result{}, err
	}

	if fromID != "" && fromID != toID {
		from, err := b.Screen(fromID)
		if err != nil {
			return restore.Result{}, err
		}
		b.leave(from)
	}

	return b.enter(ctx, to)
}

// Active returns the screen currently in front, if any.
func (b *Bridge) Active() *Screen {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Indicator describes the one timer record as seen from anywhere in the app.
type Indicator struct {
	Present       bool          `json:"present"`
	StepID        int           `json:"stepId,omitempty"`
	PracticeIndex int           `json:"practiceIndex,omitempty"`
	Paused        bool          `json:"paused,omitempty"`
	Running       bool          `json:"running,omitempty"`
	Remaining     time.Duration `json:"remaining,omitempty"`
}

func (b *Bridge) Indicator(ctx context.Context) (Indicator, error) {
	r, err := b.records.Load(ctx)
	if errors.Is(err, timerstate.ErrNoRecord) || errors.Is(err, timerstate.ErrInvalidRecord) {
		return Indicator{}, nil
	}
	if err != nil {
		return Indicator{}, err
	}

	running := false
	if owner := b.manager.Owner(); owner != nil {
		running = owner.Status().Key.StepID == r.StepID
	}
	return Indicator{
		Present:       true,
		StepID:        r.StepID,
		PracticeIndex: r.PracticeIndex,
		Paused:        r.Paused,
		Running:       running,
		Remaining:     r.Remaining(b.clock.Now()),
	}, nil
}

// Progress returns the step with today's completed practices flagged.
func (b *Bridge) Progress(ctx context.Context, stepID int) (domain.Step, error) {
	step, err := b.catalog.Step(stepID)
	if err != nil {
		return domain.Step{}, err
	}

	records, err := b.progress.GetCompletionsByStep(ctx, stepID, startOfDay(b.clock.Now()))
	if err != nil {
		return domain.Step{}, err
	}

	done := make(map[int]bool, len(records))
	for _, r := range records {
		done[r.PracticeIndex] = true
	}
	return step.WithCompleted(done), nil
}

// Run sweeps abandoned records every interval until ctx is done.
func (b *Bridge) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := b.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := b.Sweep(ctx); err != nil {
				b.logger.Warn("timer record sweep failed", "error", err)
			}
		}
	}
}

// Sweep clears a record that finished while its step was not on screen. It
// reports whether a record was removed.
func (b *Bridge) Sweep(ctx context.Context) (bool, error) {
	r, err := b.records.Load(ctx)
	switch {
	case errors.Is(err, timerstate.ErrNoRecord):
		return false, nil
	case errors.Is(err, timerstate.ErrInvalidRecord):
		return b.records.ClearIf(ctx, func(timerstate.Record) bool { return true })
	case err != nil:
		return false, err
	}

	if r.Paused || b.stepOnScreen(r.StepID) {
		return false, nil
	}

	now := b.clock.Now()
	if r.EndTime().After(now) {
		return false, nil
	}

	b.mu.Lock()
	start := b.starts[r.StepID]
	b.mu.Unlock()
	if start.policy != nil && !start.policy.AllowClear(start.at, now) {
		b.logger.Debug("sweep suppressed by clear policy", "step_id", r.StepID, "policy", start.policy.Name())
		return false, nil
	}

	cleared, err := b.records.ClearIf(ctx, func(cur timerstate.Record) bool {
		return cur == r
	})
	if cleared {
		b.logger.Info("cleared timer record that finished off screen", "step_id", r.StepID)
		b.publish(Event{Kind: EventCleared, StepID: r.StepID, PracticeIndex: r.PracticeIndex})
	}
	return cleared, err
}

// stepOnScreen reports whether stepID is shown by the active screen or counted
// down by a running timer.
func (b *Bridge) stepOnScreen(stepID int) bool {
	b.mu.Lock()
	active := b.active
	b.mu.Unlock()

	if active != nil && active.step.ID == stepID {
		return true
	}
	if owner := b.manager.Owner(); owner != nil && owner.Status().Key.StepID == stepID {
		return true
	}
	return false
}

func (b *Bridge) leave(s *Screen) {
	b.mu.Lock()
	if b.active == s {
		b.active = nil
	}
	b.mu.Unlock()

	wasRunning := s.timer.Running()
	s.setActive(false)
	if wasRunning || s.timer.Paused() {
		s.timer.Stop()
	}

	b.logger.Debug("screen left", "screen_id", s.id, "step_id", s.step.ID, "stopped_local", wasRunning)
	b.publish(Event{Kind: EventLeft, ScreenID: s.id, StepID: s.step.ID})
}

// enter activates s. Restoration and auto-start are posted to the deferred
// queue, restoration first, and applied once the activation has settled.
func (b *Bridge) enter(ctx context.Context, s *Screen) (restore.Result, error) {
	b.mu.Lock()
	prev := b.active
	b.mu.Unlock()
	if prev == s && s.isActive() {
		// Repeated activation signal for the same mount.
		return restore.Result{Outcome: restore.OutcomeSkipped}, nil
	}
	if prev != nil {
		b.leave(prev)
	}

	b.mu.Lock()
	b.active = s
	b.mu.Unlock()

	s.setActive(true)
	s.restorer.Activate()

	var (
		result     restore.Result
		restoreErr error
	)
	b.queue.Post(tasks.PriorityRestore, "restore:"+s.id, func(ctx context.Context) error {
		result, restoreErr = b.restore(ctx, s)
		return restoreErr
	})
	if b.cfg.AutoStart && s.takeAutoStart() {
		b.postAutoStart(s)
	}

	if err := b.queue.Drain(ctx); err != nil && restoreErr == nil {
		b.logger.Warn("activation follow-up failed", "screen_id", s.id, "error", err)
	}
	return result, restoreErr
}

func (b *Bridge) restore(ctx context.Context, s *Screen) (restore.Result, error) {
	res, err := s.restorer.Run(ctx, s.step.ID)
	if err != nil {
		return res, err
	}

	switch res.Outcome {
	case restore.OutcomeResumed:
		s.applyRestored(res.Record.PracticeIndex, 0)
		b.markLocalStart(s)
		b.publish(Event{Kind: EventResumed, ScreenID: s.id, StepID: s.step.ID, PracticeIndex: res.Record.PracticeIndex, Remaining: res.Remaining})
	case restore.OutcomePaused:
		s.applyRestored(res.Record.PracticeIndex, res.Remaining)
		b.publish(Event{Kind: EventPaused, ScreenID: s.id, StepID: s.step.ID, PracticeIndex: res.Record.PracticeIndex, Remaining: res.Remaining})
	case restore.OutcomeExpired:
		b.publish(Event{Kind: EventCleared, ScreenID: s.id, StepID: s.step.ID, PracticeIndex: res.Record.PracticeIndex})
	}
	s.setLastRestore(res)
	return res, nil
}

func (b *Bridge) postAutoStart(s *Screen) {
	b.queue.Post(tasks.PriorityAutoStart, "autostart:"+s.id, func(ctx context.Context) error {
		return b.autoStart(ctx, s)
	})
}

// autoStart starts the selected practice only when nothing else could be
// claimed: restoration is done, the screen is in front, no timer runs, and no
// record exists anywhere.
func (b *Bridge) autoStart(ctx context.Context, s *Screen) error {
	if s.restorer.Restoring() || !s.isActive() || b.manager.Busy() {
		return nil
	}
	if s.timer.Running() || s.timer.Paused() || s.rehydratedPause() > 0 {
		return nil
	}

	_, err := b.records.Load(ctx)
	if !errors.Is(err, timerstate.ErrNoRecord) {
		return nil
	}

	_, err = s.Start(ctx)
	return err
}

func (b *Bridge) markLocalStart(s *Screen) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts[s.step.ID] = localStart{at: s.timer.StartedAt(), policy: s.policy}
}

func (b *Bridge) handleTick(s *Screen, key runner.Key, remaining time.Duration) {
	if remaining > 0 {
		end := b.clock.Now().Add(remaining)
		if _, err := b.records.UpdateEndTime(context.Background(), key.StepID, key.PracticeIndex, end); err != nil {
			b.logger.Warn("timer checkpoint failed", "step_id", key.StepID, "error", err)
		}
	}
	b.publish(Event{Kind: EventTick, ScreenID: s.id, StepID: key.StepID, PracticeIndex: key.PracticeIndex, Remaining: remaining})
}

// handleCompletion applies a natural completion. Only the active screen marks
// the practice complete; otherwise the record is left for the sweep.
func (b *Bridge) handleCompletion(s *Screen, c runner.Completion) {
	if !s.isActive() {
		b.logger.Info("countdown finished off screen", "screen_id", s.id, "step_id", c.Key.StepID)
		return
	}

	ctx := context.Background()
	if err := b.progress.SaveCompletion(ctx, storage.FromCompletion(c)); err != nil {
		b.logger.Error("saving practice completion failed", "step_id", c.Key.StepID, "error", err)
	}

	_, err := b.records.ClearIf(ctx, func(r timerstate.Record) bool {
		return r.StepID == c.Key.StepID && r.PracticeIndex == c.Key.PracticeIndex && !r.Paused
	})
	if err != nil {
		b.logger.Error("clearing completed timer record failed", "step_id", c.Key.StepID, "error", err)
	}

	b.publish(Event{Kind: EventCompleted, ScreenID: s.id, StepID: c.Key.StepID, PracticeIndex: c.Key.PracticeIndex})
}

// clearOnStopped handles a platform "timer stopped" signal from s.
func (b *Bridge) clearOnStopped(ctx context.Context, s *Screen) (bool, error) {
	if s.timer.Running() {
		return false, nil
	}

	now := b.clock.Now()
	if !s.policy.AllowClear(s.timer.StartedAt(), now) {
		b.logger.Info("timer stopped signal suppressed", "screen_id", s.id, "policy", s.policy.Name())
		return false, nil
	}

	cleared, err := b.records.ClearIf(ctx, func(r timerstate.Record) bool {
		return r.StepID == s.step.ID && !r.Paused
	})
	if cleared {
		b.publish(Event{Kind: EventCleared, ScreenID: s.id, StepID: s.step.ID})
	}
	return cleared, err
}

func (b *Bridge) publish(e Event) {
	if b.publisher == nil {
		return
	}
	e.At = b.clock.Now()
	b.publisher.Publish(e)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
