package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hperssn/dailypractice/internal/domain"
	"github.com/hperssn/dailypractice/internal/quirk"
	"github.com/hperssn/dailypractice/internal/restore"
	"github.com/hperssn/dailypractice/internal/runner"
	"github.com/hperssn/dailypractice/internal/timerstate"
)

// Screen is one mounted practice view for a step. It owns a local countdown
// and drives the shared record through the Bridge.
//
// Screen never holds its own lock while calling into its timer, since timer
// callbacks re-enter the screen.
type Screen struct {
	id       string
	bridge   *Bridge
	step     domain.Step
	platform string
	policy   quirk.ClearPolicy
	timer    *runner.Timer
	restorer *restore.Controller

	mu              sync.Mutex
	selected        int
	active          bool
	pausedRemaining time.Duration
	lastRestore     *restore.Result

	autoStartPending bool
}

func (s *Screen) ID() string           { return s.id }
func (s *Screen) StepID() int          { return s.step.ID }
func (s *Screen) Timer() *runner.Timer { return s.timer }

// Snapshot is the screen state as a client would render it.
type Snapshot struct {
	ID          string          `json:"id"`
	StepID      int             `json:"stepId"`
	Platform    string          `json:"platform,omitempty"`
	Policy      string          `json:"clearPolicy"`
	Active      bool            `json:"active"`
	Selected    int             `json:"selectedPractice"`
	State       string          `json:"state"`
	Remaining   time.Duration   `json:"remaining"`
	LastRestore *restore.Result `json:"lastRestore,omitempty"`
}

func (s *Screen) Snapshot() Snapshot {
	status := s.timer.Status()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:          s.id,
		StepID:      s.step.ID,
		Platform:    s.platform,
		Policy:      s.policy.Name(),
		Active:      s.active,
		Selected:    s.selected,
		State:       status.State,
		Remaining:   status.Remaining,
		LastRestore: s.lastRestore,
	}
	if status.State == runner.StateIdle.String() && s.pausedRemaining > 0 {
		snap.State = runner.StatePaused.String()
		snap.Remaining = s.pausedRemaining
	}
	return snap
}

// Activate is the view-activation signal. It runs restoration once for this
// mount and, when enabled, the deferred auto-start.
func (s *Screen) Activate(ctx context.Context) (restore.Result, error) {
	return s.bridge.enter(ctx, s)
}

// Select changes the practice the screen will start next. With auto-start
// enabled the newly selected practice is started through the deferred queue:
// right away on an active screen, or on the next activation, behind its
// restoration.
func (s *Screen) Select(ctx context.Context, practiceIndex int) error {
	if _, err := s.step.Practice(practiceIndex); err != nil {
		return err
	}

	if !s.bridge.cfg.AutoStart {
		s.mu.Lock()
		s.selected = practiceIndex
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	s.selected = practiceIndex
	active := s.active
	s.autoStartPending = !active
	s.mu.Unlock()

	if active {
		s.bridge.postAutoStart(s)
		return s.bridge.queue.Drain(ctx)
	}
	return nil
}

// Start begins the selected practice. It reports false, changing nothing,
// when another timer runs or a live record exists for any practice.
func (s *Screen) Start(ctx context.Context) (bool, error) {
	s.mu.Lock()
	idx := s.selected
	s.mu.Unlock()

	d, err := s.bridge.catalog.Duration(s.step.ID, idx)
	if err != nil {
		return false, err
	}

	r, err := s.bridge.records.Load(ctx)
	switch {
	case err == nil:
		if r.Paused || r.Remaining(s.bridge.clock.Now()) > 0 {
			return false, nil
		}
	case errors.Is(err, timerstate.ErrNoRecord), errors.Is(err, timerstate.ErrInvalidRecord):
	default:
		return false, err
	}

	s.timer.SetKey(runner.Key{StepID: s.step.ID, PracticeIndex: idx})
	if !s.timer.Start(d) {
		return false, nil
	}

	if _, err := s.bridge.records.SetActive(ctx, s.step.ID, idx, d); err != nil {
		s.timer.Stop()
		return false, fmt.Errorf("persist started timer: %w", err)
	}

	s.mu.Lock()
	s.pausedRemaining = 0
	s.mu.Unlock()

	s.bridge.markLocalStart(s)
	s.bridge.publish(Event{Kind: EventStarted, ScreenID: s.id, StepID: s.step.ID, PracticeIndex: idx, Remaining: d})
	return true, nil
}

// Pause freezes the running countdown and the record together.
func (s *Screen) Pause(ctx context.Context) (bool, error) {
	remaining, ok := s.timer.Pause()
	if !ok {
		return false, nil
	}

	r, err := s.bridge.records.SetPaused(ctx, remaining)
	if err != nil {
		return false, fmt.Errorf("persist paused timer: %w", err)
	}

	s.bridge.publish(Event{Kind: EventPaused, ScreenID: s.id, StepID: s.step.ID, PracticeIndex: r.PracticeIndex, Remaining: remaining})
	return true, nil
}

// Resume continues a countdown paused on this screen, or one rehydrated as
// paused by restoration. It is subject to ownership contention.
func (s *Screen) Resume(ctx context.Context) (bool, error) {
	var (
		ok        bool
		remaining time.Duration
	)

	if s.timer.Paused() {
		remaining = s.timer.Remaining()
		ok = s.timer.Resume()
	} else if remaining = s.rehydratedPause(); remaining > 0 {
		r, err := s.bridge.records.Load(ctx)
		if err != nil || r.StepID != s.step.ID || !r.Paused {
			s.clearPause()
			return false, nil
		}
		s.timer.SetKey(runner.Key{StepID: r.StepID, PracticeIndex: r.PracticeIndex})
		s.timer.SetDuration(r.Duration())
		ok = s.timer.ResumeFromTime(remaining)
	}
	if !ok {
		return false, nil
	}

	r, err := s.bridge.records.SetResumed(ctx, remaining)
	if err != nil {
		s.timer.Stop()
		return false, fmt.Errorf("persist resumed timer: %w", err)
	}

	s.clearPause()
	s.bridge.markLocalStart(s)
	s.bridge.publish(Event{Kind: EventResumed, ScreenID: s.id, StepID: s.step.ID, PracticeIndex: r.PracticeIndex, Remaining: remaining})
	return true, nil
}

// Stop is the explicit user stop: the countdown ends and this step's record is
// removed, paused or not.
func (s *Screen) Stop(ctx context.Context) error {
	s.timer.Stop()
	s.clearPause()

	_, err := s.bridge.records.ClearIf(ctx, func(r timerstate.Record) bool {
		return r.StepID == s.step.ID
	})
	if err != nil {
		return err
	}

	s.bridge.publish(Event{Kind: EventStopped, ScreenID: s.id, StepID: s.step.ID})
	return nil
}

// TimerStopped is the host runtime reporting that the countdown is no longer
// running. The record is cleared only when it belongs to this step, is not
// paused, and the platform clear policy agrees.
func (s *Screen) TimerStopped(ctx context.Context) (bool, error) {
	return s.bridge.clearOnStopped(ctx, s)
}

// AutoStartNow posts an auto-start for the selected practice and drains the
// deferred queue.
func (s *Screen) AutoStartNow(ctx context.Context) error {
	s.bridge.postAutoStart(s)
	return s.bridge.queue.Drain(ctx)
}

func (s *Screen) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Screen) setActive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = v
	if !v {
		s.pausedRemaining = 0
	}
}

func (s *Screen) takeAutoStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.autoStartPending
	s.autoStartPending = false
	return pending
}

func (s *Screen) rehydratedPause() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausedRemaining
}

func (s *Screen) clearPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pausedRemaining = 0
}

func (s *Screen) applyRestored(practiceIndex int, pausedRemaining time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = practiceIndex
	s.pausedRemaining = pausedRemaining
}

func (s *Screen) setLastRestore(res restore.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRestore = &res
}
