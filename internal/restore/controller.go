package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hperssn/dailypractice/internal/clock"
	"github.com/hperssn/dailypractice/internal/runner"
	"github.com/hperssn/dailypractice/internal/timerstate"
)

// DefaultExpiryThreshold is the remaining time at or below which a restored
// countdown is treated as already finished.
const DefaultExpiryThreshold = time.Second

type Outcome int

const (
	OutcomeNoTimer Outcome = iota
	OutcomeForeignTimer
	OutcomePaused
	OutcomeExpired
	OutcomeResumed
	// OutcomeConflict means another timer held the ownership token so the
	// countdown could not be resumed here.
	OutcomeConflict
	// OutcomeSkipped means restoration already ran for this activation.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoTimer:
		return "no_timer"
	case OutcomeForeignTimer:
		return "foreign_timer"
	case OutcomePaused:
		return "paused"
	case OutcomeExpired:
		return "expired"
	case OutcomeResumed:
		return "resumed"
	case OutcomeConflict:
		return "conflict"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for c := OutcomeNoTimer; c <= OutcomeSkipped; c++ {
		if c.String() == string(text) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown restore outcome %q", text)
}

type Result struct {
	Outcome   Outcome            `json:"outcome"`
	Record    *timerstate.Record `json:"record,omitempty"`
	Remaining time.Duration      `json:"remaining"`
}

// Records is the slice of the global record the controller needs.
type Records interface {
	Load(ctx context.Context) (timerstate.Record, error)
	Clear(ctx context.Context) error
	Checkpoint(ctx context.Context, end time.Time) error
}

// Resumer is the local countdown a restored timer is handed to.
type Resumer interface {
	ResumeFromTime(remaining time.Duration) bool
}

// KeyBinder is implemented by resumers that track which practice they count
// down; the restored record's key is bound before resuming.
type KeyBinder interface {
	SetKey(k runner.Key)
}

// DurationBinder is implemented by resumers that report the full practice
// length on completion; the restored record's duration is bound before
// resuming.
type DurationBinder interface {
	SetDuration(d time.Duration)
}

// StatusReporter is implemented by resumers that may already be counting down
// the restored practice.
type StatusReporter interface {
	Status() runner.Status
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

func WithExpiryThreshold(d time.Duration) Option {
	return func(ctl *Controller) {
		if d >= 0 {
			ctl.threshold = d
		}
	}
}

// Controller reconciles the persisted record with wall-clock time once per
// view activation.
type Controller struct {
	records   Records
	timer     Resumer
	clock     clock.Clock
	logger    *slog.Logger
	threshold time.Duration

	ran       atomic.Bool
	restoring atomic.Bool
}

func New(records Records, timer Resumer, opts ...Option) *Controller {
	c := &Controller{
		records:   records,
		timer:     timer,
		clock:     clock.System,
		logger:    slog.Default(),
		threshold: DefaultExpiryThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate opens a new activation: the next Run executes, and Restoring
// reports true until it reaches a terminal state.
func (c *Controller) Activate() {
	c.ran.Store(false)
	c.restoring.Store(true)
}

// Restoring reports whether restoration is pending or in progress. Auto-start
// logic must not claim the timer while it is true.
func (c *Controller) Restoring() bool {
	return c.restoring.Load()
}

// Run executes the restoration state machine for stepID. Only the first call
// per activation does any work; later calls return OutcomeSkipped.
func (c *Controller) Run(ctx context.Context, stepID int) (Result, error) {
	if !c.ran.CompareAndSwap(false, true) {
		return Result{Outcome: OutcomeSkipped}, nil
	}
	c.restoring.Store(true)
	defer c.restoring.Store(false)

	res, err := c.run(ctx, stepID)
	if err != nil {
		c.logger.Error("timer restoration failed", "step_id", stepID, "error", err)
		return res, err
	}

	c.logger.Debug("timer restoration finished",
		"step_id", stepID,
		"outcome", res.Outcome.String(),
		"remaining", res.Remaining,
	)
	return res, nil
}

func (c *Controller) run(ctx context.Context, stepID int) (Result, error) {
	r, err := c.records.Load(ctx)
	switch {
	case errors.Is(err, timerstate.ErrNoRecord):
		return Result{Outcome: OutcomeNoTimer}, nil
	case errors.Is(err, timerstate.ErrInvalidRecord):
		c.logger.Warn("discarding invalid timer record", "error", err)
		if err := c.records.Clear(ctx); err != nil {
			return Result{Outcome: OutcomeNoTimer}, err
		}
		return Result{Outcome: OutcomeNoTimer}, nil
	case err != nil:
		return Result{Outcome: OutcomeNoTimer}, err
	}

	now := c.clock.Now()

	if r.StepID != stepID {
		return Result{Outcome: OutcomeForeignTimer, Record: &r, Remaining: r.Remaining(now)}, nil
	}

	if r.Paused {
		return Result{Outcome: OutcomePaused, Record: &r, Remaining: r.Remaining(now)}, nil
	}

	remaining := r.EndTime().Sub(now)
	if remaining <= c.threshold {
		if err := c.records.Clear(ctx); err != nil {
			return Result{Outcome: OutcomeExpired, Record: &r}, err
		}
		return Result{Outcome: OutcomeExpired, Record: &r}, nil
	}

	key := runner.Key{StepID: r.StepID, PracticeIndex: r.PracticeIndex}
	if sr, ok := c.timer.(StatusReporter); ok {
		if st := sr.Status(); st.State == runner.StateRunning.String() && st.Key == key {
			return Result{Outcome: OutcomeResumed, Record: &r, Remaining: st.Remaining}, nil
		}
	}

	if b, ok := c.timer.(KeyBinder); ok {
		b.SetKey(key)
	}
	if b, ok := c.timer.(DurationBinder); ok {
		b.SetDuration(r.Duration())
	}
	if !c.timer.ResumeFromTime(remaining) {
		c.logger.Info("restored timer not resumed, ownership held elsewhere", "step_id", stepID)
		return Result{Outcome: OutcomeConflict, Record: &r, Remaining: remaining}, nil
	}

	if err := c.records.Checkpoint(ctx, now.Add(remaining)); err != nil {
		return Result{Outcome: OutcomeResumed, Record: &r, Remaining: remaining},
			fmt.Errorf("checkpoint restored timer: %w", err)
	}
	return Result{Outcome: OutcomeResumed, Record: &r, Remaining: remaining}, nil
}
