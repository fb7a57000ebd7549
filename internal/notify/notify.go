package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hperssn/dailypractice/internal/runner"
)

// Log writes completions to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) NotifyCompletion(_ context.Context, c runner.Completion) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("practice finished",
		"step_id", c.Key.StepID,
		"practice_index", c.Key.PracticeIndex,
		"duration", c.Duration,
	)
	return nil
}

// Func adapts a function to runner.Notifier.
type Func func(ctx context.Context, c runner.Completion) error

func (f Func) NotifyCompletion(ctx context.Context, c runner.Completion) error {
	return f(ctx, c)
}

// Multi fans a completion out to every notifier. One failing notifier does
// not prevent the others from running.
type Multi []runner.Notifier

func (m Multi) NotifyCompletion(ctx context.Context, c runner.Completion) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyCompletion(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WakeLock tracks whether the host should keep the device awake and logs the
// transitions. Acquire and Release are idempotent.
type WakeLock struct {
	mu     sync.Mutex
	held   bool
	logger *slog.Logger
}

func NewWakeLock(logger *slog.Logger) *WakeLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &WakeLock{logger: logger}
}

func (w *WakeLock) Acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.held {
		w.held = true
		w.logger.Debug("wake lock acquired")
	}
	return nil
}

func (w *WakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.held {
		w.held = false
		w.logger.Debug("wake lock released")
	}
	return nil
}

func (w *WakeLock) Held() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held
}
