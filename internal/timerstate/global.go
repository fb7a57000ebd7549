package timerstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hperssn/dailypractice/internal/clock"
	"github.com/hperssn/dailypractice/internal/storage"
)

const (
	// RecordKey is the single key the active timer lives under.
	RecordKey = "practice.activeTimer"

	DefaultCheckpointInterval = time.Second
)

type Option func(*Global)

func WithCodec(c Codec) Option {
	return func(g *Global) { g.codec = c }
}

func WithClock(c clock.Clock) Option {
	return func(g *Global) { g.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Global) { g.logger = l }
}

// WithCheckpointInterval sets both the minimum spacing between checkpoints and
// the minimum change in remaining time that justifies one.
func WithCheckpointInterval(d time.Duration) Option {
	return func(g *Global) {
		if d > 0 {
			g.interval = d
		}
	}
}

// Global is the process-wide record of the one active or paused timer. Every
// mutation is a read-modify-write under one lock that ends in a single store
// write, so concurrent views never observe a half-updated record.
type Global struct {
	mu       sync.Mutex
	store    storage.KeyValueStore
	codec    Codec
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration

	lastCheckpoint time.Time
	lastRemaining  time.Duration
}

func New(store storage.KeyValueStore, opts ...Option) *Global {
	g := &Global{
		store:    store,
		codec:    JSONCodec{},
		clock:    clock.System,
		logger:   slog.Default(),
		interval: DefaultCheckpointInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load returns the record, ErrNoRecord when there is none, or an error
// wrapping ErrInvalidRecord when the stored payload is malformed.
func (g *Global) Load(ctx context.Context) (Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loadLocked(ctx)
}

// SetActive persists a fresh running record ending d from now.
func (g *Global) SetActive(ctx context.Context, stepID, practiceIndex int, d time.Duration) (Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	r := Record{
		StepID:          stepID,
		PracticeIndex:   practiceIndex,
		DurationSeconds: ceilSeconds(d),
		EndTimestamp:    now.Add(d).UnixMilli(),
	}
	if err := g.saveLocked(ctx, r, now, d); err != nil {
		return Record{}, err
	}

	g.logger.Debug("timer record set", "step_id", stepID, "practice_index", practiceIndex, "duration", d)
	return r, nil
}

// UpdateEndTime is the throttled running checkpoint for the given practice. It
// writes only when at least the checkpoint interval has passed since the
// previous write and the remaining time moved by at least as much. Paused or
// missing records, and records of another practice, are left alone.
func (g *Global) UpdateEndTime(ctx context.Context, stepID, practiceIndex int, end time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	remaining := end.Sub(now)

	if now.Sub(g.lastCheckpoint) < g.interval {
		return false, nil
	}
	if absDuration(g.lastRemaining-remaining) < g.interval {
		return false, nil
	}

	r, err := g.loadLocked(ctx)
	if errors.Is(err, ErrNoRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if r.Paused || r.StepID != stepID || r.PracticeIndex != practiceIndex {
		return false, nil
	}

	r.EndTimestamp = end.UnixMilli()
	if err := g.saveLocked(ctx, r, now, remaining); err != nil {
		return false, err
	}
	return true, nil
}

// Checkpoint writes a new end instant immediately, bypassing the throttle.
func (g *Global) Checkpoint(ctx context.Context, end time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, err := g.loadLocked(ctx)
	if err != nil {
		return err
	}
	if r.Paused {
		return nil
	}

	now := g.clock.Now()
	r.EndTimestamp = end.UnixMilli()
	return g.saveLocked(ctx, r, now, end.Sub(now))
}

// SetPaused captures remaining and flips the record to paused in one write.
func (g *Global) SetPaused(ctx context.Context, remaining time.Duration) (Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, err := g.loadLocked(ctx)
	if err != nil {
		return Record{}, err
	}

	secs := ceilSeconds(remaining)
	if secs > r.DurationSeconds {
		secs = r.DurationSeconds
	}
	if secs < 1 {
		secs = 1
	}

	r.Paused = true
	r.PausedRemainingSeconds = secs
	if err := g.saveLocked(ctx, r, g.clock.Now(), remaining); err != nil {
		return Record{}, err
	}
	return r, nil
}

// SetResumed flips a record back to running, ending remaining from now.
func (g *Global) SetResumed(ctx context.Context, remaining time.Duration) (Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, err := g.loadLocked(ctx)
	if err != nil {
		return Record{}, err
	}

	now := g.clock.Now()
	r.Paused = false
	r.PausedRemainingSeconds = 0
	r.EndTimestamp = now.Add(remaining).UnixMilli()
	if err := g.saveLocked(ctx, r, now, remaining); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Clear removes the record.
func (g *Global) Clear(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clearLocked(ctx)
}

// ClearIf removes the record only when match accepts it, as one step. Invalid
// records are always removed.
func (g *Global) ClearIf(ctx context.Context, match func(Record) bool) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, err := g.loadLocked(ctx)
	switch {
	case errors.Is(err, ErrNoRecord):
		return false, nil
	case errors.Is(err, ErrInvalidRecord):
	case err != nil:
		return false, err
	case !match(r):
		return false, nil
	}

	if err := g.clearLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Global) loadLocked(ctx context.Context) (Record, error) {
	data, ok, err := g.store.Get(ctx, RecordKey)
	if err != nil {
		return Record{}, fmt.Errorf("load timer record: %w", err)
	}
	if !ok {
		return Record{}, ErrNoRecord
	}

	r, err := g.codec.Unmarshal(data)
	if err != nil {
		return Record{}, err
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

func (g *Global) saveLocked(ctx context.Context, r Record, now time.Time, remaining time.Duration) error {
	data, err := g.codec.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode timer record: %w", err)
	}
	if err := g.store.Set(ctx, RecordKey, data); err != nil {
		return fmt.Errorf("save timer record: %w", err)
	}

	g.lastCheckpoint = now
	g.lastRemaining = remaining
	return nil
}

func (g *Global) clearLocked(ctx context.Context) error {
	if err := g.store.Delete(ctx, RecordKey); err != nil {
		return fmt.Errorf("clear timer record: %w", err)
	}
	g.lastCheckpoint = time.Time{}
	g.lastRemaining = 0
	g.logger.Debug("timer record cleared")
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
