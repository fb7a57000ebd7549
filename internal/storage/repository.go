package storage

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// KeyValueStore persists opaque values that must survive a process restart.
// Each Set replaces the whole value in one write.
type KeyValueStore interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	Set(ctx context.Context, key string, value []byte) error

	// Delete is a no-op for an absent key.
	Delete(ctx context.Context, key string) error

	Close() error
}

// ProgressRepository records practices that ran to completion.
type ProgressRepository interface {
	SaveCompletion(ctx context.Context, record *CompletionRecord) error

	GetCompletionsByStep(ctx context.Context, stepID int, since time.Time) ([]CompletionRecord, error)

	GetRecentCompletions(ctx context.Context, since time.Time) ([]CompletionRecord, error)

	GetProgressStats(ctx context.Context) (*ProgressStats, error)

	Close() error
}

// Store is a backend that provides both persistence concerns.
type Store interface {
	KeyValueStore
	ProgressRepository
}

type ProgressStats struct {
	TotalCompletions     int     `json:"totalCompletions"`
	StepsPracticed       int     `json:"stepsPracticed"`
	TotalPracticeSeconds int     `json:"totalPracticeSeconds"`
	AverageSeconds       float64 `json:"averageSeconds"`
}
