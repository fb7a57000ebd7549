package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/hperssn/dailypractice/internal/runner"
)

type CompletionRecord struct {
	ID              string    `json:"id"`
	StepID          int       `json:"stepId"`
	PracticeIndex   int       `json:"practiceIndex"`
	DurationSeconds int       `json:"durationSeconds"`
	StartedAt       time.Time `json:"startedAt"`
	CompletedAt     time.Time `json:"completedAt"`
}

// FromCompletion converts a finished countdown into a CompletionRecord.
func FromCompletion(c runner.Completion) *CompletionRecord {
	return &CompletionRecord{
		ID:              uuid.New().String(),
		StepID:          c.Key.StepID,
		PracticeIndex:   c.Key.PracticeIndex,
		DurationSeconds: int(c.Duration.Round(time.Second) / time.Second),
		StartedAt:       c.CompletedAt.Add(-c.Duration),
		CompletedAt:     c.CompletedAt,
	}
}

func statsOf(records []CompletionRecord) *ProgressStats {
	stats := &ProgressStats{TotalCompletions: len(records)}
	steps := make(map[int]struct{})
	for _, r := range records {
		steps[r.StepID] = struct{}{}
		stats.TotalPracticeSeconds += r.DurationSeconds
	}
	stats.StepsPracticed = len(steps)
	if stats.TotalCompletions > 0 {
		stats.AverageSeconds = float64(stats.TotalPracticeSeconds) / float64(stats.TotalCompletions)
	}
	return stats
}
