package timerstate

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoRecord      = errors.New("no timer record")
	ErrInvalidRecord = errors.New("invalid timer record")
)

// Record is the persisted state of the one active or paused timer.
type Record struct {
	StepID                 int   `json:"stepId" cbor:"stepId"`
	PracticeIndex          int   `json:"practiceIndex" cbor:"practiceIndex"`
	DurationSeconds        int   `json:"durationSeconds" cbor:"durationSeconds"`
	EndTimestamp           int64 `json:"endTimestamp" cbor:"endTimestamp"`
	Paused                 bool  `json:"paused" cbor:"paused"`
	PausedRemainingSeconds int   `json:"pausedRemainingSeconds" cbor:"pausedRemainingSeconds"`
}

// EndTime is the wall-clock instant a running record reaches zero.
func (r Record) EndTime() time.Time {
	return time.UnixMilli(r.EndTimestamp)
}

// Remaining is the time left at now. Paused records report their frozen value.
func (r Record) Remaining(now time.Time) time.Duration {
	if r.Paused {
		return time.Duration(r.PausedRemainingSeconds) * time.Second
	}
	d := r.EndTime().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (r Record) Duration() time.Duration {
	return time.Duration(r.DurationSeconds) * time.Second
}

// Validate checks the structural invariants. A running record whose end has
// passed is still valid here; staleness is decided by the caller.
func (r Record) Validate() error {
	if r.StepID < 0 || r.PracticeIndex < 0 {
		return fmt.Errorf("%w: negative identifiers", ErrInvalidRecord)
	}
	if r.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration %d", ErrInvalidRecord, r.DurationSeconds)
	}
	if r.Paused {
		if r.PausedRemainingSeconds <= 0 || r.PausedRemainingSeconds > r.DurationSeconds {
			return fmt.Errorf("%w: paused remaining %d outside (0, %d]",
				ErrInvalidRecord, r.PausedRemainingSeconds, r.DurationSeconds)
		}
		return nil
	}
	if r.EndTimestamp <= 0 {
		return fmt.Errorf("%w: missing end timestamp", ErrInvalidRecord)
	}
	return nil
}

// ceilSeconds rounds up so a paused record never reports less than what was
// left, and never zero for a countdown that still had time.
func ceilSeconds(d time.Duration) int {
	s := int(d / time.Second)
	if d%time.Second > 0 {
		s++
	}
	return s
}
