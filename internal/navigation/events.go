package navigation

import "time"

type EventKind string

const (
	EventTick      EventKind = "tick"
	EventStarted   EventKind = "started"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventStopped   EventKind = "stopped"
	EventCompleted EventKind = "completed"
	EventCleared   EventKind = "cleared"
	EventLeft      EventKind = "left"

	// EventNotification asks clients to surface a completion to the user.
	EventNotification EventKind = "notification"
)

type Event struct {
	Kind          EventKind     `json:"kind"`
	ScreenID      string        `json:"screenId,omitempty"`
	StepID        int           `json:"stepId"`
	PracticeIndex int           `json:"practiceIndex"`
	Remaining     time.Duration `json:"remaining"`
	At            time.Time     `json:"at"`
}
