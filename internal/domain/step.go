package domain

import "errors"

var (
	ErrStepNotFound     = errors.New("step not found")
	ErrPracticeNotFound = errors.New("practice not found")
)

// Practice is one timed activity within a Step.
type Practice struct {
	StepID          int    `json:"stepId" yaml:"-"`
	Index           int    `json:"index" yaml:"-"`
	Title           string `json:"title" yaml:"title"`
	DurationSeconds int    `json:"durationSeconds" yaml:"durationSeconds"`
	Completed       bool   `json:"completed" yaml:"-"`
}

// Step is an ordered collection of practices.
type Step struct {
	ID        int        `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Practices []Practice `json:"practices" yaml:"practices"`
}

func (s Step) Practice(idx int) (Practice, error) {
	if idx < 0 || idx >= len(s.Practices) {
		return Practice{}, ErrPracticeNotFound
	}
	return s.Practices[idx], nil
}

// WithCompleted returns a copy of s with the completed flag set on every
// practice index present in done.
func (s Step) WithCompleted(done map[int]bool) Step {
	out := s
	out.Practices = make([]Practice, len(s.Practices))
	for i, p := range s.Practices {
		p.Completed = done[p.Index]
		out.Practices[i] = p
	}
	return out
}
