package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleCatalog = `
steps:
  - id: 5
    title: Breathing
    practices:
      - title: Box breathing
        durationSeconds: 120
      - title: Body scan
        durationSeconds: 300
  - id: 6
    title: Focus
    targetSeconds: 600
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, err := c.Duration(5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 120*time.Second {
		t.Fatalf("Duration(5, 0) = %v, want 2m", d)
	}

	s, err := c.Step(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Practices[1].Index != 1 || s.Practices[1].StepID != 5 {
		t.Fatalf("practice not indexed: %+v", s.Practices[1])
	}

	generated, err := c.Step(6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := generated.Practices[len(generated.Practices)-1]
	if last.DurationSeconds != 600 {
		t.Fatalf("generated main practice = %d, want 600", last.DurationSeconds)
	}

	if got := c.Steps(); len(got) != 2 || got[0].ID != 5 {
		t.Fatalf("Steps() not ordered by id: %+v", got)
	}
}

func TestParseCatalogRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"duplicate id", "steps:\n  - id: 1\n    targetSeconds: 60\n  - id: 1\n    targetSeconds: 60\n"},
		{"zero duration", "steps:\n  - id: 1\n    practices:\n      - durationSeconds: 0\n"},
		{"not yaml", "steps: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog(strings.NewReader(tt.doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCatalogLookupErrors(t *testing.T) {
	c := NewCatalog(Step{ID: 1, Practices: []Practice{{DurationSeconds: 30}}})

	if _, err := c.Duration(2, 0); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
	if _, err := c.Duration(1, 3); !errors.Is(err, ErrPracticeNotFound) {
		t.Fatalf("expected ErrPracticeNotFound, got %v", err)
	}
}

func TestStepWithCompleted(t *testing.T) {
	c := NewCatalog(Step{ID: 1, Practices: []Practice{{DurationSeconds: 30}, {DurationSeconds: 60}}})
	s, _ := c.Step(1)

	marked := s.WithCompleted(map[int]bool{1: true})
	if marked.Practices[0].Completed || !marked.Practices[1].Completed {
		t.Fatalf("unexpected completion flags: %+v", marked.Practices)
	}
	if s.Practices[1].Completed {
		t.Fatalf("WithCompleted mutated the catalog step")
	}
}
