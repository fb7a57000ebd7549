package domain

import (
	"math/rand"
	"testing"
)

func TestMaxWarmupDuration(t *testing.T) {
	tests := []struct {
		name      string
		targetSec int
		expected  int
	}{
		{name: "minimum target", targetSec: 60, expected: 30},
		{name: "medium target", targetSec: 300, expected: 60},
		{name: "large target cap", targetSec: 1800, expected: 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maxWarmupDuration(tt.targetSec)

			if result != tt.expected {
				t.Fatalf("maxWarmupDuration(%d) = %d want %d", tt.targetSec, result, tt.expected)
			}
		})
	}
}

func TestGeneratePracticesStructure(t *testing.T) {
	targetSec := 300
	r := rand.New(rand.NewSource(1))

	practices := GeneratePractices(7, targetSec, r)

	if len(practices) < 2 {
		t.Fatalf("expected at least 2 practices got %d", len(practices))
	}

	last := practices[len(practices)-1]
	if last.DurationSeconds != targetSec {
		t.Fatalf("final practice duration = %d, want %d", last.DurationSeconds, targetSec)
	}

	maxWarmup := maxWarmupDuration(targetSec)
	for i := 0; i < len(practices)-1; i++ {
		d := practices[i].DurationSeconds
		if d < 1 || d > maxWarmup {
			t.Errorf("practice %d duration %d out of bounds [1,%d]", i, d, maxWarmup)
		}
	}

	for i, p := range practices {
		if p.Index != i {
			t.Errorf("practice index = %d, want %d", p.Index, i)
		}
		if p.StepID != 7 {
			t.Errorf("practice %d step id = %d, want 7", i, p.StepID)
		}
	}
}

func TestGeneratePracticesDeterministic(t *testing.T) {
	targetSec := 300

	r1 := rand.New(rand.NewSource(42))
	r2 := rand.New(rand.NewSource(42))

	p1 := GeneratePractices(1, targetSec, r1)
	p2 := GeneratePractices(1, targetSec, r2)

	if len(p1) != len(p2) {
		t.Fatalf("practice count mismatch: %d vs %d", len(p1), len(p2))
	}

	for i := range p1 {
		if p1[i].DurationSeconds != p2[i].DurationSeconds {
			t.Errorf(
				"practice %d duration mismatch: %d vs %d",
				i,
				p1[i].DurationSeconds,
				p2[i].DurationSeconds,
			)
		}
	}
}

func TestWarmupPracticeCountRanges(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	tests := []struct {
		name      string
		targetSec int
		min       int
		max       int
	}{
		{"small target", 100, 3, 4},
		{"medium target", 400, 2, 3},
		{"large target", 700, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := warmupPracticeCount(tt.targetSec, r)

			if n < tt.min || n > tt.max {
				t.Fatalf(
					"warmupPracticeCount(%d) = %d, want [%d,%d]",
					tt.targetSec, n, tt.min, tt.max,
				)
			}
		})
	}
}
