package domain

import "math/rand"

func warmupPracticeCount(targetSec int, r *rand.Rand) int {
	switch {
	case targetSec < 240:
		return 3 + r.Intn(2)
	case targetSec < 600:
		return 2 + r.Intn(2)
	default:
		return 1 + r.Intn(2)
	}
}

func maxWarmupDuration(targetSec int) int {
	max := int(float64(targetSec) * 0.2)

	if max > 180 {
		return 180
	}
	if max < 30 {
		return 30
	}
	return max
}

// GeneratePractices builds a warmup sequence followed by one main practice of
// targetSec seconds. Warmups are drawn from r so callers can seed them.
func GeneratePractices(stepID, targetSec int, r *rand.Rand) []Practice {
	warmups := warmupPracticeCount(targetSec, r)
	maxWarmup := maxWarmupDuration(targetSec)

	practices := make([]Practice, warmups+1)

	for i := 0; i < warmups; i++ {
		practices[i] = Practice{
			StepID:          stepID,
			Index:           i,
			Title:           "Warmup",
			DurationSeconds: r.Intn(maxWarmup) + 1,
		}
	}

	practices[warmups] = Practice{
		StepID:          stepID,
		Index:           warmups,
		Title:           "Practice",
		DurationSeconds: targetSec,
	}

	return practices
}
