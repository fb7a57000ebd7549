// Package quirk holds runtime-specific workarounds for the record clearing
// rules.
//
// Some client runtimes report a "timer stopped" transition within about a
// second of a start. Acting on it would clear a record that was just created.
// Clients on those runtimes get a grace period policy; everyone else clears
// immediately. The grace period is a heuristic observed on affected clients,
// not a guarantee, so it stays configurable.
package quirk

import (
	"slices"
	"strings"
	"time"
)

const DefaultGracePeriod = time.Second

// ClearPolicy decides whether a clear caused by a "not running" transition is
// honored, given when the local countdown last started.
type ClearPolicy interface {
	AllowClear(localStart, now time.Time) bool
	Name() string
}

// Immediate honors every clear.
type Immediate struct{}

func (Immediate) AllowClear(time.Time, time.Time) bool { return true }
func (Immediate) Name() string                         { return "immediate" }

// GracePeriod suppresses clears until Period has passed since the local start.
// A zero localStart means nothing started locally, so the clear is honored.
type GracePeriod struct {
	Period time.Duration
}

func (g GracePeriod) AllowClear(localStart, now time.Time) bool {
	if localStart.IsZero() {
		return true
	}
	return now.Sub(localStart) >= g.Period
}

func (g GracePeriod) Name() string { return "grace:" + g.Period.String() }

// Selector maps a client platform class to its ClearPolicy.
type Selector struct {
	GracePlatforms []string
	Period         time.Duration
	Default        string
}

// ForPlatform returns the policy for platform. An empty platform falls back to
// the selector default.
func (s Selector) ForPlatform(platform string) ClearPolicy {
	p := strings.ToLower(strings.TrimSpace(platform))
	if p == "" {
		p = strings.ToLower(s.Default)
	}

	if slices.ContainsFunc(s.GracePlatforms, func(g string) bool {
		return strings.EqualFold(strings.TrimSpace(g), p)
	}) {
		period := s.Period
		if period <= 0 {
			period = DefaultGracePeriod
		}
		return GracePeriod{Period: period}
	}
	return Immediate{}
}
