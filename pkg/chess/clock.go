// Package chess defines the side and clock primitives shared by a match
package chess

import (
	"fmt"
	"time"
)

// TimeControl defines the time settings for a match
type TimeControl struct {
	InitialMillis   int64 `json:"initial_ms" yaml:"initial_ms"`     // Starting time for each side
	IncrementMillis int64 `json:"increment_ms" yaml:"increment_ms"` // Credited to the mover after each accepted move
}

// Validate rejects time controls that cannot start a match
func (tc TimeControl) Validate() error {
	if tc.InitialMillis <= 0 {
		return fmt.Errorf("initial time must be positive, got %d", tc.InitialMillis)
	}
	if tc.IncrementMillis < 0 {
		return fmt.Errorf("increment must not be negative, got %d", tc.IncrementMillis)
	}

	return nil
}

// Clock holds one side's remaining time.
//
// The committed remainder only changes in Charge. While the clock runs, the
// observed time is the remainder minus the wall-clock time elapsed since the
// anchor, so scheduling jitter and restarts never accumulate drift.
//
// Clock is not safe for concurrent use; the owning session serializes access.
type Clock struct {
	remainingMillis int64
	anchor          time.Time
	running         bool
}

// NewClock creates a stopped clock holding remainingMillis
func NewClock(remainingMillis int64) *Clock {
	if remainingMillis < 0 {
		remainingMillis = 0
	}

	return &Clock{remainingMillis: remainingMillis}
}

// RestoreClock rebuilds a clock from persisted values
func RestoreClock(remainingMillis int64, running bool, anchor time.Time) *Clock {
	c := NewClock(remainingMillis)
	c.running = running
	c.anchor = anchor

	return c
}

// Remaining returns the observed remaining time at now without mutating the clock
func (c *Clock) Remaining(now time.Time) int64 {
	if !c.running {
		return c.remainingMillis
	}

	remaining := c.remainingMillis - elapsedMillis(c.anchor, now)
	if remaining < 0 {
		return 0
	}

	return remaining
}

// Charge commits the whole milliseconds elapsed since the anchor into the
// remainder and advances the anchor by the same amount, so repeated charges
// never drop a sub-millisecond remainder. Charging twice for the same instant
// is a no-op.
func (c *Clock) Charge(now time.Time) int64 {
	if !c.running {
		return c.remainingMillis
	}

	elapsed := elapsedMillis(c.anchor, now)
	c.remainingMillis -= elapsed
	if c.remainingMillis < 0 {
		c.remainingMillis = 0
	}
	c.anchor = c.anchor.Add(time.Duration(elapsed) * time.Millisecond)

	return c.remainingMillis
}

// Start runs the clock from now
func (c *Clock) Start(now time.Time) {
	c.anchor = now
	c.running = true
}

// Stop charges the clock up to now and freezes it
func (c *Clock) Stop(now time.Time) int64 {
	remaining := c.Charge(now)
	c.running = false

	return remaining
}

// Credit adds an increment to the committed remainder
func (c *Clock) Credit(millis int64) {
	if millis > 0 {
		c.remainingMillis += millis
	}
}

// IsExpired reports whether the observed time has reached zero
func (c *Clock) IsExpired(now time.Time) bool {
	return c.Remaining(now) <= 0
}

// Running reports whether the clock is counting down
func (c *Clock) Running() bool {
	return c.running
}

// Committed returns the remainder as of the last charge
func (c *Clock) Committed() int64 {
	return c.remainingMillis
}

// AnchoredAt returns the instant the running period started
func (c *Clock) AnchoredAt() time.Time {
	return c.anchor
}

func elapsedMillis(from, to time.Time) int64 {
	elapsed := to.Sub(from).Milliseconds()
	if elapsed < 0 {
		return 0
	}

	return elapsed
}

// FormatClockTime formats a duration in milliseconds to a user-friendly string (e.g., "1:30")
func FormatClockTime(timeMs int64) string {
	if timeMs < 0 {
		timeMs = 0
	}

	totalSeconds := timeMs / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60

	// For times less than 10 seconds, show decimal
	if timeMs < 10000 {
		tenths := (timeMs % 1000) / 100
		return fmt.Sprintf("%d.%d", totalSeconds, tenths)
	}

	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
