// Package contest derives a contest's phase from wall-clock time.
// Phase and freeze state are pure functions of the contest configuration
// and the current instant; nothing here is persisted.
package contest

import (
	"time"

	"github.com/arena-oj/judgeserver/types"
)

// Clock answers phase questions about contests. The time source is
// injectable so tests can pin the clock.
type Clock struct {
	now func() time.Time
}

// NewClock returns a Clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockAt returns a Clock backed by the provided time source.
func NewClockAt(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the clock's current instant.
func (c *Clock) Now() time.Time {
	return c.now()
}

// Phase returns the contest phase at the clock's current instant.
func (c *Clock) Phase(contest types.Contest) types.Phase {
	return PhaseAt(contest, c.now())
}

// Frozen reports whether the contest standings are frozen at the
// clock's current instant.
func (c *Clock) Frozen(contest types.Contest) bool {
	return FrozenAt(contest, c.now())
}

// PhaseAt derives the contest phase at the given instant:
// upcoming before start_time, running inside [start_time, end_time),
// ended at and after end_time.
func PhaseAt(contest types.Contest, now time.Time) types.Phase {
	switch {
	case now.Before(contest.StartTime):
		return types.PhaseUpcoming
	case now.Before(contest.EndTime):
		return types.PhaseRunning
	default:
		return types.PhaseEnded
	}
}

// FrozenAt reports whether the instant falls inside the freeze window
// [end_time - freeze, end_time). The flag is orthogonal to the phase:
// it is only ever true while the contest is running.
func FrozenAt(contest types.Contest, now time.Time) bool {
	if contest.FreezeMinutes <= 0 {
		return false
	}
	if PhaseAt(contest, now) != types.PhaseRunning {
		return false
	}
	return !now.Before(contest.FreezeStart())
}

// AcceptsSubmissions reports whether the contest accepts submissions at
// the given instant. Submissions are only accepted while running.
func AcceptsSubmissions(contest types.Contest, now time.Time) bool {
	return PhaseAt(contest, now) == types.PhaseRunning
}
