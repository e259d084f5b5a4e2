package types

import (
	"errors"
	"time"
)

// Phase is the lifecycle state of a contest, derived purely from
// wall-clock time and the contest configuration.
type Phase string

const (
	// PhaseUpcoming means the contest has not started yet.
	PhaseUpcoming Phase = "upcoming"

	// PhaseRunning means the contest is in progress.
	PhaseRunning Phase = "running"

	// PhaseEnded means the contest is over and its standings are a
	// historical record.
	PhaseEnded Phase = "ended"
)

// Contest represents a timed competition over a set of problems.
type Contest struct {
	// ID is the unique identifier of the contest.
	ID int `json:"id" db:"id"`

	// Slug is the URL-friendly unique name of the contest.
	Slug string `json:"slug" db:"slug"`

	// Title is the human-readable name of the contest.
	Title string `json:"title" db:"title"`

	// StartTime is when the contest begins. Must be before EndTime.
	StartTime time.Time `json:"start_time" db:"start_time"`

	// EndTime is when the contest ends.
	EndTime time.Time `json:"end_time" db:"end_time"`

	// FreezeMinutes is the number of minutes before EndTime after which
	// standings stop updating visibly for non-privileged viewers.
	// Zero disables freezing. Must be shorter than the contest duration.
	FreezeMinutes int `json:"freeze_minutes" db:"freeze_minutes"`

	// Problems is the ordered set of problems attached to the contest.
	Problems []ContestProblem `json:"problems,omitempty" db:"problems"`

	// CreatedAt is the timestamp at which the contest was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the contest.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the contest time configuration invariants.
func (c Contest) Validate() error {
	if !c.StartTime.Before(c.EndTime) {
		return errors.New("contest start_time must be before end_time")
	}
	if c.FreezeMinutes < 0 {
		return errors.New("contest freeze_minutes must be non-negative")
	}
	if time.Duration(c.FreezeMinutes)*time.Minute >= c.EndTime.Sub(c.StartTime) {
		return errors.New("contest freeze window must be shorter than the contest")
	}
	return nil
}

// FreezeStart returns the instant the standings freeze begins. When
// freezing is disabled it returns EndTime.
func (c Contest) FreezeStart() time.Time {
	return c.EndTime.Add(-time.Duration(c.FreezeMinutes) * time.Minute)
}

// ContestProblem attaches a problem to a contest with contest-specific
// points and ordering.
type ContestProblem struct {
	// ContestID identifies the contest.
	ContestID int `json:"contest_id" db:"contest_id"`

	// ProblemID identifies the attached problem.
	ProblemID int `json:"problem_id" db:"problem_id"`

	// Label is the short display label within the contest ("A", "B", ...).
	Label string `json:"label" db:"label"`

	// Points is the score value of the problem within the contest.
	Points int `json:"points" db:"points"`

	// OrderID defines the display order within the contest.
	OrderID int `json:"order_id" db:"order_id"`
}

// ContestParticipant records a user's registration for a contest.
type ContestParticipant struct {
	ContestID    int       `json:"contest_id" db:"contest_id"`
	UserID       int       `json:"user_id" db:"user_id"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// StandingsRow is the per (contest, user) aggregate maintained by the
// standings engine. It is derived state: users never mutate it directly.
type StandingsRow struct {
	// ContestID identifies the contest.
	ContestID int `json:"contest_id" db:"contest_id"`

	// UserID identifies the participant.
	UserID int `json:"user_id" db:"user_id"`

	// Rank is the 1-based position after tie-breaking. Only set on
	// snapshot rows.
	Rank int `json:"rank" db:"-"`

	// Score is the number of solved problems (ICPC policy).
	Score int `json:"score" db:"score"`

	// Penalty is the accumulated penalty in minutes over solved problems.
	Penalty int `json:"penalty" db:"penalty"`

	// LastSubmission is the created_at of the accepted submission that
	// achieved the current score. Used as the final tie-break.
	LastSubmission time.Time `json:"last_submission" db:"last_submission"`

	// Problems holds the per-problem cells keyed by problem id.
	Problems map[int]ProblemCell `json:"problems,omitempty" db:"-"`
}

// ProblemCell is the per (contest, user, problem) judging state inside a
// standings row.
type ProblemCell struct {
	// Solved indicates the problem has an accepted submission.
	Solved bool `json:"solved"`

	// Attempts counts non-accepted candidate-fault submissions made
	// before the first accepted one.
	Attempts int `json:"attempts"`

	// SolvedAt is the created_at of the first accepted submission.
	SolvedAt time.Time `json:"solved_at,omitzero"`
}
