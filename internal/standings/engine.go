// Package standings maintains the derived contest scoreboard. Rows are
// recomputed from a per (contest, user) log of terminal submission
// events, so events arriving out of created_at order converge to the
// same row as an in-order replay.
package standings

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/arena-oj/judgeserver/internal/contest"
	"github.com/arena-oj/judgeserver/types"
)

// Event is one terminal submission fed into the engine.
type Event struct {
	SubmissionID int64
	ContestID    int
	UserID       int
	ProblemID    int
	Verdict      types.Verdict
	CreatedAt    time.Time
}

// RowStore persists recomputed rows. The store repository implements it.
type RowStore interface {
	Upsert(ctx context.Context, row types.StandingsRow) error
}

// SnapshotCache holds frozen scoreboard snapshots keyed by contest.
// The Redis cache implements it; a nil cache disables caching.
type SnapshotCache interface {
	GetFrozen(ctx context.Context, contestID int) ([]types.StandingsRow, bool)
	SetFrozen(ctx context.Context, contestID int, rows []types.StandingsRow)
}

// Engine holds the in-memory scoreboard state for registered contests.
type Engine struct {
	clock          *contest.Clock
	penaltyMinutes int
	rows           RowStore
	cache          SnapshotCache

	mu       sync.RWMutex
	contests map[int]*contestState
}

type contestState struct {
	config types.Contest

	mu    sync.RWMutex
	users map[int]*userState
}

// userState serializes event application per (contest, user). The event
// log is kept sorted by created_at so every recompute sees the canonical
// order no matter when events arrived.
type userState struct {
	mu     sync.Mutex
	events []Event
	seen   map[int64]bool
}

// NewEngine constructs a standings engine. rows and cache may be nil.
func NewEngine(clock *contest.Clock, penaltyMinutes int, rows RowStore, cache SnapshotCache) *Engine {
	return &Engine{
		clock:          clock,
		penaltyMinutes: penaltyMinutes,
		rows:           rows,
		cache:          cache,
		contests:       make(map[int]*contestState),
	}
}

// RegisterContest makes the engine track a contest.
func (e *Engine) RegisterContest(c types.Contest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.contests[c.ID]; !ok {
		e.contests[c.ID] = &contestState{
			config: c,
			users:  make(map[int]*userState),
		}
	}
}

// SubmissionJudged feeds a terminal contest submission into the engine.
// It implements the judge pool's result sink.
func (e *Engine) SubmissionJudged(ctx context.Context, submission types.Submission) {
	_, err := e.Apply(ctx, Event{
		SubmissionID: submission.ID,
		ContestID:    submission.ContestID,
		UserID:       submission.UserID,
		ProblemID:    submission.ProblemID,
		Verdict:      submission.Verdict,
		CreatedAt:    submission.CreatedAt,
	})
	if err != nil {
		log.Printf("apply standings event for submission %d: %v", submission.ID, err)
	}
}

// Apply records a terminal submission event and recomputes the affected
// row. Redelivered events are deduplicated by submission id, so Apply
// is idempotent.
func (e *Engine) Apply(ctx context.Context, ev Event) (types.StandingsRow, error) {
	if !ev.Verdict.CountsForStandings() {
		return types.StandingsRow{}, fmt.Errorf("verdict %s does not count for standings", ev.Verdict)
	}

	e.mu.RLock()
	cs, ok := e.contests[ev.ContestID]
	e.mu.RUnlock()
	if !ok {
		return types.StandingsRow{}, fmt.Errorf("contest %d is not tracked", ev.ContestID)
	}

	us := cs.user(ev.UserID)
	us.mu.Lock()
	defer us.mu.Unlock()

	if us.seen[ev.SubmissionID] {
		return recompute(cs.config, ev.UserID, us.events, e.penaltyMinutes, time.Time{}), nil
	}
	us.seen[ev.SubmissionID] = true
	us.events = insertSorted(us.events, ev)

	row := recompute(cs.config, ev.UserID, us.events, e.penaltyMinutes, time.Time{})
	if e.rows != nil {
		if err := e.rows.Upsert(ctx, row); err != nil {
			return row, fmt.Errorf("persist standings row: %w", err)
		}
	}
	return row, nil
}

// Snapshot returns the ranked scoreboard for a contest. During the
// freeze window non-privileged viewers get rows recomputed with a
// cutoff at the freeze start; the truth keeps updating underneath and
// becomes visible to everyone once the contest ends.
func (e *Engine) Snapshot(ctx context.Context, contestID int, privileged bool) ([]types.StandingsRow, error) {
	e.mu.RLock()
	cs, ok := e.contests[contestID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("contest %d is not tracked", contestID)
	}

	frozen := e.clock.Frozen(cs.config) && !privileged
	if frozen && e.cache != nil {
		if rows, ok := e.cache.GetFrozen(ctx, contestID); ok {
			return rows, nil
		}
	}

	var cutoff time.Time
	if frozen {
		cutoff = cs.config.FreezeStart()
	}

	rows := e.computeAll(cs, cutoff)
	rank(rows)

	if frozen && e.cache != nil {
		e.cache.SetFrozen(ctx, contestID, rows)
	}
	return rows, nil
}

// Rebuild replays a contest's terminal submissions into a fresh state.
// Used at startup and for admin-triggered rebuilds after data repair.
func (e *Engine) Rebuild(ctx context.Context, c types.Contest, submissions []types.Submission) error {
	cs := &contestState{
		config: c,
		users:  make(map[int]*userState),
	}
	e.mu.Lock()
	e.contests[c.ID] = cs
	e.mu.Unlock()

	for _, s := range submissions {
		if !s.Verdict.CountsForStandings() {
			continue
		}
		if _, err := e.Apply(ctx, Event{
			SubmissionID: s.ID,
			ContestID:    s.ContestID,
			UserID:       s.UserID,
			ProblemID:    s.ProblemID,
			Verdict:      s.Verdict,
			CreatedAt:    s.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (cs *contestState) user(userID int) *userState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	us, ok := cs.users[userID]
	if !ok {
		us = &userState{seen: make(map[int64]bool)}
		cs.users[userID] = us
	}
	return us
}

func (e *Engine) computeAll(cs *contestState, cutoff time.Time) []types.StandingsRow {
	cs.mu.RLock()
	userIDs := make([]int, 0, len(cs.users))
	for id := range cs.users {
		userIDs = append(userIDs, id)
	}
	cs.mu.RUnlock()

	rows := make([]types.StandingsRow, 0, len(userIDs))
	for _, id := range userIDs {
		us := cs.user(id)
		us.mu.Lock()
		row := recompute(cs.config, id, us.events, e.penaltyMinutes, cutoff)
		us.mu.Unlock()
		rows = append(rows, row)
	}
	return rows
}

// recompute folds an ordered event log into a standings row. Events at
// or after a non-zero cutoff are ignored, which is how frozen views are
// produced. Once a problem is solved, later events for it change
// nothing.
func recompute(cfg types.Contest, userID int, events []Event, penaltyMinutes int, cutoff time.Time) types.StandingsRow {
	row := types.StandingsRow{
		ContestID: cfg.ID,
		UserID:    userID,
		Problems:  make(map[int]types.ProblemCell),
	}

	for _, ev := range events {
		if !cutoff.IsZero() && !ev.CreatedAt.Before(cutoff) {
			continue
		}
		cell := row.Problems[ev.ProblemID]
		if cell.Solved {
			continue
		}
		if ev.Verdict == types.VerdictAccepted {
			cell.Solved = true
			cell.SolvedAt = ev.CreatedAt
			row.Score++
			elapsed := int(ev.CreatedAt.Sub(cfg.StartTime).Minutes())
			if elapsed < 0 {
				elapsed = 0
			}
			row.Penalty += elapsed + cell.Attempts*penaltyMinutes
			if ev.CreatedAt.After(row.LastSubmission) {
				row.LastSubmission = ev.CreatedAt
			}
		} else {
			cell.Attempts++
		}
		row.Problems[ev.ProblemID] = cell
	}
	return row
}

// rank sorts rows by score desc, penalty asc, last accepted submission
// asc, user id asc, then assigns 1-based ranks.
func rank(rows []types.StandingsRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Penalty != b.Penalty {
			return a.Penalty < b.Penalty
		}
		if !a.LastSubmission.Equal(b.LastSubmission) {
			return a.LastSubmission.Before(b.LastSubmission)
		}
		return a.UserID < b.UserID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
}

// insertSorted inserts ev keeping the log ordered by created_at, then
// submission id.
func insertSorted(events []Event, ev Event) []Event {
	i := sort.Search(len(events), func(i int) bool {
		if events[i].CreatedAt.Equal(ev.CreatedAt) {
			return events[i].SubmissionID > ev.SubmissionID
		}
		return events[i].CreatedAt.After(ev.CreatedAt)
	})
	events = append(events, Event{})
	copy(events[i+1:], events[i:])
	events[i] = ev
	return events
}
