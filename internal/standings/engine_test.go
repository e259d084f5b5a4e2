package standings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arena-oj/judgeserver/internal/contest"
	"github.com/arena-oj/judgeserver/types"
)

const penalty = 20

func engineContest() types.Contest {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return types.Contest{
		ID:            1,
		Slug:          "round-1",
		StartTime:     start,
		EndTime:       start.Add(3 * time.Hour),
		FreezeMinutes: 60,
	}
}

func newTestEngine(c types.Contest, at *time.Time) *Engine {
	clock := contest.NewClockAt(func() time.Time { return *at })
	e := NewEngine(clock, penalty, nil, nil)
	e.RegisterContest(c)
	return e
}

func event(id int64, userID, problemID int, v types.Verdict, minute int, c types.Contest) Event {
	return Event{
		SubmissionID: id,
		ContestID:    c.ID,
		UserID:       userID,
		ProblemID:    problemID,
		Verdict:      v,
		CreatedAt:    c.StartTime.Add(time.Duration(minute) * time.Minute),
	}
}

func TestApplyPenaltyForWrongAttempts(t *testing.T) {
	c := engineContest()
	now := c.StartTime.Add(time.Hour)
	e := newTestEngine(c, &now)
	ctx := context.Background()

	_, err := e.Apply(ctx, event(1, 7, 100, types.VerdictWrongAnswer, 10, c))
	require.NoError(t, err)
	_, err = e.Apply(ctx, event(2, 7, 100, types.VerdictWrongAnswer, 20, c))
	require.NoError(t, err)
	row, err := e.Apply(ctx, event(3, 7, 100, types.VerdictAccepted, 45, c))
	require.NoError(t, err)

	assert.Equal(t, 1, row.Score)
	assert.Equal(t, 45+2*penalty, row.Penalty)
	assert.True(t, row.Problems[100].Solved)
	assert.Equal(t, 2, row.Problems[100].Attempts)
}

func TestApplyAfterAcceptChangesNothing(t *testing.T) {
	c := engineContest()
	now := c.StartTime.Add(time.Hour)
	e := newTestEngine(c, &now)
	ctx := context.Background()

	_, err := e.Apply(ctx, event(1, 7, 100, types.VerdictAccepted, 30, c))
	require.NoError(t, err)
	row, err := e.Apply(ctx, event(2, 7, 100, types.VerdictWrongAnswer, 40, c))
	require.NoError(t, err)

	assert.Equal(t, 1, row.Score)
	assert.Equal(t, 30, row.Penalty, "attempts after the first accept are free")
	assert.Equal(t, 0, row.Problems[100].Attempts)
}

func TestApplyOutOfOrderConverges(t *testing.T) {
	c := engineContest()
	now := c.StartTime.Add(time.Hour)
	ctx := context.Background()

	// In-order: WA at 10, AC at 45.
	inOrder := newTestEngine(c, &now)
	_, err := inOrder.Apply(ctx, event(1, 7, 100, types.VerdictWrongAnswer, 10, c))
	require.NoError(t, err)
	expected, err := inOrder.Apply(ctx, event(2, 7, 100, types.VerdictAccepted, 45, c))
	require.NoError(t, err)

	// Out-of-order arrival: the AC verdict lands first.
	outOfOrder := newTestEngine(c, &now)
	_, err = outOfOrder.Apply(ctx, event(2, 7, 100, types.VerdictAccepted, 45, c))
	require.NoError(t, err)
	got, err := outOfOrder.Apply(ctx, event(1, 7, 100, types.VerdictWrongAnswer, 10, c))
	require.NoError(t, err)

	assert.Equal(t, expected.Score, got.Score)
	assert.Equal(t, expected.Penalty, got.Penalty)
	assert.Equal(t, expected.Problems[100], got.Problems[100])
}

func TestApplyDeduplicatesRedeliveredEvents(t *testing.T) {
	c := engineContest()
	now := c.StartTime.Add(time.Hour)
	e := newTestEngine(c, &now)
	ctx := context.Background()

	first, err := e.Apply(ctx, event(1, 7, 100, types.VerdictWrongAnswer, 10, c))
	require.NoError(t, err)
	second, err := e.Apply(ctx, event(1, 7, 100, types.VerdictWrongAnswer, 10, c))
	require.NoError(t, err)

	assert.Equal(t, first.Problems[100].Attempts, second.Problems[100].Attempts)
	assert.Equal(t, 1, second.Problems[100].Attempts)
}

func TestSnapshotTieBreaks(t *testing.T) {
	c := engineContest()
	now := c.StartTime.Add(time.Hour)
	e := newTestEngine(c, &now)
	ctx := context.Background()

	// User 1: two solves, penalty 30+50=80, last accept at 50.
	_, err := e.Apply(ctx, event(1, 1, 100, types.VerdictAccepted, 30, c))
	require.NoError(t, err)
	_, err = e.Apply(ctx, event(2, 1, 101, types.VerdictAccepted, 50, c))
	require.NoError(t, err)

	// User 2: two solves, same penalty, later last accept.
	_, err = e.Apply(ctx, event(3, 2, 100, types.VerdictAccepted, 25, c))
	require.NoError(t, err)
	_, err = e.Apply(ctx, event(4, 2, 101, types.VerdictAccepted, 55, c))
	require.NoError(t, err)

	// User 3: one solve, no penalty to speak of.
	_, err = e.Apply(ctx, event(5, 3, 100, types.VerdictAccepted, 5, c))
	require.NoError(t, err)

	rows, err := e.Snapshot(ctx, c.ID, false)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 1, rows[0].UserID, "earlier last accept wins the tie")
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, 2, rows[1].UserID)
	assert.Equal(t, 2, rows[1].Rank)
	assert.Equal(t, 3, rows[2].UserID, "fewer solves ranks below despite low penalty")
	assert.Equal(t, 3, rows[2].Rank)
}

func TestSnapshotFreezeHidesLateResults(t *testing.T) {
	c := engineContest()
	now := c.StartTime.Add(time.Hour)
	e := newTestEngine(c, &now)
	ctx := context.Background()

	// Pre-freeze: user 1 solves problem 100.
	_, err := e.Apply(ctx, event(1, 1, 100, types.VerdictAccepted, 30, c))
	require.NoError(t, err)

	// Move into the freeze window; user 2 solves two problems.
	now = c.FreezeStart().Add(10 * time.Minute)
	frozenMinute := int(c.FreezeStart().Sub(c.StartTime).Minutes())
	_, err = e.Apply(ctx, event(2, 2, 100, types.VerdictAccepted, frozenMinute+5, c))
	require.NoError(t, err)
	_, err = e.Apply(ctx, event(3, 2, 101, types.VerdictAccepted, frozenMinute+8, c))
	require.NoError(t, err)

	public, err := e.Snapshot(ctx, c.ID, false)
	require.NoError(t, err)
	require.Len(t, public, 2)
	assert.Equal(t, 1, public[0].UserID, "frozen view ignores post-freeze solves")
	assert.Equal(t, 1, public[0].Score)
	for _, row := range public {
		if row.UserID == 2 {
			assert.Equal(t, 0, row.Score)
		}
	}

	admin, err := e.Snapshot(ctx, c.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, admin[0].UserID, "privileged viewers see the live truth")
	assert.Equal(t, 2, admin[0].Score)

	// After the contest ends everyone sees the final board.
	now = c.EndTime.Add(time.Minute)
	final, err := e.Snapshot(ctx, c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, final[0].UserID)
	assert.Equal(t, 2, final[0].Score)
}

func TestSnapshotFreezeStillCountsPreFreezeEvents(t *testing.T) {
	c := engineContest()
	now := c.FreezeStart().Add(5 * time.Minute)
	e := newTestEngine(c, &now)
	ctx := context.Background()

	// A submission created before the freeze but judged during it still
	// lands on the public board.
	_, err := e.Apply(ctx, event(1, 1, 100, types.VerdictAccepted, 30, c))
	require.NoError(t, err)

	public, err := e.Snapshot(ctx, c.ID, false)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, 1, public[0].Score)
}

func TestRebuildReplaysTerminalSubmissions(t *testing.T) {
	c := engineContest()
	now := c.EndTime.Add(time.Hour)
	e := newTestEngine(c, &now)
	ctx := context.Background()

	subs := []types.Submission{
		{ID: 1, ContestID: c.ID, UserID: 1, ProblemID: 100, Verdict: types.VerdictWrongAnswer, CreatedAt: c.StartTime.Add(10 * time.Minute)},
		{ID: 2, ContestID: c.ID, UserID: 1, ProblemID: 100, Verdict: types.VerdictAccepted, CreatedAt: c.StartTime.Add(40 * time.Minute)},
		{ID: 3, ContestID: c.ID, UserID: 2, ProblemID: 100, Verdict: types.VerdictPending, CreatedAt: c.StartTime.Add(50 * time.Minute)},
		{ID: 4, ContestID: c.ID, UserID: 2, ProblemID: 100, Verdict: types.VerdictInternalError, CreatedAt: c.StartTime.Add(55 * time.Minute)},
	}
	require.NoError(t, e.Rebuild(ctx, c, subs))

	rows, err := e.Snapshot(ctx, c.ID, false)
	require.NoError(t, err)
	require.Len(t, rows, 1, "pending and internal-error submissions are skipped")
	assert.Equal(t, 1, rows[0].UserID)
	assert.Equal(t, 1, rows[0].Score)
	assert.Equal(t, 40+penalty, rows[0].Penalty)
}

func TestApplyRejectsNonScoringVerdicts(t *testing.T) {
	c := engineContest()
	now := c.StartTime.Add(time.Hour)
	e := newTestEngine(c, &now)

	_, err := e.Apply(context.Background(), event(1, 7, 100, types.VerdictInternalError, 10, c))
	assert.Error(t, err)

	_, err = e.Apply(context.Background(), event(2, 7, 100, types.VerdictJudging, 10, c))
	assert.Error(t, err)
}
