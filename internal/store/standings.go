package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/arena-oj/judgeserver/types"
)

// StandingsRepository persists the derived contest_standings rows
// maintained by the standings engine. Rows are only ever written by the
// engine; readers go through snapshots.
type StandingsRepository struct {
	db *sql.DB
}

func NewStandingsRepository(db *sql.DB) *StandingsRepository {
	return &StandingsRepository{db: db}
}

func (r *StandingsRepository) Upsert(ctx context.Context, row types.StandingsRow) error {
	problemsJSON, err := json.Marshal(row.Problems)
	if err != nil {
		return err
	}

	var last sql.NullTime
	if !row.LastSubmission.IsZero() {
		last = sql.NullTime{Time: row.LastSubmission, Valid: true}
	}

	const query = `
		INSERT INTO contest_standings (contest_id, user_id, score, penalty, last_submission, problems)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contest_id, user_id) DO UPDATE
		SET score = EXCLUDED.score,
			penalty = EXCLUDED.penalty,
			last_submission = EXCLUDED.last_submission,
			problems = EXCLUDED.problems`
	_, err = r.db.ExecContext(ctx, query, row.ContestID, row.UserID, row.Score, row.Penalty, last, problemsJSON)
	return err
}
