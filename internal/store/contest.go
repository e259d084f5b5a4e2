package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/arena-oj/judgeserver/types"
)

// ContestRepository handles persistence for contests, their problem sets
// and participant registrations.
type ContestRepository struct {
	db *sql.DB
}

func NewContestRepository(db *sql.DB) *ContestRepository {
	return &ContestRepository{db: db}
}

func (r *ContestRepository) Create(ctx context.Context, contest types.Contest) (types.Contest, error) {
	now := time.Now()
	contest.CreatedAt = now
	contest.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Contest{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertContest = `
		INSERT INTO contests (slug, title, start_time, end_time, freeze_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertContest,
		contest.Slug,
		contest.Title,
		contest.StartTime,
		contest.EndTime,
		contest.FreezeMinutes,
		contest.CreatedAt,
		contest.UpdatedAt,
	).Scan(&contest.ID); err != nil {
		return types.Contest{}, err
	}

	const insertProblem = `
		INSERT INTO contest_problems (contest_id, problem_id, label, points, order_id)
		VALUES ($1, $2, $3, $4, $5)`
	for i := range contest.Problems {
		contest.Problems[i].ContestID = contest.ID
		cp := contest.Problems[i]
		if _, err := tx.ExecContext(ctx, insertProblem, cp.ContestID, cp.ProblemID, cp.Label, cp.Points, cp.OrderID); err != nil {
			return types.Contest{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Contest{}, err
	}
	return contest, nil
}

func (r *ContestRepository) Get(ctx context.Context, id int) (types.Contest, error) {
	const query = `
		SELECT id, slug, title, start_time, end_time, freeze_minutes, created_at, updated_at
		FROM contests
		WHERE id = $1`
	var contest types.Contest
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&contest.ID,
		&contest.Slug,
		&contest.Title,
		&contest.StartTime,
		&contest.EndTime,
		&contest.FreezeMinutes,
		&contest.CreatedAt,
		&contest.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Contest{}, ErrNotFound
		}
		return types.Contest{}, err
	}

	const problemsQuery = `
		SELECT contest_id, problem_id, label, points, order_id
		FROM contest_problems
		WHERE contest_id = $1
		ORDER BY order_id`
	rows, err := r.db.QueryContext(ctx, problemsQuery, id)
	if err != nil {
		return types.Contest{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var cp types.ContestProblem
		if err := rows.Scan(&cp.ContestID, &cp.ProblemID, &cp.Label, &cp.Points, &cp.OrderID); err != nil {
			return types.Contest{}, err
		}
		contest.Problems = append(contest.Problems, cp)
	}
	if err := rows.Err(); err != nil {
		return types.Contest{}, err
	}

	return contest, nil
}

func (r *ContestRepository) List(ctx context.Context, offset, limit int) ([]types.Contest, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM contests`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT id, slug, title, start_time, end_time, freeze_minutes, created_at, updated_at
		FROM contests
		ORDER BY start_time DESC
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	contests := make([]types.Contest, 0, limit)
	for rows.Next() {
		var contest types.Contest
		if err := rows.Scan(
			&contest.ID,
			&contest.Slug,
			&contest.Title,
			&contest.StartTime,
			&contest.EndTime,
			&contest.FreezeMinutes,
			&contest.CreatedAt,
			&contest.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		contests = append(contests, contest)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return contests, total, nil
}

func (r *ContestRepository) Register(ctx context.Context, contestID, userID int) error {
	const query = `
		INSERT INTO contest_participants (contest_id, user_id, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (contest_id, user_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, contestID, userID, time.Now())
	return err
}

func (r *ContestRepository) IsRegistered(ctx context.Context, contestID, userID int) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM contest_participants WHERE contest_id = $1 AND user_id = $2)`
	var registered bool
	if err := r.db.QueryRowContext(ctx, query, contestID, userID).Scan(&registered); err != nil {
		return false, err
	}
	return registered, nil
}
