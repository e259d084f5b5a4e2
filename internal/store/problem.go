package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arena-oj/judgeserver/types"
)

// ProblemRepository handles persistence for problems.
type ProblemRepository struct {
	db *sql.DB
}

func NewProblemRepository(db *sql.DB) *ProblemRepository {
	return &ProblemRepository{db: db}
}

func (r *ProblemRepository) List(ctx context.Context, offset, limit int, visibleOnly bool) ([]types.Problem, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	countQuery := `SELECT COUNT(1) FROM problems`
	listQuery := `
		SELECT id, slug, title, description, time_limit_ms, memory_limit_mb, visible, scoring, test_cases, bundle, created_at, updated_at
		FROM problems`
	if visibleOnly {
		countQuery += ` WHERE visible`
		listQuery += ` WHERE visible`
	}
	listQuery += `
		ORDER BY id
		OFFSET $1 LIMIT $2`

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	problems := make([]types.Problem, 0, limit)
	for rows.Next() {
		var problem types.Problem
		var casesJSON, bundleJSON []byte
		if err := rows.Scan(
			&problem.ID,
			&problem.Slug,
			&problem.Title,
			&problem.Description,
			&problem.TimeLimitMs,
			&problem.MemoryLimitMB,
			&problem.Visible,
			&problem.Scoring,
			&casesJSON,
			&bundleJSON,
			&problem.CreatedAt,
			&problem.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}

		if err := decodeProblemJSON(&problem, casesJSON, bundleJSON); err != nil {
			return nil, 0, err
		}
		problems = append(problems, problem)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return problems, total, nil
}

func (r *ProblemRepository) Get(ctx context.Context, id int) (types.Problem, error) {
	const query = `
		SELECT id, slug, title, description, time_limit_ms, memory_limit_mb, visible, scoring, test_cases, bundle, created_at, updated_at
		FROM problems
		WHERE id = $1`
	var problem types.Problem
	var casesJSON, bundleJSON []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&problem.ID,
		&problem.Slug,
		&problem.Title,
		&problem.Description,
		&problem.TimeLimitMs,
		&problem.MemoryLimitMB,
		&problem.Visible,
		&problem.Scoring,
		&casesJSON,
		&bundleJSON,
		&problem.CreatedAt,
		&problem.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Problem{}, ErrNotFound
		}
		return types.Problem{}, err
	}

	if err := decodeProblemJSON(&problem, casesJSON, bundleJSON); err != nil {
		return types.Problem{}, err
	}
	return problem, nil
}

// decodeProblemJSON unpacks the JSONB columns. A row that fails to
// decode is surfaced as an error rather than served as a problem with
// no test cases.
func decodeProblemJSON(problem *types.Problem, casesJSON, bundleJSON []byte) error {
	if err := json.Unmarshal(casesJSON, &problem.TestCases); err != nil {
		return fmt.Errorf("decode test cases of problem %d: %w", problem.ID, err)
	}
	if err := json.Unmarshal(bundleJSON, &problem.Bundle); err != nil {
		return fmt.Errorf("decode bundle of problem %d: %w", problem.ID, err)
	}
	return nil
}

func (r *ProblemRepository) Create(ctx context.Context, problem types.Problem) (types.Problem, error) {
	now := time.Now()
	problem.CreatedAt = now
	problem.UpdatedAt = now

	casesJSON, err := json.Marshal(problem.TestCases)
	if err != nil {
		return types.Problem{}, err
	}
	bundleJSON, err := json.Marshal(problem.Bundle)
	if err != nil {
		return types.Problem{}, err
	}

	const query = `
		INSERT INTO problems (slug, title, description, time_limit_ms, memory_limit_mb, visible, scoring, test_cases, bundle, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		problem.Slug,
		problem.Title,
		problem.Description,
		problem.TimeLimitMs,
		problem.MemoryLimitMB,
		problem.Visible,
		problem.Scoring,
		casesJSON,
		bundleJSON,
		problem.CreatedAt,
		problem.UpdatedAt,
	).Scan(&problem.ID); err != nil {
		return types.Problem{}, err
	}

	return problem, nil
}

func (r *ProblemRepository) Update(ctx context.Context, problem types.Problem) (types.Problem, error) {
	problem.UpdatedAt = time.Now()

	casesJSON, err := json.Marshal(problem.TestCases)
	if err != nil {
		return types.Problem{}, err
	}
	bundleJSON, err := json.Marshal(problem.Bundle)
	if err != nil {
		return types.Problem{}, err
	}

	const query = `
		UPDATE problems
		SET slug = $1,
			title = $2,
			description = $3,
			time_limit_ms = $4,
			memory_limit_mb = $5,
			visible = $6,
			scoring = $7,
			test_cases = $8,
			bundle = $9,
			updated_at = $10
		WHERE id = $11`
	result, err := r.db.ExecContext(
		ctx,
		query,
		problem.Slug,
		problem.Title,
		problem.Description,
		problem.TimeLimitMs,
		problem.MemoryLimitMB,
		problem.Visible,
		problem.Scoring,
		casesJSON,
		bundleJSON,
		problem.UpdatedAt,
		problem.ID,
	)
	if err != nil {
		return types.Problem{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Problem{}, err
	}
	if affected == 0 {
		return types.Problem{}, ErrNotFound
	}

	return problem, nil
}

func (r *ProblemRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM problems WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// HasSubmissions reports whether any submission references the problem.
// Problems with submissions are immutable so historical verdicts stay
// reproducible.
func (r *ProblemRepository) HasSubmissions(ctx context.Context, id int) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM submissions WHERE problem_id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
