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

// SubmissionRepository handles persistence for submissions.
type SubmissionRepository struct {
	db *sql.DB
}

func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const submissionColumns = `id, problem_id, user_id, contest_id, code, language, verdict, score,
	       time_used_ms, memory_used_kb, message, tests_passed, tests_total,
	       created_at, updated_at, case_results`

func (r *SubmissionRepository) Get(ctx context.Context, id int64) (types.Submission, error) {
	const query = `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *SubmissionRepository) Create(ctx context.Context, submission types.Submission) (types.Submission, error) {
	now := time.Now()
	submission.CreatedAt = now
	submission.UpdatedAt = now
	submission.Verdict = types.VerdictPending

	resultsJSON, err := json.Marshal(submission.CaseResults)
	if err != nil {
		return types.Submission{}, err
	}

	const query = `
		INSERT INTO submissions (
			problem_id, user_id, contest_id, code, language, verdict, score,
			time_used_ms, memory_used_kb, message, tests_passed, tests_total,
			created_at, updated_at, case_results
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		submission.ProblemID,
		submission.UserID,
		submission.ContestID,
		submission.Code,
		submission.Language,
		submission.Verdict,
		submission.Score,
		submission.TimeUsedMs,
		submission.MemoryUsedKB,
		submission.Message,
		submission.TestsPassed,
		submission.TestsTotal,
		submission.CreatedAt,
		submission.UpdatedAt,
		resultsJSON,
	).Scan(&submission.ID); err != nil {
		return types.Submission{}, err
	}

	return submission, nil
}

// MarkJudging transfers a claimed submission into the judging state.
// It succeeds on pending submissions, and on judging ones only once the
// previous claim has outlived its lease, so a redelivered message for a
// submission another worker is actively judging does not start a second
// judging. Terminal submissions are left untouched.
func (r *SubmissionRepository) MarkJudging(ctx context.Context, id int64, lease time.Duration) error {
	now := time.Now()
	const query = `
		UPDATE submissions
		SET verdict = $1, updated_at = $2
		WHERE id = $3 AND (verdict = $4 OR (verdict = $1 AND updated_at <= $5))`
	result, err := r.db.ExecContext(ctx, query, types.VerdictJudging, now, id, types.VerdictPending, now.Add(-lease))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing.Verdict.IsTerminal() {
			return ErrAlreadyTerminal
		}
		if existing.Verdict == types.VerdictJudging {
			return ErrLeaseHeld
		}
		return ErrNotFound
	}
	return nil
}

// Release hands a judging claim back to the pending state so the next
// delivery can claim the submission without waiting out the lease. A
// submission that is not judging is left alone.
func (r *SubmissionRepository) Release(ctx context.Context, id int64) error {
	const query = `
		UPDATE submissions
		SET verdict = $1, updated_at = $2
		WHERE id = $3 AND verdict = $4`
	_, err := r.db.ExecContext(ctx, query, types.VerdictPending, time.Now(), id, types.VerdictJudging)
	return err
}

// SetTerminal writes the final verdict of a submission. The write is
// conditional on the submission not already being terminal, which makes
// verdict delivery at-most-once regardless of how many workers raced on
// a redelivered message.
func (r *SubmissionRepository) SetTerminal(ctx context.Context, submission types.Submission) (types.Submission, error) {
	if !submission.Verdict.IsTerminal() {
		return types.Submission{}, errors.New("verdict is not terminal")
	}
	submission.UpdatedAt = time.Now()

	resultsJSON, err := json.Marshal(submission.CaseResults)
	if err != nil {
		return types.Submission{}, err
	}

	const query = `
		UPDATE submissions
		SET verdict = $1,
			score = $2,
			time_used_ms = $3,
			memory_used_kb = $4,
			message = $5,
			tests_passed = $6,
			tests_total = $7,
			updated_at = $8,
			case_results = $9
		WHERE id = $10 AND verdict IN ($11, $12)`
	result, err := r.db.ExecContext(
		ctx,
		query,
		submission.Verdict,
		submission.Score,
		submission.TimeUsedMs,
		submission.MemoryUsedKB,
		submission.Message,
		submission.TestsPassed,
		submission.TestsTotal,
		submission.UpdatedAt,
		resultsJSON,
		submission.ID,
		types.VerdictPending,
		types.VerdictJudging,
	)
	if err != nil {
		return types.Submission{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Submission{}, err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, submission.ID); errors.Is(err, ErrNotFound) {
			return types.Submission{}, ErrNotFound
		}
		return types.Submission{}, ErrAlreadyTerminal
	}
	return submission, nil
}

// IncrementAttempts bumps the infrastructure retry counter and returns
// the new value.
func (r *SubmissionRepository) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	const query = `
		UPDATE submissions
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts`
	var attempts int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

// ListByUser returns a user's submissions, newest first.
func (r *SubmissionRepository) ListByUser(ctx context.Context, userID, offset, limit int) ([]types.Submission, error) {
	const query = `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE user_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListTerminalByContest returns a contest's terminal submissions ordered
// by created_at, the order the standings engine replays them in.
func (r *SubmissionRepository) ListTerminalByContest(ctx context.Context, contestID int) ([]types.Submission, error) {
	const query = `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE contest_id = $1 AND verdict NOT IN ($2, $3)
		ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, contestID, types.VerdictPending, types.VerdictJudging)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *SubmissionRepository) scanOne(row *sql.Row) (types.Submission, error) {
	var submission types.Submission
	var resultsJSON []byte
	err := row.Scan(
		&submission.ID,
		&submission.ProblemID,
		&submission.UserID,
		&submission.ContestID,
		&submission.Code,
		&submission.Language,
		&submission.Verdict,
		&submission.Score,
		&submission.TimeUsedMs,
		&submission.MemoryUsedKB,
		&submission.Message,
		&submission.TestsPassed,
		&submission.TestsTotal,
		&submission.CreatedAt,
		&submission.UpdatedAt,
		&resultsJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Submission{}, ErrNotFound
		}
		return types.Submission{}, err
	}
	if err := json.Unmarshal(resultsJSON, &submission.CaseResults); err != nil {
		return types.Submission{}, fmt.Errorf("decode case results of submission %d: %w", submission.ID, err)
	}
	return submission, nil
}

func (r *SubmissionRepository) scanAll(rows *sql.Rows) ([]types.Submission, error) {
	var submissions []types.Submission
	for rows.Next() {
		var submission types.Submission
		var resultsJSON []byte
		if err := rows.Scan(
			&submission.ID,
			&submission.ProblemID,
			&submission.UserID,
			&submission.ContestID,
			&submission.Code,
			&submission.Language,
			&submission.Verdict,
			&submission.Score,
			&submission.TimeUsedMs,
			&submission.MemoryUsedKB,
			&submission.Message,
			&submission.TestsPassed,
			&submission.TestsTotal,
			&submission.CreatedAt,
			&submission.UpdatedAt,
			&resultsJSON,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(resultsJSON, &submission.CaseResults); err != nil {
			return nil, fmt.Errorf("decode case results of submission %d: %w", submission.ID, err)
		}
		submissions = append(submissions, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return submissions, nil
}
