package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arena-oj/judgeserver/internal/contest"
	"github.com/arena-oj/judgeserver/internal/judge"
	"github.com/arena-oj/judgeserver/internal/mq"
	"github.com/arena-oj/judgeserver/internal/store"
	"github.com/arena-oj/judgeserver/types"
)

const maxCodeBytes = 256 * 1024

// SubmissionStore is the submission persistence the service depends on.
type SubmissionStore interface {
	Create(ctx context.Context, submission types.Submission) (types.Submission, error)
	Get(ctx context.Context, id int64) (types.Submission, error)
	ListByUser(ctx context.Context, userID, offset, limit int) ([]types.Submission, error)
}

// SubmissionProblemStore loads problems during submission validation.
type SubmissionProblemStore interface {
	Get(ctx context.Context, id int) (types.Problem, error)
}

// SubmissionContestStore validates contest submissions.
type SubmissionContestStore interface {
	Get(ctx context.Context, id int) (types.Contest, error)
	IsRegistered(ctx context.Context, contestID, userID int) (bool, error)
}

// SubmissionService admits submissions and enqueues them for judging.
// Admission never waits on judging capacity; a submission is accepted
// as soon as its row and queue message exist.
type SubmissionService struct {
	submissions SubmissionStore
	problems    SubmissionProblemStore
	contests    SubmissionContestStore
	queue       *mq.MQ
	clock       *contest.Clock
}

func NewSubmissionService(submissions SubmissionStore, problems SubmissionProblemStore, contests SubmissionContestStore, queue *mq.MQ, clock *contest.Clock) *SubmissionService {
	return &SubmissionService{
		submissions: submissions,
		problems:    problems,
		contests:    contests,
		queue:       queue,
		clock:       clock,
	}
}

// Submit validates, persists, and enqueues a submission. Contest
// submissions route to the contest queue so practice load cannot delay
// them.
func (s *SubmissionService) Submit(ctx context.Context, submission types.Submission) (types.Submission, error) {
	if submission.Code == "" {
		return types.Submission{}, validationErrorf("code must not be empty")
	}
	if len(submission.Code) > maxCodeBytes {
		return types.Submission{}, validationErrorf(fmt.Sprintf("code exceeds the %d byte limit", maxCodeBytes))
	}
	if _, err := judge.LookupLanguage(submission.Language); err != nil {
		return types.Submission{}, validationErrorf(fmt.Sprintf(
			"%v (supported: %s)", err, strings.Join(judge.SupportedLanguages(), ", ")))
	}

	problem, err := s.problems.Get(ctx, submission.ProblemID)
	if err != nil {
		return types.Submission{}, err
	}
	if !problem.Visible && !submission.InContest() {
		return types.Submission{}, store.ErrNotFound
	}
	if len(problem.TestCases) == 0 {
		return types.Submission{}, validationErrorf("problem has no test cases yet")
	}

	if submission.InContest() {
		if err := s.validateContestSubmission(ctx, submission); err != nil {
			return types.Submission{}, err
		}
	}

	created, err := s.submissions.Create(ctx, submission)
	if err != nil {
		return types.Submission{}, err
	}
	if err := s.enqueue(ctx, created); err != nil {
		return types.Submission{}, fmt.Errorf("enqueue submission %d: %w", created.ID, err)
	}
	return created, nil
}

func (s *SubmissionService) validateContestSubmission(ctx context.Context, submission types.Submission) error {
	c, err := s.contests.Get(ctx, submission.ContestID)
	if err != nil {
		return err
	}
	if !contest.AcceptsSubmissions(c, s.clock.Now()) {
		return ErrContestNotRunning
	}

	registered, err := s.contests.IsRegistered(ctx, submission.ContestID, submission.UserID)
	if err != nil {
		return err
	}
	if !registered {
		return ErrNotRegistered
	}

	for _, cp := range c.Problems {
		if cp.ProblemID == submission.ProblemID {
			return nil
		}
	}
	return ErrProblemNotInContest
}

// Get returns a submission by id.
func (s *SubmissionService) Get(ctx context.Context, id int64) (types.Submission, error) {
	return s.submissions.Get(ctx, id)
}

// ListByUser returns a user's submissions, newest first.
func (s *SubmissionService) ListByUser(ctx context.Context, userID, offset, limit int) ([]types.Submission, error) {
	return s.submissions.ListByUser(ctx, userID, offset, limit)
}

// Requeue republishes the judge job for a submission stuck before a
// terminal verdict, typically after a lost queue message. Terminal
// submissions are immutable and cannot be requeued.
func (s *SubmissionService) Requeue(ctx context.Context, id int64) error {
	submission, err := s.submissions.Get(ctx, id)
	if err != nil {
		return err
	}
	if submission.Verdict.IsTerminal() {
		return store.ErrAlreadyTerminal
	}
	return s.enqueue(ctx, submission)
}

func (s *SubmissionService) enqueue(ctx context.Context, submission types.Submission) error {
	data, err := json.Marshal(judge.Job{SubmissionID: submission.ID})
	if err != nil {
		return err
	}

	channel := judge.QueuePractice
	if submission.InContest() {
		channel = judge.QueueContest
	}
	if _, err := s.queue.Publish(ctx, channel, data, map[string]string{
		"submission_id": fmt.Sprintf("%d", submission.ID),
	}); err != nil {
		return err
	}
	return nil
}
