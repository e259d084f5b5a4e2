package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/arena-oj/judgeserver/internal/store"
	"github.com/arena-oj/judgeserver/types"
)

// ProblemStore is the problem persistence the service depends on.
type ProblemStore interface {
	List(ctx context.Context, offset, limit int, visibleOnly bool) ([]types.Problem, int, error)
	Get(ctx context.Context, id int) (types.Problem, error)
	Create(ctx context.Context, problem types.Problem) (types.Problem, error)
	Update(ctx context.Context, problem types.Problem) (types.Problem, error)
	Delete(ctx context.Context, id int) error
	HasSubmissions(ctx context.Context, id int) (bool, error)
}

// ProblemService manages the problem archive. Problems that have been
// submitted against are immutable so historical verdicts stay
// reproducible; changed test data goes into a new problem version.
type ProblemService struct {
	problems ProblemStore
}

func NewProblemService(problems ProblemStore) *ProblemService {
	return &ProblemService{problems: problems}
}

// List returns a page of problems. Non-admin callers only see visible
// problems.
func (s *ProblemService) List(ctx context.Context, offset, limit int, includeHidden bool) ([]types.Problem, int, error) {
	return s.problems.List(ctx, offset, limit, !includeHidden)
}

// Get returns a problem by id. Hidden problems are only returned to
// admin callers.
func (s *ProblemService) Get(ctx context.Context, id int, includeHidden bool) (types.Problem, error) {
	problem, err := s.problems.Get(ctx, id)
	if err != nil {
		return types.Problem{}, err
	}
	if !problem.Visible && !includeHidden {
		return types.Problem{}, store.ErrNotFound
	}
	return problem, nil
}

// Create validates and persists a new problem.
func (s *ProblemService) Create(ctx context.Context, problem types.Problem) (types.Problem, error) {
	if err := validateProblem(problem); err != nil {
		return types.Problem{}, err
	}
	return s.problems.Create(ctx, problem)
}

// Update modifies a problem that has no submissions yet.
func (s *ProblemService) Update(ctx context.Context, problem types.Problem) (types.Problem, error) {
	if err := validateProblem(problem); err != nil {
		return types.Problem{}, err
	}
	if err := s.requireMutable(ctx, problem.ID); err != nil {
		return types.Problem{}, err
	}
	return s.problems.Update(ctx, problem)
}

// Delete removes a problem that has no submissions yet.
func (s *ProblemService) Delete(ctx context.Context, id int) error {
	if err := s.requireMutable(ctx, id); err != nil {
		return err
	}
	return s.problems.Delete(ctx, id)
}

func (s *ProblemService) requireMutable(ctx context.Context, id int) error {
	has, err := s.problems.HasSubmissions(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return ErrProblemImmutable
	}
	return nil
}

func validateProblem(problem types.Problem) error {
	if strings.TrimSpace(problem.Title) == "" {
		return validationErrorf("title must not be empty")
	}
	if strings.TrimSpace(problem.Slug) == "" {
		return validationErrorf("slug must not be empty")
	}
	if problem.TimeLimitMs <= 0 {
		return validationErrorf("time_limit_ms must be positive")
	}
	if problem.MemoryLimitMB <= 0 {
		return validationErrorf("memory_limit_mb must be positive")
	}
	if problem.Scoring != types.ScoringBinary && problem.Scoring != types.ScoringPartial {
		return validationErrorf(fmt.Sprintf("unknown scoring policy %q", problem.Scoring))
	}
	for _, tc := range problem.TestCases {
		if tc.Points < 0 {
			return validationErrorf("test case points must be non-negative")
		}
	}
	return nil
}
