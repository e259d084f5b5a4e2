package services

import (
	"context"
	"strings"

	"github.com/arena-oj/judgeserver/internal/contest"
	"github.com/arena-oj/judgeserver/internal/standings"
	"github.com/arena-oj/judgeserver/types"
)

// ContestStore is the contest persistence the service depends on.
type ContestStore interface {
	Create(ctx context.Context, c types.Contest) (types.Contest, error)
	Get(ctx context.Context, id int) (types.Contest, error)
	List(ctx context.Context, offset, limit int) ([]types.Contest, int, error)
	Register(ctx context.Context, contestID, userID int) error
	IsRegistered(ctx context.Context, contestID, userID int) (bool, error)
}

// ContestSubmissionSource feeds standings rebuilds.
type ContestSubmissionSource interface {
	ListTerminalByContest(ctx context.Context, contestID int) ([]types.Submission, error)
}

// ContestService manages contests and exposes their scoreboards.
type ContestService struct {
	contests    ContestStore
	submissions ContestSubmissionSource
	engine      *standings.Engine
	clock       *contest.Clock
}

func NewContestService(contests ContestStore, submissions ContestSubmissionSource, engine *standings.Engine, clock *contest.Clock) *ContestService {
	return &ContestService{
		contests:    contests,
		submissions: submissions,
		engine:      engine,
		clock:       clock,
	}
}

// ContestView is a contest plus its derived phase and freeze state.
type ContestView struct {
	types.Contest
	Phase  types.Phase `json:"phase"`
	Frozen bool        `json:"frozen"`
}

func (s *ContestService) view(c types.Contest) ContestView {
	return ContestView{
		Contest: c,
		Phase:   s.clock.Phase(c),
		Frozen:  s.clock.Frozen(c),
	}
}

// Create validates and persists a contest and registers it with the
// standings engine.
func (s *ContestService) Create(ctx context.Context, c types.Contest) (ContestView, error) {
	if strings.TrimSpace(c.Slug) == "" {
		return ContestView{}, validationErrorf("slug must not be empty")
	}
	if strings.TrimSpace(c.Title) == "" {
		return ContestView{}, validationErrorf("title must not be empty")
	}
	if err := c.Validate(); err != nil {
		return ContestView{}, validationErrorf(err.Error())
	}
	seen := make(map[int]bool, len(c.Problems))
	for _, cp := range c.Problems {
		if seen[cp.ProblemID] {
			return ContestView{}, validationErrorf("duplicate problem in contest")
		}
		seen[cp.ProblemID] = true
	}

	created, err := s.contests.Create(ctx, c)
	if err != nil {
		return ContestView{}, err
	}
	s.engine.RegisterContest(created)
	return s.view(created), nil
}

// Get returns a contest with its derived phase.
func (s *ContestService) Get(ctx context.Context, id int) (ContestView, error) {
	c, err := s.contests.Get(ctx, id)
	if err != nil {
		return ContestView{}, err
	}
	return s.view(c), nil
}

// List returns a page of contests with derived phases.
func (s *ContestService) List(ctx context.Context, offset, limit int) ([]ContestView, int, error) {
	contests, total, err := s.contests.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	views := make([]ContestView, len(contests))
	for i, c := range contests {
		views[i] = s.view(c)
	}
	return views, total, nil
}

// Register enrolls a user. Registration closes when the contest ends.
func (s *ContestService) Register(ctx context.Context, contestID, userID int) error {
	c, err := s.contests.Get(ctx, contestID)
	if err != nil {
		return err
	}
	if contest.PhaseAt(c, s.clock.Now()) == types.PhaseEnded {
		return ErrRegistrationClosed
	}
	return s.contests.Register(ctx, contestID, userID)
}

// Standings returns the ranked scoreboard. During the freeze window
// only privileged viewers see the live truth.
func (s *ContestService) Standings(ctx context.Context, contestID int, privileged bool) ([]types.StandingsRow, error) {
	if _, err := s.contests.Get(ctx, contestID); err != nil {
		return nil, err
	}
	return s.engine.Snapshot(ctx, contestID, privileged)
}

// RebuildStandings replays a contest's terminal submissions into a
// fresh scoreboard. Admin operation for recovery after data repair.
func (s *ContestService) RebuildStandings(ctx context.Context, contestID int) error {
	c, err := s.contests.Get(ctx, contestID)
	if err != nil {
		return err
	}
	submissions, err := s.submissions.ListTerminalByContest(ctx, contestID)
	if err != nil {
		return err
	}
	return s.engine.Rebuild(ctx, c, submissions)
}

// WarmStandings loads every contest into the standings engine at
// startup so scoreboards survive restarts.
func (s *ContestService) WarmStandings(ctx context.Context) error {
	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		contests, total, err := s.contests.List(ctx, offset, pageSize)
		if err != nil {
			return err
		}
		for _, c := range contests {
			if err := s.RebuildStandings(ctx, c.ID); err != nil {
				return err
			}
		}
		if offset+pageSize >= total || len(contests) == 0 {
			return nil
		}
	}
}
