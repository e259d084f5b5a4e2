package judge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arena-oj/judgeserver/config"
	"github.com/arena-oj/judgeserver/internal/mq"
	"github.com/arena-oj/judgeserver/internal/store"
	"github.com/arena-oj/judgeserver/types"
)

type memSubmissionStore struct {
	mu       sync.Mutex
	subs     map[int64]types.Submission
	attempts map[int64]int
}

func newMemSubmissionStore(subs ...types.Submission) *memSubmissionStore {
	s := &memSubmissionStore{
		subs:     make(map[int64]types.Submission),
		attempts: make(map[int64]int),
	}
	for _, sub := range subs {
		s.subs[sub.ID] = sub
	}
	return s
}

// Every method rejects a context that is already done, the way a real
// database driver does.
func (s *memSubmissionStore) Get(ctx context.Context, id int64) (types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return types.Submission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return types.Submission{}, store.ErrNotFound
	}
	return sub, nil
}

func (s *memSubmissionStore) MarkJudging(ctx context.Context, id int64, lease time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return store.ErrNotFound
	}
	if sub.Verdict.IsTerminal() {
		return store.ErrAlreadyTerminal
	}
	if sub.Verdict == types.VerdictJudging && time.Since(sub.UpdatedAt) < lease {
		return store.ErrLeaseHeld
	}
	sub.Verdict = types.VerdictJudging
	sub.UpdatedAt = time.Now()
	s.subs[id] = sub
	return nil
}

func (s *memSubmissionStore) Release(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.Verdict != types.VerdictJudging {
		return nil
	}
	sub.Verdict = types.VerdictPending
	sub.UpdatedAt = time.Now()
	s.subs[id] = sub
	return nil
}

func (s *memSubmissionStore) SetTerminal(ctx context.Context, submission types.Submission) (types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return types.Submission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subs[submission.ID]
	if !ok {
		return types.Submission{}, store.ErrNotFound
	}
	if existing.Verdict.IsTerminal() {
		return types.Submission{}, store.ErrAlreadyTerminal
	}
	s.subs[submission.ID] = submission
	return submission, nil
}

func (s *memSubmissionStore) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return 0, store.ErrNotFound
	}
	s.attempts[id]++
	return s.attempts[id], nil
}

func (s *memSubmissionStore) attemptCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

type memProblemStore struct {
	problems map[int]types.Problem
}

func (s *memProblemStore) Get(_ context.Context, id int) (types.Problem, error) {
	p, ok := s.problems[id]
	if !ok {
		return types.Problem{}, store.ErrNotFound
	}
	return p, nil
}

type recordingSink struct {
	mu     sync.Mutex
	judged []types.Submission
}

func (s *recordingSink) SubmissionJudged(_ context.Context, submission types.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judged = append(s.judged, submission)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.judged)
}

func testJudgeConfig(t *testing.T) config.JudgeConfig {
	return config.JudgeConfig{
		ContestWorkers:   1,
		PracticeWorkers:  1,
		MaxAttempts:      2,
		LeaseSeconds:     10,
		CompileTimeoutMs: 5000,
		OverheadMs:       100,
		PenaltyMinutes:   20,
		WorkDir:          t.TempDir(),
	}
}

func twoCaseProblem() types.Problem {
	return types.Problem{
		ID:            1,
		TimeLimitMs:   1000,
		MemoryLimitMB: 64,
		Scoring:       types.ScoringBinary,
		TestCases: []types.TestCase{
			{ID: 1, OrderID: 1, Input: "1\n", ExpectedOutput: "1\n"},
			{ID: 2, OrderID: 2, Input: "2\n", ExpectedOutput: "2\n"},
		},
	}
}

func newTestPool(t *testing.T, exec Executor, subs *memSubmissionStore, sink *recordingSink) (*Pool, *mq.MemoryBackend) {
	t.Helper()
	return newTestPoolWithConfig(t, testJudgeConfig(t), exec, subs, sink)
}

func newTestPoolWithConfig(t *testing.T, cfg config.JudgeConfig, exec Executor, subs *memSubmissionStore, sink *recordingSink) (*Pool, *mq.MemoryBackend) {
	t.Helper()
	backend := mq.NewMemoryBackend()
	harness := NewHarness(exec, cfg.WorkDir, cfg.CompileTimeoutMs, cfg.OverheadMs)
	problems := &memProblemStore{problems: map[int]types.Problem{1: twoCaseProblem()}}
	return NewPool(mq.New(backend), subs, problems, harness, sink, cfg), backend
}

// stallingExecutor hangs until the run's context is cancelled, the way
// a wedged sandbox would.
type stallingExecutor struct{}

func (e *stallingExecutor) Execute(ctx context.Context, _ ExecRequest) (*ExecResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func jobMessage(t *testing.T, id int64) mq.Message {
	t.Helper()
	data, err := json.Marshal(Job{SubmissionID: id})
	require.NoError(t, err)
	return mq.Message{ID: "msg-1", Data: data}
}

func TestHandleJudgesToAccepted(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 10, ProblemID: 1, UserID: 3, ContestID: 5, Language: "python", Code: "print(x)",
	})
	exec := &fakeExecutor{results: []*ExecResult{
		{Stdout: "1\n", TimeUsedMs: 10, MemoryUsedKB: 100},
		{Stdout: "2\n", TimeUsedMs: 20, MemoryUsedKB: 200},
	}}
	sink := &recordingSink{}
	pool, _ := newTestPool(t, exec, subs, sink)

	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 10)))

	final, err := subs.Get(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAccepted, final.Verdict)
	assert.Equal(t, 100, final.Score)
	assert.Equal(t, 2, final.TestsPassed)
	assert.Equal(t, int64(20), final.TimeUsedMs)
	assert.Equal(t, int64(200), final.MemoryUsedKB)
	assert.Equal(t, 1, sink.count())
}

func TestHandleBinaryShortCircuit(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 11, ProblemID: 1, UserID: 3, Language: "python", Code: "print(x)",
	})
	exec := &fakeExecutor{results: []*ExecResult{
		{Stdout: "wrong\n"},
	}}
	pool, _ := newTestPool(t, exec, subs, &recordingSink{})

	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 11)))

	final, err := subs.Get(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictWrongAnswer, final.Verdict)
	assert.Len(t, exec.calls, 1, "second case never runs")
	assert.Len(t, final.CaseResults, 1)
}

func TestHandleCompileError(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 12, ProblemID: 1, UserID: 3, ContestID: 5, Language: "cpp", Code: "int main(){",
	})
	exec := &fakeExecutor{results: []*ExecResult{
		{ExitCode: 1, Stderr: "error: expected '}'"},
	}}
	sink := &recordingSink{}
	pool, _ := newTestPool(t, exec, subs, sink)

	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 12)))

	final, err := subs.Get(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictCompilationError, final.Verdict)
	assert.Equal(t, 0, final.Score)
	assert.Contains(t, final.Message, "expected '}'")
	assert.Len(t, exec.calls, 1, "test cases never run after a compile failure")
	assert.Equal(t, 1, sink.count(), "compile errors count as attempts in standings")
}

func TestHandleInfraFailureRetriesThenInternalError(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 13, ProblemID: 1, UserID: 3, Language: "python", Code: "print(x)",
	})
	exec := &fakeExecutor{errs: []error{
		errors.New("sandbox down"),
		errors.New("sandbox down"),
	}}
	sink := &recordingSink{}
	pool, _ := newTestPool(t, exec, subs, sink)

	// First delivery: under the attempt cap, the message is nacked.
	err := pool.handle(context.Background(), jobMessage(t, 13))
	require.Error(t, err)
	mid, err2 := subs.Get(context.Background(), 13)
	require.NoError(t, err2)
	assert.False(t, mid.Verdict.IsTerminal())

	// Redelivery: cap reached, the submission surfaces as IE.
	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 13)))
	final, err := subs.Get(context.Background(), 13)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictInternalError, final.Verdict)
	assert.Equal(t, 0, sink.count(), "internal errors never reach standings")
}

func TestHandleLeaseExpiryStillBoundsRetries(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 17, ProblemID: 1, UserID: 3, Language: "python", Code: "print(x)",
	})
	cfg := testJudgeConfig(t)
	cfg.LeaseSeconds = 1
	sink := &recordingSink{}
	pool, _ := newTestPoolWithConfig(t, cfg, &stallingExecutor{}, subs, sink)

	// First delivery: the run outlives its lease. The attempt must be
	// counted anyway and the claim handed back for the redelivery.
	err := pool.handle(context.Background(), jobMessage(t, 17))
	require.Error(t, err)
	assert.Equal(t, 1, subs.attemptCount(17))
	mid, err2 := subs.Get(context.Background(), 17)
	require.NoError(t, err2)
	assert.Equal(t, types.VerdictPending, mid.Verdict)

	// Redelivery: cap reached, the submission surfaces as IE instead of
	// cycling through the queue forever.
	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 17)))
	final, err := subs.Get(context.Background(), 17)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictInternalError, final.Verdict)
	assert.Equal(t, 2, subs.attemptCount(17))
	assert.Equal(t, 0, sink.count())
}

func TestHandleLiveClaimNotStolen(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 18, ProblemID: 1, UserID: 3, Language: "python", Code: "print(x)",
		Verdict: types.VerdictJudging, UpdatedAt: time.Now(),
	})
	exec := &fakeExecutor{}
	pool, _ := newTestPool(t, exec, subs, &recordingSink{})

	err := pool.handle(context.Background(), jobMessage(t, 18))
	require.ErrorIs(t, err, store.ErrLeaseHeld)
	assert.Empty(t, exec.calls, "no second judging starts while the lease is live")
	assert.Equal(t, 0, subs.attemptCount(18))
}

func TestHandleStaleClaimReclaimed(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 19, ProblemID: 1, UserID: 3, Language: "python", Code: "print(x)",
		Verdict: types.VerdictJudging, UpdatedAt: time.Now().Add(-time.Minute),
	})
	exec := &fakeExecutor{results: []*ExecResult{
		{Stdout: "1\n"},
		{Stdout: "2\n"},
	}}
	pool, _ := newTestPool(t, exec, subs, &recordingSink{})

	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 19)))
	final, err := subs.Get(context.Background(), 19)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAccepted, final.Verdict)
}

func TestHandleProblemWithoutCasesNeverAccepted(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 20, ProblemID: 1, UserID: 3, ContestID: 5, Language: "python", Code: "print(x)",
	})
	sink := &recordingSink{}
	pool, _ := newTestPool(t, &fakeExecutor{}, subs, sink)
	pool.problems = &memProblemStore{problems: map[int]types.Problem{
		1: {ID: 1, TimeLimitMs: 1000, MemoryLimitMB: 64, Scoring: types.ScoringBinary},
	}}

	require.Error(t, pool.handle(context.Background(), jobMessage(t, 20)))
	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 20)))

	final, err := subs.Get(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictInternalError, final.Verdict)
	assert.Equal(t, 0, final.Score)
	assert.Equal(t, 0, sink.count())
}

func TestHandleAlreadyTerminalAcks(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 14, ProblemID: 1, UserID: 3, Language: "python",
		Verdict: types.VerdictAccepted, Score: 100,
	})
	exec := &fakeExecutor{}
	sink := &recordingSink{}
	pool, _ := newTestPool(t, exec, subs, sink)

	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 14)))
	assert.Empty(t, exec.calls)
	assert.Equal(t, 0, sink.count())
}

func TestHandleUnknownSubmissionDropped(t *testing.T) {
	pool, _ := newTestPool(t, &fakeExecutor{}, newMemSubmissionStore(), &recordingSink{})
	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 999)))
}

func TestHandlePracticeSubmissionSkipsSink(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 15, ProblemID: 1, UserID: 3, Language: "python", Code: "print(x)",
	})
	exec := &fakeExecutor{results: []*ExecResult{
		{Stdout: "1\n"},
		{Stdout: "2\n"},
	}}
	sink := &recordingSink{}
	pool, _ := newTestPool(t, exec, subs, sink)

	require.NoError(t, pool.handle(context.Background(), jobMessage(t, 15)))
	assert.Equal(t, 0, sink.count())
}

func TestPoolConsumesQueue(t *testing.T) {
	subs := newMemSubmissionStore(types.Submission{
		ID: 16, ProblemID: 1, UserID: 3, ContestID: 5, Language: "python", Code: "print(x)",
	})
	exec := &fakeExecutor{results: []*ExecResult{
		{Stdout: "1\n"},
		{Stdout: "2\n"},
	}}
	pool, backend := newTestPool(t, exec, subs, &recordingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	data, err := json.Marshal(Job{SubmissionID: 16})
	require.NoError(t, err)
	_, err = backend.Publish(ctx, QueueContest, data, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sub, err := subs.Get(context.Background(), 16)
		return err == nil && sub.Verdict.IsTerminal()
	}, 3*time.Second, 10*time.Millisecond)

	sub, err := subs.Get(context.Background(), 16)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictAccepted, sub.Verdict)

	cancel()
	pool.Wait()
}
