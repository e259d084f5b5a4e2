package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/arena-oj/judgeserver/config"
	"github.com/arena-oj/judgeserver/internal/mq"
	"github.com/arena-oj/judgeserver/internal/store"
	"github.com/arena-oj/judgeserver/types"
)

// Queue channels. Contest submissions get their own channel and a
// larger worker allocation so practice load cannot starve a live
// contest.
const (
	QueueContest  = "judge.contest"
	QueuePractice = "judge.practice"
)

// Job is the queue payload for one submission to judge.
type Job struct {
	SubmissionID int64 `json:"submission_id"`
}

// SubmissionStore is the submission persistence the worker depends on.
type SubmissionStore interface {
	Get(ctx context.Context, id int64) (types.Submission, error)
	MarkJudging(ctx context.Context, id int64, lease time.Duration) error
	Release(ctx context.Context, id int64) error
	SetTerminal(ctx context.Context, submission types.Submission) (types.Submission, error)
	IncrementAttempts(ctx context.Context, id int64) (int, error)
}

// ProblemStore loads the problem a submission targets.
type ProblemStore interface {
	Get(ctx context.Context, id int) (types.Problem, error)
}

// ResultSink receives terminal submissions. The standings engine
// implements it.
type ResultSink interface {
	SubmissionJudged(ctx context.Context, submission types.Submission)
}

// Pool consumes the judging queues with a fixed number of workers per
// channel. Judging a submission is bounded by a lease; if the worker
// dies or the lease expires the broker redelivers and another worker
// picks the submission up.
type Pool struct {
	queue       *mq.MQ
	submissions SubmissionStore
	problems    ProblemStore
	harness     *Harness
	sink        ResultSink
	cfg         config.JudgeConfig

	wg sync.WaitGroup
}

// NewPool constructs a worker pool. sink may be nil when no standings
// engine is attached.
func NewPool(queue *mq.MQ, submissions SubmissionStore, problems ProblemStore, harness *Harness, sink ResultSink, cfg config.JudgeConfig) *Pool {
	return &Pool{
		queue:       queue,
		submissions: submissions,
		problems:    problems,
		harness:     harness,
		sink:        sink,
		cfg:         cfg,
	}
}

// Start launches the workers. They run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.ContestWorkers; i++ {
		p.spawn(ctx, QueueContest)
	}
	for i := 0; i < p.cfg.PracticeWorkers; i++ {
		p.spawn(ctx, QueuePractice)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) spawn(ctx context.Context, channel string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.queue.Subscribe(ctx, channel, p.handle); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("judge worker on %s stopped: %v", channel, err)
		}
	}()
}

// handle judges one queued submission. Returning an error nacks the
// message and the broker redelivers it; returning nil acks.
//
// Only the judging itself runs under the lease. Retry bookkeeping and
// the terminal write run on the worker context: an expired lease must
// not prevent the attempt counter from advancing toward the cap.
func (p *Pool) handle(ctx context.Context, msg mq.Message) error {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		log.Printf("dropping malformed judge job %s: %v", msg.ID, err)
		return nil
	}

	lease := time.Duration(p.cfg.LeaseSeconds) * time.Second
	leaseCtx, cancel := context.WithTimeout(ctx, lease)
	defer cancel()

	submission, err := p.submissions.Get(leaseCtx, job.SubmissionID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("dropping judge job for unknown submission %d", job.SubmissionID)
		return nil
	}
	if err != nil {
		return p.retry(ctx, job.SubmissionID, err)
	}
	if submission.Verdict.IsTerminal() {
		return nil
	}

	if err := p.submissions.MarkJudging(leaseCtx, submission.ID, lease); err != nil {
		if errors.Is(err, store.ErrAlreadyTerminal) {
			return nil
		}
		if errors.Is(err, store.ErrLeaseHeld) {
			// Another worker holds a live claim. Nack instead of ack:
			// if that worker finishes, the redelivery acks on the
			// terminal check; if it crashed, the claim goes stale
			// within one lease and the redelivery picks it up.
			log.Printf("submission %d is claimed by another worker, requeueing message %s", submission.ID, msg.ID)
			return err
		}
		return p.retry(ctx, submission.ID, err)
	}

	judged, err := p.judge(leaseCtx, submission)
	if err != nil {
		return p.retry(ctx, submission.ID, err)
	}
	return p.finalize(ctx, judged)
}

// judge runs the submission through the harness and folds the outcome
// into the submission. A returned error is an infrastructure failure;
// candidate faults come back as terminal verdicts on the submission.
func (p *Pool) judge(ctx context.Context, submission types.Submission) (types.Submission, error) {
	lang, err := LookupLanguage(submission.Language)
	if err != nil {
		submission.Verdict = types.VerdictInternalError
		submission.Message = err.Error()
		return submission, nil
	}

	problem, err := p.problems.Get(ctx, submission.ProblemID)
	if err != nil {
		return types.Submission{}, fmt.Errorf("load problem %d: %w", submission.ProblemID, err)
	}
	// An empty case list would fold into an accepted verdict. Treat it
	// as an infrastructure fault instead of charging anything.
	if len(problem.TestCases) == 0 {
		return types.Submission{}, fmt.Errorf("problem %d has no test cases", problem.ID)
	}

	run, err := p.harness.Prepare(ctx, submission.Code, lang, problem)
	if err != nil {
		var compileErr *CompileFailure
		if errors.As(err, &compileErr) {
			submission.Verdict = types.VerdictCompilationError
			submission.Score = 0
			submission.Message = compileErr.Output
			submission.TestsPassed = 0
			submission.TestsTotal = len(problem.TestCases)
			submission.CaseResults = nil
			return submission, nil
		}
		return types.Submission{}, fmt.Errorf("prepare submission %d: %w", submission.ID, err)
	}
	defer run.Close()

	cases := make([]types.TestCase, len(problem.TestCases))
	copy(cases, problem.TestCases)
	sort.Slice(cases, func(i, j int) bool { return cases[i].OrderID < cases[j].OrderID })

	var results []types.CaseResult
	for _, tc := range cases {
		result, err := run.RunCase(ctx, tc)
		if err != nil {
			return types.Submission{}, fmt.Errorf("run case %d of submission %d: %w", tc.ID, submission.ID, err)
		}
		results = append(results, result)
		if ShortCircuits(problem.Scoring, result.Verdict) {
			break
		}
	}

	outcome := Aggregate(problem, results)
	submission.Verdict = outcome.Verdict
	submission.Score = outcome.Score
	submission.TimeUsedMs = outcome.TimeUsedMs
	submission.MemoryUsedKB = outcome.MemoryUsedKB
	submission.TestsPassed = outcome.TestsPassed
	submission.TestsTotal = outcome.TestsTotal
	submission.CaseResults = results
	submission.Message = ""
	return submission, nil
}

// finalize writes the terminal verdict and notifies the standings
// engine. A submission some other worker already finalized is acked
// silently.
func (p *Pool) finalize(ctx context.Context, submission types.Submission) error {
	final, err := p.submissions.SetTerminal(ctx, submission)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyTerminal) {
			return nil
		}
		return err
	}
	if p.sink != nil && final.InContest() && final.Verdict.CountsForStandings() {
		p.sink.SubmissionJudged(ctx, final)
	}
	return nil
}

// retry bumps the attempt counter for an infrastructure failure. Under
// the cap the message is nacked for redelivery; at the cap the
// submission is finalized as an internal error so it cannot loop
// forever.
func (p *Pool) retry(ctx context.Context, id int64, cause error) error {
	attempts, err := p.submissions.IncrementAttempts(ctx, id)
	if err != nil {
		log.Printf("count attempt for submission %d: %v", id, err)
		return cause
	}
	if attempts < p.cfg.MaxAttempts {
		// Hand the claim back so the redelivery does not have to wait
		// out the remainder of the lease.
		if err := p.submissions.Release(ctx, id); err != nil {
			log.Printf("release submission %d: %v", id, err)
		}
		log.Printf("judging submission %d failed (attempt %d/%d), requeueing: %v", id, attempts, p.cfg.MaxAttempts, cause)
		return cause
	}

	log.Printf("judging submission %d failed after %d attempts: %v", id, attempts, cause)
	submission, getErr := p.submissions.Get(ctx, id)
	if getErr != nil {
		return nil
	}
	submission.Verdict = types.VerdictInternalError
	submission.Score = 0
	submission.Message = "judging failed, please contact an administrator"
	return p.finalize(ctx, submission)
}
