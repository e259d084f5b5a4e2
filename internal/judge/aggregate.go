package judge

import "github.com/arena-oj/judgeserver/types"

// Outcome is the submission-level result folded from per-case results.
type Outcome struct {
	Verdict      types.Verdict
	Score        int
	TimeUsedMs   int64
	MemoryUsedKB int64
	TestsPassed  int
	TestsTotal   int
}

// ShortCircuits reports whether a case verdict ends the run early.
// Internal errors always stop the run. Under binary scoring the first
// failing case decides the submission, so nothing after it executes.
// Partial scoring runs every case regardless of failures.
func ShortCircuits(policy types.ScoringPolicy, v types.Verdict) bool {
	if v == types.VerdictInternalError {
		return true
	}
	if policy == types.ScoringBinary {
		return v != types.VerdictAccepted
	}
	return false
}

// Aggregate folds ordered per-case results into a submission outcome.
// Results must be in test case order; a short-circuited run passes only
// the cases that actually executed.
func Aggregate(problem types.Problem, results []types.CaseResult) Outcome {
	out := Outcome{
		Verdict:    types.VerdictAccepted,
		TestsTotal: len(problem.TestCases),
	}

	var firstFailure types.Verdict
	for _, r := range results {
		if r.TimeUsedMs > out.TimeUsedMs {
			out.TimeUsedMs = r.TimeUsedMs
		}
		if r.MemoryUsedKB > out.MemoryUsedKB {
			out.MemoryUsedKB = r.MemoryUsedKB
		}
		if r.Verdict == types.VerdictInternalError {
			return Outcome{
				Verdict:      types.VerdictInternalError,
				TimeUsedMs:   out.TimeUsedMs,
				MemoryUsedKB: out.MemoryUsedKB,
				TestsPassed:  out.TestsPassed,
				TestsTotal:   out.TestsTotal,
			}
		}
		if r.Verdict == types.VerdictAccepted {
			out.TestsPassed++
			out.Score += r.Points
			continue
		}
		if firstFailure == types.VerdictPending {
			firstFailure = r.Verdict
		}
	}

	allPassed := firstFailure == types.VerdictPending && len(results) == out.TestsTotal

	switch problem.Scoring {
	case types.ScoringPartial:
		switch {
		case allPassed:
			out.Verdict = types.VerdictAccepted
			out.Score = problem.MaxScore()
		case out.Score > 0:
			out.Verdict = types.VerdictPartial
		default:
			out.Verdict = firstFailure
		}
	default:
		if allPassed {
			out.Verdict = types.VerdictAccepted
			out.Score = problem.MaxScore()
		} else {
			out.Verdict = firstFailure
			out.Score = 0
		}
	}
	return out
}
