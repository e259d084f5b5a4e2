package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Submission represents a user's submission to a problem.
// It contains source code, execution metadata, and the final judging outcome.
type Submission struct {
	// ID is the unique identifier of the submission.
	ID int64 `json:"id" db:"id"`

	// ProblemID identifies the problem this submission is for.
	ProblemID int `json:"problem_id" db:"problem_id"`

	// UserID identifies the user who made the submission.
	UserID int `json:"user_id" db:"user_id"`

	// ContestID identifies the contest this submission belongs to, or
	// zero for practice submissions.
	ContestID int `json:"contest_id,omitempty" db:"contest_id"`

	// Code is the source code submitted by the user. It never changes
	// after the submission is created.
	Code string `json:"code" db:"code"`

	// Language is the identifier of the programming language used.
	Language string `json:"language" db:"language"`

	// Verdict is the outcome of judging the submission. Transitions are
	// monotonic: pending, judging, then exactly one terminal verdict.
	Verdict Verdict `json:"verdict" db:"verdict"`

	// Score is the total score awarded for this submission.
	Score int `json:"score" db:"score"`

	// TimeUsedMs is the maximum wall-clock time over all executed test
	// cases, expressed in milliseconds.
	TimeUsedMs int64 `json:"time_used_ms" db:"time_used_ms"`

	// MemoryUsedKB is the peak memory usage over all executed test
	// cases, expressed in kilobytes.
	MemoryUsedKB int64 `json:"memory_used_kb" db:"memory_used_kb"`

	// Message contains additional information about the verdict, such
	// as compiler output or system messages.
	Message string `json:"message,omitempty" db:"message"`

	// TestsPassed is the number of test cases successfully passed.
	TestsPassed int `json:"tests_passed" db:"tests_passed"`

	// TestsTotal is the total number of test cases for the problem at
	// judging time.
	TestsTotal int `json:"tests_total" db:"tests_total"`

	// CreatedAt is the timestamp when the submission was created. The
	// standings engine applies terminal events in this order per
	// (contest, user).
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp when the submission was last updated.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// CaseResults holds per-test-case execution results when available.
	// This field may be omitted for summary or list views.
	CaseResults []CaseResult `json:"case_results,omitempty" db:"case_results"`
}

// InContest reports whether the submission was made as part of a contest.
func (s Submission) InContest() bool {
	return s.ContestID != 0
}

// CaseResult represents the outcome of executing a single test case
// as part of judging a submission.
type CaseResult struct {
	// TestCaseID identifies the test case that was executed.
	TestCaseID int `json:"test_case_id" db:"test_case_id"`

	// Verdict is the outcome of this specific test case.
	Verdict Verdict `json:"verdict" db:"verdict"`

	// TimeUsedMs is the wall-clock time consumed by this test case,
	// expressed in milliseconds.
	TimeUsedMs int64 `json:"time_used_ms" db:"time_used_ms"`

	// MemoryUsedKB is the peak memory usage for this test case,
	// expressed in kilobytes.
	MemoryUsedKB int64 `json:"memory_used_kb" db:"memory_used_kb"`

	// Points is the number of points this case contributed to the score.
	Points int `json:"points" db:"points"`

	// Output is the output produced by the candidate program. Omitted
	// for hidden test cases.
	Output string `json:"output,omitempty" db:"output,omitempty"`

	// ErrorMessage contains runtime or system error messages, if any.
	ErrorMessage string `json:"error_message,omitempty" db:"error_message,omitempty"`
}

// Verdict represents the outcome of judging a submission or test case.
type Verdict int

// Supported verdict values. Everything from VerdictAccepted onward is
// terminal; a submission reaches a terminal verdict exactly once and is
// never re-judged in place.
const (
	// VerdictPending indicates the submission has been received but has
	// not started judging yet.
	VerdictPending Verdict = iota

	// VerdictJudging indicates the submission is exclusively owned by a
	// worker and currently being judged.
	VerdictJudging

	// VerdictAccepted indicates the submission passed all test cases.
	VerdictAccepted

	// VerdictPartial indicates a partially scored submission that passed
	// some but not all test cases.
	VerdictPartial

	// VerdictWrongAnswer indicates the submission produced incorrect output.
	VerdictWrongAnswer

	// VerdictPresentationError indicates the output matched token-wise
	// but differed in whitespace or formatting.
	VerdictPresentationError

	// VerdictTimeLimitExceeded indicates the submission exceeded the time limit.
	VerdictTimeLimitExceeded

	// VerdictMemoryLimitExceeded indicates the submission exceeded the memory limit.
	VerdictMemoryLimitExceeded

	// VerdictRuntimeError indicates a non-zero exit or signal during execution.
	VerdictRuntimeError

	// VerdictCompilationError indicates the submission failed to compile.
	VerdictCompilationError

	// VerdictInternalError indicates a judge infrastructure failure.
	// It is never the candidate's fault and is only surfaced after the
	// configured retry budget is exhausted.
	VerdictInternalError
)

// IsTerminal reports whether the verdict is final. Terminal verdicts
// never change for a given submission id.
func (v Verdict) IsTerminal() bool {
	return v != VerdictPending && v != VerdictJudging
}

// CandidateFault reports whether the verdict is charged to the user.
// Infrastructure faults are retried instead of being recorded.
func (v Verdict) CandidateFault() bool {
	return v.IsTerminal() && v != VerdictInternalError
}

// CountsForStandings reports whether a terminal verdict participates in
// contest standings. Internal errors never do.
func (v Verdict) CountsForStandings() bool {
	return v.IsTerminal() && v != VerdictInternalError
}

// String returns the compact string representation of the verdict
// used in API responses and logs.
func (v Verdict) String() string {
	switch v {
	case VerdictPending:
		return "PENDING"
	case VerdictJudging:
		return "JUDGING"
	case VerdictAccepted:
		return "AC"
	case VerdictPartial:
		return "PARTIAL"
	case VerdictWrongAnswer:
		return "WA"
	case VerdictPresentationError:
		return "PE"
	case VerdictTimeLimitExceeded:
		return "TLE"
	case VerdictMemoryLimitExceeded:
		return "MLE"
	case VerdictRuntimeError:
		return "RE"
	case VerdictCompilationError:
		return "CE"
	case VerdictInternalError:
		return "IE"
	default:
		return "UNKNOWN"
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVerdict(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVerdict converts the compact string representation back into a
// Verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch s {
	case "PENDING":
		return VerdictPending, nil
	case "JUDGING":
		return VerdictJudging, nil
	case "AC":
		return VerdictAccepted, nil
	case "PARTIAL":
		return VerdictPartial, nil
	case "WA":
		return VerdictWrongAnswer, nil
	case "PE":
		return VerdictPresentationError, nil
	case "TLE":
		return VerdictTimeLimitExceeded, nil
	case "MLE":
		return VerdictMemoryLimitExceeded, nil
	case "RE":
		return VerdictRuntimeError, nil
	case "CE":
		return VerdictCompilationError, nil
	case "IE":
		return VerdictInternalError, nil
	default:
		return VerdictPending, fmt.Errorf("unknown verdict %q", s)
	}
}
