// Package judge contains the judging pipeline: language table, process
// executor, per-case harness, verdict aggregation, and the worker pool
// that drains the submission queues.
package judge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arena-oj/judgeserver/types"
)

const compiledBinaryName = "solution"

// Harness prepares submissions for execution and runs individual test
// cases. It is stateless; all per-submission state lives in Run.
type Harness struct {
	exec             Executor
	workDir          string
	compileTimeoutMs int64
	overheadMs       int64
}

// NewHarness constructs a Harness.
func NewHarness(exec Executor, workDir string, compileTimeoutMs, overheadMs int64) *Harness {
	return &Harness{
		exec:             exec,
		workDir:          workDir,
		compileTimeoutMs: compileTimeoutMs,
		overheadMs:       overheadMs,
	}
}

// Run is a prepared submission: source written to a scratch directory
// and, for compiled languages, a built binary. Close releases the
// scratch directory.
type Run struct {
	harness *Harness
	lang    types.Language
	dir     string
	problem types.Problem
}

// CompileFailure carries compiler diagnostics for a submission that did
// not build. It is a judging outcome, not an infrastructure error.
type CompileFailure struct {
	Output string
}

func (e *CompileFailure) Error() string {
	return "compilation failed"
}

// Prepare writes the submission source into a fresh scratch directory
// and compiles it when the language requires a build step. A failed
// build returns *CompileFailure; any other error is infrastructure.
func (h *Harness) Prepare(ctx context.Context, code string, lang types.Language, problem types.Problem) (*Run, error) {
	dir, err := os.MkdirTemp(h.workDir, "judge-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	sourcePath := filepath.Join(dir, lang.SourceFile)
	if err := os.WriteFile(sourcePath, []byte(code), 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write source: %w", err)
	}

	run := &Run{harness: h, lang: lang, dir: dir, problem: problem}

	if lang.CompileCommand != "" {
		if err := h.compile(ctx, run, sourcePath); err != nil {
			if _, ok := err.(*CompileFailure); !ok {
				os.RemoveAll(dir)
			}
			return nil, err
		}
	}
	return run, nil
}

func (h *Harness) compile(ctx context.Context, run *Run, sourcePath string) error {
	binary := filepath.Join(run.dir, compiledBinaryName)
	cmd := expandCommand(run.lang.CompileCommand, sourcePath, binary, run.dir)

	res, err := h.exec.Execute(ctx, ExecRequest{
		Command:     cmd,
		Dir:         run.dir,
		TimeLimitMs: h.compileTimeoutMs,
	})
	if err != nil {
		return fmt.Errorf("run compiler: %w", err)
	}
	if res.TimedOut || res.ExitCode != 0 {
		out := strings.TrimSpace(res.Stderr)
		if out == "" {
			out = strings.TrimSpace(res.Stdout)
		}
		if res.TimedOut {
			out = "compilation timed out"
		}
		return &CompileFailure{Output: truncateMessage(out)}
	}
	return nil
}

// RunCase executes one test case and classifies the outcome. Limits are
// the problem limits scaled by the language multipliers, with a small
// scheduling overhead added to the wall-clock deadline. A non-nil error
// means the run itself could not be carried out.
func (r *Run) RunCase(ctx context.Context, tc types.TestCase) (types.CaseResult, error) {
	result := types.CaseResult{TestCaseID: tc.ID}

	timeLimit := int64(float64(r.problem.TimeLimitMs) * r.lang.TimeMultiplier)
	memLimitKB := int64(float64(r.problem.MemoryLimitMB) * 1024 * r.lang.MemoryMultiplier)

	sourcePath := filepath.Join(r.dir, r.lang.SourceFile)
	binary := filepath.Join(r.dir, compiledBinaryName)
	cmd := expandCommand(r.lang.RunCommand, sourcePath, binary, r.dir)

	res, err := r.harness.exec.Execute(ctx, ExecRequest{
		Command:       cmd,
		Dir:           r.dir,
		Stdin:         tc.Input,
		TimeLimitMs:   timeLimit + r.harness.overheadMs,
		MemoryLimitKB: memLimitKB,
	})
	if err != nil {
		result.Verdict = types.VerdictInternalError
		return result, err
	}

	result.TimeUsedMs = res.TimeUsedMs
	result.MemoryUsedKB = res.MemoryUsedKB

	switch {
	case res.TimedOut || res.TimeUsedMs > timeLimit:
		result.Verdict = types.VerdictTimeLimitExceeded
		result.TimeUsedMs = timeLimit
	case res.MemoryExceeded:
		result.Verdict = types.VerdictMemoryLimitExceeded
	case res.ExitCode != 0:
		result.Verdict = types.VerdictRuntimeError
		result.ErrorMessage = truncateMessage(strings.TrimSpace(res.Stderr))
	default:
		result.Verdict = CompareOutput(tc.ExpectedOutput, res.Stdout)
		// Hidden case outputs stay out of the stored result; they would
		// leak expected answers through the submission API.
		if tc.IsSample {
			result.Output = truncateMessage(res.Stdout)
		}
		if result.Verdict == types.VerdictAccepted {
			result.Points = tc.Points
		}
	}
	return result, nil
}

// Close removes the scratch directory.
func (r *Run) Close() error {
	return os.RemoveAll(r.dir)
}

// CompareOutput grades candidate output against the expected output.
// Exact match after stripping the trailing newline is accepted.
// A match modulo whitespace (token sequence equal) is a presentation
// error; anything else is a wrong answer.
func CompareOutput(expected, actual string) types.Verdict {
	if normalizeLines(expected) == normalizeLines(actual) {
		return types.VerdictAccepted
	}
	if strings.Join(strings.Fields(expected), " ") == strings.Join(strings.Fields(actual), " ") {
		return types.VerdictPresentationError
	}
	return types.VerdictWrongAnswer
}

// normalizeLines trims trailing whitespace from each line and trailing
// blank lines from the document.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	n := len(lines)
	for n > 0 && lines[n-1] == "" {
		n--
	}
	return strings.Join(lines[:n], "\n")
}

const maxMessageBytes = 64 * 1024

func truncateMessage(s string) string {
	if len(s) <= maxMessageBytes {
		return s
	}
	return s[:maxMessageBytes] + "\n... (truncated)"
}
