package judge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arena-oj/judgeserver/types"
)

// fakeExecutor returns scripted results in call order.
type fakeExecutor struct {
	results []*ExecResult
	errs    []error
	calls   []ExecRequest
}

func (f *fakeExecutor) Execute(_ context.Context, req ExecRequest) (*ExecResult, error) {
	i := len(f.calls)
	f.calls = append(f.calls, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return &ExecResult{}, nil
}

func testProblem() types.Problem {
	return types.Problem{
		ID:            7,
		TimeLimitMs:   1000,
		MemoryLimitMB: 64,
		Scoring:       types.ScoringBinary,
		TestCases: []types.TestCase{
			{ID: 1, OrderID: 1, Input: "1 2\n", ExpectedOutput: "3\n", Points: 50},
		},
	}
}

func newTestHarness(t *testing.T, exec Executor) *Harness {
	t.Helper()
	return NewHarness(exec, t.TempDir(), 30000, 500)
}

func TestCompareOutput(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		want     types.Verdict
	}{
		{"exact match", "3\n", "3\n", types.VerdictAccepted},
		{"missing trailing newline", "3\n", "3", types.VerdictAccepted},
		{"trailing spaces on line", "1 2\n", "1 2  \n", types.VerdictAccepted},
		{"trailing blank lines", "3\n", "3\n\n\n", types.VerdictAccepted},
		{"tokens match but lines differ", "1\n2\n", "1 2\n", types.VerdictPresentationError},
		{"leading whitespace", "3\n", "  3\n", types.VerdictPresentationError},
		{"wrong value", "3\n", "4\n", types.VerdictWrongAnswer},
		{"missing token", "1 2 3\n", "1 2\n", types.VerdictWrongAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareOutput(tt.expected, tt.actual))
		})
	}
}

func TestPrepareCompileFailure(t *testing.T) {
	exec := &fakeExecutor{results: []*ExecResult{
		{ExitCode: 1, Stderr: "main.cpp:3: error: expected ';'"},
	}}
	h := newTestHarness(t, exec)
	lang, err := LookupLanguage("cpp")
	require.NoError(t, err)

	_, err = h.Prepare(context.Background(), "int main(){", lang, testProblem())
	var compileErr *CompileFailure
	require.ErrorAs(t, err, &compileErr)
	assert.Contains(t, compileErr.Output, "expected ';'")
	assert.Len(t, exec.calls, 1, "nothing runs after a failed compile")
}

func TestPrepareInterpretedSkipsCompile(t *testing.T) {
	exec := &fakeExecutor{}
	h := newTestHarness(t, exec)
	lang, err := LookupLanguage("python")
	require.NoError(t, err)

	run, err := h.Prepare(context.Background(), "print(3)", lang, testProblem())
	require.NoError(t, err)
	defer run.Close()

	assert.Empty(t, exec.calls)
}

func TestRunCaseClassification(t *testing.T) {
	tests := []struct {
		name   string
		result *ExecResult
		want   types.Verdict
	}{
		{"accepted", &ExecResult{Stdout: "3\n", TimeUsedMs: 12}, types.VerdictAccepted},
		{"wrong answer", &ExecResult{Stdout: "4\n"}, types.VerdictWrongAnswer},
		{"time limit", &ExecResult{TimedOut: true, TimeUsedMs: 1500}, types.VerdictTimeLimitExceeded},
		{"over limit without kill", &ExecResult{Stdout: "3\n", TimeUsedMs: 3100}, types.VerdictTimeLimitExceeded},
		{"memory limit", &ExecResult{MemoryExceeded: true, MemoryUsedKB: 70000}, types.VerdictMemoryLimitExceeded},
		{"runtime error", &ExecResult{ExitCode: 1, Stderr: "segfault"}, types.VerdictRuntimeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{results: []*ExecResult{tt.result}}
			h := newTestHarness(t, exec)
			lang, err := LookupLanguage("python")
			require.NoError(t, err)

			run, err := h.Prepare(context.Background(), "print(3)", lang, testProblem())
			require.NoError(t, err)
			defer run.Close()

			result, err := run.RunCase(context.Background(), testProblem().TestCases[0])
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Verdict)
		})
	}
}

func TestRunCaseAwardsPointsOnAccept(t *testing.T) {
	exec := &fakeExecutor{results: []*ExecResult{{Stdout: "3\n"}}}
	h := newTestHarness(t, exec)
	lang, err := LookupLanguage("python")
	require.NoError(t, err)

	run, err := h.Prepare(context.Background(), "print(3)", lang, testProblem())
	require.NoError(t, err)
	defer run.Close()

	result, err := run.RunCase(context.Background(), testProblem().TestCases[0])
	require.NoError(t, err)
	assert.Equal(t, 50, result.Points)
}

func TestRunCaseKeepsOutputOnlyForSamples(t *testing.T) {
	exec := &fakeExecutor{results: []*ExecResult{
		{Stdout: "3\n"},
		{Stdout: "4\n"},
	}}
	h := newTestHarness(t, exec)
	lang, err := LookupLanguage("python")
	require.NoError(t, err)

	run, err := h.Prepare(context.Background(), "print(3)", lang, testProblem())
	require.NoError(t, err)
	defer run.Close()

	sample := types.TestCase{ID: 1, OrderID: 1, Input: "1 2\n", ExpectedOutput: "3\n", IsSample: true}
	hidden := types.TestCase{ID: 2, OrderID: 2, Input: "2 2\n", ExpectedOutput: "3\n"}

	sampleResult, err := run.RunCase(context.Background(), sample)
	require.NoError(t, err)
	assert.Equal(t, "3\n", sampleResult.Output)

	hiddenResult, err := run.RunCase(context.Background(), hidden)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictWrongAnswer, hiddenResult.Verdict)
	assert.Empty(t, hiddenResult.Output, "hidden case output is never stored")
}

func TestRunCaseLimits(t *testing.T) {
	exec := &fakeExecutor{results: []*ExecResult{{Stdout: "3\n"}}}
	h := newTestHarness(t, exec)
	lang, err := LookupLanguage("python")
	require.NoError(t, err)

	run, err := h.Prepare(context.Background(), "print(3)", lang, testProblem())
	require.NoError(t, err)
	defer run.Close()

	_, err = run.RunCase(context.Background(), testProblem().TestCases[0])
	require.NoError(t, err)

	req := exec.calls[0]
	// python multipliers: time x3, memory x2, plus the 500ms overhead.
	assert.Equal(t, int64(3500), req.TimeLimitMs)
	assert.Equal(t, int64(64*1024*2), req.MemoryLimitKB)
	assert.Equal(t, "1 2\n", req.Stdin)
}

func TestRunCaseExecutorFailure(t *testing.T) {
	exec := &fakeExecutor{errs: []error{errors.New("sandbox unavailable")}}
	h := newTestHarness(t, exec)
	lang, err := LookupLanguage("python")
	require.NoError(t, err)

	run, err := h.Prepare(context.Background(), "print(3)", lang, testProblem())
	require.NoError(t, err)
	defer run.Close()

	result, err := run.RunCase(context.Background(), testProblem().TestCases[0])
	require.Error(t, err)
	assert.Equal(t, types.VerdictInternalError, result.Verdict)
}
