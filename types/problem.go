package types

import "time"

// ScoringPolicy selects how per-test-case results are combined into a
// submission verdict and score.
type ScoringPolicy string

const (
	// ScoringBinary awards the problem only when every test case passes.
	// Judging stops at the first failing case.
	ScoringBinary ScoringPolicy = "binary"

	// ScoringPartial runs every test case and sums the points of the
	// passing ones.
	ScoringPartial ScoringPolicy = "partial"
)

// Problem represents a coding problem in the arena judge system.
// It contains metadata, resource limits, and the ordered test cases
// used for evaluating submissions.
type Problem struct {
	// ID is the unique identifier of the problem.
	ID int `json:"id" db:"id"`

	// Slug is the URL-friendly unique name of the problem.
	Slug string `json:"slug" db:"slug"`

	// Title is the human-readable name of the problem.
	Title string `json:"title" db:"title"`

	// Description contains the full problem statement, including
	// input/output specifications and examples.
	Description string `json:"description" db:"description"`

	// TimeLimitMs is the maximum allowed wall-clock time per test case,
	// expressed in milliseconds.
	TimeLimitMs int64 `json:"time_limit_ms" db:"time_limit_ms"`

	// MemoryLimitMB is the maximum allowed memory usage per test case,
	// expressed in megabytes.
	MemoryLimitMB int64 `json:"memory_limit_mb" db:"memory_limit_mb"`

	// Visible indicates whether the problem is listed publicly.
	// Invisible problems are reachable only through contests that
	// include them.
	Visible bool `json:"visible" db:"visible"`

	// Scoring selects the verdict aggregation policy for this problem.
	Scoring ScoringPolicy `json:"scoring" db:"scoring"`

	// TestCases is the ordered list of test cases. The order is the
	// judging order: binary verdicts report the first failing case by
	// this order.
	TestCases []TestCase `json:"test_cases" db:"test_cases"`

	// Bundle references the immutable archive the test case data was
	// imported from, when one exists. Bundles are stored in object
	// storage and identified by a content hash; re-uploading creates a
	// new version so historical verdicts stay reproducible.
	Bundle TestCaseBundle `json:"bundle" db:"bundle"`

	// CreatedAt is the timestamp at which the problem was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the problem.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MaxScore returns the maximum attainable score for the problem under
// its scoring policy. Sample cases never carry points.
func (p Problem) MaxScore() int {
	if p.Scoring == ScoringBinary {
		return 100
	}
	total := 0
	for _, tc := range p.TestCases {
		if !tc.IsSample {
			total += tc.Points
		}
	}
	return total
}

// TestCase represents a single input/output pair used to evaluate a
// submission.
type TestCase struct {
	// ID is the unique identifier of the test case.
	ID int `json:"id" db:"id"`

	// OrderID defines the judging order of this test case within its
	// problem, starting at 0.
	OrderID int `json:"order_id" db:"order_id"`

	// ProblemID is the identifier of the problem this test case belongs to.
	ProblemID int `json:"problem_id" db:"problem_id"`

	// Input is the input data provided to the candidate program.
	Input string `json:"input" db:"input"`

	// ExpectedOutput is the output produced by a correct solution.
	ExpectedOutput string `json:"expected_output" db:"expected_output"`

	// IsSample indicates whether this test case is shown to users as
	// part of the statement. Sample cases are judged but carry no points.
	IsSample bool `json:"is_sample" db:"is_sample"`

	// Points is the number of points awarded if this test case passes
	// under the partial scoring policy. Must be non-negative.
	Points int `json:"points" db:"points"`
}

// TestCaseBundle references a versioned test case archive in object
// storage. The SHA256 hash uniquely identifies the bundle contents and is
// used for integrity verification and deduplication.
type TestCaseBundle struct {
	// ObjectKey is the path of the archive in object storage.
	ObjectKey string `json:"object_key" db:"object_key"`

	// SHA256 is the hex-encoded SHA-256 hash of the archive contents.
	SHA256 string `json:"sha256" db:"sha256"`

	// Version indicates the version number of this bundle. Versions are
	// append-only; an upload that changes the hash bumps the version.
	Version int `json:"version" db:"version"`
}

// Language represents a supported programming language configuration
// used by the judge.
type Language struct {
	// Name is the identifier of the language used in submissions.
	Name string `json:"name"`

	// SourceFile is the file name the submitted code is written to.
	SourceFile string `json:"source_file"`

	// CompileCommand is the command used to compile source code, with
	// {source_file} and {output_file} placeholders. Empty for
	// interpreted languages.
	CompileCommand string `json:"compile_command"`

	// RunCommand is the command used to execute the program, with
	// {output_file} or {source_file} placeholders.
	RunCommand string `json:"run_command"`

	// TimeMultiplier is a factor applied to time limits for this language.
	TimeMultiplier float64 `json:"time_multiplier"`

	// MemoryMultiplier is a factor applied to memory limits for this language.
	MemoryMultiplier float64 `json:"memory_multiplier"`
}
