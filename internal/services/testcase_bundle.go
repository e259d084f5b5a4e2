package services

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/arena-oj/judgeserver/internal/storage"
	"github.com/arena-oj/judgeserver/types"
)

const maxBundleBytes = 64 * 1024 * 1024

// BundleService ingests test case archives. An archive is a zip of
// paired case files (1.in/1.out, 2.in/2.out, ... and sample1.in/...),
// optionally with a manifest.json overriding points per case. The raw
// archive is kept in object storage under a versioned key so uploads
// never overwrite a live bundle; the superseded version is removed once
// the replacement is recorded.
type BundleService struct {
	problems ProblemStore
	storage  *storage.Storage
}

func NewBundleService(problems ProblemStore, store *storage.Storage) *BundleService {
	return &BundleService{problems: problems, storage: store}
}

type bundleManifest struct {
	Cases []manifestCase `json:"cases"`
}

type manifestCase struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	Points   int    `json:"points"`
	IsSample bool   `json:"is_sample"`
}

// Upload replaces a problem's test cases with the archive contents and
// stores the archive under the next bundle version. Problems with
// submissions are immutable.
func (s *BundleService) Upload(ctx context.Context, problemID int, archive []byte) (types.Problem, error) {
	if len(archive) == 0 {
		return types.Problem{}, validationErrorf("bundle archive is empty")
	}
	if len(archive) > maxBundleBytes {
		return types.Problem{}, validationErrorf(fmt.Sprintf("bundle exceeds the %d byte limit", maxBundleBytes))
	}

	problem, err := s.problems.Get(ctx, problemID)
	if err != nil {
		return types.Problem{}, err
	}
	has, err := s.problems.HasSubmissions(ctx, problemID)
	if err != nil {
		return types.Problem{}, err
	}
	if has {
		return types.Problem{}, ErrProblemImmutable
	}

	cases, err := parseBundle(archive, problem.Scoring)
	if err != nil {
		return types.Problem{}, err
	}

	sum := sha256.Sum256(archive)
	version := problem.Bundle.Version + 1
	key := fmt.Sprintf("problems/%d/bundle-v%d.zip", problemID, version)

	if s.storage == nil {
		return types.Problem{}, ErrStorageNotConfigured
	}
	if err := s.storage.Put(ctx, key, bytes.NewReader(archive), int64(len(archive)), "application/zip"); err != nil {
		return types.Problem{}, fmt.Errorf("store bundle: %w", err)
	}

	previousKey := problem.Bundle.ObjectKey

	problem.TestCases = cases
	problem.Bundle = types.TestCaseBundle{
		ObjectKey: key,
		SHA256:    hex.EncodeToString(sum[:]),
		Version:   version,
	}
	updated, err := s.problems.Update(ctx, problem)
	if err != nil {
		return types.Problem{}, err
	}

	if previousKey != "" {
		if err := s.storage.Delete(ctx, previousKey); err != nil {
			log.Printf("delete superseded bundle %s: %v", previousKey, err)
		}
	}
	return updated, nil
}

// Download streams the current bundle archive of a problem.
func (s *BundleService) Download(ctx context.Context, problemID int) (io.ReadCloser, error) {
	problem, err := s.problems.Get(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if problem.Bundle.ObjectKey == "" {
		return nil, validationErrorf("problem has no bundle")
	}
	if s.storage == nil {
		return nil, ErrStorageNotConfigured
	}
	return s.storage.Get(ctx, problem.Bundle.ObjectKey)
}

// parseBundle extracts ordered test cases from a zip archive.
func parseBundle(archive []byte, scoring types.ScoringPolicy) ([]types.TestCase, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, validationErrorf("bundle is not a valid zip archive")
	}

	files := make(map[string][]byte, len(reader.File))
	var manifest *bundleManifest
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(f.Name, "./")
		if name == "manifest.json" {
			var m bundleManifest
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, validationErrorf("manifest.json is not valid JSON")
			}
			manifest = &m
			continue
		}
		files[name] = data
	}

	if manifest != nil {
		return casesFromManifest(*manifest, files)
	}
	return casesFromNaming(files, scoring)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxBundleBytes))
}

func casesFromManifest(m bundleManifest, files map[string][]byte) ([]types.TestCase, error) {
	if len(m.Cases) == 0 {
		return nil, validationErrorf("manifest lists no cases")
	}
	cases := make([]types.TestCase, 0, len(m.Cases))
	for i, mc := range m.Cases {
		input, ok := files[mc.Input]
		if !ok {
			return nil, validationErrorf(fmt.Sprintf("manifest references missing file %s", mc.Input))
		}
		output, ok := files[mc.Output]
		if !ok {
			return nil, validationErrorf(fmt.Sprintf("manifest references missing file %s", mc.Output))
		}
		if mc.Points < 0 {
			return nil, validationErrorf("manifest points must be non-negative")
		}
		cases = append(cases, types.TestCase{
			ID:             i + 1,
			OrderID:        i + 1,
			Input:          string(input),
			ExpectedOutput: string(output),
			IsSample:       mc.IsSample,
			Points:         mc.Points,
		})
	}
	return cases, nil
}

// casesFromNaming pairs N.in with N.out and sampleN.in with sampleN.out.
// Samples come first and score nothing; under partial scoring the
// remaining 100 points are spread evenly over the hidden cases.
func casesFromNaming(files map[string][]byte, scoring types.ScoringPolicy) ([]types.TestCase, error) {
	type pair struct {
		n      int
		sample bool
	}
	var pairs []pair
	for name := range files {
		if !strings.HasSuffix(name, ".in") {
			continue
		}
		base := strings.TrimSuffix(name, ".in")
		sample := strings.HasPrefix(base, "sample")
		numPart := strings.TrimPrefix(base, "sample")
		n, err := strconv.Atoi(numPart)
		if err != nil {
			return nil, validationErrorf(fmt.Sprintf("unexpected file %s in bundle", name))
		}
		if _, ok := files[base+".out"]; !ok {
			return nil, validationErrorf(fmt.Sprintf("missing output for %s", name))
		}
		pairs = append(pairs, pair{n: n, sample: sample})
	}
	if len(pairs) == 0 {
		return nil, validationErrorf("bundle contains no test cases")
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].sample != pairs[j].sample {
			return pairs[i].sample
		}
		return pairs[i].n < pairs[j].n
	})

	hidden := 0
	for _, p := range pairs {
		if !p.sample {
			hidden++
		}
	}
	if hidden == 0 {
		return nil, validationErrorf("bundle contains only sample cases")
	}

	cases := make([]types.TestCase, 0, len(pairs))
	pointsLeft := 100
	hiddenLeft := hidden
	for i, p := range pairs {
		base := strconv.Itoa(p.n)
		if p.sample {
			base = "sample" + base
		}
		tc := types.TestCase{
			ID:             i + 1,
			OrderID:        i + 1,
			Input:          string(files[base+".in"]),
			ExpectedOutput: string(files[base+".out"]),
			IsSample:       p.sample,
		}
		if !p.sample && scoring == types.ScoringPartial {
			tc.Points = pointsLeft / hiddenLeft
			pointsLeft -= tc.Points
			hiddenLeft--
		}
		cases = append(cases, tc)
	}
	return cases, nil
}
