package services

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arena-oj/judgeserver/types"
)

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestParseBundleNamingConvention(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"sample1.in":  "1\n",
		"sample1.out": "1\n",
		"1.in":        "2\n",
		"1.out":       "2\n",
		"2.in":        "3\n",
		"2.out":       "3\n",
	})

	cases, err := parseBundle(archive, types.ScoringBinary)
	require.NoError(t, err)
	require.Len(t, cases, 3)

	assert.True(t, cases[0].IsSample, "samples come first")
	assert.Equal(t, "1\n", cases[0].Input)
	assert.False(t, cases[1].IsSample)
	assert.Equal(t, "2\n", cases[1].Input)
	assert.Equal(t, "3\n", cases[2].Input)
	for i, tc := range cases {
		assert.Equal(t, i+1, tc.OrderID)
	}
}

func TestParseBundlePartialPointsSpread(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"sample1.in": "s\n", "sample1.out": "s\n",
		"1.in": "a\n", "1.out": "a\n",
		"2.in": "b\n", "2.out": "b\n",
		"3.in": "c\n", "3.out": "c\n",
	})

	cases, err := parseBundle(archive, types.ScoringPartial)
	require.NoError(t, err)
	require.Len(t, cases, 4)

	assert.Equal(t, 0, cases[0].Points, "samples score nothing")
	total := 0
	for _, tc := range cases {
		total += tc.Points
	}
	assert.Equal(t, 100, total, "hidden cases split 100 points")
}

func TestParseBundleManifestOverrides(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"a.in":  "1\n",
		"a.out": "1\n",
		"b.in":  "2\n",
		"b.out": "2\n",
		"manifest.json": `{"cases":[
			{"input":"a.in","output":"a.out","points":0,"is_sample":true},
			{"input":"b.in","output":"b.out","points":100}
		]}`,
	})

	cases, err := parseBundle(archive, types.ScoringPartial)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.True(t, cases[0].IsSample)
	assert.Equal(t, 0, cases[0].Points)
	assert.Equal(t, 100, cases[1].Points)
	assert.Equal(t, "2\n", cases[1].Input)
}

func TestParseBundleErrors(t *testing.T) {
	t.Run("not a zip", func(t *testing.T) {
		_, err := parseBundle([]byte("garbage"), types.ScoringBinary)
		assert.Error(t, err)
	})

	t.Run("missing output", func(t *testing.T) {
		archive := zipArchive(t, map[string]string{"1.in": "x\n"})
		_, err := parseBundle(archive, types.ScoringBinary)
		assert.Error(t, err)
	})

	t.Run("only samples", func(t *testing.T) {
		archive := zipArchive(t, map[string]string{"sample1.in": "x\n", "sample1.out": "x\n"})
		_, err := parseBundle(archive, types.ScoringBinary)
		assert.Error(t, err)
	})

	t.Run("manifest references missing file", func(t *testing.T) {
		archive := zipArchive(t, map[string]string{
			"manifest.json": `{"cases":[{"input":"a.in","output":"a.out"}]}`,
		})
		_, err := parseBundle(archive, types.ScoringBinary)
		assert.Error(t, err)
	})
}
