package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/bookrenamer/constants"
	"github.com/joseph-ayodele/bookrenamer/internal/pipeline"
	"github.com/joseph-ayodele/bookrenamer/internal/rename"
)

type memRecorder struct {
	mu      sync.Mutex
	results []pipeline.JobResult
}

func (m *memRecorder) Record(_ context.Context, _ string, r pipeline.JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

type flakyRenamer struct {
	collisions int
	calls      int
}

func (f *flakyRenamer) Apply(path, stem string) (string, error) {
	f.calls++
	dest := rename.Destination(path, stem)
	if f.calls <= f.collisions {
		return "", &rename.Error{Kind: constants.FailureRenameCollision, From: path, To: dest}
	}
	return dest, nil
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	return p
}

func TestScramble_RenamesSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Some Book.pdf")
	touch(t, dir, "Other.EPUB")
	touch(t, dir, "notes.txt")

	rec := &memRecorder{}
	s := &scrambler{
		renamer:  rename.NewExecutor(nil),
		recorder: rec,
		rng:      rand.New(rand.NewPCG(1, 2)),
		logger:   discardLogger(),
	}

	res, err := s.run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.renamed)
	assert.Equal(t, 0, res.failed)
	require.Len(t, rec.results, 2)

	digits := regexp.MustCompile(`^\d{8}\.(pdf|EPUB)$`)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "notes.txt")
	scrambled := 0
	for _, n := range names {
		if digits.MatchString(n) {
			scrambled++
		}
	}
	assert.Equal(t, 2, scrambled)

	for _, r := range rec.results {
		assert.Equal(t, constants.JobStatusRenamed, r.Status)
		assert.Equal(t, filepath.Ext(r.Path), filepath.Ext(r.NewPath))
		assert.FileExists(t, r.NewPath)
	}
}

func TestScramble_RetriesOnCollision(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mobi")

	f := &flakyRenamer{collisions: 2}
	s := &scrambler{renamer: f, rng: rand.New(rand.NewPCG(3, 4)), logger: discardLogger()}

	res, err := s.run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, res.renamed)
	assert.Equal(t, 3, f.calls)
}

func TestScramble_GivesUpAfterRepeatedCollisions(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.azw3")

	rec := &memRecorder{}
	f := &flakyRenamer{collisions: 100}
	s := &scrambler{renamer: f, recorder: rec, rng: rand.New(rand.NewPCG(5, 6)), logger: discardLogger()}

	res, err := s.run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, res.failed)
	assert.Equal(t, scrambleAttempts, f.calls)
	require.Len(t, rec.results, 1)
	assert.Equal(t, constants.FailureRenameCollision, rec.results[0].Kind)
}

func TestScrambleStem_Unique(t *testing.T) {
	s := &scrambler{rng: rand.New(rand.NewPCG(7, 8))}
	used := map[string]struct{}{}
	for range 1000 {
		n := s.stem(used)
		assert.Len(t, n, 8)
	}
	assert.Len(t, used, 1000)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, pipeline.BatchStatistics{
		BatchID:     "b1",
		Directory:   "/books",
		Discovered:  1200,
		Renamed:     1100,
		Skipped:     100,
		TotalTokens: 123456,
		Results: []pipeline.JobResult{
			{Status: constants.JobStatusSkipped, Kind: constants.FailureNoText},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Batch b1")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "123,456")
	assert.Contains(t, out, "no_extractable_text")
}
