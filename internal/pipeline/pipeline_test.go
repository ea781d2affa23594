package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/bookrenamer/constants"
	"github.com/joseph-ayodele/bookrenamer/internal/extract"
	"github.com/joseph-ayodele/bookrenamer/internal/llm"
	"github.com/joseph-ayodele/bookrenamer/internal/rename"
	"github.com/joseph-ayodele/bookrenamer/internal/resolve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor returns canned results keyed by file name; unknown files get generic text.
type fakeExtractor struct {
	mu    sync.Mutex
	texts map[string]string
	errs  map[string]error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, path string) (extract.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	name := filepath.Base(path)
	if err, ok := f.errs[name]; ok {
		return extract.Result{}, err
	}
	if t, ok := f.texts[name]; ok {
		return extract.Result{Text: t}, nil
	}
	return extract.Result{Text: "Some leading text of the book, long enough to look like prose."}, nil
}

// scripted answers primary prompts by stem and fallback prompts by stem.
type scripted struct {
	primary  map[string]llm.Completion
	fallback map[string]llm.Completion
	fail     map[string]bool
	calls    atomic.Int64
}

func (s *scripted) Complete(_ context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	s.calls.Add(1)
	fallback := strings.Contains(req.Prompt, "was too vague")
	for stem, c := range s.pick(fallback) {
		if strings.Contains(req.Prompt, "`"+stem+"`") {
			if s.fail[stem] {
				return llm.Completion{}, errors.New("503 service unavailable")
			}
			return c, nil
		}
	}
	return llm.Completion{}, fmt.Errorf("unscripted prompt: %.60q", req.Prompt)
}

func (s *scripted) pick(fallback bool) map[string]llm.Completion {
	if fallback {
		return s.fallback
	}
	return s.primary
}

type memRecorder struct {
	mu      sync.Mutex
	batches map[string][]JobResult
	err     error
}

func (m *memRecorder) Record(_ context.Context, batchID string, r JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batches == nil {
		m.batches = map[string][]JobResult{}
	}
	m.batches[batchID] = append(m.batches[batchID], r)
	return m.err
}

type fakePinger struct {
	reply string
	ok    bool
	err   error
	model string
}

func (p *fakePinger) Ping(_ context.Context, model string) (string, bool, error) {
	p.model = model
	return p.reply, p.ok, p.err
}

func touchFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}
}

func english() resolve.Detector {
	return resolve.DetectorFunc(func(string) (string, bool) { return "en", true })
}

func newOrch(c llm.Completer, ex extract.TextExtractor, opts ...Option) *Orchestrator {
	opts = append([]Option{
		WithDetector(english()),
		WithResolveOptions(resolve.Options{PrimaryModel: "primary", FallbackModel: "fallback"}),
	}, opts...)
	return NewOrchestrator(c, ex, rename.NewExecutor(nil), nil, opts...)
}

func resultFor(t *testing.T, s BatchStatistics, name string) JobResult {
	t.Helper()
	for _, r := range s.Results {
		if r.FileName() == name {
			return r
		}
	}
	t.Fatalf("no result for %s", name)
	return JobResult{}
}

func assertInvariants(t *testing.T, s BatchStatistics) {
	t.Helper()
	sum := 0
	for _, r := range s.Results {
		sum += r.TokenCost
		assert.True(t, r.Status.IsTerminal(), r.Path)
	}
	assert.Equal(t, sum, s.TotalTokens)
	assert.LessOrEqual(t, s.Renamed, s.Discovered)
	assert.Equal(t, s.Discovered, len(s.Results))
	assert.Equal(t, s.Discovered, s.Renamed+s.Resolved+s.Skipped+s.Failed)
}

func TestRunBatch_CleanFilenameResolvedByPrimary(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "Clean Title - John Smith.pdf")
	c := &scripted{primary: map[string]llm.Completion{
		"Clean Title - John Smith": {Text: "Clean Title - John Smith", TotalTokens: 50},
	}}

	stats, err := newOrch(c, &fakeExtractor{}).RunBatch(context.Background(), dir)
	require.NoError(t, err)

	r := resultFor(t, stats, "Clean Title - John Smith.pdf")
	assert.Equal(t, constants.JobStatusRenamed, r.Status)
	assert.Equal(t, filepath.Join(dir, "Clean Title - John Smith.pdf"), r.NewPath)
	assert.Equal(t, 1, r.Calls)
	assert.Equal(t, string(resolve.PhasePrimary), r.Phase)
	assert.Equal(t, int64(1), c.calls.Load())
	assert.FileExists(t, filepath.Join(dir, "Clean Title - John Smith.pdf"))
	assert.Equal(t, 1, stats.Renamed)
	assert.Equal(t, 50, stats.TotalTokens)
	assertInvariants(t, stats)
}

func TestRunBatch_SentinelThenFallback(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "scan0043.epub")
	c := &scripted{
		primary:  map[string]llm.Completion{"scan0043": {Text: "MORE", TotalTokens: 30}},
		fallback: map[string]llm.Completion{"scan0043": {Text: "Real Title - Real Author", TotalTokens: 120}},
	}

	stats, err := newOrch(c, &fakeExtractor{}).RunBatch(context.Background(), dir)
	require.NoError(t, err)

	r := resultFor(t, stats, "scan0043.epub")
	assert.Equal(t, constants.JobStatusRenamed, r.Status)
	assert.Equal(t, 150, r.TokenCost)
	assert.Equal(t, 2, r.Calls)
	assert.FileExists(t, filepath.Join(dir, "Real Title - Real Author.epub"))
	assert.NoFileExists(t, filepath.Join(dir, "scan0043.epub"))
	assertInvariants(t, stats)
}

func TestRunBatch_ConverterFailureSkipsWithoutCalls(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "book.mobi")
	c := &scripted{}
	ex := &fakeExtractor{errs: map[string]error{"book.mobi": errors.New("ebook-convert: exit status 1")}}

	stats, err := newOrch(c, ex).RunBatch(context.Background(), dir)
	require.NoError(t, err)

	r := resultFor(t, stats, "book.mobi")
	assert.Equal(t, constants.JobStatusSkipped, r.Status)
	assert.Equal(t, constants.FailureExtraction, r.Kind)
	assert.Zero(t, c.calls.Load())
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Renamed)
	assert.Zero(t, stats.TotalTokens)
	assertInvariants(t, stats)
}

func TestRunBatch_RejectedReplyLeavesFile(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "weird.pdf")
	c := &scripted{primary: map[string]llm.Completion{"weird": {Text: "not a valid response", TotalTokens: 9}}}

	stats, err := newOrch(c, &fakeExtractor{}).RunBatch(context.Background(), dir)
	require.NoError(t, err)

	r := resultFor(t, stats, "weird.pdf")
	assert.Equal(t, constants.JobStatusFailed, r.Status)
	assert.Equal(t, constants.FailureValidationRejection, r.Kind)
	assert.Contains(t, r.Reason, "validation rejection")
	assert.Equal(t, 9, r.TokenCost)
	assert.FileExists(t, filepath.Join(dir, "weird.pdf"))
	assertInvariants(t, stats)
}

func TestRunBatch_EmptyTextSkipped(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "blank.pdf")
	c := &scripted{}
	ex := &fakeExtractor{texts: map[string]string{"blank.pdf": " \n\t "}}

	stats, err := newOrch(c, ex).RunBatch(context.Background(), dir)
	require.NoError(t, err)

	r := resultFor(t, stats, "blank.pdf")
	assert.Equal(t, constants.JobStatusSkipped, r.Status)
	assert.Equal(t, constants.FailureNoText, r.Kind)
	assert.Equal(t, "no extractable text", r.Reason)
	assert.Zero(t, c.calls.Load())
	assert.Zero(t, stats.PeakInFlight)
}

func TestRunBatch_MixedBatchIsolation(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "ok.pdf", "down.epub", "taken.pdf", "Taken Title - Someone.pdf", "notes.txt", "cover.JPG")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755))
	c := &scripted{
		primary: map[string]llm.Completion{
			"ok":                    {Text: "Ok Book - An Author", TotalTokens: 10},
			"down":                  {},
			"taken":                 {Text: "Taken Title - Someone", TotalTokens: 5},
			"Taken Title - Someone": {Text: "Taken Title - Someone", TotalTokens: 4},
		},
		fail: map[string]bool{"down": true},
	}
	rec := &memRecorder{}

	stats, err := newOrch(c, &fakeExtractor{}, WithRecorder(rec)).RunBatch(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Discovered)
	assert.Equal(t, constants.JobStatusRenamed, resultFor(t, stats, "ok.pdf").Status)

	down := resultFor(t, stats, "down.epub")
	assert.Equal(t, constants.JobStatusFailed, down.Status)
	assert.Equal(t, constants.FailureServiceCall, down.Kind)
	assert.Zero(t, down.TokenCost)

	taken := resultFor(t, stats, "taken.pdf")
	assert.Equal(t, constants.JobStatusFailed, taken.Status)
	assert.Equal(t, constants.FailureRenameCollision, taken.Kind)
	assert.FileExists(t, filepath.Join(dir, "taken.pdf"))
	assert.Equal(t, "Taken Title - Someone.pdf", readFile(t, filepath.Join(dir, "Taken Title - Someone.pdf")))

	assert.Equal(t, constants.JobStatusRenamed, resultFor(t, stats, "Taken Title - Someone.pdf").Status)
	assertInvariants(t, stats)

	require.Len(t, rec.batches, 1)
	assert.Len(t, rec.batches[stats.BatchID], 4)
	assert.Equal(t, 2, stats.FailuresByKind()[constants.FailureServiceCall]+stats.FailuresByKind()[constants.FailureRenameCollision])
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestRunBatch_ConcurrencyNeverExceedsGate(t *testing.T) {
	const n = 3
	dir := t.TempDir()
	var names []string
	for i := 0; i < 24; i++ {
		names = append(names, fmt.Sprintf("file%02d.pdf", i))
	}
	touchFiles(t, dir, names...)

	var cur, peak atomic.Int64
	c := llm.CompleterFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
		v := cur.Add(1)
		defer cur.Add(-1)
		for {
			p := peak.Load()
			if v <= p || peak.CompareAndSwap(p, v) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if !strings.Contains(req.Prompt, "was too vague") {
			return llm.Completion{Text: "MORE", TotalTokens: 1}, nil
		}
		stem := strings.SplitN(strings.SplitN(req.Prompt, "`", 2)[1], "`", 2)[0]
		return llm.Completion{Text: "Title " + stem + " - Author", TotalTokens: 2}, nil
	})

	stats, err := newOrch(c, &fakeExtractor{}, WithConcurrency(n), WithWorkers(16)).RunBatch(context.Background(), dir)
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int64(n))
	assert.LessOrEqual(t, stats.PeakInFlight, n)
	assert.Equal(t, 24, stats.Renamed)
	assert.Equal(t, 24*3, stats.TotalTokens)
	assert.Equal(t, 48, stats.TotalCalls)
	assertInvariants(t, stats)
}

func TestRunBatch_WorkersNeverCapConcurrency(t *testing.T) {
	const n = 6
	dir := t.TempDir()
	var names []string
	for i := 0; i < n; i++ {
		names = append(names, fmt.Sprintf("book%d.epub", i))
	}
	touchFiles(t, dir, names...)

	var cur atomic.Int64
	ready := make(chan struct{})
	var once sync.Once
	c := llm.CompleterFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
		if cur.Add(1) == n {
			once.Do(func() { close(ready) })
		}
		select {
		case <-ready:
		case <-time.After(2 * time.Second):
		}
		stem := strings.SplitN(strings.SplitN(req.Prompt, "`", 2)[1], "`", 2)[0]
		return llm.Completion{Text: "Title " + stem + " - Author", TotalTokens: 1}, nil
	})

	o := newOrch(c, &fakeExtractor{}, WithConcurrency(n), WithWorkers(2))
	assert.Equal(t, n, o.workers)

	stats, err := o.RunBatch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, n, stats.PeakInFlight)
	assert.Equal(t, n, stats.Renamed)
	assertInvariants(t, stats)
}

func TestRunBatch_CallTimeoutFailsJob(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "slow.pdf")
	c := llm.CompleterFunc(func(ctx context.Context, _ llm.CompletionRequest) (llm.Completion, error) {
		<-ctx.Done()
		return llm.Completion{}, ctx.Err()
	})

	start := time.Now()
	stats, err := newOrch(c, &fakeExtractor{}, WithCallTimeout(30*time.Millisecond)).RunBatch(context.Background(), dir)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	r := resultFor(t, stats, "slow.pdf")
	assert.Equal(t, constants.JobStatusFailed, r.Status)
	assert.Equal(t, constants.FailureServiceCall, r.Kind)
	assert.Contains(t, r.Reason, "timeout")
}

func TestRunBatch_PreflightFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "a.pdf")
	ex := &fakeExtractor{}
	p := &fakePinger{err: errors.New("dial tcp: connection refused")}

	stats, err := newOrch(&scripted{}, ex, WithPreflight(p, "fallback-model")).RunBatch(context.Background(), dir)
	require.Error(t, err)
	assert.Equal(t, "fallback-model", p.model)
	assert.Zero(t, ex.calls)
	assert.Zero(t, stats.Discovered)
	assert.FileExists(t, filepath.Join(dir, "a.pdf"))
}

func TestRunBatch_PreflightUnexpectedReplyContinues(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "A - B.pdf")
	c := &scripted{primary: map[string]llm.Completion{"A - B": {Text: "A - B", TotalTokens: 1}}}
	p := &fakePinger{reply: "Hello!", ok: false}

	stats, err := newOrch(c, &fakeExtractor{}, WithPreflight(p, "m")).RunBatch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Renamed)
}

func TestRunBatch_DryRunDoesNotRename(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "x.pdf")
	c := &scripted{primary: map[string]llm.Completion{"x": {Text: "Dry Book - Some Author", TotalTokens: 3}}}

	stats, err := newOrch(c, &fakeExtractor{}, WithDryRun(true)).RunBatch(context.Background(), dir)
	require.NoError(t, err)

	r := resultFor(t, stats, "x.pdf")
	assert.Equal(t, constants.JobStatusResolved, r.Status)
	assert.Equal(t, filepath.Join(dir, "Dry Book - Some Author.pdf"), r.NewPath)
	assert.FileExists(t, filepath.Join(dir, "x.pdf"))
	assert.True(t, stats.DryRun)
	assert.Equal(t, 1, stats.Resolved)
	assert.Zero(t, stats.Renamed)
	assertInvariants(t, stats)
}

func TestRunBatch_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "a.pdf", "b.epub")
	c := &scripted{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := newOrch(c, &fakeExtractor{}).RunBatch(ctx, dir)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Skipped)
	for _, r := range stats.Results {
		assert.Equal(t, constants.FailureCancelled, r.Kind)
	}
	assert.Zero(t, c.calls.Load())
	assertInvariants(t, stats)
}

func TestRunBatch_EmptyDirectory(t *testing.T) {
	stats, err := newOrch(&scripted{}, &fakeExtractor{}).RunBatch(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, stats.Discovered)
	assert.Zero(t, stats.AvgTokensPerFile())
	assert.Zero(t, stats.AvgTimePerFile())
	assert.Zero(t, stats.AvgTokensPerRename())
	assert.False(t, stats.End.Before(stats.Start))
}

func TestRunBatch_MissingDirectory(t *testing.T) {
	_, err := newOrch(&scripted{}, &fakeExtractor{}).RunBatch(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestRunBatch_LedgerErrorIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "A - B.pdf")
	c := &scripted{primary: map[string]llm.Completion{"A - B": {Text: "A - B", TotalTokens: 1}}}
	rec := &memRecorder{err: errors.New("disk full")}

	stats, err := newOrch(c, &fakeExtractor{}, WithRecorder(rec)).RunBatch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Renamed)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	touchFiles(t, dir, "b.PDF", "a.epub", "c.Mobi", "d.azw3", "e.txt", "f.pdf.bak", "noext")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.epub"), 0o755))
	touchFiles(t, filepath.Join(dir, "sub.epub"), "inner.pdf")

	got, err := Discover(dir)
	require.NoError(t, err)

	var names []string
	for _, p := range got {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"a.epub", "b.PDF", "c.Mobi", "d.azw3"}, names)
}

func TestGate_BoundsAndReleases(t *testing.T) {
	var cur, peak atomic.Int64
	slow := llm.CompleterFunc(func(ctx context.Context, _ llm.CompletionRequest) (llm.Completion, error) {
		v := cur.Add(1)
		defer cur.Add(-1)
		for {
			p := peak.Load()
			if v <= p || peak.CompareAndSwap(p, v) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		if v%2 == 0 {
			return llm.Completion{}, errors.New("flaky")
		}
		return llm.Completion{TotalTokens: 1}, nil
	})
	g := NewGate(slow, 2, time.Second, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Complete(context.Background(), llm.CompletionRequest{Model: "m"})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, 2, g.Peak())

	// every slot came back even though half the calls failed
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.sem.Acquire(ctx, 2))
	g.sem.Release(2)
}

func TestGate_TimeoutStartsAfterAdmission(t *testing.T) {
	block := make(chan struct{})
	var deadlines []time.Duration
	var mu sync.Mutex
	c := llm.CompleterFunc(func(ctx context.Context, _ llm.CompletionRequest) (llm.Completion, error) {
		dl, _ := ctx.Deadline()
		mu.Lock()
		deadlines = append(deadlines, time.Until(dl))
		mu.Unlock()
		<-block
		return llm.Completion{}, nil
	})
	g := NewGate(c, 1, 200*time.Millisecond, 0, nil)

	done := make(chan struct{})
	go func() {
		_, _ = g.Complete(context.Background(), llm.CompletionRequest{})
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	second := make(chan struct{})
	go func() {
		_, _ = g.Complete(context.Background(), llm.CompletionRequest{})
		close(second)
	}()
	time.Sleep(50 * time.Millisecond)
	block <- struct{}{}
	<-done
	block <- struct{}{}
	<-second

	require.Len(t, deadlines, 2)
	// the queued call still got (nearly) its full budget
	assert.Greater(t, deadlines[1], 150*time.Millisecond)
}

func TestGate_RateLimited(t *testing.T) {
	var calls atomic.Int64
	c := llm.CompleterFunc(func(context.Context, llm.CompletionRequest) (llm.Completion, error) {
		calls.Add(1)
		return llm.Completion{}, nil
	})
	g := NewGate(c, 4, time.Second, 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := g.Complete(ctx, llm.CompletionRequest{})
	require.NoError(t, err)
	_, err = g.Complete(ctx, llm.CompletionRequest{})
	require.Error(t, err, "second call must wait ~1s for a token and hit the deadline")
	assert.Equal(t, int64(1), calls.Load())
}

func TestBatchStatistics_Averages(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := BatchStatistics{Discovered: 4, Renamed: 2, TotalTokens: 100, Start: start, End: start.Add(8 * time.Second)}
	assert.Equal(t, 25.0, s.AvgTokensPerFile())
	assert.Equal(t, 50.0, s.AvgTokensPerRename())
	assert.Equal(t, 2*time.Second, s.AvgTimePerFile())
	assert.Equal(t, 8*time.Second, s.Elapsed())

	var zero BatchStatistics
	assert.Zero(t, zero.Elapsed())
	assert.Zero(t, zero.AvgTokensPerFile())
}

func TestDocumentJob_TokensFixedAtTerminal(t *testing.T) {
	j := newJob("/x/Some Book.pdf")
	assert.Equal(t, "Some Book", j.Stem)
	assert.Equal(t, constants.PDF, j.Format)

	j.addTokens(5)
	j.addTokens(-3)
	assert.Equal(t, 5, j.TokenCost)

	r := j.finish(constants.JobStatusFailed, constants.FailureServiceCall, "x")
	j.addTokens(10)
	assert.Equal(t, 5, j.TokenCost)
	assert.Equal(t, 5, r.TokenCost)
}
