package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/bookrenamer/constants"
)

// BatchStatistics aggregates one run. It is returned by value once the batch completes.
type BatchStatistics struct {
	BatchID      string
	Directory    string
	DryRun       bool
	Discovered   int
	Renamed      int
	Resolved     int // dry run only
	Skipped      int
	Failed       int
	TotalTokens  int
	TotalCalls   int
	PeakInFlight int
	Start        time.Time
	End          time.Time
	Results      []JobResult
}

// Elapsed is the wall time of the batch.
func (s BatchStatistics) Elapsed() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// AvgTokensPerFile averages over discovered files; zero when none were found.
func (s BatchStatistics) AvgTokensPerFile() float64 {
	if s.Discovered == 0 {
		return 0
	}
	return float64(s.TotalTokens) / float64(s.Discovered)
}

// AvgTimePerFile averages wall time over discovered files; zero when none were found.
func (s BatchStatistics) AvgTimePerFile() time.Duration {
	if s.Discovered == 0 {
		return 0
	}
	return s.Elapsed() / time.Duration(s.Discovered)
}

// AvgTokensPerRename is the cost of one successful rename; zero when nothing was renamed.
func (s BatchStatistics) AvgTokensPerRename() float64 {
	if s.Renamed == 0 {
		return 0
	}
	return float64(s.TotalTokens) / float64(s.Renamed)
}

// FailuresByKind counts skipped and failed jobs per failure kind.
func (s BatchStatistics) FailuresByKind() map[constants.FailureKind]int {
	out := make(map[constants.FailureKind]int)
	for _, r := range s.Results {
		if r.Kind != constants.FailureNone {
			out[r.Kind]++
		}
	}
	return out
}

// collector is the single aggregation point shared by job goroutines.
type collector struct {
	mu    sync.Mutex
	stats BatchStatistics
}

func (c *collector) add(r JobResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Results = append(c.stats.Results, r)
	c.stats.TotalTokens += r.TokenCost
	c.stats.TotalCalls += r.Calls
	switch r.Status {
	case constants.JobStatusRenamed:
		c.stats.Renamed++
	case constants.JobStatusResolved:
		c.stats.Resolved++
	case constants.JobStatusSkipped:
		c.stats.Skipped++
	case constants.JobStatusFailed:
		c.stats.Failed++
	}
}

// snapshot closes the batch and returns the results in discovery order.
func (c *collector) snapshot(end time.Time) BatchStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.End = end
	out := c.stats
	out.Results = append([]JobResult(nil), c.stats.Results...)
	sort.Slice(out.Results, func(i, j int) bool { return out.Results[i].Path < out.Results[j].Path })
	return out
}
