package pipeline

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/bookrenamer/constants"
)

// DocumentJob is one file under consideration. It is owned by the goroutine processing it
// and is dropped once its JobResult has been aggregated.
type DocumentJob struct {
	ID                string
	Path              string
	Stem              string
	Format            string
	SampleText        string
	Language          string
	LanguageDefaulted bool
	Status            constants.JobStatus
	Kind              constants.FailureKind
	Reason            string
	Phase             string
	Name              string
	NewPath           string
	TokenCost         int
	Calls             int
	Started           time.Time
	ExtractDuration   time.Duration
}

func newJob(path string) *DocumentJob {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return &DocumentJob{
		ID:      uuid.New().String(),
		Path:    path,
		Stem:    strings.TrimSuffix(base, ext),
		Format:  constants.MapExtToFormat(ext),
		Status:  constants.JobStatusDiscovered,
		Started: time.Now(),
	}
}

// addTokens only ever grows the cost; nothing is added once the job is terminal.
func (j *DocumentJob) addTokens(n int) {
	if n > 0 && !j.Status.IsTerminal() {
		j.TokenCost += n
	}
}

func (j *DocumentJob) finish(status constants.JobStatus, kind constants.FailureKind, reason string) JobResult {
	j.Status = status
	j.Kind = kind
	j.Reason = reason
	return j.result()
}

func (j *DocumentJob) result() JobResult {
	return JobResult{
		JobID:             j.ID,
		Path:              j.Path,
		Stem:              j.Stem,
		Format:            j.Format,
		Status:            j.Status,
		Kind:              j.Kind,
		Reason:            j.Reason,
		Phase:             j.Phase,
		Name:              j.Name,
		NewPath:           j.NewPath,
		Language:          j.Language,
		LanguageDefaulted: j.LanguageDefaulted,
		TokenCost:         j.TokenCost,
		Calls:             j.Calls,
		SampleChars:       len([]rune(j.SampleText)),
		Started:           j.Started,
		ExtractDuration:   j.ExtractDuration,
		Elapsed:           time.Since(j.Started),
	}
}

// JobResult is the immutable record of a job at its terminal state.
type JobResult struct {
	JobID             string
	Path              string
	Stem              string
	Format            string
	Status            constants.JobStatus
	Kind              constants.FailureKind
	Reason            string
	Phase             string
	Name              string
	NewPath           string
	Language          string
	LanguageDefaulted bool
	TokenCost         int
	Calls             int
	SampleChars       int
	Started           time.Time
	ExtractDuration   time.Duration
	Elapsed           time.Duration
}

// FileName is the base name of the original path.
func (r JobResult) FileName() string { return filepath.Base(r.Path) }
