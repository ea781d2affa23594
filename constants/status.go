package constants

// JobStatus is the lifecycle state of a single document job.
type JobStatus string

// Stable values (stored as-is in the rename ledger).
const (
	JobStatusDiscovered JobStatus = "DISCOVERED"
	JobStatusExtracted  JobStatus = "EXTRACTED"
	JobStatusResolved   JobStatus = "RESOLVED" // terminal in dry-run mode
	JobStatusRenamed    JobStatus = "RENAMED"
	JobStatusSkipped    JobStatus = "SKIPPED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusReverted   JobStatus = "REVERTED" // ledger only, set by undo
)

// IsTerminal reports whether no further stage will touch a job in this state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusRenamed, JobStatusSkipped, JobStatusFailed, JobStatusResolved, JobStatusReverted:
		return true
	}
	return false
}

// FailureKind classifies why a job ended in SKIPPED or FAILED.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureExtraction          FailureKind = "extraction_failure"
	FailureNoText              FailureKind = "no_extractable_text"
	FailureServiceCall         FailureKind = "service_call_error"
	FailureValidationRejection FailureKind = "validation_rejection"
	FailureRenameCollision     FailureKind = "rename_collision"
	FailureRenameIO            FailureKind = "rename_io_error"
	FailureCancelled           FailureKind = "cancelled"
)
