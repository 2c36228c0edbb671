// pkg/schema/events.go
package schema

// OutcomeKind is the per-job outcome shown in the final report and carried
// in batch events. not_reconciled marks a finished export that was never
// downloaded.
type OutcomeKind string

const (
	OutcomeSucceeded         OutcomeKind = "succeeded"
	OutcomeSkippedUnresolved OutcomeKind = "skipped_unresolved"
	OutcomeSkippedEmpty      OutcomeKind = "skipped_empty"
	OutcomeProbeFailed       OutcomeKind = "probe_failed"
	OutcomeSubmissionFailed  OutcomeKind = "submission_failed"
	OutcomeRemoteFailed      OutcomeKind = "remote_failed"
	OutcomeTrackerTimeout    OutcomeKind = "tracker_timeout"
	OutcomeCancelled         OutcomeKind = "cancelled"
	OutcomeInterrupted       OutcomeKind = "interrupted"
	OutcomeMissingArtifact   OutcomeKind = "missing_artifact"
	OutcomeAmbiguousArtifact OutcomeKind = "ambiguous_artifact"
	OutcomeLocalWriteFailed  OutcomeKind = "local_write_failed"
	OutcomePurgeFailed       OutcomeKind = "purge_failed"
	OutcomeNotReconciled     OutcomeKind = "not_reconciled"
)

// Clean reports whether the outcome counts toward a fully successful batch:
// the job succeeded or had nothing to export.
func (k OutcomeKind) Clean() bool {
	switch k {
	case OutcomeSucceeded, OutcomeSkippedUnresolved, OutcomeSkippedEmpty:
		return true
	}
	return false
}

// Skipped reports whether the job never reached the compute service.
func (k OutcomeKind) Skipped() bool {
	switch k {
	case OutcomeSkippedUnresolved, OutcomeSkippedEmpty, OutcomeProbeFailed:
		return true
	}
	return false
}

// FailureType classifies a failure for consumers deciding whether to retry.
type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

// FailureTypeOf maps an outcome to the failure class consumers act on.
func FailureTypeOf(k OutcomeKind) FailureType {
	switch k {
	case OutcomeSucceeded, OutcomeSkippedUnresolved, OutcomeSkippedEmpty:
		return ""
	case OutcomeRemoteFailed, OutcomeAmbiguousArtifact:
		return FailureTypePermanent
	default:
		return FailureTypeRetryable
	}
}

// TaskLifecycleEvent is published whenever a remote task changes state.
type TaskLifecycleEvent struct {
	BatchID     string      `json:"batch_id"`
	JobKey      string      `json:"job_key"`
	Region      string      `json:"region"`
	Window      string      `json:"window"`
	Indicator   string      `json:"indicator"`
	OutputName  string      `json:"output_name"`
	RemoteID    string      `json:"remote_id,omitempty"`
	State       string      `json:"state"`
	PollErrors  int         `json:"poll_errors,omitempty"`
	Error       string      `json:"error,omitempty"`
	FailureType FailureType `json:"failure_type,omitempty"`
	HappenedAt  int64       `json:"happened_at"`
}

// JobResult is one row of the final report.
type JobResult struct {
	JobKey     string      `json:"job_key"`
	OutputName string      `json:"output_name,omitempty"`
	Kind       OutcomeKind `json:"kind"`
	State      string      `json:"state,omitempty"`
	RemoteID   string      `json:"remote_id,omitempty"`
	LocalPath  string      `json:"local_path,omitempty"`
	Bytes      int64       `json:"bytes,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// BatchDone is published once per run after reconciliation.
type BatchDone struct {
	ID               string      `json:"id"`
	Status           string      `json:"status"`
	TotalJobs        int         `json:"total_jobs"`
	TotalSucceeded   int         `json:"total_succeeded"`
	TotalSkipped     int         `json:"total_skipped"`
	TotalFailed      int         `json:"total_failed"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	Results          []JobResult `json:"results,omitempty"`
	Error            string      `json:"error,omitempty"`
	HappenedAt       int64       `json:"happened_at"`
}
