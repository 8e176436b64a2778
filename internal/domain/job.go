package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of an ingestion job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting for a worker.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusProcessing indicates a worker has claimed the job.
	JobStatusProcessing JobStatus = "PROCESSING"
	// JobStatusCompleted indicates all valid transactions were committed.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates nothing was committed.
	JobStatusFailed JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// PROCESSING to PROCESSING covers redelivery of an unacknowledged attempt.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusProcessing || next.Terminal()
	default:
		return false
	}
}

// ParseJobStatus validates a status string, accepting any case.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// SourceKind selects the adapter used to extract a job's file.
type SourceKind string

const (
	SourceKindCSV SourceKind = "csv"
	SourceKindPDF SourceKind = "pdf"
)

// ParseSourceKind validates a source kind string.
func ParseSourceKind(s string) (SourceKind, error) {
	switch kind := SourceKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case SourceKindCSV, SourceKindPDF:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedSource, s)
}

// DetectSourceKind infers the source kind from a file name, falling back to
// the content type.
func DetectSourceKind(filename, contentType string) (SourceKind, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".csv":
		return SourceKindCSV, nil
	case ".pdf":
		return SourceKindPDF, nil
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "text/csv"):
		return SourceKindCSV, nil
	case strings.HasPrefix(ct, "application/pdf"):
		return SourceKindPDF, nil
	}
	return "", fmt.Errorf("%w: cannot infer kind of %q", ErrUnsupportedSource, filename)
}

// ErrorDetails is the structured failure record stored on a FAILED job.
type ErrorDetails struct {
	Message             string `json:"message"`
	Stack               string `json:"stack,omitempty"`
	UserFriendlyMessage string `json:"userFriendlyMessage,omitempty"`
}

// IngestionJob tracks one uploaded file from submission to a terminal state.
type IngestionJob struct {
	ID            string        `json:"id"`
	FileURL       string        `json:"fileUrl"`
	AccountID     string        `json:"accountId"`
	SourceKind    SourceKind    `json:"sourceKind"`
	Status        JobStatus     `json:"status"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"lastError,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	StartedAt     *time.Time    `json:"startedAt,omitempty"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	ResultSummary *string       `json:"resultSummary,omitempty"`
	ErrorDetails  *ErrorDetails `json:"errorDetails,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *IngestionJob) Clone() *IngestionJob {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.ResultSummary != nil {
		s := *j.ResultSummary
		c.ResultSummary = &s
	}
	if j.ErrorDetails != nil {
		d := *j.ErrorDetails
		c.ErrorDetails = &d
	}
	return &c
}
