package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional update loses a race.
	ErrConflict = errors.New("concurrent modification")
	// ErrAccountNotFound means the target account of a job does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrJobTerminal is returned when work is requested on a finished job.
	ErrJobTerminal = errors.New("job already finished")
	// ErrInvalidTransition is returned for disallowed status changes.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrUnsupportedSource means no adapter handles the job's source kind.
	ErrUnsupportedSource = errors.New("unsupported source")
	// ErrInvalidPayload means a queue message failed validation.
	ErrInvalidPayload = errors.New("invalid job payload")
	// ErrSourceNotFound means the referenced file does not exist.
	ErrSourceNotFound = errors.New("source file not found")
	// ErrSourceTooLarge means the referenced file exceeds the size limit.
	ErrSourceTooLarge = errors.New("source file too large")
	// ErrAttemptsExhausted means a job used up its delivery attempts
	// without an attempt reporting back.
	ErrAttemptsExhausted = errors.New("delivery attempts exhausted")
)

// ParseError is a structural failure to read a source file.
type ParseError struct {
	Source string
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s: line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ExtractionError is a failure while turning a document into candidate
// records. Permanent marks failures that a retry cannot fix, such as an
// unreadable PDF.
type ExtractionError struct {
	Stage     string
	Permanent bool
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// RowError rejects a single candidate record without aborting the batch.
type RowError struct {
	Row    int
	Field  string
	Value  string
	Reason string
}

func (e *RowError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("row %d: invalid %s %q: %s", e.Row, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("row %d: invalid %s: %s", e.Row, e.Field, e.Reason)
}

// IsPermanent reports whether retrying the job cannot change the outcome.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrUnsupportedSource) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrSourceTooLarge) ||
		errors.Is(err, ErrAttemptsExhausted) {
		return true
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return true
	}
	var extractErr *ExtractionError
	if errors.As(err, &extractErr) {
		return extractErr.Permanent
	}
	return false
}

// UserMessage returns the message safe to show to the owner of a job.
func UserMessage(err error) string {
	var parseErr *ParseError
	var extractErr *ExtractionError
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return "The selected account no longer exists."
	case errors.Is(err, ErrUnsupportedSource):
		return "This file type is not supported. Upload a CSV or PDF statement."
	case errors.Is(err, ErrSourceNotFound):
		return "The uploaded file could not be found."
	case errors.Is(err, ErrSourceTooLarge):
		return "The uploaded file is too large."
	case errors.Is(err, ErrAttemptsExhausted):
		return "Processing the statement did not finish. Upload it again."
	case errors.As(err, &parseErr):
		return "The statement file could not be read. Check that it is a valid CSV with date and amount columns."
	case errors.As(err, &extractErr) && extractErr.Permanent:
		return "No readable text was found in the PDF statement."
	default:
		return "Failed to process the bank statement."
	}
}

// NewErrorDetails builds the structured failure record for err. Stack holds
// the chain of wrapped errors, outermost first.
func NewErrorDetails(err error) *ErrorDetails {
	if err == nil {
		return nil
	}
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return &ErrorDetails{
		Message:             err.Error(),
		Stack:               strings.Join(chain, "\n"),
		UserFriendlyMessage: UserMessage(err),
	}
}
