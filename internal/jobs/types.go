package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/go-playground/validator/v10"
)

// PayloadVersion is the current version of the ingest-statement payload.
const PayloadVersion = 1

// Payload is the message body published for every ingestion job. It carries
// only references; the worker reloads everything else from the store.
type Payload struct {
	Version    int               `json:"v" validate:"eq=1"`
	JobID      string            `json:"job_id" validate:"required,uuid"`
	FileURL    string            `json:"file_url" validate:"required"`
	AccountID  string            `json:"account_id" validate:"required"`
	SourceKind domain.SourceKind `json:"source_kind" validate:"required,oneof=csv pdf"`
}

// NewPayload builds the payload for job.
func NewPayload(job *domain.IngestionJob) Payload {
	return Payload{
		Version:    PayloadVersion,
		JobID:      job.ID,
		FileURL:    job.FileURL,
		AccountID:  job.AccountID,
		SourceKind: job.SourceKind,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the payload shape.
func (p Payload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// Encode validates and serialises the payload.
func (p Payload) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// DecodePayload parses and validates a message body. Every failure wraps
// domain.ErrInvalidPayload.
func DecodePayload(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Message is one delivery of a payload.
type Message struct {
	ID    string
	Queue string
	Body  []byte
	// Attempt counts deliveries, starting at 1.
	Attempt     int
	MaxAttempts int
	EnqueuedAt  time.Time
}

// Final reports whether a failure of this delivery will not be retried.
func (m *Message) Final() bool {
	return m.Attempt >= m.MaxAttempts
}

// Exhausted reports whether the message is delivered past its attempt
// limit, which happens when earlier deliveries never settled.
func (m *Message) Exhausted() bool {
	return m.MaxAttempts > 0 && m.Attempt > m.MaxAttempts
}

// Handler processes one delivery. Returning nil acknowledges the message.
// Returning an error marked with Permanent dead-letters it; any other error
// schedules a redelivery while attempts remain.
type Handler func(ctx context.Context, msg *Message) error

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	Publish(ctx context.Context, p Payload) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue and returns immediately.
	Start(ctx context.Context, handler Handler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// Queue is a queue that can both publish and consume.
type Queue interface {
	Publisher
	Consumer
}

// jobIDOf extracts the job id from a body for logging, ignoring errors.
func jobIDOf(body []byte) string {
	var p struct {
		JobID string `json:"job_id"`
	}
	_ = json.Unmarshal(body, &p)
	return p.JobID
}
