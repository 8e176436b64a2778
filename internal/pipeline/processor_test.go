package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/dvloznov/ledger-ingest/internal/jobs/inmemory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage(t *testing.T, p jobs.Payload, attempt, maxAttempts int) *jobs.Message {
	t.Helper()
	body, err := p.Encode()
	require.NoError(t, err)
	return &jobs.Message{
		ID:          uuid.New().String(),
		Queue:       "ingest-statement",
		Body:        body,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	}
}

func TestProcessor_Completes(t *testing.T) {
	f := newFixture(t, nil)
	p := NewProcessor(f.machine, zerolog.Nop())
	job := f.submit(t, "acct-1", domain.SourceKindCSV, sampleCSV)

	require.NoError(t, p.Handle(context.Background(), newMessage(t, jobs.NewPayload(job), 1, 3)))
	assert.Equal(t, domain.JobStatusCompleted, f.job(t, job.ID).Status)

	// A duplicate delivery is acknowledged without re-importing.
	require.NoError(t, p.Handle(context.Background(), newMessage(t, jobs.NewPayload(job), 1, 3)))
	assert.Len(t, f.transactions(t, job.ID), 1)
}

func TestProcessor_InvalidPayload(t *testing.T) {
	f := newFixture(t, nil)
	p := NewProcessor(f.machine, zerolog.Nop())

	err := p.Handle(context.Background(), &jobs.Message{ID: "m-1", Body: []byte(`{"v":1,"job_id":"x"}`), Attempt: 1, MaxAttempts: 3})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestProcessor_UnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	p := NewProcessor(f.machine, zerolog.Nop())
	payload := jobs.Payload{
		Version:    jobs.PayloadVersion,
		JobID:      uuid.New().String(),
		FileURL:    "/uploads/x.csv",
		AccountID:  "acct-1",
		SourceKind: domain.SourceKindCSV,
	}

	err := p.Handle(context.Background(), newMessage(t, payload, 1, 3))
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessor_RetryableFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.FetchFunc = func(context.Context, string) ([]byte, error) {
		return nil, errors.New("connection reset")
	}
	p := NewProcessor(f.machine, zerolog.Nop())
	job := f.submit(t, "acct-1", domain.SourceKindCSV, sampleCSV)

	err := p.Handle(context.Background(), newMessage(t, jobs.NewPayload(job), 1, 3))
	require.ErrorContains(t, err, "connection reset")
	assert.False(t, jobs.IsPermanent(err))

	stored := f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusProcessing, stored.Status)
	assert.Contains(t, stored.LastError, "connection reset")
	assert.Nil(t, stored.ErrorDetails)

	// The last attempt gives up.
	err = p.Handle(context.Background(), newMessage(t, jobs.NewPayload(job), 3, 3))
	assert.True(t, jobs.IsPermanent(err))

	stored = f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	require.NotNil(t, stored.ErrorDetails)
	assert.Contains(t, stored.ErrorDetails.Message, "connection reset")
}

func TestProcessor_PermanentFailure(t *testing.T) {
	f := newFixture(t, nil)
	p := NewProcessor(f.machine, zerolog.Nop())
	job := f.submit(t, "acct-missing", domain.SourceKindCSV, sampleCSV)

	err := p.Handle(context.Background(), newMessage(t, jobs.NewPayload(job), 1, 3))
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.Equal(t, domain.JobStatusFailed, f.job(t, job.ID).Status)
}

func TestProcessor_PayloadMismatch(t *testing.T) {
	f := newFixture(t, nil)
	p := NewProcessor(f.machine, zerolog.Nop())
	job := f.submit(t, "acct-1", domain.SourceKindCSV, sampleCSV)

	payload := jobs.NewPayload(job)
	payload.FileURL = "/uploads/other.csv"
	err := p.Handle(context.Background(), newMessage(t, payload, 1, 3))
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	stored := f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Empty(t, f.transactions(t, job.ID))
}

func TestProcessor_ExhaustedDeliveryFailsWithoutRunning(t *testing.T) {
	f := newFixture(t, nil)
	var fetches atomic.Int32
	f.fetcher.FetchFunc = func(context.Context, string) ([]byte, error) {
		fetches.Add(1)
		return []byte(sampleCSV), nil
	}
	p := NewProcessor(f.machine, zerolog.Nop())
	job := f.submit(t, "acct-1", domain.SourceKindCSV, sampleCSV)

	// Three deliveries whose worker died before reporting back.
	for i := 0; i < 3; i++ {
		_, err := f.machine.Start(context.Background(), job.ID)
		require.NoError(t, err)
	}

	err := p.Handle(context.Background(), newMessage(t, jobs.NewPayload(job), 4, 3))
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrAttemptsExhausted)
	assert.Zero(t, fetches.Load())

	stored := f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "Processing the statement did not finish. Upload it again.", stored.ErrorDetails.UserFriendlyMessage)
	assert.Empty(t, f.transactions(t, job.ID))

	// Later copies find the job terminal.
	require.NoError(t, p.Handle(context.Background(), newMessage(t, jobs.NewPayload(job), 5, 3)))
}

func TestProcessor_StartsShareAttemptLimit(t *testing.T) {
	f := newFixture(t, nil)
	p := NewProcessor(f.machine, zerolog.Nop())
	job := f.submit(t, "acct-1", domain.SourceKindCSV, sampleCSV)

	for i := 0; i < 3; i++ {
		_, err := f.machine.Start(context.Background(), job.ID)
		require.NoError(t, err)
	}

	// A duplicate message on its first delivery still counts against the job.
	err := p.Handle(context.Background(), newMessage(t, jobs.NewPayload(job), 1, 3))
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrAttemptsExhausted)

	stored := f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, 4, stored.Attempts)
	assert.Empty(t, f.transactions(t, job.ID))
}

func TestProcessor_WithInMemoryQueue(t *testing.T) {
	f := newFixture(t, nil)
	var calls atomic.Int32
	f.fetcher.FetchFunc = func(context.Context, string) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("temporary outage")
		}
		return []byte(sampleCSV), nil
	}

	events := make(chan jobs.Event, 8)
	q := inmemory.NewQueue(inmemory.Options{
		Buffer:  4,
		Workers: 2,
		Policy: jobs.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			Multiplier:     2,
		},
		Observer: jobs.ObserverFunc(func(ev jobs.Event) { events <- ev }),
		Log:      zerolog.Nop(),
	})
	ctx := context.Background()
	require.NoError(t, q.Start(ctx, NewProcessor(f.machine, zerolog.Nop()).Handle))
	defer q.Stop(ctx)

	job := f.submit(t, "acct-1", domain.SourceKindCSV, sampleCSV)
	require.NoError(t, q.Publish(ctx, jobs.NewPayload(job)))

	var seen []jobs.EventType
	timeout := time.After(5 * time.Second)
	for len(seen) == 0 || seen[len(seen)-1] == jobs.EventRetrying {
		select {
		case ev := <-events:
			seen = append(seen, ev.Type)
		case <-timeout:
			t.Fatalf("no terminal queue event, saw %v", seen)
		}
	}

	assert.Equal(t, []jobs.EventType{jobs.EventRetrying, jobs.EventCompleted}, seen)
	stored := f.job(t, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Len(t, f.transactions(t, job.ID), 1)
}
