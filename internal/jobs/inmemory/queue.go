package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a Queue.
type Options struct {
	Name     string
	Buffer   int
	Workers  int
	Policy   jobs.RetryPolicy
	Observer jobs.Observer
	Log      zerolog.Logger
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Messages waiting for redelivery are lost when the queue stops, so it suits
// single-instance deployments and tests.
type Queue struct {
	opts      Options
	messages  chan *jobs.Message
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	started   bool
	timers    map[*time.Timer]struct{}
	now       func() time.Time
}

// NewQueue creates a new in-memory job queue.
// Buffer determines how many messages can be queued before Publish blocks.
func NewQueue(opts Options) *Queue {
	if opts.Name == "" {
		opts.Name = "ingest-statement"
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = jobs.DefaultRetryPolicy()
	}
	return &Queue{
		opts:      opts,
		messages:  make(chan *jobs.Message, opts.Buffer),
		closeChan: make(chan struct{}),
		timers:    make(map[*time.Timer]struct{}),
		now:       time.Now,
	}
}

// Publish implements the Publisher interface.
func (q *Queue) Publish(ctx context.Context, p jobs.Payload) error {
	body, err := p.Encode()
	if err != nil {
		return err
	}

	msg := &jobs.Message{
		ID:          uuid.New().String(),
		Queue:       q.opts.Name,
		Body:        body,
		MaxAttempts: q.opts.Policy.MaxAttempts,
		EnqueuedAt:  q.now(),
	}
	return q.enqueue(ctx, msg)
}

func (q *Queue) enqueue(ctx context.Context, msg *jobs.Message) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return fmt.Errorf("queue is closed")
	}

	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// Each of the configured workers handles one message at a time.
func (q *Queue) Start(ctx context.Context, handler jobs.Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i, handler)
	}
	return nil
}

// worker processes messages from the queue.
func (q *Queue) worker(ctx context.Context, id int, handler jobs.Handler) {
	defer q.wg.Done()
	log := q.opts.Log.With().Str("queue", q.opts.Name).Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case msg := <-q.messages:
			q.process(ctx, log, msg, handler)
		}
	}
}

// process delivers msg once and settles it according to the retry policy.
func (q *Queue) process(ctx context.Context, log zerolog.Logger, msg *jobs.Message, handler jobs.Handler) {
	msg.Attempt++
	err := safeHandle(ctx, msg, handler)

	ev := q.opts.Policy.Decide(msg, err)
	if q.opts.Observer != nil {
		q.opts.Observer.Observe(ev)
	}

	if ev.Type != jobs.EventRetrying {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		log.Warn().Str("message_id", msg.ID).Msg("Queue closed, dropping retry")
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(ev.Delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		if err := q.enqueue(context.Background(), msg); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to redeliver message")
		}
	})
	q.timers[timer] = struct{}{}
}

func safeHandle(ctx context.Context, msg *jobs.Message, handler jobs.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight messages to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	for t := range q.timers {
		t.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	q.mu.Unlock()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Queue = (*Queue)(nil)
