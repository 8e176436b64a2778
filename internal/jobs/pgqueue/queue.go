// Package pgqueue is a durable job queue stored in a PostgreSQL table.
// Workers claim messages with FOR UPDATE SKIP LOCKED, so any number of
// worker processes can share one queue. A claimed message becomes visible
// again once its visibility timeout lapses, which gives at-least-once
// delivery when a worker dies mid-job.
package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options configures a Queue.
type Options struct {
	Name              string
	Workers           int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	Policy            jobs.RetryPolicy
	Observer          jobs.Observer
	Log               zerolog.Logger
}

// Queue implements jobs.Queue on the queue_messages table.
type Queue struct {
	pool *pgxpool.Pool
	opts Options

	mu      sync.Mutex
	stop    chan struct{}
	group   *errgroup.Group
	started bool
	stopped bool
}

// New creates a queue on pool. The queue_messages table must exist.
func New(pool *pgxpool.Pool, opts Options) *Queue {
	if opts.Name == "" {
		opts.Name = "ingest-statement"
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = jobs.DefaultRetryPolicy()
	}
	return &Queue{pool: pool, opts: opts, stop: make(chan struct{})}
}

// Publish inserts a ready message.
func (q *Queue) Publish(ctx context.Context, p jobs.Payload) error {
	body, err := p.Encode()
	if err != nil {
		return err
	}
	_, err = q.pool.Exec(ctx,
		`INSERT INTO queue_messages (queue, body, max_attempts) VALUES ($1, $2::text::jsonb, $3)`,
		q.opts.Name, string(body), q.opts.Policy.MaxAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (q *Queue) Close() error {
	return nil
}

// Start launches the polling workers and returns immediately.
func (q *Queue) Start(ctx context.Context, handler jobs.Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return fmt.Errorf("queue is closed")
	}
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		log := q.opts.Log.With().Str("queue", q.opts.Name).Int("worker", i).Logger()
		g.Go(func() error {
			q.poll(gctx, log, handler)
			return nil
		})
	}
	q.group = g
	return nil
}

// Stop stops claiming new messages and waits for in-flight handlers.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.stop)
	g := q.group
	q.mu.Unlock()

	if g == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) poll(ctx context.Context, log zerolog.Logger, handler jobs.Handler) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-timer.C:
		}

		msg, err := q.claim(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("Failed to claim message")
			}
			timer.Reset(q.opts.PollInterval)
		case msg == nil:
			if n, err := q.Sweep(ctx); err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("Failed to sweep abandoned messages")
				}
			} else if n > 0 {
				log.Warn().Int64("count", n).Msg("Dead-lettered abandoned messages")
			}
			timer.Reset(q.opts.PollInterval)
		default:
			q.process(ctx, log, msg, handler)
			// Look for more work right away.
			timer.Reset(0)
		}
	}
}

// claim locks the oldest available message and increments its attempt.
// A message whose deliveries all went unsettled is claimed once more, past
// its limit, so the handler can fail the job; after that it is only swept.
func (q *Queue) claim(ctx context.Context) (*jobs.Message, error) {
	var (
		msg  jobs.Message
		id   int64
		body string
	)
	err := q.pool.QueryRow(ctx,
		`UPDATE queue_messages
		 SET attempt = attempt + 1,
		     locked_until = NOW() + make_interval(secs => $2)
		 WHERE id = (
		     SELECT id FROM queue_messages
		     WHERE queue = $1
		       AND status = 'ready'
		       AND available_at <= NOW()
		       AND attempt <= max_attempts
		       AND (locked_until IS NULL OR locked_until < NOW())
		     ORDER BY available_at, id
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 RETURNING id, body::text, attempt, max_attempts, enqueued_at`,
		q.opts.Name, q.opts.VisibilityTimeout.Seconds(),
	).Scan(&id, &body, &msg.Attempt, &msg.MaxAttempts, &msg.EnqueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msg.ID = fmt.Sprintf("%d", id)
	msg.Queue = q.opts.Name
	msg.Body = []byte(body)
	return &msg, nil
}

func (q *Queue) process(ctx context.Context, log zerolog.Logger, msg *jobs.Message, handler jobs.Handler) {
	err := safeHandle(ctx, msg, handler)
	ev := q.opts.Policy.Decide(msg, err)
	if q.opts.Observer != nil {
		q.opts.Observer.Observe(ev)
	}

	// Settle with a fresh context so a shutdown does not strand the message.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if serr := q.settle(settleCtx, msg.ID, ev); serr != nil {
		log.Error().Err(serr).Str("message_id", msg.ID).Msg("Failed to settle message")
	}
}

func (q *Queue) settle(ctx context.Context, id string, ev jobs.Event) error {
	var lastErr string
	if ev.Err != nil {
		lastErr = ev.Err.Error()
	}

	var err error
	switch ev.Type {
	case jobs.EventCompleted:
		_, err = q.pool.Exec(ctx,
			`UPDATE queue_messages SET status = 'done', locked_until = NULL, finished_at = NOW()
			 WHERE id = $1::text::bigint`, id)
	case jobs.EventRetrying:
		_, err = q.pool.Exec(ctx,
			`UPDATE queue_messages
			 SET available_at = NOW() + make_interval(secs => $2), locked_until = NULL, last_error = $3
			 WHERE id = $1::text::bigint`, id, ev.Delay.Seconds(), lastErr)
	default:
		_, err = q.pool.Exec(ctx,
			`UPDATE queue_messages SET status = 'dead', locked_until = NULL, last_error = $2, finished_at = NOW()
			 WHERE id = $1::text::bigint`, id, lastErr)
	}
	return err
}

// Sweep dead-letters messages that are past their attempt limit and whose
// last delivery never settled. It returns how many it moved.
func (q *Queue) Sweep(ctx context.Context) (int64, error) {
	tag, err := q.pool.Exec(ctx,
		`UPDATE queue_messages
		 SET status = 'dead', locked_until = NULL, finished_at = NOW(),
		     last_error = 'delivery attempts exhausted'
		 WHERE queue = $1
		   AND status = 'ready'
		   AND attempt > max_attempts
		   AND locked_until < NOW()`,
		q.opts.Name,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats reports message counts by status.
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM queue_messages WHERE queue = $1 GROUP BY status`, q.opts.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

func safeHandle(ctx context.Context, msg *jobs.Message, handler jobs.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

var _ jobs.Queue = (*Queue)(nil)
