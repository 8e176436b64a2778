package jobs

import (
	"errors"
	"math"
	"time"
)

// RetryPolicy controls redelivery of failed messages.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy allows three attempts with exponential backoff from one
// second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2,
	}
}

// Backoff returns the delay before redelivering a message whose attempt
// number failed.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Decide classifies the outcome of handling msg.
func (p RetryPolicy) Decide(msg *Message, err error) Event {
	ev := Event{
		Queue:       msg.Queue,
		MessageID:   msg.ID,
		JobID:       jobIDOf(msg.Body),
		Attempt:     msg.Attempt,
		MaxAttempts: msg.MaxAttempts,
		Err:         err,
	}
	switch {
	case err == nil:
		ev.Type = EventCompleted
	case IsPermanent(err) || msg.Final():
		ev.Type = EventDead
	default:
		ev.Type = EventRetrying
		ev.Delay = p.Backoff(msg.Attempt)
	}
	return ev
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
