package jobs

import (
	"time"

	"github.com/rs/zerolog"
)

// EventType is the outcome of one delivery.
type EventType string

const (
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventDead      EventType = "dead"
)

// Event reports what a queue did with a delivery.
type Event struct {
	Type        EventType
	Queue       string
	MessageID   string
	JobID       string
	Attempt     int
	MaxAttempts int
	// Delay is set for retrying events.
	Delay time.Duration
	Err   error
}

// Observer receives queue events. Implementations must not block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// LogObserver writes every event to a logger.
type LogObserver struct {
	log zerolog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(log zerolog.Logger) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) Observe(ev Event) {
	var e *zerolog.Event
	switch ev.Type {
	case EventCompleted:
		e = o.log.Info()
	case EventRetrying:
		e = o.log.Warn().Dur("delay", ev.Delay)
	default:
		e = o.log.Error()
	}
	if ev.Err != nil {
		e = e.Err(ev.Err)
	}
	e.Str("queue", ev.Queue).
		Str("message_id", ev.MessageID).
		Str("job_id", ev.JobID).
		Int("attempt", ev.Attempt).
		Int("max_attempts", ev.MaxAttempts).
		Msgf("Queue message %s", ev.Type)
}

// Observers fans an event out to several observers.
type Observers []Observer

func (obs Observers) Observe(ev Event) {
	for _, o := range obs {
		if o != nil {
			o.Observe(ev)
		}
	}
}
