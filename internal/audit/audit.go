package audit

import (
	"context"
	"sync"
	"time"

	"course-progression-service/internal/logger"
)

// Event kinds emitted by the progression core.
const (
	KindUnlockGranted    = "unlock.granted"
	KindAttemptSubmitted = "attempt.submitted"
	KindReviewResolved   = "review.resolved"
	KindSecurityLocked   = "security.locked"
	KindSecurityUnlocked = "security.unlocked"
	KindAttemptsGranted  = "attempts.granted"
)

// Event is one audit record.
type Event struct {
	Kind      string            `json:"kind"`
	ActorID   string            `json:"actorId,omitempty"`
	StudentID string            `json:"studentId,omitempty"`
	CourseID  string            `json:"courseId,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	At        time.Time         `json:"at"`
}

// Sink persists events somewhere durable.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// Dispatcher hands events to a sink on a background goroutine. Emit never
// blocks: when the buffer is full the event is dropped and logged.
type Dispatcher struct {
	sinks  []Sink
	log    *logger.Logger
	events chan Event
	wg     sync.WaitGroup
	once   sync.Once
}

func NewDispatcher(log *logger.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{
		sinks:  sinks,
		log:    log,
		events: make(chan Event, buffer),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case d.events <- ev:
	default:
		d.log.Warn("audit buffer full, dropping event", "kind", ev.Kind, "subject", ev.Subject)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.events {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sink.Write(ctx, ev); err != nil {
				d.log.Warn("audit sink write failed", "kind", ev.Kind, "error", err)
			}
			cancel()
		}
	}
}

// Close drains pending events and stops the dispatcher.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.events)
	})
	d.wg.Wait()
}

// LogSink writes events to the structured log.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Write(_ context.Context, ev Event) error {
	kv := []interface{}{
		"kind", ev.Kind,
		"actor", ev.ActorID,
		"student", ev.StudentID,
		"course", ev.CourseID,
		"subject", ev.Subject,
		"at", ev.At,
	}
	for k, v := range ev.Fields {
		kv = append(kv, k, v)
	}
	s.log.Info("audit", kv...)
	return nil
}
