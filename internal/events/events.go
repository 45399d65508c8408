// Package events publishes job results to external observers.
//
// The harness emits one Event per result line it prints. Sinks forward
// events to a NATS subject tree or a socket.io namespace; Multi fans out to
// several sinks at once.
package events

import (
	"errors"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	// KindResult is the final outcome of a job.
	KindResult Kind = "result"
	// KindProgress is a "still running" notice.
	KindProgress Kind = "progress"
	// KindSummary closes a run.
	KindSummary Kind = "summary"
)

// Event is the wire form shared by every sink.
type Event struct {
	RunID      string    `json:"run_id"`
	Kind       Kind      `json:"kind"`
	Job        string    `json:"job,omitempty"`
	Status     string    `json:"status,omitempty"`
	ReturnCode int       `json:"return_code"`
	DurationMS int64     `json:"duration_ms"`
	Time       time.Time `json:"time"`
	Passed     int       `json:"passed,omitempty"`
	Skipped    int       `json:"skipped,omitempty"`
	Failed     int       `json:"failed,omitempty"`
}

// Sink receives events. Publish must not block for long; sinks that talk to
// the network buffer or drop.
type Sink interface {
	Publish(ev Event) error
	Close() error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) error { return nil }
func (Discard) Close() error        { return nil }

// Multi forwards each event to every sink and joins their errors.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
