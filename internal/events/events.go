// Package events publishes domain events to whatever bus is configured.
// Publishing is best effort: callers log failures and carry on, a failed
// emit never undoes a persisted change.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher emits a named event with a structured payload.
type Publisher interface {
	Emit(ctx context.Context, name string, payload interface{}) error
}

// Envelope is the wire shape used by publishers that serialize.
type Envelope struct {
	Name      string          `json:"name"`
	EmittedAt time.Time       `json:"emitted_at"`
	Payload   json.RawMessage `json:"payload"`
}

func newEnvelope(name string, payload interface{}, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return json.Marshal(Envelope{Name: name, EmittedAt: at.UTC(), Payload: raw})
}

// LogPublisher writes events to the structured log. It is the default when
// no bus is configured.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Emit implements Publisher.
func (p *LogPublisher) Emit(ctx context.Context, name string, payload interface{}) error {
	p.log.Info().
		Str("event", name).
		Interface("payload", payload).
		Msg("Domain event")
	return nil
}

// Multi fans out to several publishers and joins their errors.
type Multi []Publisher

// Emit implements Publisher.
func (m Multi) Emit(ctx context.Context, name string, payload interface{}) error {
	var errs []error
	for _, p := range m {
		if err := p.Emit(ctx, name, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorded is one captured emission.
type Recorded struct {
	Name    string
	Payload interface{}
}

// Recorder keeps emitted events in memory. Tests use it to assert on what
// was published and to simulate bus failures.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	Err    error
}

// Emit implements Publisher.
func (r *Recorder) Emit(ctx context.Context, name string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, Recorded{Name: name, Payload: payload})
	return nil
}

// Names returns the emitted event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Emit publishes through p and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, log zerolog.Logger, name string, payload interface{}) {
	if p == nil {
		return
	}
	if err := p.Emit(ctx, name, payload); err != nil {
		log.Warn().Err(err).Str("event", name).Msg("Failed to publish event")
	}
}
