package natssource

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/ontosync/registry"
)

// For returns the subject that carries events of kind.
func (s Subjects) For(kind registry.EventKind) (string, error) {
	switch kind {
	case registry.KindUnitAdded:
		return s.Added(), nil
	case registry.KindUnitUpdated:
		return s.Updated(), nil
	case registry.KindUnitRemoved:
		return s.Removed(), nil
	case registry.KindStateObserved:
		return s.State(), nil
	}
	return "", fmt.Errorf("no subject for event kind %q", kind)
}

// publisher is the part of a NATS connection a Publisher uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Publisher sends registry events to the subjects a Source listens on.
type Publisher struct {
	conn     publisher
	subjects Subjects
}

// NewPublisher creates a publisher for scope.
func NewPublisher(conn *nats.Conn, scope string) *Publisher {
	return newPublisher(conn, scope)
}

func newPublisher(conn publisher, scope string) *Publisher {
	if scope == "" {
		scope = DefaultScope
	}
	return &Publisher{conn: conn, subjects: Subjects{Scope: scope}}
}

// Publish encodes and sends one event.
func (p *Publisher) Publish(event registry.Event) error {
	subject, err := p.subjects.For(event.Kind())
	if err != nil {
		return err
	}
	data, err := registry.Encode(event)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
