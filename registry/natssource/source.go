// Package natssource receives registry changes over NATS.
//
// Subjects, relative to the configured scope:
//
//	<scope>.unit.added     registry.Envelope with a unit
//	<scope>.unit.updated   registry.Envelope with a unit
//	<scope>.unit.removed   registry.Envelope with a unit
//	<scope>.unit.state     registry.Envelope with unit_id and states
//	<scope>.snapshot       request/reply returning {"units": [...]}
//
// The envelope kind may be omitted; it is then taken from the subject.
package natssource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/ontosync/registry"
)

// DefaultScope prefixes every subject when none is configured.
const DefaultScope = "registry"

// DefaultRequestTimeout bounds a snapshot request without a deadline.
const DefaultRequestTimeout = 10 * time.Second

// SnapshotResponse is the reply to a snapshot request.
type SnapshotResponse struct {
	Units []registry.Unit `json:"units"`
	Error string          `json:"error,omitempty"`
}

// Subjects are the subjects for one scope.
type Subjects struct {
	Scope string
}

// Units is the wildcard covering all unit change subjects.
func (s Subjects) Units() string { return s.Scope + ".unit.*" }

// Added returns the subject for added units.
func (s Subjects) Added() string { return s.Scope + ".unit.added" }

// Updated returns the subject for updated units.
func (s Subjects) Updated() string { return s.Scope + ".unit.updated" }

// Removed returns the subject for removed units.
func (s Subjects) Removed() string { return s.Scope + ".unit.removed" }

// State returns the subject for state observations.
func (s Subjects) State() string { return s.Scope + ".unit.state" }

// Snapshot returns the snapshot request subject.
func (s Subjects) Snapshot() string { return s.Scope + ".snapshot" }

// kindFor maps a subject to the event kind it carries.
func (s Subjects) kindFor(subject string) (registry.EventKind, bool) {
	switch subject {
	case s.Added():
		return registry.KindUnitAdded, true
	case s.Updated():
		return registry.KindUnitUpdated, true
	case s.Removed():
		return registry.KindUnitRemoved, true
	case s.State():
		return registry.KindStateObserved, true
	}
	return "", false
}

// transport is the part of a NATS connection the source uses.
type transport interface {
	subscribe(subject string, cb nats.MsgHandler) (unsubscribe func() error, err error)
	request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

type connTransport struct {
	conn *nats.Conn
}

func (t connTransport) subscribe(subject string, cb nats.MsgHandler) (func() error, error) {
	sub, err := t.conn.Subscribe(subject, cb)
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (t connTransport) request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := t.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Source is a registry.Source fed by NATS messages.
type Source struct {
	transport transport
	subjects  Subjects
	logger    *slog.Logger

	mu          sync.Mutex
	unsubscribe func() error

	received atomic.Int64
	rejected atomic.Int64
}

var _ registry.Source = (*Source)(nil)

// Option configures a Source.
type Option func(*Source)

// WithScope sets the subject prefix.
func WithScope(scope string) Option {
	return func(s *Source) {
		if scope != "" {
			s.subjects = Subjects{Scope: strings.TrimSuffix(scope, ".")}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// New creates a source on an established connection.
func New(conn *nats.Conn, opts ...Option) *Source {
	return newSource(connTransport{conn: conn}, opts...)
}

func newSource(t transport, opts ...Option) *Source {
	s := &Source{
		transport: t,
		subjects:  Subjects{Scope: DefaultScope},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subjects returns the subjects in use.
func (s *Source) Subjects() Subjects { return s.subjects }

// Start subscribes to unit changes. One wildcard subscription keeps the
// publish order across change kinds.
func (s *Source) Start(ctx context.Context, h registry.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return fmt.Errorf("nats source already running")
	}

	unsubscribe, err := s.transport.subscribe(s.subjects.Units(), func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		s.handleMessage(ctx, msg.Subject, msg.Data, h)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.subjects.Units(), err)
	}
	s.unsubscribe = unsubscribe

	s.logger.Info("Registry NATS source started", "subject", s.subjects.Units())
	return nil
}

func (s *Source) handleMessage(ctx context.Context, subject string, data []byte, h registry.Handler) {
	event, err := s.decode(subject, data)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Warn("Registry message rejected", "subject", subject, "error", err)
		return
	}
	s.received.Add(1)
	h(ctx, event)
}

// decode parses a message body. The subject decides the kind when the
// envelope does not name one and must agree with it when it does.
func (s *Source) decode(subject string, data []byte) (registry.Event, error) {
	kind, ok := s.subjects.kindFor(subject)
	if !ok {
		return nil, fmt.Errorf("unexpected subject %s", subject)
	}

	var env registry.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	switch env.Kind {
	case "":
		env.Kind = kind
	case kind:
	default:
		return nil, fmt.Errorf("%s event on %s", env.Kind, subject)
	}
	return env.Event()
}

// Snapshot requests the full registry.
func (s *Source) Snapshot(ctx context.Context) ([]registry.Unit, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	data, err := s.transport.request(ctx, s.subjects.Snapshot(), nil)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", s.subjects.Snapshot(), err)
	}

	var resp SnapshotResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("snapshot: %s", resp.Error)
	}

	var errs []error
	for i, u := range resp.Units {
		if err := u.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("unit %d: %w", i+1, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return resp.Units, nil
}

// Stop unsubscribes.
func (s *Source) Stop() error {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe == nil {
		return nil
	}
	s.logger.Info("Registry NATS source stopped",
		"received", s.received.Load(),
		"rejected", s.rejected.Load())
	return unsubscribe()
}
