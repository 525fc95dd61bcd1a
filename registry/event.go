package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventKind names a registry change.
type EventKind string

const (
	KindUnitAdded     EventKind = "unit_added"
	KindUnitUpdated   EventKind = "unit_updated"
	KindUnitRemoved   EventKind = "unit_removed"
	KindStateObserved EventKind = "state_observed"
)

// Event is a registry change notification. Exactly one of the concrete
// event types below implements it.
type Event interface {
	Kind() EventKind
	UnitID() string
}

// UnitAdded announces a new unit.
type UnitAdded struct {
	Unit Unit `json:"unit"`
}

// UnitUpdated carries the new state of an existing unit.
type UnitUpdated struct {
	Unit Unit `json:"unit"`
}

// UnitRemoved announces that a unit left the registry.
type UnitRemoved struct {
	Unit Unit `json:"unit"`
}

// StateObserved carries one or more service values observed on a unit.
type StateObserved struct {
	ID     string         `json:"unit_id"`
	States []ServiceState `json:"states"`
}

func (e UnitAdded) Kind() EventKind     { return KindUnitAdded }
func (e UnitAdded) UnitID() string      { return e.Unit.ID }
func (e UnitUpdated) Kind() EventKind   { return KindUnitUpdated }
func (e UnitUpdated) UnitID() string    { return e.Unit.ID }
func (e UnitRemoved) Kind() EventKind   { return KindUnitRemoved }
func (e UnitRemoved) UnitID() string    { return e.Unit.ID }
func (e StateObserved) Kind() EventKind { return KindStateObserved }
func (e StateObserved) UnitID() string  { return e.ID }

// Handler receives registry events. Handlers may be called concurrently.
type Handler func(ctx context.Context, event Event)

// Source delivers registry change events and full snapshots.
type Source interface {
	// Start begins delivering events to h until ctx is cancelled or Stop
	// is called.
	Start(ctx context.Context, h Handler) error
	// Snapshot returns every unit currently in the registry.
	Snapshot(ctx context.Context) ([]Unit, error)
	Stop() error
}

// Envelope is the wire form of an Event.
type Envelope struct {
	Kind   EventKind      `json:"kind"`
	Unit   *Unit          `json:"unit,omitempty"`
	UnitID string         `json:"unit_id,omitempty"`
	States []ServiceState `json:"states,omitempty"`
}

// Encode wraps an event into its wire form.
func Encode(e Event) ([]byte, error) {
	env := Envelope{Kind: e.Kind()}
	switch ev := e.(type) {
	case UnitAdded:
		env.Unit = &ev.Unit
	case UnitUpdated:
		env.Unit = &ev.Unit
	case UnitRemoved:
		env.Unit = &ev.Unit
	case StateObserved:
		env.UnitID = ev.ID
		env.States = ev.States
	default:
		return nil, fmt.Errorf("unsupported event type %T", e)
	}
	return json.Marshal(env)
}

// Decode parses the wire form of an event.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return env.Event()
}

// Event converts the envelope into its typed event.
func (env Envelope) Event() (Event, error) {
	switch env.Kind {
	case KindUnitAdded, KindUnitUpdated, KindUnitRemoved:
		if env.Unit == nil {
			return nil, fmt.Errorf("%s event without unit", env.Kind)
		}
		switch env.Kind {
		case KindUnitAdded:
			return UnitAdded{Unit: *env.Unit}, nil
		case KindUnitUpdated:
			return UnitUpdated{Unit: *env.Unit}, nil
		default:
			return UnitRemoved{Unit: *env.Unit}, nil
		}
	case KindStateObserved:
		if env.UnitID == "" {
			return nil, fmt.Errorf("%s event without unit_id", env.Kind)
		}
		return StateObserved{ID: env.UnitID, States: env.States}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}
