// Package delta translates registry change events into triple-level change
// sets: ordered deletes followed by ordered inserts.
package delta

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/ontosync/rdf"
	"github.com/c360studio/ontosync/registry"
	"github.com/c360studio/ontosync/vocabulary/ontology"
)

// Errors reported for input the compiler cannot translate. They are not
// fatal: the affected delta is dropped and callers log and continue.
var (
	// ErrUnmappedServiceType marks a service type with no mapping.
	ErrUnmappedServiceType = errors.New("unmapped service type")
	// ErrUnmappedValue marks a discrete value or dimension the mapping lacks.
	ErrUnmappedValue = errors.New("unmapped service value")
	// ErrInvalidInput marks events missing required fields.
	ErrInvalidInput = errors.New("invalid compiler input")
)

// relationPredicates lists every relation kind a unit may carry.
var relationPredicates = []string{
	ontology.PredicateHasLocation,
	ontology.PredicateHasConnection,
	ontology.PredicateHasLabel,
}

// Compiler turns registry events into change sets.
type Compiler struct {
	retainHistory bool
	now           func() time.Time
	newID         func() string
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithRetainHistory switches state deltas from replacing the current value
// to appending time-stamped observations.
func WithRetainHistory(retain bool) Option {
	return func(c *Compiler) {
		c.retainHistory = retain
	}
}

// WithClock overrides the time source used for observations without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) {
		c.now = now
	}
}

// WithIDGenerator overrides how observation and interval nodes are named.
func WithIDGenerator(newID func() string) Option {
	return func(c *Compiler) {
		c.newID = newID
	}
}

// NewCompiler creates a compiler.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RetainsHistory reports whether state deltas append observations.
func (c *Compiler) RetainsHistory() bool {
	return c.retainHistory
}

// Compile translates one event. For StateObserved events carrying several
// states, unmapped entries are dropped and reported through the returned
// error while the rest are still compiled into the change set.
func (c *Compiler) Compile(event registry.Event) (rdf.ChangeSet, error) {
	switch e := event.(type) {
	case registry.UnitAdded:
		return c.unitAdded(e.Unit)
	case registry.UnitUpdated:
		return c.unitUpdated(e.Unit)
	case registry.UnitRemoved:
		return c.unitRemoved(e.Unit)
	case registry.StateObserved:
		return c.CompileStates(e.ID, e.States)
	case nil:
		return rdf.ChangeSet{}, fmt.Errorf("%w: nil event", ErrInvalidInput)
	default:
		return rdf.ChangeSet{}, fmt.Errorf("%w: unsupported event %T", ErrInvalidInput, event)
	}
}

// CompileReplace produces a change set that rewrites a unit's identity and
// relations regardless of what the store currently holds. Used for full
// resynchronization.
func (c *Compiler) CompileReplace(unit registry.Unit) (rdf.ChangeSet, error) {
	if err := validUnit(unit); err != nil {
		return rdf.ChangeSet{}, err
	}
	subject := rdf.Identifier(unit.ID)
	deletes := append([]rdf.Triple{rdf.NewTriple(subject, rdf.IsA, rdf.Any)}, relationDeletes(subject)...)
	inserts := append(typeTriples(subject, unit), relationTriples(subject, unit)...)
	return rdf.ChangeSet{Deletes: deletes, Inserts: inserts}, nil
}

func (c *Compiler) unitAdded(unit registry.Unit) (rdf.ChangeSet, error) {
	if err := validUnit(unit); err != nil {
		return rdf.ChangeSet{}, err
	}
	subject := rdf.Identifier(unit.ID)
	inserts := append(typeTriples(subject, unit), relationTriples(subject, unit)...)
	return rdf.ChangeSet{Inserts: inserts}, nil
}

func (c *Compiler) unitUpdated(unit registry.Unit) (rdf.ChangeSet, error) {
	if err := validUnit(unit); err != nil {
		return rdf.ChangeSet{}, err
	}
	subject := rdf.Identifier(unit.ID)
	return rdf.ChangeSet{
		Deletes: relationDeletes(subject),
		Inserts: relationTriples(subject, unit),
	}, nil
}

func (c *Compiler) unitRemoved(unit registry.Unit) (rdf.ChangeSet, error) {
	if err := validUnit(unit); err != nil {
		return rdf.ChangeSet{}, err
	}
	subject := rdf.Identifier(unit.ID)
	deletes := append([]rdf.Triple{rdf.NewTriple(subject, rdf.IsA, rdf.Any)}, relationDeletes(subject)...)
	return rdf.ChangeSet{Deletes: deletes}, nil
}

// CompileStates compiles several observations of one unit into a single
// change set. Entries that fail are skipped; their errors are joined.
func (c *Compiler) CompileStates(unitID string, states []registry.ServiceState) (rdf.ChangeSet, error) {
	if unitID == "" {
		return rdf.ChangeSet{}, fmt.Errorf("%w: state observation without unit id", ErrInvalidInput)
	}

	var (
		merged rdf.ChangeSet
		errs   []error
	)
	for _, state := range states {
		cs, err := c.CompileState(unitID, state)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		merged = merged.Merge(cs)
	}
	return merged, errors.Join(errs...)
}

// CompileState compiles a single service observation.
func (c *Compiler) CompileState(unitID string, state registry.ServiceState) (rdf.ChangeSet, error) {
	if unitID == "" {
		return rdf.ChangeSet{}, fmt.Errorf("%w: state observation without unit id", ErrInvalidInput)
	}
	mapping, ok := ontology.LookupService(state.Service)
	if !ok {
		return rdf.ChangeSet{}, fmt.Errorf("%w: %q on unit %s", ErrUnmappedServiceType, state.Service, unitID)
	}

	values, err := valueTriples(mapping, state.Value)
	if err != nil {
		return rdf.ChangeSet{}, fmt.Errorf("unit %s: %w", unitID, err)
	}

	unit := rdf.Identifier(unitID)
	if !c.retainHistory {
		cs := rdf.ChangeSet{}
		for _, v := range values {
			cs.Deletes = append(cs.Deletes, rdf.NewTriple(unit, v.predicate, rdf.Any))
			cs.Inserts = append(cs.Inserts, rdf.NewTriple(unit, v.predicate, v.object))
		}
		return cs, nil
	}

	return c.observation(unit, mapping, state, values)
}

// observation builds the history-mode node for one state value.
func (c *Compiler) observation(unit rdf.Term, mapping ontology.ServiceMapping, state registry.ServiceState, values []predicateObject) (rdf.ChangeSet, error) {
	start := state.ObservedAt
	if start.IsZero() {
		start = c.now()
	}
	end := state.ValidUntil
	if end.IsZero() {
		end = start
	}
	interval, err := rdf.NewTimeInterval(start, end)
	if err != nil {
		return rdf.ChangeSet{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	obs := rdf.Identifier("obs_" + c.newID())
	iv := rdf.Identifier("interval_" + c.newID())

	inserts := []rdf.Triple{
		rdf.NewTriple(obs, rdf.IsA, rdf.Identifier(ontology.ClassObservation)),
		rdf.NewTriple(obs, rdf.Identifier(ontology.PredicateHasUnit), unit),
		rdf.NewTriple(obs, rdf.Identifier(ontology.PredicateHasService), rdf.Identifier(mapping.Service)),
	}
	for _, v := range values {
		inserts = append(inserts, rdf.NewTriple(obs, v.predicate, v.object))
	}
	inserts = append(inserts,
		rdf.NewTriple(obs, rdf.Identifier(ontology.PredicateHasTimeInterval), iv),
		rdf.NewTriple(iv, rdf.IsA, rdf.Identifier(ontology.ClassTimeInterval)),
		rdf.NewTriple(iv, rdf.Identifier(ontology.PredicateHasStart), rdf.DateTime(interval.Start)),
		rdf.NewTriple(iv, rdf.Identifier(ontology.PredicateHasEnd), rdf.DateTime(interval.End)),
	)
	return rdf.ChangeSet{Inserts: inserts}, nil
}

type predicateObject struct {
	predicate rdf.Term
	object    rdf.Term
}

// valueTriples resolves a state value against its mapping. Discrete values
// point at the shared value resource; continuous values become literals.
func valueTriples(mapping ontology.ServiceMapping, value registry.StateValue) ([]predicateObject, error) {
	switch mapping.Kind {
	case ontology.Discrete:
		if !mapping.AcceptsValue(value.Discrete) {
			return nil, fmt.Errorf("%w: %s has no value %q", ErrUnmappedValue, mapping.Service, value.Discrete)
		}
		return []predicateObject{{
			predicate: rdf.Identifier(mapping.Predicate),
			object:    rdf.Identifier(mapping.ValueResource(value.Discrete)),
		}}, nil

	case ontology.Continuous:
		out := make([]predicateObject, 0, len(mapping.Dimensions))
		for _, dim := range mapping.Dimensions {
			x, ok := value.Continuous[dim.Name]
			if !ok {
				return nil, fmt.Errorf("%w: %s missing dimension %q", ErrUnmappedValue, mapping.Service, dim.Name)
			}
			if math.IsInf(x, 0) || math.IsNaN(x) {
				return nil, fmt.Errorf("%w: %s dimension %q is not finite", ErrUnmappedValue, mapping.Service, dim.Name)
			}
			out = append(out, predicateObject{
				predicate: rdf.Identifier(dim.Predicate),
				object:    rdf.Literal(strconv.FormatFloat(x, 'f', -1, 64), dim.Datatype),
			})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %s has unknown kind %s", ErrUnmappedServiceType, mapping.Service, mapping.Kind)
	}
}

func typeTriples(subject rdf.Term, unit registry.Unit) []rdf.Triple {
	classes := ontology.ClassesForUnit(unit.Type)
	out := make([]rdf.Triple, 0, len(classes))
	for _, class := range classes {
		out = append(out, rdf.NewTriple(subject, rdf.IsA, rdf.Identifier(class)))
	}
	return out
}

func relationTriples(subject rdf.Term, unit registry.Unit) []rdf.Triple {
	var out []rdf.Triple
	if unit.LocationID != "" {
		out = append(out, rdf.NewTriple(subject,
			rdf.Identifier(ontology.PredicateHasLocation), rdf.Identifier(unit.LocationID)))
	}
	for _, conn := range unit.ConnectionIDs {
		out = append(out, rdf.NewTriple(subject,
			rdf.Identifier(ontology.PredicateHasConnection), rdf.Identifier(conn)))
	}
	if unit.Label != "" {
		out = append(out, rdf.NewTriple(subject,
			rdf.Identifier(ontology.PredicateHasLabel), rdf.String(unit.Label)))
	}
	return out
}

func relationDeletes(subject rdf.Term) []rdf.Triple {
	out := make([]rdf.Triple, 0, len(relationPredicates))
	for _, p := range relationPredicates {
		out = append(out, rdf.NewTriple(subject, rdf.Identifier(p), rdf.Any))
	}
	return out
}

func validUnit(unit registry.Unit) error {
	if err := unit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
