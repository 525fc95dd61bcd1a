// Package registry defines the domain registry model consumed by the
// synchronizer: units, their service states, and the change events that
// registry sources deliver.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/c360studio/ontosync/vocabulary/ontology"
)

// ErrInvalidUnit is returned when a unit lacks required fields.
var ErrInvalidUnit = errors.New("invalid unit")

// Unit is a typed registry entity.
type Unit struct {
	ID            string            `json:"id" yaml:"id"`
	Type          ontology.UnitType `json:"type" yaml:"type"`
	Label         string            `json:"label,omitempty" yaml:"label,omitempty"`
	LocationID    string            `json:"location_id,omitempty" yaml:"location_id,omitempty"`
	ConnectionIDs []string          `json:"connection_ids,omitempty" yaml:"connection_ids,omitempty"`

	// States holds the last known value per service type. The enabled or
	// disabled state of a unit is reported as ENABLING_STATE_SERVICE.
	States map[string]StateValue `json:"states,omitempty" yaml:"states,omitempty"`
}

// Validate checks that the unit can be translated to triples.
func (u Unit) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidUnit)
	}
	return nil
}

// Equal compares identity and relation attributes, ignoring states.
func (u Unit) Equal(other Unit) bool {
	return u.ID == other.ID &&
		u.Type == other.Type &&
		u.Label == other.Label &&
		u.LocationID == other.LocationID &&
		slices.Equal(u.ConnectionIDs, other.ConnectionIDs)
}

// ServiceStates returns the unit's known states ordered by service, stamped
// with observedAt.
func (u Unit) ServiceStates(observedAt time.Time) []ServiceState {
	services := make([]string, 0, len(u.States))
	for service := range u.States {
		services = append(services, service)
	}
	sort.Strings(services)

	out := make([]ServiceState, 0, len(services))
	for _, service := range services {
		out = append(out, ServiceState{Service: service, Value: u.States[service], ObservedAt: observedAt})
	}
	return out
}

// StateValue is a service state: either a discrete enumerated value or a set
// of named numeric dimensions.
type StateValue struct {
	Discrete   string             `json:"discrete,omitempty" yaml:"discrete,omitempty"`
	Continuous map[string]float64 `json:"continuous,omitempty" yaml:"continuous,omitempty"`
}

// Equal compares two state values.
func (v StateValue) Equal(other StateValue) bool {
	if v.Discrete != other.Discrete || len(v.Continuous) != len(other.Continuous) {
		return false
	}
	for k, x := range v.Continuous {
		if y, ok := other.Continuous[k]; !ok || x != y {
			return false
		}
	}
	return true
}

// ServiceState is one observed service value.
type ServiceState struct {
	Service string     `json:"service"`
	Value   StateValue `json:"value"`

	// ObservedAt is when the value was observed; zero means now.
	ObservedAt time.Time `json:"observed_at,omitempty"`
	// ValidUntil closes the validity window in history mode; zero means
	// the window is the instant ObservedAt.
	ValidUntil time.Time `json:"valid_until,omitempty"`
}
