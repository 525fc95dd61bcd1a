package registry

import (
	"sort"
	"time"
)

// Diff compares two registry snapshots keyed by unit ID and returns the
// events that move prev to next. Removals come first, then additions and
// updates, then state observations, each group ordered by unit ID.
func Diff(prev, next map[string]Unit, now time.Time) []Event {
	var removed, changed, states []Event

	for _, id := range sortedIDs(prev) {
		if _, ok := next[id]; !ok {
			removed = append(removed, UnitRemoved{Unit: prev[id]})
		}
	}

	for _, id := range sortedIDs(next) {
		unit := next[id]
		old, existed := prev[id]
		switch {
		case !existed:
			changed = append(changed, UnitAdded{Unit: unit})
		case !old.Equal(unit):
			changed = append(changed, UnitUpdated{Unit: unit})
		}

		if observed := changedStates(old.States, unit.States, now); len(observed) > 0 {
			states = append(states, StateObserved{ID: id, States: observed})
		}
	}

	events := make([]Event, 0, len(removed)+len(changed)+len(states))
	events = append(events, removed...)
	events = append(events, changed...)
	return append(events, states...)
}

func changedStates(prev, next map[string]StateValue, now time.Time) []ServiceState {
	services := make([]string, 0, len(next))
	for service := range next {
		services = append(services, service)
	}
	sort.Strings(services)

	var out []ServiceState
	for _, service := range services {
		value := next[service]
		if old, ok := prev[service]; ok && old.Equal(value) {
			continue
		}
		out = append(out, ServiceState{Service: service, Value: value, ObservedAt: now})
	}
	return out
}

// Index keys units by ID. Later duplicates win.
func Index(units []Unit) map[string]Unit {
	m := make(map[string]Unit, len(units))
	for _, u := range units {
		m[u.ID] = u
	}
	return m
}

func sortedIDs(m map[string]Unit) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
