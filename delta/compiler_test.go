package delta

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ontosync/rdf"
	"github.com/c360studio/ontosync/registry"
	"github.com/c360studio/ontosync/sparql"
	"github.com/c360studio/ontosync/vocabulary/ontology"
)

func TestCompile_UnitLifecycle(t *testing.T) {
	c := NewCompiler()
	unit := registry.Unit{ID: "u1", Type: ontology.UnitTypeLight, LocationID: "loc1"}

	added, err := c.Compile(registry.UnitAdded{Unit: unit})
	require.NoError(t, err)
	assert.Empty(t, added.Deletes)
	require.Len(t, added.Inserts, 2)
	assert.Equal(t, "ont:u1 a ont:Light", added.Inserts[0].String())
	assert.Equal(t, "ont:u1 ont:hasLocation ont:loc1", added.Inserts[1].String())

	unit.LocationID = "loc2"
	updated, err := c.Compile(registry.UnitUpdated{Unit: unit})
	require.NoError(t, err)
	require.Len(t, updated.Deletes, 3)
	assert.Equal(t, "ont:u1 ont:hasLocation ?", updated.Deletes[0].String())
	assert.Equal(t, "ont:u1 ont:hasConnection ?", updated.Deletes[1].String())
	assert.Equal(t, "ont:u1 ont:hasLabel ?", updated.Deletes[2].String())
	require.Len(t, updated.Inserts, 1)
	assert.Equal(t, "ont:u1 ont:hasLocation ont:loc2", updated.Inserts[0].String())

	removed, err := c.Compile(registry.UnitRemoved{Unit: unit})
	require.NoError(t, err)
	assert.Empty(t, removed.Inserts)
	require.Len(t, removed.Deletes, 4)
	assert.Equal(t, "ont:u1 a ?", removed.Deletes[0].String())
}

func TestCompile_UnsafeIdentifiers(t *testing.T) {
	c := NewCompiler()
	unit := registry.Unit{ID: "a", Type: ontology.UnitTypeLight, LocationID: "ont:living room"}

	cs, err := c.Compile(registry.UnitAdded{Unit: unit})
	require.NoError(t, err)
	require.Len(t, cs.Inserts, 2)
	assert.Equal(t, "ont:a a ont:Light", cs.Inserts[0].String())
	assert.Equal(t, "ont:a ont:hasLocation ont:living%20room", cs.Inserts[1].String())

	expr, err := sparql.NewBuilder().Render(cs)
	require.NoError(t, err)
	assert.Contains(t, expr, "ont:a a ont:Light .")
	assert.NotContains(t, expr, "living room")

	parsed, err := sparql.ParseInsertData(expr)
	require.NoError(t, err)
	assert.Equal(t, cs.Inserts, parsed)
}

func TestCompile_Relations(t *testing.T) {
	c := NewCompiler()
	unit := registry.Unit{
		ID:            "u1",
		Type:          "UNKNOWN_THING",
		Label:         "Kitchen \"main\"",
		ConnectionIDs: []string{"c1", "c2"},
	}

	cs, err := c.Compile(registry.UnitAdded{Unit: unit})
	require.NoError(t, err)

	var got []string
	for _, tr := range cs.Inserts {
		got = append(got, tr.String())
	}
	assert.Equal(t, []string{
		"ont:u1 a ont:Unit",
		"ont:u1 ont:hasConnection ont:c1",
		"ont:u1 ont:hasConnection ont:c2",
		`ont:u1 ont:hasLabel "Kitchen \"main\""`,
	}, got)
}

func TestCompile_InvalidInput(t *testing.T) {
	c := NewCompiler()

	tests := []struct {
		name  string
		event registry.Event
	}{
		{"nil event", nil},
		{"added without id", registry.UnitAdded{}},
		{"updated without id", registry.UnitUpdated{}},
		{"removed without id", registry.UnitRemoved{}},
		{"state without id", registry.StateObserved{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(tt.event)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCompileState_Current(t *testing.T) {
	c := NewCompiler()

	tests := []struct {
		name    string
		state   registry.ServiceState
		deletes []string
		inserts []string
		wantErr error
	}{
		{
			name:    "discrete",
			state:   registry.ServiceState{Service: "POWER_STATE_SERVICE", Value: registry.StateValue{Discrete: "ON"}},
			deletes: []string{"ont:u1 ont:hasPowerState ?"},
			inserts: []string{"ont:u1 ont:hasPowerState ont:PowerState_ON"},
		},
		{
			name: "continuous",
			state: registry.ServiceState{Service: "COLOR_STATE_SERVICE", Value: registry.StateValue{
				Continuous: map[string]float64{"hue": 120, "saturation": 0.5, "brightness": 1},
			}},
			deletes: []string{
				"ont:u1 ont:hasHue ?",
				"ont:u1 ont:hasSaturation ?",
				"ont:u1 ont:hasBrightness ?",
			},
			inserts: []string{
				`ont:u1 ont:hasHue "120"^^xsd:double`,
				`ont:u1 ont:hasSaturation "0.5"^^xsd:double`,
				`ont:u1 ont:hasBrightness "1"^^xsd:double`,
			},
		},
		{
			name:    "unknown service",
			state:   registry.ServiceState{Service: "TELEPORT_SERVICE"},
			wantErr: ErrUnmappedServiceType,
		},
		{
			name:    "unknown discrete value",
			state:   registry.ServiceState{Service: "POWER_STATE_SERVICE", Value: registry.StateValue{Discrete: "MAYBE"}},
			wantErr: ErrUnmappedValue,
		},
		{
			name: "missing dimension",
			state: registry.ServiceState{Service: "COLOR_STATE_SERVICE", Value: registry.StateValue{
				Continuous: map[string]float64{"hue": 1},
			}},
			wantErr: ErrUnmappedValue,
		},
		{
			name: "infinite dimension",
			state: registry.ServiceState{Service: "COLOR_STATE_SERVICE", Value: registry.StateValue{
				Continuous: map[string]float64{"hue": math.Inf(1), "saturation": 0.5, "brightness": 1},
			}},
			wantErr: ErrUnmappedValue,
		},
		{
			name: "NaN dimension",
			state: registry.ServiceState{Service: "COLOR_STATE_SERVICE", Value: registry.StateValue{
				Continuous: map[string]float64{"hue": 1, "saturation": math.NaN(), "brightness": 1},
			}},
			wantErr: ErrUnmappedValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := c.CompileState("u1", tt.state)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, cs.IsEmpty())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.deletes, render(cs.Deletes))
			assert.Equal(t, tt.inserts, render(cs.Inserts))
		})
	}
}

func TestCompileStates_DropsUnmapped(t *testing.T) {
	c := NewCompiler()

	cs, err := c.Compile(registry.StateObserved{ID: "u1", States: []registry.ServiceState{
		{Service: "TELEPORT_SERVICE"},
		{Service: "POWER_STATE_SERVICE", Value: registry.StateValue{Discrete: "OFF"}},
	}})
	assert.ErrorIs(t, err, ErrUnmappedServiceType)
	assert.Equal(t, []string{"ont:u1 ont:hasPowerState ont:PowerState_OFF"}, render(cs.Inserts))
}

func TestCompileState_History(t *testing.T) {
	seq := 0
	c := NewCompiler(
		WithRetainHistory(true),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id%d", seq)
		}),
	)
	require.True(t, c.RetainsHistory())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cs, err := c.CompileState("u1", registry.ServiceState{
		Service:    "POWER_STATE_SERVICE",
		Value:      registry.StateValue{Discrete: "ON"},
		ObservedAt: at,
		ValidUntil: at.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Empty(t, cs.Deletes)
	assert.Equal(t, []string{
		"ont:obs_id1 a ont:Observation",
		"ont:obs_id1 ont:hasUnit ont:u1",
		"ont:obs_id1 ont:hasService ont:POWER_STATE_SERVICE",
		"ont:obs_id1 ont:hasPowerState ont:PowerState_ON",
		"ont:obs_id1 ont:hasTimeInterval ont:interval_id2",
		"ont:interval_id2 a ont:TimeInterval",
		`ont:interval_id2 ont:hasStart "2024-03-01T12:00:00Z"^^xsd:dateTime`,
		`ont:interval_id2 ont:hasEnd "2024-03-01T12:01:00Z"^^xsd:dateTime`,
	}, render(cs.Inserts))
}

func TestCompileState_HistoryDefaults(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCompiler(
		WithRetainHistory(true),
		WithClock(func() time.Time { return now }),
	)

	cs, err := c.CompileState("u1", registry.ServiceState{
		Service: "TEMPERATURE_STATE_SERVICE",
		Value:   registry.StateValue{Continuous: map[string]float64{"temperature": 21.5}},
	})
	require.NoError(t, err)

	stamp := rdf.DateTime(now).String()
	var starts, ends int
	for _, tr := range cs.Inserts {
		switch tr.Predicate.Value() {
		case "ont:hasStart":
			starts++
			assert.Equal(t, stamp, tr.Object.String())
		case "ont:hasEnd":
			ends++
			assert.Equal(t, stamp, tr.Object.String())
		}
	}
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, ends)
}

func TestCompileState_HistoryRejectsInvertedInterval(t *testing.T) {
	c := NewCompiler(WithRetainHistory(true))
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := c.CompileState("u1", registry.ServiceState{
		Service:    "POWER_STATE_SERVICE",
		Value:      registry.StateValue{Discrete: "ON"},
		ObservedAt: at,
		ValidUntil: at.Add(-time.Second),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCompileReplace(t *testing.T) {
	c := NewCompiler()
	cs, err := c.CompileReplace(registry.Unit{ID: "u1", Type: ontology.UnitTypeScene, LocationID: "l"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ont:u1 a ?",
		"ont:u1 ont:hasLocation ?",
		"ont:u1 ont:hasConnection ?",
		"ont:u1 ont:hasLabel ?",
	}, render(cs.Deletes))
	assert.Equal(t, []string{
		"ont:u1 a ont:Scene",
		"ont:u1 ont:hasLocation ont:l",
	}, render(cs.Inserts))

	_, err = c.CompileReplace(registry.Unit{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func render(triples []rdf.Triple) []string {
	out := make([]string, 0, len(triples))
	for _, t := range triples {
		out = append(out, t.String())
	}
	return out
}
