package filesource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ontosync/registry"
	"github.com/c360studio/ontosync/vocabulary/ontology"
)

const kitchen = `units:
  - id: kitchen-light
    type: LIGHT
    label: Kitchen ceiling
    location_id: kitchen
    states:
      POWER_STATE_SERVICE:
        discrete: "ON"
  - id: kitchen-plug
    type: POWER_SWITCH
    location_id: kitchen
`

type recorder struct {
	mu     sync.Mutex
	events []registry.Event
}

func (r *recorder) handle(_ context.Context, e registry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []registry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.Event(nil), r.events...)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSnapshot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "units/kitchen.yaml", kitchen)
	writeFile(t, root, "units/hall/hall.yaml", "units:\n  - id: hall-light\n    type: LIGHT\n")
	writeFile(t, root, "units/notes.txt", "ignored")

	src := New(Config{Root: root})
	units, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, "hall-light", units[0].ID)
	assert.Equal(t, "kitchen-light", units[1].ID)
	assert.Equal(t, ontology.UnitTypeLight, units[1].Type)
	assert.Equal(t, "Kitchen ceiling", units[1].Label)
	assert.Equal(t, registry.StateValue{Discrete: "ON"}, units[1].States["POWER_STATE_SERVICE"])
	assert.Equal(t, ontology.UnitTypePowerSwitch, units[2].Type)
}

func TestSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{
			name:  "malformed yaml",
			files: map[string]string{"units/a.yaml": "units: [\n"},
		},
		{
			name:  "missing id",
			files: map[string]string{"units/a.yaml": "units:\n  - type: LIGHT\n"},
		},
		{
			name: "duplicate id",
			files: map[string]string{
				"units/a.yaml": "units:\n  - id: x\n",
				"units/b.yaml": "units:\n  - id: x\n",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for rel, content := range tt.files {
				writeFile(t, root, rel, content)
			}
			_, err := New(Config{Root: root}).Snapshot(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestReload_DeliversDiff(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "units/kitchen.yaml", kitchen)

	src := New(Config{Root: root})
	rec := &recorder{}
	ctx := context.Background()

	// Baseline from empty: everything is new
	require.NoError(t, src.Reload(ctx, rec.handle))
	events := rec.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, registry.KindUnitAdded, events[0].Kind())
	assert.Equal(t, registry.KindUnitAdded, events[1].Kind())
	assert.Equal(t, registry.KindStateObserved, events[2].Kind())

	writeFile(t, root, "units/kitchen.yaml", `units:
  - id: kitchen-light
    type: LIGHT
    label: Kitchen ceiling
    location_id: dining
    states:
      POWER_STATE_SERVICE:
        discrete: "OFF"
`)
	rec.events = nil
	require.NoError(t, src.Reload(ctx, rec.handle))
	events = rec.snapshot()
	require.Len(t, events, 3)

	removed, ok := events[0].(registry.UnitRemoved)
	require.True(t, ok)
	assert.Equal(t, "kitchen-plug", removed.Unit.ID)

	updated, ok := events[1].(registry.UnitUpdated)
	require.True(t, ok)
	assert.Equal(t, "dining", updated.Unit.LocationID)

	observed, ok := events[2].(registry.StateObserved)
	require.True(t, ok)
	require.Len(t, observed.States, 1)
	assert.Equal(t, "OFF", observed.States[0].Value.Discrete)
}

func TestReload_ErrorKeepsPrevious(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "units/kitchen.yaml", kitchen)
	src := New(Config{Root: root})
	rec := &recorder{}
	ctx := context.Background()
	require.NoError(t, src.Reload(ctx, rec.handle))

	writeFile(t, root, "units/kitchen.yaml", "units: [\n")
	assert.Error(t, src.Reload(ctx, rec.handle))

	writeFile(t, root, "units/kitchen.yaml", kitchen)
	rec.events = nil
	require.NoError(t, src.Reload(ctx, rec.handle))
	assert.Empty(t, rec.snapshot())
}

func TestStart_WatchesFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "units/kitchen.yaml", kitchen)

	src := New(Config{Root: root, Debounce: 10 * time.Millisecond})
	rec := &recorder{}
	require.NoError(t, src.Start(context.Background(), rec.handle))
	assert.Error(t, src.Start(context.Background(), rec.handle))
	defer func() { require.NoError(t, src.Stop()) }()

	// Existing contents are the baseline, not events
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	writeFile(t, root, "units/garage.yaml", "units:\n  - id: garage-light\n    type: LIGHT\n")

	require.Eventually(t, func() bool {
		for _, e := range rec.snapshot() {
			if added, ok := e.(registry.UnitAdded); ok && added.Unit.ID == "garage-light" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStart_DeliversEditsSinceSnapshot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "units/kitchen.yaml", kitchen)

	src := New(Config{Root: root, Debounce: 10 * time.Millisecond})
	units, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)

	// Edited after the snapshot was read but before watching began
	writeFile(t, root, "units/kitchen.yaml", `units:
  - id: kitchen-light
    type: LIGHT
    label: Kitchen ceiling
    location_id: dining
    states:
      POWER_STATE_SERVICE:
        discrete: "ON"
  - id: kitchen-plug
    type: POWER_SWITCH
    location_id: kitchen
`)

	rec := &recorder{}
	require.NoError(t, src.Start(context.Background(), rec.handle))
	defer func() { require.NoError(t, src.Stop()) }()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	events := rec.snapshot()
	require.Len(t, events, 1)
	updated, ok := events[0].(registry.UnitUpdated)
	require.True(t, ok)
	assert.Equal(t, "kitchen-light", updated.Unit.ID)
	assert.Equal(t, "dining", updated.Unit.LocationID)
}

func TestStart_SnapshotWhileRunningKeepsBaseline(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "units/kitchen.yaml", kitchen)

	src := New(Config{Root: root, Debounce: time.Hour})
	rec := &recorder{}
	require.NoError(t, src.Start(context.Background(), rec.handle))
	defer func() { require.NoError(t, src.Stop()) }()

	writeFile(t, root, "units/garage.yaml", "units:\n  - id: garage-light\n    type: LIGHT\n")
	units, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, units, 3)

	require.NoError(t, src.Reload(context.Background(), rec.handle))
	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, registry.KindUnitAdded, events[0].Kind())
}

func TestStop_NotRunning(t *testing.T) {
	assert.NoError(t, New(Config{}).Stop())
}
