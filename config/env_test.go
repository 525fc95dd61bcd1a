package config

import (
	"os"
	"path/filepath"
	"testing"

	ssconfig "github.com/c360studio/semstreams/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvWithDefaults(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		env      map[string]string
		expected string
	}{
		{
			name:     "default used when var unset",
			input:    `${FUSEKI_URL:-http://localhost:3030}/abox`,
			env:      map[string]string{},
			expected: `http://localhost:3030/abox`,
		},
		{
			name:     "env value used when set",
			input:    `${FUSEKI_URL:-http://localhost:3030}/abox`,
			env:      map[string]string{"FUSEKI_URL": "http://prod:3030"},
			expected: `http://prod:3030/abox`,
		},
		{
			name:     "multiple vars with defaults",
			input:    `nats://${NATS_HOST:-localhost}:${NATS_PORT:-4222}`,
			env:      map[string]string{},
			expected: `nats://localhost:4222`,
		},
		{
			name:     "partial env set",
			input:    `nats://${NATS_HOST:-localhost}:${NATS_PORT:-4222}`,
			env:      map[string]string{"NATS_HOST": "nats.prod"},
			expected: `nats://nats.prod:4222`,
		},
		{
			name:     "empty default",
			input:    `prefix${OPTIONAL:-}suffix`,
			env:      map[string]string{},
			expected: `prefixsuffix`,
		},
		{
			name:     "simple var without default",
			input:    `${SIMPLE_VAR}`,
			env:      map[string]string{"SIMPLE_VAR": "value"},
			expected: `value`,
		},
		{
			name:     "simple var unset without default",
			input:    `${SIMPLE_VAR}`,
			env:      map[string]string{},
			expected: ``,
		},
		{
			name:     "bare dollar untouched",
			input:    `ping_path: "/$/ping"`,
			env:      map[string]string{},
			expected: `ping_path: "/$/ping"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range []string{"FUSEKI_URL", "NATS_HOST", "NATS_PORT", "OPTIONAL", "SIMPLE_VAR"} {
				t.Setenv(v, "")
				require.NoError(t, os.Unsetenv(v))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			assert.Equal(t, tt.expected, ssconfig.ExpandEnvWithDefaults(tt.input), "expansion mismatch for input: %s", tt.input)
		})
	}
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("ONTOSYNC_TEST_DATASET", "lab")
	path := filepath.Join(t.TempDir(), "ontosync.yaml")
	content := "server:\n  abox_dataset: ${ONTOSYNC_TEST_DATASET:-abox}\n  tbox_dataset: ${ONTOSYNC_TEST_UNSET:-schema}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", cfg.Server.ABoxDataset)
	assert.Equal(t, "schema", cfg.Server.TBoxDataset)
	assert.Equal(t, "/$/ping", cfg.Server.PingPath)
}
