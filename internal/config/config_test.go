package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dfo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadCapacityShorthand(t *testing.T) {
	path := writeConfig(t, `
dataflow_applications:
  - decision_connection: "trb-1:9000"
    capacity: 5
token_connection: "dfo-tokens"
td_send_retries: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	specs := cfg.AppSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, "trb-1:9000", specs[0].ConnectionName)
	assert.Equal(t, 5, specs[0].BusyThreshold)
	assert.Equal(t, 5, specs[0].FreeThreshold)
	assert.Equal(t, 3, cfg.TDSendRetries)
}

func TestLoadDistinctThresholds(t *testing.T) {
	path := writeConfig(t, `
dataflow_applications:
  - decision_connection: "trb-2:9000"
    busy_threshold: 8
    free_threshold: 3
token_connection: "dfo-tokens"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	specs := cfg.AppSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, 8, specs[0].BusyThreshold)
	assert.Equal(t, 3, specs[0].FreeThreshold)
	assert.Equal(t, 100, cfg.GeneralQueueTimeoutMS, "default queue timeout")
}

func TestLoadRejectsInconsistentThresholds(t *testing.T) {
	path := writeConfig(t, `
dataflow_applications:
  - decision_connection: "trb-1:9000"
    busy_threshold: 2
    free_threshold: 3
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsZeroRetries(t *testing.T) {
	path := writeConfig(t, `
dataflow_applications:
  - decision_connection: "trb-1:9000"
    capacity: 1
td_send_retries: 0
`)
	_, err := Load(path)
	require.Error(t, err)
}
