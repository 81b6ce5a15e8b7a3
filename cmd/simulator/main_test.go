package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, err := newRootCmd()
	require.NoError(t, err)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err = cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulatorWritesReports(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "hours.csv")
	geoPath := filepath.Join(dir, "network.geojson")

	out, err := execute(t, "--max-hours", "48", "--csv", csvPath, "--geojson", geoPath)
	require.NoError(t, err)
	assert.Contains(t, out, "peak plant inflow")
	assert.Contains(t, out, "KP16")

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 49)
	assert.Equal(t, "hour", rows[0][0])
	assert.Equal(t, "48", rows[48][0])

	raw, err := os.ReadFile(geoPath)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 34)
}

func TestSimulatorLoadsScenarioFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	doc := `
name: two-meters
max_hours: 6
plant: {id: P}
overflow: {id: O}
nodes:
  - {id: A, downstream: [B]}
  - {id: B, downstream: [P]}
hourly_means:
  0: {A: 10, B: 25}
rain: [0, 2, 0]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	out, err := execute(t, "--scenario", path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "hours") && strings.Contains(out, "6"))
	assert.Contains(t, out, "A")
}

func TestSimulatorRejectsBadInput(t *testing.T) {
	_, err := execute(t, "--scenario", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = execute(t, "--rain-depth-method", "bucket")
	assert.Error(t, err)

	_, err = execute(t, "--log-format", "xml")
	assert.Error(t, err)

	_, err = execute(t, "unexpected-arg")
	assert.Error(t, err)
}
