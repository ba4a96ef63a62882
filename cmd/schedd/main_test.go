package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testItems = `
- id: daily
  title: Water plants
  start: 2025-01-01T08:00:00
  recurrence:
    enabled: true
    freq: daily
- id: launch
  title: Launch
  start: 2025-03-10T08:00:00
- id: gone
  title: Old demo
  start: 2020-01-01T08:00:00
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	items := filepath.Join(dir, "items.yaml")
	require.NoError(t, os.WriteFile(items, []byte(testItems), 0o644))
	cfg := "logging: {level: error}\n" +
		"storage: {driver: sqlite, path: \"" + filepath.Join(dir, "state.db") + "\"}\n" +
		"dispatcher: {enabled: false}\n" +
		"items: {file: \"" + items + "\"}\n"
	path := filepath.Join(dir, "schedd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDispatchThenQuery(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "-c", cfg, "--format", "json", "dispatch", "--date", "2025-03-10")
	require.NoError(t, err)
	var rep struct {
		Fired    int      `json:"fired"`
		FiredIDs []string `json:"fired_ids"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 2, rep.Fired)
	assert.ElementsMatch(t, []string{"daily", "launch"}, rep.FiredIDs)

	// Same day again: everything is already checked.
	out, err = run(t, "-c", cfg, "dispatch", "--date", "2025-03-10")
	require.NoError(t, err)
	assert.NotContains(t, out, "fired daily")

	out, err = run(t, "-c", cfg, "history", "launch")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-03-10")

	out, err = run(t, "-c", cfg, "--format", "json", "next", "daily", "--from", "2025-03-10")
	require.NoError(t, err)
	assert.Contains(t, out, `"next": "2025-03-11"`)

	out, err = run(t, "-c", cfg, "runs", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "2025-03-10"))
}

func TestMissedAndItems(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "-c", cfg, "missed")
	require.NoError(t, err)
	assert.Contains(t, out, "gone")
	assert.NotContains(t, out, "daily")

	out, err = run(t, "-c", cfg, "items", "list")
	require.NoError(t, err)
	for _, id := range []string{"daily", "launch", "gone"} {
		assert.Contains(t, out, id)
	}

	_, err = run(t, "-c", cfg, "history", "nope")
	require.ErrorContains(t, err, `no item "nope"`)
}

func TestRejectsUnknownFormat(t *testing.T) {
	_, err := run(t, "--format", "xml", "items", "list")
	require.ErrorContains(t, err, "invalid format")
}
