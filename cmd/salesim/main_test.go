package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tgeledger/observability/logging"
	"tgeledger/scenario"
)

func TestRunBuiltinText(t *testing.T) {
	out := &bytes.Buffer{}
	code, err := run(context.Background(), out, options{builtin: true, format: "text", logger: logging.Discard()})
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "PASS lifecycle")
	require.NotContains(t, out.String(), "FAIL")
}

func TestRunFilterAndJSON(t *testing.T) {
	out := &bytes.Buffer{}
	code, err := run(context.Background(), out, options{builtin: true, only: "ordering", format: "json", logger: logging.Discard()})
	require.NoError(t, err)
	require.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	for _, line := range lines {
		var report scenario.Report
		require.NoError(t, json.Unmarshal([]byte(line), &report))
		require.True(t, strings.HasPrefix(report.Scenario, "ordering-"))
		require.Zero(t, report.Failures)
	}
}

func TestRunReportsFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	doc := "name: broken\nsteps:\n  - call: transition\n    expectError: unauthorized\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	out := &bytes.Buffer{}
	code, err := run(context.Background(), out, options{path: path, format: "text", logger: logging.Discard()})
	require.Error(t, err)
	require.Equal(t, 1, code)
	require.Contains(t, out.String(), "FAIL broken")
	require.Contains(t, out.String(), "expected unauthorized error")
}

func TestRunUsageErrors(t *testing.T) {
	code, err := run(context.Background(), &bytes.Buffer{}, options{format: "text"})
	require.Error(t, err)
	require.Equal(t, 2, code)

	code, err = run(context.Background(), &bytes.Buffer{}, options{builtin: true, format: "yaml"})
	require.Error(t, err)
	require.Equal(t, 2, code)
}
