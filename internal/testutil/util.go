// Package testutil holds golden-file helpers shared by package tests.
// Run `go test ./... -update` to rewrite the files under testdata/.
package testutil

import (
	"bytes"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var Update = flag.Bool(
	"update",
	false,
	"update golden files",
)

//
// --- Golden file helpers ---
//

func goldenPath(name string) string {
	return filepath.Join("testdata", name+".golden")
}

func writeGolden(t *testing.T, name string, b []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll("testdata", 0o755))
	require.NoError(t, os.WriteFile(goldenPath(name), b, 0o644), "failed to write golden file")
}

func loadGolden(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(goldenPath(name))
	require.NoError(t, err, "failed to read golden file")
	return b
}

// CompareWithGolden marshals v as indented JSON and compares it with
// testdata/<name>.golden.
func CompareWithGolden(t *testing.T, name string, v any) {
	t.Helper()
	actual, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err, "failed to marshal actual JSON")
	CompareBytesWithGolden(t, name, actual)
}

// CompareBytesWithGolden compares raw output with testdata/<name>.golden.
// Leading and trailing whitespace is ignored.
func CompareBytesWithGolden(t *testing.T, name string, actual []byte) {
	t.Helper()
	if *Update {
		writeGolden(t, name, actual)
		return
	}

	expected := loadGolden(t, name)
	require.Equal(t,
		string(bytes.TrimSpace(expected)), string(bytes.TrimSpace(actual)),
		"golden mismatch for %s", name)
}
