// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/leaptx/internal/cli/output"
)

// SetupTestProject creates a temporary project with a leaptx.yaml pointing
// at a SQLite database inside it, and changes into it for the test.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := fmt.Sprintf(`target:
  type: sqlite
  database: %s
tx:
  max_attempts: 5
  min_retry_delay: 1ms
  max_retry_delay: 10ms
  nested_transactions: true
`, filepath.Join(tmpDir, "ledger.db"))

	if err := os.WriteFile(filepath.Join(tmpDir, "leaptx.yaml"), []byte(cfg), 0o600); err != nil {
		t.Fatalf("failed to create leaptx.yaml: %v", err)
	}
	t.Chdir(tmpDir)
	return tmpDir
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// ExtractColumn returns the cells of column col from a markdown table,
// skipping the header and separator rows.
func ExtractColumn(md string, col int) []string {
	var cells []string
	rows := 0
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		rows++
		if rows <= 2 {
			continue
		}
		parts := strings.Split(strings.Trim(line, "|"), "|")
		if col < len(parts) {
			cells = append(cells, strings.TrimSpace(parts[col]))
		}
	}
	return cells
}
