package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNamesCommand(t *testing.T) {
	out, err := execute(t, "names", "demo.shapes")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^Circle\s+class$`, lines[0])
	assert.Regexp(t, `^Rect\s+class$`, lines[1])
	assert.Regexp(t, `^Shape\s+class$`, lines[2])

	out, err = execute(t, "names", "demo.mathx")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^PI\s+value \(float64\)$`, out)
	assert.Regexp(t, `(?m)^add\s+function$`, out)
}

func TestCallCommand(t *testing.T) {
	out, err := execute(t, "call", "demo.mathx", "add", "2", "3")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)

	out, err = execute(t, "call", "demo.text", "words", "a b c")
	require.NoError(t, err)
	assert.Equal(t, "a b c\n", out)

	_, err = execute(t, "call", "demo.shapes", "Rect")
	assert.ErrorContains(t, err, "not a function")

	_, err = execute(t, "call", "demo.mathx", "nope")
	assert.Error(t, err)

	_, err = execute(t, "call", "demo.mathx")
	assert.Error(t, err)
}

func TestCallWritesJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.journal")
	_, err := execute(t, "--journal", path, "call", "demo.text", "greet", "gopher")
	require.NoError(t, err)

	out, err := execute(t, "journal", path)
	require.NoError(t, err)
	assert.Contains(t, out, "session ")
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, "get_module")
	assert.Contains(t, out, "demo.text")
	assert.Contains(t, out, "greet")
}

func TestJournalCommandRejectsGarbage(t *testing.T) {
	_, err := execute(t, "journal", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	var buf bytes.Buffer
	assert.Error(t, runJournal(&buf, strings.NewReader("not a journal")))
}

func TestParseArg(t *testing.T) {
	assert.Equal(t, 2.0, parseArg("2"))
	assert.Equal(t, -0.5, parseArg("-0.5"))
	assert.Equal(t, "gopher", parseArg("gopher"))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "5", formatValue(5.0))
	assert.Equal(t, "2.5", formatValue(2.5))
	assert.Equal(t, "a b", formatValue([]string{"a", "b"}))
	assert.Equal(t, "hello", formatValue("hello"))
	assert.Equal(t, "<nil>", formatValue(nil))
}
