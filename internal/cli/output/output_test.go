package output

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{"auto on tty", ModeAuto, true, ModeText},
		{"auto piped", ModeAuto, false, ModeMarkdown},
		{"explicit json ignores tty", ModeJSON, true, ModeJSON},
		{"explicit markdown on tty", ModeMarkdown, true, ModeMarkdown},
		{"unknown mode falls back to auto", Mode("yaml"), false, ModeMarkdown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, tt.isTTY, tt.mode)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestMarkdownOutputHasNoANSI(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	r := NewRendererWithTTY(out, errOut, false, ModeMarkdown)

	r.Header(1, "Builds")
	r.Header(2, "Jobs")
	r.StatusLine("build.yml", "success", "")
	r.Success("pipeline valid")
	r.Warning("no cache configured")

	combined := out.String() + errOut.String()
	assert.False(t, ansiPattern.MatchString(combined), "markdown output must not contain ANSI codes: %q", combined)
	assert.Contains(t, out.String(), "# Builds")
	assert.Contains(t, out.String(), "## Jobs")
	assert.Contains(t, out.String(), "- build.yml (success)")
	assert.Contains(t, errOut.String(), "Warning: no cache configured")
}

func TestTextStatusLines(t *testing.T) {
	out := &bytes.Buffer{}
	r := NewRendererWithTTY(out, &bytes.Buffer{}, true, ModeText)

	r.StatusLine("x64 Python311", "success", "")
	r.StatusLine("x86 Python27", "failed", "exit 1")

	s := out.String()
	assert.Contains(t, s, "x64 Python311")
	assert.Contains(t, s, "x86 Python27")
	assert.Contains(t, s, "exit 1")
}

func TestJSONEncodesIndented(t *testing.T) {
	out := &bytes.Buffer{}
	r := NewRendererWithTTY(out, &bytes.Buffer{}, false, ModeJSON)

	require.NoError(t, r.JSON(map[string]any{"build": 7, "status": "success"}))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "success", decoded["status"])
	assert.True(t, strings.Contains(out.String(), "\n  "), "output should be indented")
}

func TestJSONLineIsSingleLine(t *testing.T) {
	out := &bytes.Buffer{}
	r := NewRendererWithTTY(out, &bytes.Buffer{}, false, ModeJSON)

	require.NoError(t, r.JSONLine(map[string]string{"event": "job_started"}))
	require.NoError(t, r.JSONLine(map[string]string{"event": "job_finished"}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var decoded map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	}
}

func TestStatusStyleCoversKnownStatuses(t *testing.T) {
	styles := newStyles(false)
	for _, status := range []string{"success", "failed", "cancelled", "running", "queued", "skipped"} {
		// Plain styles render the input unchanged.
		assert.Equal(t, status, styles.StatusStyle(status).Render(status))
	}
}
