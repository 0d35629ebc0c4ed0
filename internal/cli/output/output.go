// Package output renders command results for terminals, scripts, and machines.
//
// Commands produce one of four modes: styled text for interactive
// terminals, markdown for piped output (agent and script friendly),
// JSON for machine consumption, and auto which picks text or markdown
// from terminal detection.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Mode selects the output format.
type Mode string

const (
	// ModeAuto picks ModeText on a terminal and ModeMarkdown otherwise.
	ModeAuto Mode = "auto"
	// ModeText is styled human output.
	ModeText Mode = "text"
	// ModeMarkdown is plain structured output for pipes and agents.
	ModeMarkdown Mode = "markdown"
	// ModeJSON is machine-readable output.
	ModeJSON Mode = "json"
)

// Renderer writes command output in the selected mode.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	isTTY  bool
	styles *Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return NewRendererWithTTY(out, errOut, isTTY, mode)
}

// NewRendererWithTTY creates a renderer with an explicit TTY state.
// Tests use this to pin the effective mode.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode Mode) *Renderer {
	switch mode {
	case ModeText, ModeMarkdown, ModeJSON:
	default:
		mode = ModeAuto
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		isTTY:  isTTY,
		styles: newStyles(isTTY && termenv.EnvColorProfile() != termenv.Ascii),
	}
}

// EffectiveMode resolves ModeAuto against the terminal state.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeMarkdown
}

// Styles returns the style set for the renderer's color state.
func (r *Renderer) Styles() *Styles {
	return r.styles
}

// Println writes a line to standard output.
func (r *Renderer) Println(args ...any) {
	_, _ = fmt.Fprintln(r.out, args...)
}

// Printf writes formatted output to standard output.
func (r *Renderer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// Success prints a success line with a check mark in text mode.
func (r *Renderer) Success(msg string) {
	if r.EffectiveMode() == ModeText {
		r.Println(r.styles.StatusSuccess.String() + " " + msg)
		return
	}
	r.Println(msg)
}

// Warning prints a warning line to standard error.
func (r *Renderer) Warning(msg string) {
	if r.EffectiveMode() == ModeText {
		_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("! ")+msg)
		return
	}
	_, _ = fmt.Fprintln(r.errOut, "Warning: "+msg)
}

// Error prints an error line to standard error.
func (r *Renderer) Error(msg string) {
	if r.EffectiveMode() == ModeText {
		_, _ = fmt.Fprintln(r.errOut, r.styles.StatusFailed.String()+" "+msg)
		return
	}
	_, _ = fmt.Fprintln(r.errOut, "Error: "+msg)
}

// Header prints a section heading. Text mode styles it, markdown mode
// emits the matching heading level.
func (r *Renderer) Header(level int, text string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println(strings.Repeat("#", max(1, level)) + " " + text)
		r.Println("")
		return
	}
	switch level {
	case 1:
		r.Println(r.styles.Header1.Render(text))
	default:
		r.Println(r.styles.Header2.Render(text))
	}
}

// StatusLine prints a name with a status marker, used for file and
// check listings.
func (r *Renderer) StatusLine(name, status, detail string) {
	if r.EffectiveMode() == ModeMarkdown {
		line := fmt.Sprintf("- %s (%s)", name, status)
		if detail != "" {
			line += ": " + detail
		}
		r.Println(line)
		return
	}

	var icon string
	switch status {
	case "success", "ok", "pass":
		icon = r.styles.StatusSuccess.String()
	case "failed", "error":
		icon = r.styles.StatusFailed.String()
	case "warn", "warning":
		icon = r.styles.Warning.Render("!")
	default:
		icon = r.styles.Muted.Render("-")
	}
	line := fmt.Sprintf("  %s %s", icon, name)
	if detail != "" {
		line += "  " + r.styles.Muted.Render(detail)
	}
	r.Println(line)
}

// JSON writes the value as indented JSON to standard output.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// JSONLine writes the value as a single JSON line, used for streaming
// run events.
func (r *Renderer) JSONLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(r.out, string(data))
	return nil
}

// Out returns the underlying standard output writer.
func (r *Renderer) Out() io.Writer {
	return r.out
}

// ErrOut returns the underlying standard error writer.
func (r *Renderer) ErrOut() io.Writer {
	return r.errOut
}

// Styles holds the lipgloss styles shared by all commands. With color
// disabled every style renders plain text.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style

	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style

	// JobName styles job identifiers in listings.
	JobName lipgloss.Style

	// StatusSuccess and StatusFailed carry their marker glyph; render
	// them with String().
	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
}

func newStyles(colored bool) *Styles {
	if !colored {
		return &Styles{
			StatusSuccess: lipgloss.NewStyle().SetString("✓"),
			StatusFailed:  lipgloss.NewStyle().SetString("✗"),
		}
	}
	return &Styles{
		Header1: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
		Header2: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		Bold:    lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),

		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("75")),

		JobName: lipgloss.NewStyle().Foreground(lipgloss.Color("117")),

		StatusSuccess: lipgloss.NewStyle().SetString("✓").Foreground(lipgloss.Color("42")),
		StatusFailed:  lipgloss.NewStyle().SetString("✗").Foreground(lipgloss.Color("196")),
	}
}

// StatusStyle returns the style matching a build or job status string.
func (s *Styles) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "success":
		return s.Success
	case "failed":
		return s.Error
	case "cancelled", "skipped":
		return s.Muted
	case "running":
		return s.Info
	default:
		return s.Warning
	}
}
