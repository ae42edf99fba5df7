// Package statusline implements the status-line renderer (C4): it expands
// a format string against the current session state and redraws only when
// the rendered line actually changed, mirroring show_status_fmt.
package statusline

import (
	"fmt"
	"strings"

	"github.com/xoxyuxu/minicom/internal/config"
	"github.com/xoxyuxu/minicom/internal/endpoint"
)

// Version is reported by the "%V" directive.
const Version = "2.9"

// CursorMode is the "%C" directive's value.
type CursorMode int

const (
	CursorNormal CursorMode = iota
	CursorApplication
)

// State is the snapshot of session values the renderer draws from; callers
// build one fresh each tick.
type State struct {
	EscapeKeyLabel string // result of esc_key(): e.g. "CTRL-A " or "Meta-"
	EndpointKind   endpoint.Kind
	Bearer         string // config.BearerLabel() result, for Device endpoints
	Emulator       string // "VT102" or "ANSI"
	Cursor         CursorMode
	OnlineText     string // online.Tracker.StatusText() result
	DevicePath     string
	Message        string // transient status_set_display text, or ""
}

// devpathCutoffs are tried in order; the first matching prefix is stripped,
// matching shortened_devpath's table.
var devpathCutoffs = []string{
	"/dev/serial/by-id/",
	"/dev/serial/by-path/",
	"/dev/serial/",
	"/dev/",
}

// ShortenDevpath strips a well-known /dev prefix and, if the remainder is
// still longer than width, keeps only its trailing width characters.
func ShortenDevpath(devpath string, width int) string {
	for _, cutoff := range devpathCutoffs {
		if strings.HasPrefix(devpath, cutoff) {
			devpath = devpath[len(cutoff):]
			break
		}
	}
	if width > 0 && len(devpath) > width {
		devpath = devpath[len(devpath)-width:]
	}
	return devpath
}

// Renderer owns the format string and the last-drawn line, so repeated
// calls with unchanged state are no-ops for the caller's paint step.
type Renderer struct {
	format  string
	width   int
	last    string
	hasLast bool
}

// New builds a renderer for the given format string and terminal width
// (COLS in the original), defaulting to config.DefaultStatuslineFormat.
func New(format string, width int) *Renderer {
	if format == "" {
		format = config.DefaultStatuslineFormat
	}
	if width <= 0 {
		width = 80
	}
	return &Renderer{format: format, width: width}
}

// SetFormat replaces the active format string.
func (r *Renderer) SetFormat(format string) {
	r.format = format
}

// SetWidth changes the rendered line's target width, e.g. after a terminal
// resize, and forces the next Render to report a change.
func (r *Renderer) SetWidth(width int) {
	if width <= 0 {
		return
	}
	r.width = width
	r.hasLast = false
}

// Render expands the format string against st, pads/truncates it to the
// renderer's width, and reports whether the text changed since the last
// call — callers should only repaint the status window when changed is
// true (or force is set, e.g. after a resize).
func (r *Renderer) Render(st State, force bool) (text string, changed bool) {
	text = expand(r.format, st, r.width)
	changed = force || !r.hasLast || text != r.last
	r.last = text
	r.hasLast = true
	return text, changed
}

func expand(format string, st State, width int) string {
	var b strings.Builder
	runes := []rune(format)
	for i := 0; i < len(runes) && b.Len() < width; i++ {
		if runes[i] == '%' && i+1 < len(runes) {
			i++
			b.WriteString(directive(runes[i], st))
			continue
		}
		b.WriteRune(runes[i])
	}

	out := b.String()
	if len(out) > width {
		out = out[:width]
	}
	if len(out) < width {
		out += strings.Repeat(" ", width-len(out))
	}
	return out
}

func directive(func_ rune, st State) string {
	switch func_ {
	case '%':
		return "%"
	case 'H':
		return st.EscapeKeyLabel + "Z"
	case 'V':
		return Version
	case 'b':
		switch st.EndpointKind {
		case endpoint.UnixSocket:
			return "unix-socket"
		case endpoint.TcpSocket:
			return "TCP"
		default:
			return st.Bearer
		}
	case 'T':
		return st.Emulator
	case 'C':
		if st.Cursor == CursorApplication {
			return "APP"
		}
		return "NOR"
	case 't':
		return st.OnlineText
	case 'D':
		return ShortenDevpath(st.DevicePath, 40)
	case '$':
		return st.Message
	default:
		return fmt.Sprintf("?%c", func_)
	}
}

// EscKey renders the "%H" helper label, matching esc_key(): CTRL-<letter>
// for a caret-prefixed single-char escape unless altOverride is set, in
// which case (or for any other escape form) it falls back to "Meta-".
func EscKey(escape string, altOverride bool) string {
	if !altOverride && len(escape) >= 2 && escape[0] == '^' && escape[1] != '[' {
		return fmt.Sprintf("CTRL-%c ", escape[1])
	}
	return "Meta-"
}
