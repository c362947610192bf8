package ui

import (
	"fmt"
	"strconv"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

func RenderOK(s string) string   { return render(colorOK, s) }
func RenderWarn(s string) string { return render(colorWarn, s) }
func RenderFail(s string) string { return render(colorFail, s) }

// RelayState labels a roster entry: "reaped", "up" or "down".
func RelayState(connected, reaped bool) string {
	switch {
	case reaped:
		return RenderFail("reaped")
	case connected:
		return RenderOK("up")
	default:
		return RenderWarn("down")
	}
}

// KindLabel renders an event kind, highlighting the metadata kinds.
func KindLabel(kind int) string {
	s := strconv.Itoa(kind)
	if model.IsMetadataKind(kind) {
		return RenderAccent(s)
	}
	return s
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// ColorEnabled reports whether Render* functions emit escape codes.
func ColorEnabled() bool {
	return !noColor
}
