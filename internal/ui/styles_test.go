package ui

import (
	"strings"
	"testing"
)

func withColor(t *testing.T, on bool) {
	t.Helper()
	prev := noColor
	noColor = !on
	t.Cleanup(func() { noColor = prev })
}

func TestRelayState(t *testing.T) {
	withColor(t, false)
	tests := []struct {
		connected, reaped bool
		want              string
	}{
		{true, false, "up"},
		{false, false, "down"},
		{false, true, "reaped"},
		{true, true, "reaped"},
	}
	for _, tt := range tests {
		if got := RelayState(tt.connected, tt.reaped); got != tt.want {
			t.Errorf("RelayState(%v, %v) = %q, want %q", tt.connected, tt.reaped, got, tt.want)
		}
	}
}

func TestKindLabel(t *testing.T) {
	withColor(t, true)
	if got := KindLabel(1); got != "1" {
		t.Errorf("KindLabel(1) = %q, want plain", got)
	}
	if got := KindLabel(3); !strings.Contains(got, "\x1b[38;5;74m3") {
		t.Errorf("KindLabel(3) = %q, want accent color", got)
	}
}

func TestForceNoColor(t *testing.T) {
	withColor(t, true)
	if !strings.HasPrefix(RenderOK("x"), "\x1b[") {
		t.Fatal("expected escape codes before ForceNoColor")
	}
	ForceNoColor()
	if ColorEnabled() {
		t.Error("ColorEnabled should be false")
	}
	if got := RenderFail("x"); got != "x" {
		t.Errorf("RenderFail = %q, want plain", got)
	}
}

func TestShouldUseColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR must win over CLICOLOR_FORCE")
	}
	t.Setenv("NO_COLOR", "")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE=1 should force color")
	}
	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("CLICOLOR", "0")
	if ShouldUseColor() {
		t.Error("CLICOLOR=0 should disable color")
	}
}

func TestSetColorMode(t *testing.T) {
	withColor(t, true)
	if err := SetColorMode("never"); err != nil || ColorEnabled() {
		t.Fatalf("never: err=%v enabled=%v", err, ColorEnabled())
	}
	if err := SetColorMode("always"); err != nil || !ColorEnabled() {
		t.Fatalf("always: err=%v enabled=%v", err, ColorEnabled())
	}
	if err := SetColorMode("rainbow"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
