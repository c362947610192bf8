package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/alfredjeanlab/relaymux/internal/presence"
	"github.com/alfredjeanlab/relaymux/internal/ui"
)

func init() {
	ui.ForceNoColor()
}

func TestOneLine(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"multi\nline\ttext", 40, "multi line text"},
		{"abcdefghij", 8, "abcde..."},
		{"héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		if got := oneLine(tt.in, tt.n); got != tt.want {
			t.Errorf("oneLine(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestPrintEventTable(t *testing.T) {
	var buf bytes.Buffer
	printEventTable(&buf, []*model.Event{
		{ID: "0123456789abcdef", Author: "alice", Kind: 1, CreatedAt: 0, Content: "hello\nworld"},
	})
	out := buf.String()
	for _, want := range []string{"ID", "0123456789ab", "alice", "1970-01-01 00:00:00", "hello world", "1 events"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0123456789abc") {
		t.Errorf("id should be shortened:\n%s", out)
	}
}

func TestPrintEventLine(t *testing.T) {
	var buf bytes.Buffer
	printEventLine(&buf, &model.Event{ID: "abc", Author: "bob", Kind: 3, CreatedAt: 60, Content: "follows"})
	if got, want := buf.String(), "1970-01-01 00:01:00 abc kind=3 bob follows\n"; got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

func TestPrintRelayTable(t *testing.T) {
	var buf bytes.Buffer
	printRelayTable(&buf, []presence.Entry{
		{Relay: "nats://a:4222", Connected: true, EventCount: 12, IdleSecs: 90},
		{Relay: "nats://b:4222", Reaped: true, LastError: "connection refused"},
	})
	out := buf.String()
	for _, want := range []string{"nats://a:4222", "up", "12", "1m30s", "reaped", "connection refused"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printJSON(&buf, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "{\n  \"n\": 1\n}\n" {
		t.Errorf("printJSON = %q", got)
	}
}
