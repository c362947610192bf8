package flags

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/events"
	"github.com/alfredjeanlab/relaymux/internal/natstest"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if !d.UseExternalPool || d.LoggingEnabled || d.UseSpecializedRelaySubset {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}

func TestCell_StoreLoad(t *testing.T) {
	c := NewCell(Defaults())

	var seen []Flags
	c.OnChange(func(f Flags) { seen = append(seen, f) })

	next := Flags{LoggingEnabled: true, UseSpecializedRelaySubset: true}
	c.Store(next)

	if got := c.Load(); got != next {
		t.Fatalf("Load() = %+v, want %+v", got, next)
	}
	if len(seen) != 1 || seen[0] != next {
		t.Fatalf("watchers saw %+v", seen)
	}
}

func TestCell_SnapshotIsolation(t *testing.T) {
	c := NewCell(Defaults())
	snap := c.Load()
	c.Store(Flags{LoggingEnabled: true})
	if snap.LoggingEnabled {
		t.Fatal("snapshot changed after Store")
	}
}

func TestFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.toml")
	want := Flags{LoggingEnabled: true, UseSpecializedRelaySubset: true, UseExternalPool: false}
	if err := SaveFile(path, want); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got != want {
		t.Fatalf("LoadFile() = %+v, want %+v", got, want)
	}
}

func TestLoadFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.toml")
	if err := os.WriteFile(path, []byte("logging_enabled = true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !got.LoggingEnabled || !got.UseExternalPool {
		t.Fatalf("LoadFile() = %+v", got)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("logging_enabled = = ="), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFile(path)
	if err == nil {
		t.Error("expected error for malformed file")
	}
	if got != Defaults() {
		t.Errorf("malformed file should yield defaults, got %+v", got)
	}
}

func TestWatch_AppliesPushedFlags(t *testing.T) {
	url := natstest.Start(t)

	sub, err := events.NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()
	pub, err := events.NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	cell := NewCell(Defaults())
	changed := make(chan Flags, 4)
	cell.OnChange(func(f Flags) { changed <- f })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	go func() { done <- Watch(ctx, cell, sub, events.SubjectFlags, logger) }()

	// Watch subscribes asynchronously; keep pushing until it lands.
	want := Flags{UseSpecializedRelaySubset: true, UseExternalPool: true}
	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		_ = pub.Publish(ctx, events.SubjectFlags, []byte("not json"))
		_ = pub.Publish(ctx, events.SubjectFlags, want)
		select {
		case got := <-changed:
			if got != want {
				t.Fatalf("pushed flags = %+v, want %+v", got, want)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch returned %v", err)
			}
			return
		case <-ticker.C:
		case <-deadline:
			t.Fatal("timed out waiting for flag update")
		}
	}
}
