package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	if d.err != nil {
		return d.err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return nil
}

func TestSchedulerStartStop(t *testing.T) {
	ms := newMockStore()
	ms.add(&model.Event{ID: "e1", Kind: 1, CreatedAt: 1}, &model.Event{ID: "e2", Kind: 1, CreatedAt: 2})

	dest := &mockDestination{}
	sched := NewScheduler(ms, []Destination{dest}, 50*time.Millisecond, quiet)
	sched.Start()

	// Wait for at least the initial sync + one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}

	data, ok := dest.last.Load().([]byte)
	if !ok || len(data) == 0 {
		t.Fatal("expected non-empty data")
	}
	// 1 header + 2 events
	if lines := nonEmptyLines(string(data)); len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if _, err := ms.GetValue(context.Background(), KeyLastExport); err != nil {
		t.Fatalf("export cursor not recorded: %v", err)
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(newMockStore(), nil, time.Minute, quiet)
	// Stop without Start should not panic.
	sched.Stop()
}

func TestSchedulerMultipleDestinations(t *testing.T) {
	dest1 := &mockDestination{}
	dest2 := &mockDestination{}

	sched := NewScheduler(newMockStore(), []Destination{dest1, dest2}, time.Second, quiet)
	sched.Start()

	// Wait for the initial sync.
	time.Sleep(50 * time.Millisecond)
	sched.Stop()

	if dest1.writes.Load() < 1 {
		t.Fatal("dest1 expected at least 1 write")
	}
	if dest2.writes.Load() < 1 {
		t.Fatal("dest2 expected at least 1 write")
	}
}

func TestSyncOnce_PartialFailure(t *testing.T) {
	ms := newMockStore()
	bad := &mockDestination{err: errors.New("bucket gone")}
	good := &mockDestination{}
	sched := NewScheduler(ms, []Destination{bad, good}, time.Minute, quiet)

	if err := sched.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if good.writes.Load() != 1 {
		t.Fatal("healthy destination should still be written")
	}
	if _, err := ms.GetValue(context.Background(), KeyLastExport); err != nil {
		t.Fatal("cursor should be saved after a partial success")
	}
}

func TestSyncOnce_AllFail(t *testing.T) {
	ms := newMockStore()
	sched := NewScheduler(ms, []Destination{&mockDestination{err: errors.New("nope")}}, time.Minute, quiet)

	if err := sched.SyncOnce(context.Background()); err == nil {
		t.Fatal("expected error when every destination fails")
	}
	if _, err := ms.GetValue(context.Background(), KeyLastExport); err == nil {
		t.Fatal("cursor must not advance when nothing was written")
	}
}
