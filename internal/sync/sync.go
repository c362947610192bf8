package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/store"
)

// KeyLastExport is the store key holding the unix time of the last
// successful export.
const KeyLastExport = "sync:last_export"

// Destination is the interface for a sync target (S3, git, etc.).
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from the store to the given
// destinations at the specified interval.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic sync. It runs an initial sync immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current sync (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce exports the whole store to every destination. The export time is
// recorded only when at least one destination accepted it.
func (s *Scheduler) SyncOnce(ctx context.Context) error {
	started := time.Now().Unix()

	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, s.store, &buf, nil)
	if err != nil {
		s.logger.Error("sync export failed", "err", err)
		return err
	}
	data := buf.Bytes()

	written := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("sync destination write failed", "destination", strconv.Itoa(i), "err", err)
			continue
		}
		written++
	}
	if written == 0 && len(s.destinations) > 0 {
		return fmt.Errorf("all %d destinations failed", len(s.destinations))
	}

	if err := s.store.PutValue(ctx, KeyLastExport, json.RawMessage(strconv.FormatInt(started, 10))); err != nil {
		s.logger.Warn("sync cursor not saved", "err", err)
	}
	s.logger.Info("sync completed", "destinations", written, "events", n, "bytes", len(data))
	return nil
}
