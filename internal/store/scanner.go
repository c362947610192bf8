package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// Sink receives events found by background scans.
type Sink interface {
	Ingest(ev *model.Event)
}

// ScannerConfig tunes a Scanner. Zero values take the defaults.
type ScannerConfig struct {
	// QueueSize bounds pending writes; Record drops beyond it. Default: 4096.
	QueueSize int
	// BatchSize is the largest SaveEvents call. Default: 256.
	BatchSize int
	// FlushInterval is how long a partial batch may wait. Default: 500ms.
	FlushInterval time.Duration
	// ScanTimeout bounds each background query. Default: 30s.
	ScanTimeout time.Duration
	// MaxScans caps concurrent background queries. Default: 8.
	MaxScans int
	Logger   *slog.Logger
}

// Scanner adapts a Store to the subscription tiers: it runs filter scans in
// the background, pushing matches into a Sink, and persists recorded events
// write-behind in batches.
type Scanner struct {
	store  Store
	cfg    ScannerConfig
	logger *slog.Logger

	queue chan *model.Event
	sem   chan struct{}

	mu      sync.Mutex
	sink    Sink
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	scans   sync.WaitGroup
	writer  chan struct{}

	saved   atomic.Int64
	dropped atomic.Int64
}

// NewScanner returns a Scanner over s. Call Start before use.
func NewScanner(s Store, cfg ScannerConfig) *Scanner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 30 * time.Second
	}
	if cfg.MaxScans <= 0 {
		cfg.MaxScans = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		store:  s,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan *model.Event, cfg.QueueSize),
		sem:    make(chan struct{}, cfg.MaxScans),
	}
}

// Start begins the write-behind loop. Scan results are delivered to sink.
func (s *Scanner) Start(ctx context.Context, sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.sink = sink
	s.started = true
	s.writer = make(chan struct{})
	go s.writeLoop()
}

// SubscribeBackgroundScan queries the store for filter and pushes the
// matches, oldest first, into the sink. It returns immediately.
func (s *Scanner) SubscribeBackgroundScan(filter model.Filter) {
	s.mu.Lock()
	if !s.started || s.ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.Debug("store: scan skipped, scanner not running")
		return
	}
	ctx, sink := s.ctx, s.sink
	s.scans.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.scans.Done()
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-s.sem }()

		qctx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
		defer cancel()
		events, err := s.store.QueryEvents(qctx, filter)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("store: background scan failed", "filter", filter.String(), "err", err)
			}
			return
		}
		sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt < events[j].CreatedAt })
		for _, ev := range events {
			if ctx.Err() != nil || sink == nil {
				return
			}
			sink.Ingest(ev)
		}
	}()
}

// Record queues ev for persistence. It never blocks: when the queue is full
// the event is dropped and counted.
func (s *Scanner) Record(ev *model.Event) {
	if ev == nil {
		return
	}
	select {
	case s.queue <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
			s.logger.Warn("store: write queue full, dropping events", "dropped", n)
		}
	}
}

func (s *Scanner) writeLoop() {
	defer close(s.writer)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*model.Event, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Writes outlive the scanner's context so a shutdown flush completes.
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ScanTimeout)
		n, err := s.store.SaveEvents(ctx, batch)
		cancel()
		if err != nil {
			s.logger.Warn("store: saving events failed", "count", len(batch), "err", err)
		} else {
			s.saved.Add(int64(n))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.ctx.Done():
			for {
				select {
				case ev := <-s.queue:
					batch = append(batch, ev)
					if len(batch) >= s.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Stop cancels running scans and waits for pending writes to be flushed.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	writer := s.writer
	s.mu.Unlock()

	s.scans.Wait()
	<-writer
}

// ScannerStats reports write-behind counters.
type ScannerStats struct {
	Saved   int64 `json:"saved"`
	Dropped int64 `json:"dropped"`
	Pending int   `json:"pending"`
}

// Stats returns current counters.
func (s *Scanner) Stats() ScannerStats {
	return ScannerStats{
		Saved:   s.saved.Load(),
		Dropped: s.dropped.Load(),
		Pending: len(s.queue),
	}
}
