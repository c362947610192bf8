package pubsub

import (
	"context"
	"log/slog"
	"slices"

	"github.com/alfredjeanlab/relaymux/internal/flags"
	"github.com/alfredjeanlab/relaymux/internal/model"
)

// DefaultMaxSubscriptions is the fan-out concurrency ceiling.
const DefaultMaxSubscriptions = 100

// RelayPool turns logical subscriptions into relay fan-outs: it picks the
// relay set, rewrites since with the watermark and hands the result to the
// transport.
type RelayPool struct {
	transport   RelayTransport
	watermark   WatermarkSource
	specialized []string
	limit       int
	sink        Deliverer
	logger      *slog.Logger
}

// RelayPoolConfig configures NewRelayPool.
type RelayPoolConfig struct {
	Transport RelayTransport
	Watermark WatermarkSource
	// SpecializedRelays serve metadata-class kinds with low latency. Empty
	// disables the override even when the flag is on.
	SpecializedRelays []string
	// MaxSubscriptions caps simultaneous underlying subscriptions.
	// Default: DefaultMaxSubscriptions.
	MaxSubscriptions int
	Logger           *slog.Logger
}

// NewRelayPool returns a pool delivering into sink.
func NewRelayPool(cfg RelayPoolConfig, sink Deliverer) *RelayPool {
	limit := cfg.MaxSubscriptions
	if limit <= 0 {
		limit = DefaultMaxSubscriptions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayPool{
		transport:   cfg.Transport,
		watermark:   cfg.Watermark,
		specialized: cfg.SpecializedRelays,
		limit:       limit,
		sink:        sink,
		logger:      logger,
	}
}

// Open starts a network subscription for filters. The filters are cloned
// before the since rewrite, so callers' values are never touched.
func (p *RelayPool) Open(filters []model.Filter, sinceLastOpened bool, f flags.Flags) Unsubscribe {
	if p == nil || p.transport == nil {
		return noopUnsubscribe
	}

	out := make([]model.Filter, len(filters))
	for i := range filters {
		out[i] = filters[i].Clone()
	}

	var relays []string
	if f.UseExternalPool {
		relays = p.SelectRelays(out, f)
	} else {
		relays = p.transport.DefaultRelays()
	}

	if sinceLastOpened {
		applyWatermark(out, p.currentWatermark())
	}

	level := slog.LevelDebug
	if f.LoggingEnabled {
		level = slog.LevelInfo
	}
	p.logger.Log(context.Background(), level, "relaypool: subscribe", "filters", len(out), "relays", relays, "since_last_opened", sinceLastOpened)

	unsub := p.transport.Subscribe(out, relays, p.sink.Ingest, p.limit)
	return func() {
		p.logger.Log(context.Background(), level, "relaypool: unsubscribe", "filters", len(out))
		unsub()
	}
}

// SelectRelays applies the relay selection policy. A nil result leaves the
// choice to the transport.
func (p *RelayPool) SelectRelays(filters []model.Filter, f flags.Flags) []string {
	var relays []string
	if slices.ContainsFunc(filters, func(fl model.Filter) bool { return fl.Authors == nil }) {
		relays = p.transport.DefaultRelays()
	}
	if f.UseSpecializedRelaySubset && len(p.specialized) > 0 && len(filters) > 0 && allMetadataKinds(filters) {
		relays = p.specialized
	}
	return relays
}

func allMetadataKinds(filters []model.Filter) bool {
	for _, fl := range filters {
		if fl.Kinds == nil {
			return false
		}
		for _, k := range fl.Kinds {
			if !model.IsMetadataKind(k) {
				return false
			}
		}
	}
	return true
}

func (p *RelayPool) currentWatermark() int64 {
	if p.watermark == nil {
		return 0
	}
	return p.watermark.Watermark()
}

// applyWatermark raises since to the watermark on every filter. Unlike a
// plain overwrite it keeps a caller-provided since that is already later, so
// a narrower window is never widened; since >= watermark holds either way.
func applyWatermark(filters []model.Filter, watermark int64) {
	for i := range filters {
		if filters[i].Since != nil && *filters[i].Since >= watermark {
			continue
		}
		filters[i].Since = model.Int64(watermark)
	}
}
