package flags

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alfredjeanlab/relaymux/internal/events"
)

// Watch applies flag updates received on topic until ctx is cancelled.
// Payloads that fail to decode are logged and skipped.
func Watch(ctx context.Context, cell *Cell, sub events.Subscriber, topic string, logger *slog.Logger) error {
	ch, cancel, err := sub.Subscribe(topic)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			next := Defaults()
			if err := json.Unmarshal(data, &next); err != nil {
				logger.Warn("flags: bad update payload", "topic", topic, "err", err)
				continue
			}
			logger.Debug("flags: update received", "topic", topic)
			cell.Store(next)
		}
	}
}
