package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tiltvault/vaultd/internal/domain"
)

// SignalBus carries position lifecycle events over Redis pub/sub. Every
// running instance sees every event, so the websocket hub can fan out updates
// regardless of which instance executed the position.
type SignalBus struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, log *slog.Logger) *SignalBus {
	return &SignalBus{
		rdb: c.Underlying(),
		log: log.With("component", "signal_bus"),
	}
}

// Publish sends a payload to all subscribers of channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to the named channel. The
// channel closes when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := sb.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					sb.log.Warn("subscriber lagging, dropping event", "channel", channel)
				}
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
