package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/metaform/metaform-management/internal/logging"
	"github.com/metaform/metaform-management/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "metaform:presence"

// Bus implements ports.Bus over Redis pub/sub, so that a broadcast issued by one
// replica reaches the websocket clients connected to every replica.
type Bus struct {
	client  *backend.Client
	channel string
	logger  *slog.Logger
}

// BusOption configures the Bus.
type BusOption func(*Bus)

// WithChannel overrides the pub/sub channel.
func WithChannel(channel string) BusOption {
	return func(b *Bus) {
		b.channel = channel
	}
}

// WithBusLogger configures a logger for dropped frames.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates a bus on an existing client.
func NewBus(client *backend.Client, opts ...BusOption) *Bus {
	b := &Bus{
		client:  client,
		channel: DefaultChannel,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends a notification to every subscriber.
func (b *Bus) Publish(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subscribe delivers received notifications to fn until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, fn func(domain.Notification)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting readiness via logs.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.logger.Debug("Bus subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n domain.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil || n.ReplyID == "" {
				b.logger.Warn("Bus: dropping undecodable frame", "channel", b.channel, "err", err)
				continue
			}
			fn(n)
		}
	}
}
