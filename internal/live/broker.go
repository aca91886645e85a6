package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel carrying portal change notifications.
const DefaultChannel = "portal.events"

// Event tells subscribers that an entity changed. Clients re-fetch the
// entity through the API, which applies their access rules.
type Event struct {
	Topic  string    `json:"topic"`
	ID     int64     `json:"id"`
	Status string    `json:"status,omitempty"`
	At     time.Time `json:"at"`
}

// Broker fans change notifications out over Redis pub/sub so every API
// instance sees them.
type Broker struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	now     func() time.Time
}

// NewBroker constructs a broker on channel. A nil client disables publishing.
func NewBroker(client *redis.Client, channel string, logger *slog.Logger) *Broker {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{client: client, channel: channel, logger: logger, now: time.Now}
}

// Publish announces a committed change.
func (b *Broker) Publish(ctx context.Context, topic string, id int64, status string) error {
	if b == nil || b.client == nil {
		return nil
	}
	data, err := json.Marshal(Event{Topic: topic, ID: id, Status: status, At: b.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers events to fn until ctx is cancelled. It blocks.
func (b *Broker) Subscribe(ctx context.Context, fn func(Event)) error {
	if b.client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		_ = pubsub.Close()
	}()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("live events subscribed", slog.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("live events channel closed")
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("drop malformed live event", slog.String("payload", msg.Payload), slog.Any("error", err))
				continue
			}
			fn(evt)
		}
	}
}
