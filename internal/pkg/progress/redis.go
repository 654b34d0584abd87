package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel progress events are published on
const DefaultChannel = "claimagent:progress"

// RedisPublisher publishes events as JSON on a Redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisPublisher creates a publisher on channel
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, timeout: 500 * time.Millisecond}
}

// Report publishes the event; failures are logged and dropped
func (p *RedisPublisher) Report(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		log.Debugf("[Progress] Publish failed: %v", err)
	}
}

// Subscribe decodes events published on the channel until ctx is done
func Subscribe(ctx context.Context, client *redis.Client, channel string, fn func(Event)) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := decode(msg.Payload, &e); err == nil {
				fn(e)
			}
		}
	}
}

func decode(payload string, e *Event) error {
	return json.Unmarshal([]byte(payload), e)
}
