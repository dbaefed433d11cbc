// Package redisnotify carries approval resolution events between instances
// over Redis pub/sub.
package redisnotify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/agentshield/agentshield/internal/adapter/outbound/memory"
	"github.com/agentshield/agentshield/internal/domain/approval"
)

// ChannelPrefix prefixes the per-approval channel names.
const ChannelPrefix = "agentshield:approval:"

// Notifier publishes resolutions to Redis and relays every resolution seen on
// Redis to the waiters of this process.
type Notifier struct {
	client *redis.Client
	pubsub *redis.PubSub
	local  *memory.Notifier
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
}

var _ approval.Notifier = (*Notifier)(nil)

// New connects to redisURL (redis://[user:pass@]host:port/db) and starts
// relaying resolution events. Call Close to stop.
func New(ctx context.Context, redisURL string, logger *slog.Logger) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	pubsub := client.PSubscribe(ctx, ChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe to approval channels: %w", err)
	}

	n := &Notifier{
		client: client,
		pubsub: pubsub,
		local:  memory.NewNotifier(),
		logger: logger,
		done:   make(chan struct{}),
	}
	go n.relay()
	return n, nil
}

func (n *Notifier) relay() {
	defer close(n.done)
	for msg := range n.pubsub.Channel() {
		id := strings.TrimPrefix(msg.Channel, ChannelPrefix)
		if id == "" {
			continue
		}
		_ = n.local.Publish(context.Background(), id)
	}
}

// Subscribe registers a local waiter for id.
func (n *Notifier) Subscribe(ctx context.Context, id string) (<-chan struct{}, func(), error) {
	return n.local.Subscribe(ctx, id)
}

// Publish wakes local waiters immediately and announces the resolution to
// other instances.
func (n *Notifier) Publish(ctx context.Context, id string) error {
	_ = n.local.Publish(ctx, id)
	if err := n.client.Publish(ctx, ChannelPrefix+id, "resolved").Err(); err != nil {
		return fmt.Errorf("publish approval %s: %w", id, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Close stops the relay and closes the connection.
func (n *Notifier) Close() error {
	var err error
	n.once.Do(func() {
		err = n.pubsub.Close()
		<-n.done
		if cerr := n.client.Close(); err == nil {
			err = cerr
		}
		n.logger.Debug("redis notifier closed")
	})
	return err
}
