package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"room-relay/internal/database"

	"github.com/redis/go-redis/v9"
)

var ErrServiceClosed = errors.New("redis service closed")

// PubSubMessage is a payload delivered on a subscribed channel.
type PubSubMessage struct {
	Channel string
	Payload string
}

// RedisService is the relay's view of Redis: channel publish, a single
// shared pub/sub connection for all room channels, and the connection
// rate-limit window.
type RedisService struct {
	client *database.RedisClient
	logger *slog.Logger

	mu       sync.Mutex
	pubsub   *redis.PubSub
	closed   bool
	messages chan PubSubMessage
	closeOut sync.Once
	done     chan struct{}
}

func NewRedisService(client *database.RedisClient, logger *slog.Logger) *RedisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisService{
		client:   client,
		logger:   logger,
		messages: make(chan PubSubMessage, 1024),
		done:     make(chan struct{}),
	}
}

// =============================================================================
// PubSub Operations
// =============================================================================

func (r *RedisService) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.GetClient().Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	r.logger.Debug("Published channel message", "channel", channel, "bytes", len(payload))
	return nil
}

// Subscribe adds channels to the shared pub/sub connection, opening it on
// first use. go-redis re-subscribes every tracked channel after a reconnect.
func (r *RedisService) Subscribe(ctx context.Context, channels ...string) error {
	ps, err := r.ensurePubSub(ctx)
	if err != nil {
		return err
	}
	if err := ps.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("subscribe %v: %w", channels, err)
	}
	r.logger.Debug("Subscribed to channels", "channels", channels)
	return nil
}

func (r *RedisService) Unsubscribe(ctx context.Context, channels ...string) error {
	r.mu.Lock()
	ps := r.pubsub
	r.mu.Unlock()
	if ps == nil {
		return nil
	}
	if err := ps.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("unsubscribe %v: %w", channels, err)
	}
	r.logger.Debug("Unsubscribed from channels", "channels", channels)
	return nil
}

// Messages returns every message received on subscribed channels. The
// channel is closed by Close.
func (r *RedisService) Messages() <-chan PubSubMessage {
	return r.messages
}

// NumSubscribers reports how many Redis connections subscribe to channel.
func (r *RedisService) NumSubscribers(ctx context.Context, channel string) (int64, error) {
	counts, err := r.client.GetClient().PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, err
	}
	return counts[channel], nil
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// Close tears down the pub/sub connection. The underlying client is owned by
// the caller.
func (r *RedisService) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ps := r.pubsub
	r.mu.Unlock()
	close(r.done)

	if ps == nil {
		r.closeOut.Do(func() { close(r.messages) })
		return nil
	}
	// forward closes r.messages once the pubsub channel drains.
	return ps.Close()
}

func (r *RedisService) ensurePubSub(ctx context.Context) (*redis.PubSub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrServiceClosed
	}
	if r.pubsub != nil {
		return r.pubsub, nil
	}

	r.pubsub = r.client.GetClient().Subscribe(ctx)
	go r.forward(r.pubsub.Channel(redis.WithChannelSize(1024)))
	return r.pubsub, nil
}

func (r *RedisService) forward(in <-chan *redis.Message) {
	defer r.closeOut.Do(func() { close(r.messages) })

	for msg := range in {
		select {
		case r.messages <- PubSubMessage{Channel: msg.Channel, Payload: msg.Payload}:
		case <-r.done:
			return
		}
	}
	r.logger.Debug("Pub/sub channel closed")
}

// =============================================================================
// Rate Limiting
// =============================================================================

// CheckRateLimit records one hit on key and reports whether the sliding
// window still has room for it.
func (r *RedisService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixNano()

	pipe := r.client.GetClient().Pipeline()

	// Remove old entries
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))

	// Count current entries
	countCmd := pipe.ZCard(ctx, key)

	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return countCmd.Val() < int64(limit), nil
}
