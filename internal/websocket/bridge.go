package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"room-relay/internal/services"

	"github.com/cenkalti/backoff/v5"
)

// Broker is the upstream pub/sub system shared by every relay process.
// services.RedisService implements it.
type Broker interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Messages() <-chan services.PubSubMessage
	Ping(ctx context.Context) error
}

// DeliverFunc receives a room's upstream messages, already unwrapped to the
// raw message text.
type DeliverFunc func(room string, payload []byte)

type BridgeConfig struct {
	SubscribeTimeout     time.Duration
	PublishTimeout       time.Duration
	PublishQueueSize     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	HealthCheckInterval  time.Duration
}

func (c *BridgeConfig) setDefaults() {
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 3 * time.Second
	}
	if c.PublishQueueSize <= 0 {
		c.PublishQueueSize = 1024
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 30 * time.Second
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 10 * time.Second
	}
}

type subscription struct {
	room     string
	active   bool
	callback DeliverFunc
	since    time.Time

	// cancels the pending-subscribe retry loop, nil once active
	cancelRetry context.CancelFunc
}

type publishRequest struct {
	room    string
	payload []byte
}

var errNoInterest = errors.New("no local interest")

// Bridge owns the upstream side of the relay: one broker subscription per
// room with local interest, the outbound publish queue, and broker health.
type Bridge struct {
	broker   Broker
	interest InterestCounter
	deliver  DeliverFunc
	cfg      BridgeConfig
	metrics  *Metrics
	logger   *slog.Logger

	// brokerMu serializes subscribe/unsubscribe calls on the broker so a
	// retry never races a teardown of the same room.
	brokerMu sync.Mutex

	mu   sync.RWMutex
	subs map[string]*subscription

	publishQ chan publishRequest
	healthy  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBridge(broker Broker, interest InterestCounter, deliver DeliverFunc, cfg BridgeConfig, metrics *Metrics, logger *slog.Logger) *Bridge {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		broker:   broker,
		interest: interest,
		deliver:  deliver,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		subs:     make(map[string]*subscription),
		publishQ: make(chan publishRequest, cfg.PublishQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.healthy.Store(true)
	return b
}

// EnsureSubscribed registers the room's delivery callback and subscribes on
// the broker. If the broker call fails the registration stays pending and is
// retried in the background until it succeeds or the room loses its last
// local member. Calling it for an already registered room does nothing.
func (b *Bridge) EnsureSubscribed(ctx context.Context, room string) error {
	b.brokerMu.Lock()
	defer b.brokerMu.Unlock()

	b.mu.Lock()
	if _, exists := b.subs[room]; exists {
		b.mu.Unlock()
		return nil
	}
	sub := &subscription{room: room, callback: b.deliver, since: time.Now()}
	b.subs[room] = sub
	b.mu.Unlock()

	err := b.subscribeLocked(ctx, room)
	if err == nil {
		b.markActive(sub)
		b.logger.Info("Subscribed upstream", "room", room)
		return nil
	}

	b.metrics.subscribeFailures.Add(1)
	b.logger.Warn("Upstream subscribe failed, retrying in background", "room", room, "error", err)
	b.startRetry(sub)
	return fmt.Errorf("subscribe %s: %w", room, err)
}

// EnsureUnsubscribed drops the room's registration and broker subscription
// once no local client is joined. Broker errors are logged, not returned.
func (b *Bridge) EnsureUnsubscribed(ctx context.Context, room string) {
	if b.interest.InterestCount(room) > 0 {
		return
	}

	b.brokerMu.Lock()
	defer b.brokerMu.Unlock()

	b.mu.Lock()
	sub, exists := b.subs[room]
	if !exists {
		b.mu.Unlock()
		return
	}
	delete(b.subs, room)
	if sub.cancelRetry != nil {
		sub.cancelRetry()
	}
	b.mu.Unlock()

	unsubCtx, cancel := context.WithTimeout(ctx, b.cfg.SubscribeTimeout)
	defer cancel()
	if err := b.broker.Unsubscribe(unsubCtx, room); err != nil {
		b.logger.Warn("Upstream unsubscribe failed", "room", room, "error", err)
		return
	}
	b.logger.Info("Unsubscribed upstream", "room", room)
}

// Publish queues a message for the room's broker channel. It never blocks;
// when the queue is full the message is dropped.
func (b *Bridge) Publish(room, message string) error {
	payload, err := NewEnvelope(room, message).Marshal()
	if err != nil {
		return err
	}

	select {
	case <-b.ctx.Done():
		return ErrBridgeStopped
	default:
	}

	select {
	case b.publishQ <- publishRequest{room: room, payload: payload}:
		return nil
	default:
		b.metrics.publishFailures.Add(1)
		b.logger.Warn("Publish queue full, dropping message", "room", room)
		return ErrPublishQueueFull
	}
}

// Run drives the receive loop, the publisher and the health monitor until
// ctx is cancelled or Stop is called.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		cancel()
		b.cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); b.receiveLoop(ctx) }()
	go func() { defer wg.Done(); b.publishLoop(ctx) }()
	go func() { defer wg.Done(); b.healthLoop(ctx) }()
	wg.Wait()

	b.logger.Info("Bridge stopped")
	return nil
}

// Stop ends Run and any pending-subscribe retries.
func (b *Bridge) Stop() {
	b.cancel()
}

// ActiveRooms lists rooms whose broker subscription is confirmed.
func (b *Bridge) ActiveRooms() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rooms := make([]string, 0, len(b.subs))
	for room, sub := range b.subs {
		if sub.active {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	return rooms
}

// PendingRooms lists rooms registered but still waiting on the broker.
func (b *Bridge) PendingRooms() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rooms := make([]string, 0)
	for room, sub := range b.subs {
		if !sub.active {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	return rooms
}

func (b *Bridge) IsSubscribed(room string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, exists := b.subs[room]
	return exists && sub.active
}

// IsRegistered reports whether the room has a registration, active or pending.
func (b *Bridge) IsRegistered(room string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.subs[room]
	return exists
}

// Healthy reports the result of the last broker health check.
func (b *Bridge) Healthy() bool {
	return b.healthy.Load()
}

func (b *Bridge) subscribeLocked(ctx context.Context, room string) error {
	subCtx, cancel := context.WithTimeout(ctx, b.cfg.SubscribeTimeout)
	defer cancel()
	return b.broker.Subscribe(subCtx, room)
}

func (b *Bridge) markActive(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.active = true
	if sub.cancelRetry != nil {
		sub.cancelRetry()
		sub.cancelRetry = nil
	}
	sub.since = time.Now()
	b.metrics.subscriptionsTotal.Add(1)
}

func (b *Bridge) startRetry(sub *subscription) {
	retryCtx, cancel := context.WithCancel(b.ctx)

	b.mu.Lock()
	if sub.cancelRetry != nil {
		sub.cancelRetry()
	}
	sub.cancelRetry = cancel
	b.mu.Unlock()

	go b.retrySubscribe(retryCtx, sub)
}

func (b *Bridge) retrySubscribe(ctx context.Context, sub *subscription) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.RetryInitialInterval
	policy.MaxInterval = b.cfg.RetryMaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		b.brokerMu.Lock()
		defer b.brokerMu.Unlock()

		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		b.mu.RLock()
		current := b.subs[sub.room]
		active := sub.active
		b.mu.RUnlock()
		if current != sub {
			return struct{}{}, backoff.Permanent(errNoInterest)
		}
		if active {
			return struct{}{}, nil
		}
		if b.interest.InterestCount(sub.room) == 0 {
			return struct{}{}, backoff.Permanent(errNoInterest)
		}

		if err := b.subscribeLocked(ctx, sub.room); err != nil {
			b.metrics.subscribeFailures.Add(1)
			return struct{}{}, err
		}
		b.markActive(sub)
		return struct{}{}, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.logger.Warn("Upstream subscribe retry failed", "room", sub.room, "error", err, "retryIn", next)
		}),
	)

	switch {
	case err == nil:
		b.logger.Info("Subscribed upstream after retry", "room", sub.room)
	case errors.Is(err, errNoInterest), errors.Is(err, context.Canceled):
		b.logger.Debug("Upstream subscribe retry abandoned", "room", sub.room, "reason", err)
	default:
		b.logger.Error("Upstream subscribe retry gave up", "room", sub.room, "error", err)
	}
}

func (b *Bridge) receiveLoop(ctx context.Context) {
	messages := b.broker.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				b.logger.Warn("Broker message stream closed")
				return
			}
			b.handleUpstream(msg)
		}
	}
}

func (b *Bridge) handleUpstream(msg services.PubSubMessage) {
	b.mu.RLock()
	sub, exists := b.subs[msg.Channel]
	var callback DeliverFunc
	if exists {
		callback = sub.callback
	}
	b.mu.RUnlock()

	if callback == nil {
		b.metrics.droppedUpstream.Add(1)
		b.logger.Debug("Dropping message for unregistered room", "room", msg.Channel)
		return
	}

	env, err := ParseEnvelope([]byte(msg.Payload))
	if err != nil {
		b.metrics.droppedUpstream.Add(1)
		b.logger.Warn("Dropping invalid upstream payload", "room", msg.Channel, "error", err)
		return
	}

	b.metrics.upstreamMessages.Add(1)
	callback(msg.Channel, []byte(env.Message))
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.publishQ:
			pubCtx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
			err := b.broker.Publish(pubCtx, req.room, req.payload)
			cancel()
			if err != nil {
				b.metrics.publishFailures.Add(1)
				b.logger.Error("Failed to publish upstream", "room", req.room, "error", err)
				continue
			}
			b.metrics.publishes.Add(1)
		}
	}
}

func (b *Bridge) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.checkHealth(ctx)
		}
	}
}

func (b *Bridge) checkHealth(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, b.cfg.SubscribeTimeout)
	err := b.broker.Ping(pingCtx)
	cancel()

	wasHealthy := b.healthy.Load()
	b.healthy.Store(err == nil)

	switch {
	case err != nil && wasHealthy:
		b.logger.Error("Broker unreachable", "error", err)
	case err == nil && !wasHealthy:
		b.logger.Info("Broker reachable again")
		b.rearmPending()
	}
}

// rearmPending restarts the retry loop of every pending room so it tries
// immediately instead of waiting out its current backoff.
func (b *Bridge) rearmPending() {
	b.mu.RLock()
	pending := make([]*subscription, 0)
	for _, sub := range b.subs {
		if !sub.active {
			pending = append(pending, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range pending {
		b.logger.Debug("Re-arming pending subscription", "room", sub.room)
		b.startRetry(sub)
	}
}
