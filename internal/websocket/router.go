package websocket

import (
	"context"
	"fmt"
	"log/slog"
)

// Upstream is the part of the Bridge the router drives.
type Upstream interface {
	EnsureSubscribed(ctx context.Context, room string) error
	EnsureUnsubscribed(ctx context.Context, room string)
	Publish(room, message string) error
}

// Router applies client operations to the registry and keeps upstream
// subscriptions in step with local interest. Its methods must be called from
// one goroutine at a time; the Hub's event loop does that.
type Router struct {
	registry *Registry
	upstream Upstream
	metrics  *Metrics
	logger   *slog.Logger
}

func NewRouter(registry *Registry, upstream Upstream, metrics *Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Router{registry: registry, upstream: upstream, metrics: metrics, logger: logger}
}

func (r *Router) Register(m Member) error {
	if err := r.registry.Register(m); err != nil {
		return err
	}
	r.metrics.connectionsTotal.Add(1)
	r.logger.Info("Client registered", "clientID", m.ID())
	return nil
}

// Route parses one client frame and applies it. Malformed frames return an
// error and change nothing.
func (r *Router) Route(ctx context.Context, clientID string, data []byte) error {
	r.metrics.messagesReceived.Add(1)

	msg, err := ParseMessage(data)
	if err != nil {
		r.metrics.parseErrors.Add(1)
		return err
	}
	if !r.registry.Has(clientID) {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		return r.subscribe(ctx, clientID, msg.Room)
	case MessageTypeUnsubscribe:
		return r.unsubscribe(ctx, clientID, msg.Room)
	case MessageTypeSendMessage:
		return r.upstream.Publish(msg.RoomID, msg.Text)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
}

func (r *Router) subscribe(ctx context.Context, clientID, room string) error {
	t, err := r.registry.Join(clientID, room)
	if err != nil {
		return err
	}
	r.logger.Debug("Client joined room", "clientID", clientID, "room", room, "members", t.After)

	if t.FirstSubscriber() {
		if err := r.upstream.EnsureSubscribed(ctx, room); err != nil {
			// The bridge keeps retrying; the join itself stands.
			r.logger.Warn("Room joined while upstream subscription is pending", "room", room, "error", err)
		}
	}
	return nil
}

func (r *Router) unsubscribe(ctx context.Context, clientID, room string) error {
	t, err := r.registry.Leave(clientID, room)
	if err != nil {
		return err
	}
	if !t.Changed() {
		return nil
	}
	r.logger.Debug("Client left room", "clientID", clientID, "room", room, "members", t.After)

	if t.LastUnsubscriber() {
		r.upstream.EnsureUnsubscribed(ctx, room)
	}
	return nil
}

// Disconnect removes the client and releases every upstream subscription it
// was the last local member of. Unknown ids are ignored.
func (r *Router) Disconnect(ctx context.Context, clientID string) {
	if !r.registry.Has(clientID) {
		return
	}

	transitions := r.registry.Deregister(clientID)
	for _, t := range transitions {
		if t.LastUnsubscriber() {
			r.upstream.EnsureUnsubscribed(ctx, t.Room)
		}
	}
	r.metrics.disconnectsTotal.Add(1)
	r.logger.Info("Client disconnected", "clientID", clientID, "rooms", len(transitions))
}
