package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type inboundMessage struct {
	client *Client
	data   []byte
}

type HubConfig struct {
	Client ClientConfig
	Bridge BridgeConfig
	// Bound on tearing down upstream subscriptions while shutting down
	ShutdownTimeout time.Duration
}

// Stats is the snapshot served on /stats.
type Stats struct {
	Clients               int             `json:"clients"`
	Rooms                 int             `json:"rooms"`
	UpstreamSubscriptions int             `json:"upstream_subscriptions"`
	PendingSubscriptions  int             `json:"pending_subscriptions"`
	BrokerHealthy         bool            `json:"broker_healthy"`
	Counters              MetricsSnapshot `json:"counters"`
}

// Hub wires the relay together and runs the single event loop that every
// register, unregister and client frame goes through. Serializing them there
// is what makes a join or leave and its upstream subscribe or unsubscribe one
// atomic step.
type Hub struct {
	registry   *Registry
	router     *Router
	bridge     *Bridge
	dispatcher *Dispatcher
	metrics    *Metrics

	// owned by the Run goroutine
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	clientCfg       ClientConfig
	shutdownTimeout time.Duration

	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	logger *slog.Logger
}

func NewHub(broker Broker, cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Client.setDefaults()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	metrics := NewMetrics()
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry, metrics, logger.With("component", "dispatcher"))
	bridge := NewBridge(broker, registry, func(room string, payload []byte) {
		dispatcher.Deliver(room, payload)
	}, cfg.Bridge, metrics, logger.With("component", "bridge"))
	router := NewRouter(registry, bridge, metrics, logger.With("component", "router"))

	return &Hub{
		registry:        registry,
		router:          router,
		bridge:          bridge,
		dispatcher:      dispatcher,
		metrics:         metrics,
		clients:         make(map[string]*Client),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		inbound:         make(chan inboundMessage, 256),
		clientCfg:       cfg.Client,
		shutdownTimeout: cfg.ShutdownTimeout,
		done:            make(chan struct{}),
		stop:            make(chan struct{}),
		logger:          logger.With("component", "hub"),
	}
}

// Run processes hub events until ctx is cancelled or Stop is called, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(ctx, client)

		case msg := <-h.inbound:
			h.handleInbound(ctx, msg)

		case <-ctx.Done():
			h.shutdown()
			return nil

		case <-h.stop:
			h.shutdown()
			return nil
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Bridge() *Bridge {
	return h.bridge
}

func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

func (h *Hub) Stats() Stats {
	return Stats{
		Clients:               h.registry.ClientCount(),
		Rooms:                 h.registry.RoomCount(),
		UpstreamSubscriptions: len(h.bridge.ActiveRooms()),
		PendingSubscriptions:  len(h.bridge.PendingRooms()),
		BrokerHealthy:         h.bridge.Healthy(),
		Counters:              h.metrics.Snapshot(),
	}
}

func (h *Hub) registerClient(client *Client) {
	if err := h.router.Register(client); err != nil {
		h.logger.Error("Failed to register client", "clientID", client.id, "error", err)
		client.close()
		return
	}
	h.clients[client.id] = client
}

func (h *Hub) unregisterClient(ctx context.Context, client *Client) {
	if h.clients[client.id] != client {
		return
	}
	delete(h.clients, client.id)
	h.router.Disconnect(ctx, client.id)
	client.close()
}

func (h *Hub) handleInbound(ctx context.Context, msg inboundMessage) {
	if h.clients[msg.client.id] != msg.client {
		return
	}

	err := h.router.Route(ctx, msg.client.id, msg.data)
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedMessage), errors.Is(err, ErrUnknownMessageType):
		h.logger.Warn("Discarding invalid client message", "clientID", msg.client.id, "error", err)
	default:
		h.logger.Error("Failed to handle client message", "clientID", msg.client.id, "error", err)
	}
}

func (h *Hub) shutdown() {
	h.logger.Info("WebSocket hub shutting down", "clients", len(h.clients))
	close(h.done)

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	for id, client := range h.clients {
		h.router.Disconnect(ctx, id)
		client.close()
		delete(h.clients, id)
	}
}
