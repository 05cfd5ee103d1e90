package websocket

import (
	"context"
	"errors"
	"log/slog"
)

// DeliveryResult summarizes one fan-out.
type DeliveryResult struct {
	Room      string
	Attempted int
	Delivered int
	Failed    int
}

// Dispatcher hands a payload to every current member of a room. A failing
// member never stops delivery to the others.
type Dispatcher struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Dispatcher{registry: registry, metrics: metrics, logger: logger}
}

func (d *Dispatcher) Deliver(room string, payload []byte) DeliveryResult {
	members := d.registry.MembersOf(room)
	result := DeliveryResult{Room: room, Attempted: len(members)}

	for _, m := range members {
		if err := m.Send(payload); err != nil {
			result.Failed++
			level := slog.LevelDebug
			if !errors.Is(err, ErrClientDisconnected) && !errors.Is(err, ErrSendBufferFull) {
				level = slog.LevelWarn
			}
			d.logger.Log(context.Background(), level, "Delivery to client failed", "room", room, "clientID", m.ID(), "error", err)
			continue
		}
		result.Delivered++
	}

	d.metrics.deliveries.Add(int64(result.Delivered))
	d.metrics.deliveryFailures.Add(int64(result.Failed))
	return result
}
