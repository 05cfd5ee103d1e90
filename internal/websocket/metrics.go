package websocket

import "sync/atomic"

// Metrics holds process-wide relay counters.
type Metrics struct {
	connectionsTotal   atomic.Int64
	disconnectsTotal   atomic.Int64
	messagesReceived   atomic.Int64
	parseErrors        atomic.Int64
	publishes          atomic.Int64
	publishFailures    atomic.Int64
	deliveries         atomic.Int64
	deliveryFailures   atomic.Int64
	upstreamMessages   atomic.Int64
	droppedUpstream    atomic.Int64
	subscribeFailures  atomic.Int64
	subscriptionsTotal atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to serialize.
type MetricsSnapshot struct {
	ConnectionsTotal   int64 `json:"connections_total"`
	DisconnectsTotal   int64 `json:"disconnects_total"`
	MessagesReceived   int64 `json:"messages_received"`
	ParseErrors        int64 `json:"parse_errors"`
	Publishes          int64 `json:"publishes"`
	PublishFailures    int64 `json:"publish_failures"`
	Deliveries         int64 `json:"deliveries"`
	DeliveryFailures   int64 `json:"delivery_failures"`
	UpstreamMessages   int64 `json:"upstream_messages"`
	DroppedUpstream    int64 `json:"dropped_upstream"`
	SubscribeFailures  int64 `json:"subscribe_failures"`
	SubscriptionsTotal int64 `json:"subscriptions_total"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ConnectionsTotal:   m.connectionsTotal.Load(),
		DisconnectsTotal:   m.disconnectsTotal.Load(),
		MessagesReceived:   m.messagesReceived.Load(),
		ParseErrors:        m.parseErrors.Load(),
		Publishes:          m.publishes.Load(),
		PublishFailures:    m.publishFailures.Load(),
		Deliveries:         m.deliveries.Load(),
		DeliveryFailures:   m.deliveryFailures.Load(),
		UpstreamMessages:   m.upstreamMessages.Load(),
		DroppedUpstream:    m.droppedUpstream.Load(),
		SubscribeFailures:  m.subscribeFailures.Load(),
		SubscriptionsTotal: m.subscriptionsTotal.Load(),
	}
}
