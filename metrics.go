package mqtt311

import (
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// MetricTypeCounter is a monotonically increasing counter.
	MetricTypeCounter MetricType = 0
	// MetricTypeGauge is a value that can go up and down.
	MetricTypeGauge MetricType = 1
	// MetricTypeHistogram tracks distribution of values.
	MetricTypeHistogram MetricType = 2
)

// String returns the string representation of the metric type.
func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics defines the interface for collecting metrics.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge

	// Histogram returns a histogram metric.
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()

	// Add adds the given value to the counter.
	Add(delta float64)

	// Value returns the current value.
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	// Set sets the gauge to the given value.
	Set(value float64)

	// Inc increments the gauge by 1.
	Inc()

	// Dec decrements the gauge by 1.
	Dec()

	// Add adds the given value to the gauge.
	Add(delta float64)

	// Sub subtracts the given value from the gauge.
	Sub(delta float64)

	// Value returns the current value.
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	// Observe records a value.
	Observe(value float64)

	// ObserveDuration records a duration in seconds.
	ObserveDuration(d time.Duration)

	// Count returns the number of observations.
	Count() uint64

	// Sum returns the sum of all observations.
	Sum() float64
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

// Counter returns a no-op counter.
func (n *NoOpMetrics) Counter(_ string, _ MetricLabels) Counter {
	return &noOpCounter{}
}

// Gauge returns a no-op gauge.
func (n *NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge {
	return &noOpGauge{}
}

// Histogram returns a no-op histogram.
func (n *NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram {
	return &noOpHistogram{}
}

type noOpCounter struct{}

func (n *noOpCounter) Inc()           {}
func (n *noOpCounter) Add(_ float64)  {}
func (n *noOpCounter) Value() float64 { return 0 }

type noOpGauge struct{}

func (n *noOpGauge) Set(_ float64)  {}
func (n *noOpGauge) Inc()           {}
func (n *noOpGauge) Dec()           {}
func (n *noOpGauge) Add(_ float64)  {}
func (n *noOpGauge) Sub(_ float64)  {}
func (n *noOpGauge) Value() float64 { return 0 }

type noOpHistogram struct{}

func (n *noOpHistogram) Observe(_ float64)               {}
func (n *noOpHistogram) ObserveDuration(_ time.Duration) {}
func (n *noOpHistogram) Count() uint64                   { return 0 }
func (n *noOpHistogram) Sum() float64                    { return 0 }

// Standard metric names for MQTT clients.
const (
	// MetricConnected reports 1 while the client is connected.
	MetricConnected = "mqtt_connected"

	// MetricConnectsTotal is the total number of successful connects.
	MetricConnectsTotal = "mqtt_connects_total"

	// MetricReconnectsTotal is the total number of reconnect attempts.
	MetricReconnectsTotal = "mqtt_reconnects_total"

	// MetricMessagesReceived is the total number of messages received.
	MetricMessagesReceived = "mqtt_messages_received_total"

	// MetricMessagesPublished is the total number of messages published.
	MetricMessagesPublished = "mqtt_messages_published_total"

	// MetricPacketsSent is the total number of packets sent.
	MetricPacketsSent = "mqtt_packets_sent_total"

	// MetricPacketsReceived is the total number of packets received.
	MetricPacketsReceived = "mqtt_packets_received_total"

	// MetricBytesReceived is the total bytes received.
	MetricBytesReceived = "mqtt_bytes_received_total"

	// MetricBytesSent is the total bytes sent.
	MetricBytesSent = "mqtt_bytes_sent_total"

	// MetricSubscriptions is the current number of subscriptions.
	MetricSubscriptions = "mqtt_subscriptions"

	// MetricInflight is the current number of unacknowledged deliveries.
	MetricInflight = "mqtt_inflight_deliveries"

	// MetricRetriesTotal is the total number of delivery retransmissions.
	MetricRetriesTotal = "mqtt_delivery_retries_total"

	// MetricAbandonedTotal is the total number of abandoned deliveries.
	MetricAbandonedTotal = "mqtt_deliveries_abandoned_total"

	// MetricDeliveryLatency is the publish-to-acknowledgment latency.
	MetricDeliveryLatency = "mqtt_delivery_latency_seconds"
)

// Standard metric labels.
const (
	// LabelPacketType is the packet type label.
	LabelPacketType = "packet_type"

	// LabelQoS is the QoS level label.
	LabelQoS = "qos"

	// LabelClientID is the client ID label.
	LabelClientID = "client_id"

	// LabelTopic is the topic label.
	LabelTopic = "topic"
)

// ClientMetrics provides convenience methods for common client metrics.
type ClientMetrics struct {
	metrics Metrics
}

// NewClientMetrics creates a new ClientMetrics instance.
func NewClientMetrics(m Metrics) *ClientMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &ClientMetrics{metrics: m}
}

// ConnectionOpened records a successful connect.
func (c *ClientMetrics) ConnectionOpened() {
	c.metrics.Gauge(MetricConnected, nil).Set(1)
	c.metrics.Counter(MetricConnectsTotal, nil).Inc()
}

// ConnectionClosed records the connection going away.
func (c *ClientMetrics) ConnectionClosed() {
	c.metrics.Gauge(MetricConnected, nil).Set(0)
}

// ReconnectAttempt records a reconnect attempt.
func (c *ClientMetrics) ReconnectAttempt() {
	c.metrics.Counter(MetricReconnectsTotal, nil).Inc()
}

// MessageReceived records a message delivered to the application.
func (c *ClientMetrics) MessageReceived(qos byte) {
	labels := MetricLabels{LabelQoS: string(rune('0' + qos))}
	c.metrics.Counter(MetricMessagesReceived, labels).Inc()
}

// MessagePublished records an outbound publish.
func (c *ClientMetrics) MessagePublished(qos byte) {
	labels := MetricLabels{LabelQoS: string(rune('0' + qos))}
	c.metrics.Counter(MetricMessagesPublished, labels).Inc()
}

// PacketSent records a sent packet.
func (c *ClientMetrics) PacketSent(packetType PacketType) {
	labels := MetricLabels{LabelPacketType: packetType.String()}
	c.metrics.Counter(MetricPacketsSent, labels).Inc()
}

// PacketReceived records a received packet.
func (c *ClientMetrics) PacketReceived(packetType PacketType) {
	labels := MetricLabels{LabelPacketType: packetType.String()}
	c.metrics.Counter(MetricPacketsReceived, labels).Inc()
}

// BytesSent records sent bytes.
func (c *ClientMetrics) BytesSent(n int) {
	c.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

// BytesReceived records received bytes.
func (c *ClientMetrics) BytesReceived(n int) {
	c.metrics.Counter(MetricBytesReceived, nil).Add(float64(n))
}

// SubscriptionAdded records a new subscription.
func (c *ClientMetrics) SubscriptionAdded() {
	c.metrics.Gauge(MetricSubscriptions, nil).Inc()
}

// SubscriptionRemoved records a removed subscription.
func (c *ClientMetrics) SubscriptionRemoved() {
	c.metrics.Gauge(MetricSubscriptions, nil).Dec()
}

// InflightAdded records a delivery entering the unacknowledged set.
func (c *ClientMetrics) InflightAdded() {
	c.metrics.Gauge(MetricInflight, nil).Inc()
}

// InflightRemoved records a delivery leaving the unacknowledged set.
func (c *ClientMetrics) InflightRemoved() {
	c.metrics.Gauge(MetricInflight, nil).Dec()
}

// DeliveryRetried records a retransmission.
func (c *ClientMetrics) DeliveryRetried() {
	c.metrics.Counter(MetricRetriesTotal, nil).Inc()
}

// DeliveryAbandoned records a delivery that exhausted its retry budget.
func (c *ClientMetrics) DeliveryAbandoned() {
	c.metrics.Counter(MetricAbandonedTotal, nil).Inc()
}

// DeliveryLatency records publish-to-acknowledgment latency.
func (c *ClientMetrics) DeliveryLatency(d time.Duration) {
	c.metrics.Histogram(MetricDeliveryLatency, nil).ObserveDuration(d)
}
