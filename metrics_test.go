package mqtt311

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricTypeString(t *testing.T) {
	assert.Equal(t, "counter", MetricTypeCounter.String())
	assert.Equal(t, "gauge", MetricTypeGauge.String())
	assert.Equal(t, "histogram", MetricTypeHistogram.String())
	assert.Equal(t, "unknown", MetricType(9).String())
}

func TestNoOpMetrics(t *testing.T) {
	var m Metrics = &NoOpMetrics{}

	c := m.Counter("test", nil)
	c.Inc()
	c.Add(5)
	assert.Zero(t, c.Value())

	g := m.Gauge("test", nil)
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Add(1)
	g.Sub(1)
	assert.Zero(t, g.Value())

	h := m.Histogram("test", nil)
	h.Observe(1.5)
	h.ObserveDuration(time.Second)
	assert.Zero(t, h.Count())
	assert.Zero(t, h.Sum())
}

func TestClientMetricsNilBackend(t *testing.T) {
	cm := NewClientMetrics(nil)
	assert.NotPanics(t, func() {
		cm.ConnectionOpened()
		cm.MessagePublished(1)
		cm.DeliveryLatency(time.Second)
	})
}

func TestClientMetricsConnection(t *testing.T) {
	backend := NewMemoryMetrics()
	cm := NewClientMetrics(backend)

	cm.ConnectionOpened()
	assert.Equal(t, float64(1), backend.GetGauge(MetricConnected, nil).Value())
	assert.Equal(t, float64(1), backend.GetCounter(MetricConnectsTotal, nil).Value())

	cm.ConnectionClosed()
	assert.Zero(t, backend.GetGauge(MetricConnected, nil).Value())

	cm.ReconnectAttempt()
	cm.ReconnectAttempt()
	assert.Equal(t, float64(2), backend.GetCounter(MetricReconnectsTotal, nil).Value())
}

func TestClientMetricsMessages(t *testing.T) {
	backend := NewMemoryMetrics()
	cm := NewClientMetrics(backend)

	cm.MessagePublished(1)
	cm.MessagePublished(1)
	cm.MessageReceived(2)

	published := backend.GetCounter(MetricMessagesPublished, MetricLabels{LabelQoS: "1"})
	require.NotNil(t, published)
	assert.Equal(t, float64(2), published.Value())

	received := backend.GetCounter(MetricMessagesReceived, MetricLabels{LabelQoS: "2"})
	require.NotNil(t, received)
	assert.Equal(t, float64(1), received.Value())

	// QoS levels are tracked separately
	assert.Nil(t, backend.GetCounter(MetricMessagesPublished, MetricLabels{LabelQoS: "0"}))
}

func TestClientMetricsPacketsAndBytes(t *testing.T) {
	backend := NewMemoryMetrics()
	cm := NewClientMetrics(backend)

	cm.PacketSent(PacketPUBLISH)
	cm.PacketReceived(PacketPUBACK)
	cm.BytesSent(100)
	cm.BytesSent(50)
	cm.BytesReceived(4)

	sent := backend.GetCounter(MetricPacketsSent, MetricLabels{LabelPacketType: "PUBLISH"})
	require.NotNil(t, sent)
	assert.Equal(t, float64(1), sent.Value())

	received := backend.GetCounter(MetricPacketsReceived, MetricLabels{LabelPacketType: "PUBACK"})
	require.NotNil(t, received)
	assert.Equal(t, float64(1), received.Value())

	assert.Equal(t, float64(150), backend.GetCounter(MetricBytesSent, nil).Value())
	assert.Equal(t, float64(4), backend.GetCounter(MetricBytesReceived, nil).Value())
}

func TestClientMetricsGauges(t *testing.T) {
	backend := NewMemoryMetrics()
	cm := NewClientMetrics(backend)

	cm.SubscriptionAdded()
	cm.SubscriptionAdded()
	cm.SubscriptionRemoved()
	assert.Equal(t, float64(1), backend.GetGauge(MetricSubscriptions, nil).Value())

	cm.InflightAdded()
	cm.InflightRemoved()
	assert.Zero(t, backend.GetGauge(MetricInflight, nil).Value())
}

func TestClientMetricsDelivery(t *testing.T) {
	backend := NewMemoryMetrics()
	cm := NewClientMetrics(backend)

	cm.DeliveryRetried()
	cm.DeliveryAbandoned()
	cm.DeliveryLatency(500 * time.Millisecond)

	assert.Equal(t, float64(1), backend.GetCounter(MetricRetriesTotal, nil).Value())
	assert.Equal(t, float64(1), backend.GetCounter(MetricAbandonedTotal, nil).Value())

	h := backend.GetHistogram(MetricDeliveryLatency, nil)
	require.NotNil(t, h)
	assert.Equal(t, uint64(1), h.Count())
	assert.InDelta(t, 0.5, h.Sum(), 0.001)
}
