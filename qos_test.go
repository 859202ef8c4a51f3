package mqtt311

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketIDManagerAllocate(t *testing.T) {
	m := NewPacketIDManager()

	for want := uint16(1); want <= 5; want++ {
		id, err := m.Allocate()
		require.NoError(t, err)
		assert.Equal(t, want, id)
		assert.True(t, m.IsUsed(id))
	}
	assert.Equal(t, 5, m.InUse())
}

func TestPacketIDManagerRelease(t *testing.T) {
	m := NewPacketIDManager()

	id, err := m.Allocate()
	require.NoError(t, err)

	require.NoError(t, m.Release(id))
	assert.False(t, m.IsUsed(id))
	assert.Zero(t, m.InUse())

	assert.ErrorIs(t, m.Release(id), ErrPacketIDNotFound)
	assert.ErrorIs(t, m.Release(999), ErrPacketIDNotFound)
}

func TestPacketIDManagerWraparoundSkipsZero(t *testing.T) {
	m := NewPacketIDManager()
	m.next = 65535

	id, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), id)

	// After 65535 the counter wraps, skipping the reserved zero
	id, err = m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)
}

func TestPacketIDManagerSkipsInUse(t *testing.T) {
	m := NewPacketIDManager()

	first, err := m.Allocate()
	require.NoError(t, err)
	second, err := m.Allocate()
	require.NoError(t, err)

	require.NoError(t, m.Release(first))
	m.next = first

	id, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, first, id)

	m.next = second
	id, err = m.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, second, id)
}

func TestPacketIDManagerExhaustion(t *testing.T) {
	m := NewPacketIDManager()
	m.maxIDs = 3

	for i := 0; i < 3; i++ {
		_, err := m.Allocate()
		require.NoError(t, err)
	}

	_, err := m.Allocate()
	assert.ErrorIs(t, err, ErrPacketIDExhausted)

	require.NoError(t, m.Release(2))
	id, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
}

func TestPacketIDManagerReserve(t *testing.T) {
	m := NewPacketIDManager()

	assert.True(t, m.Reserve(7))
	assert.True(t, m.IsUsed(7))

	// An ID can only be reserved once, and zero never
	assert.False(t, m.Reserve(7))
	assert.False(t, m.Reserve(0))

	id, err := m.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, uint16(7), id)

	require.NoError(t, m.Release(7))
	assert.True(t, m.Reserve(7))
}

func TestRetryPolicyNormalize(t *testing.T) {
	def := DefaultRetryPolicy()

	p := RetryPolicy{}.normalize()
	assert.Equal(t, def, p)

	p = RetryPolicy{Initial: time.Second, Max: 10 * time.Second, MaxRetries: 2}.normalize()
	assert.Equal(t, time.Second, p.Initial)
	assert.Equal(t, 10*time.Second, p.Max)
	assert.Equal(t, 2, p.MaxRetries)

	p = RetryPolicy{Initial: -1, MaxRetries: 7}.normalize()
	assert.Equal(t, def.Initial, p.Initial)
	assert.Equal(t, def.Max, p.Max)
	assert.Equal(t, 7, p.MaxRetries)
}

func TestQoS1TrackerAcknowledge(t *testing.T) {
	tr := NewQoS1Tracker(DefaultRetryPolicy())

	msg := &Message{Topic: "a/b", Payload: []byte("x"), QoS: 1}
	tr.Track(1, msg)
	assert.Equal(t, 1, tr.Count())

	d, ok := tr.Get(1)
	require.True(t, ok)
	assert.Equal(t, QoS1AwaitingPuback, d.State)
	assert.Equal(t, msg, d.Message)

	d, ok = tr.Acknowledge(1)
	require.True(t, ok)
	assert.Equal(t, QoS1Complete, d.State)
	assert.Zero(t, tr.Count())

	_, ok = tr.Acknowledge(1)
	assert.False(t, ok)
}

func TestQoS1TrackerRestore(t *testing.T) {
	tr := NewQoS1Tracker(DefaultRetryPolicy())

	tr.Restore(&QoS1Delivery{
		ID:      9,
		Message: &Message{Topic: "a", QoS: 1},
		State:   QoS1AwaitingPuback,
		SentAt:  time.Now(),
	})

	d, ok := tr.Get(9)
	require.True(t, ok)
	assert.Equal(t, DefaultRetryPolicy().Initial, d.RetryInterval)

	_, ok = tr.Acknowledge(9)
	assert.True(t, ok)
}

func TestQoS1TrackerReset(t *testing.T) {
	tr := NewQoS1Tracker(DefaultRetryPolicy())
	tr.Track(1, &Message{Topic: "a", QoS: 1})
	tr.Track(2, &Message{Topic: "b", QoS: 1})

	tr.Reset()
	assert.Zero(t, tr.Count())

	// The same tracker value keeps working after a reset
	tr.Track(3, &Message{Topic: "c", QoS: 1})
	assert.Equal(t, 1, tr.Count())
}

func TestQoS1TrackerPendingRetries(t *testing.T) {
	policy := RetryPolicy{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, MaxRetries: 5}
	tr := NewQoS1Tracker(policy)

	tr.Track(1, &Message{Topic: "a", QoS: 1})
	assert.Empty(t, tr.PendingRetries())

	// Age the entry past its backoff interval
	d, _ := tr.Get(1)
	d.SentAt = time.Now().Add(-time.Second)

	pending := tr.PendingRetries()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, 20*time.Millisecond, pending[0].RetryInterval)

	// Backoff doubles per retry and caps at the policy maximum
	d.SentAt = time.Now().Add(-time.Second)
	tr.PendingRetries()
	d.SentAt = time.Now().Add(-time.Second)
	pending = tr.PendingRetries()
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].RetryCount)
	assert.Equal(t, 40*time.Millisecond, pending[0].RetryInterval)
}

func TestQoS1TrackerIndependentBackoff(t *testing.T) {
	policy := RetryPolicy{Initial: 10 * time.Millisecond, Max: time.Minute, MaxRetries: 5}
	tr := NewQoS1Tracker(policy)

	tr.Track(1, &Message{Topic: "a", QoS: 1})
	tr.Track(2, &Message{Topic: "b", QoS: 1})

	d1, _ := tr.Get(1)
	d1.SentAt = time.Now().Add(-time.Second)

	pending := tr.PendingRetries()
	require.Len(t, pending, 1)
	assert.Equal(t, uint16(1), pending[0].ID)

	d2, _ := tr.Get(2)
	assert.Zero(t, d2.RetryCount)
	assert.Equal(t, policy.Initial, d2.RetryInterval)
}

func TestQoS1TrackerTakeAbandoned(t *testing.T) {
	policy := RetryPolicy{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond, MaxRetries: 2}
	tr := NewQoS1Tracker(policy)

	tr.Track(1, &Message{Topic: "a", QoS: 1})

	d, _ := tr.Get(1)
	for i := 0; i < policy.MaxRetries; i++ {
		d.SentAt = time.Now().Add(-time.Second)
		require.Len(t, tr.PendingRetries(), 1)
	}

	// Budget exhausted but current interval not yet elapsed
	assert.Empty(t, tr.TakeAbandoned())

	d.SentAt = time.Now().Add(-time.Second)
	assert.Empty(t, tr.PendingRetries())

	abandoned := tr.TakeAbandoned()
	require.Len(t, abandoned, 1)
	assert.Equal(t, uint16(1), abandoned[0].ID)
	assert.Equal(t, policy.MaxRetries, abandoned[0].RetryCount)
	assert.Zero(t, tr.Count())
}

func TestQoS1TrackerAllRemove(t *testing.T) {
	tr := NewQoS1Tracker(DefaultRetryPolicy())

	tr.Track(1, &Message{Topic: "a", QoS: 1})
	tr.Track(2, &Message{Topic: "b", QoS: 1})
	assert.Len(t, tr.All(), 2)

	assert.True(t, tr.Remove(1))
	assert.False(t, tr.Remove(1))
	assert.Equal(t, 1, tr.Count())
}

func TestQoS2TrackerSenderFlow(t *testing.T) {
	tr := NewQoS2Tracker(DefaultRetryPolicy())

	msg := &Message{Topic: "a/b", Payload: []byte("x"), QoS: 2}
	tr.TrackSend(1, msg)

	d, ok := tr.Get(1)
	require.True(t, ok)
	assert.Equal(t, QoS2AwaitingPubrec, d.State)
	assert.True(t, d.IsSender)

	// PUBCOMP before PUBREC is out of order
	_, ok = tr.HandlePubcomp(1)
	assert.False(t, ok)

	d, ok = tr.HandlePubrec(1)
	require.True(t, ok)
	assert.Equal(t, QoS2AwaitingPubcomp, d.State)
	assert.Zero(t, d.RetryCount)

	// Duplicate PUBREC is ignored once the state advanced
	_, ok = tr.HandlePubrec(1)
	assert.False(t, ok)

	d, ok = tr.HandlePubcomp(1)
	require.True(t, ok)
	assert.Equal(t, QoS2Complete, d.State)
	assert.Zero(t, tr.Count())
}

func TestQoS2TrackerReceiverFlow(t *testing.T) {
	tr := NewQoS2Tracker(DefaultRetryPolicy())

	msg := &Message{Topic: "a/b", Payload: []byte("x"), QoS: 2}
	tr.TrackReceive(1, msg)

	d, ok := tr.Get(1)
	require.True(t, ok)
	assert.Equal(t, QoS2ReceivedPublish, d.State)
	assert.False(t, d.IsSender)

	require.True(t, tr.SendPubrec(1))
	d, _ = tr.Get(1)
	assert.Equal(t, QoS2AwaitingPubrel, d.State)

	// SendPubrec only applies to freshly received publishes
	assert.False(t, tr.SendPubrec(1))

	d, ok = tr.HandlePubrel(1)
	require.True(t, ok)
	require.NotNil(t, d)
	assert.Equal(t, msg, d.Message)
	assert.Zero(t, tr.Count())
}

func TestQoS2TrackerPubrelRetransmission(t *testing.T) {
	tr := NewQoS2Tracker(DefaultRetryPolicy())

	tr.TrackReceive(1, &Message{Topic: "a", QoS: 2})
	require.True(t, tr.SendPubrec(1))

	d, ok := tr.HandlePubrel(1)
	require.True(t, ok)
	require.NotNil(t, d)

	// A retransmitted PUBREL still needs a PUBCOMP but no redelivery
	d, ok = tr.HandlePubrel(1)
	assert.True(t, ok)
	assert.Nil(t, d)

	// Unknown identifiers get nothing
	_, ok = tr.HandlePubrel(42)
	assert.False(t, ok)
}

func TestQoS2TrackerRestore(t *testing.T) {
	tr := NewQoS2Tracker(DefaultRetryPolicy())

	tr.Restore(&QoS2Delivery{
		ID:       4,
		Message:  &Message{Topic: "a", QoS: 2},
		State:    QoS2AwaitingPubcomp,
		SentAt:   time.Now(),
		IsSender: true,
	})

	d, ok := tr.Get(4)
	require.True(t, ok)
	assert.Equal(t, DefaultRetryPolicy().Initial, d.RetryInterval)

	_, ok = tr.HandlePubcomp(4)
	assert.True(t, ok)
}

func TestQoS2TrackerReset(t *testing.T) {
	tr := NewQoS2Tracker(DefaultRetryPolicy())

	tr.TrackReceive(1, &Message{Topic: "a", QoS: 2})
	require.True(t, tr.SendPubrec(1))
	_, shouldAck := tr.HandlePubrel(1)
	require.True(t, shouldAck)

	tr.TrackSend(2, &Message{Topic: "b", QoS: 2})
	tr.Reset()
	assert.Zero(t, tr.Count())

	// Completed identifiers are forgotten too
	_, shouldAck = tr.HandlePubrel(1)
	assert.False(t, shouldAck)

	tr.TrackSend(3, &Message{Topic: "c", QoS: 2})
	assert.Equal(t, 1, tr.Count())
}

func TestQoS2TrackerPendingRetries(t *testing.T) {
	policy := RetryPolicy{Initial: 10 * time.Millisecond, Max: time.Minute, MaxRetries: 3}
	tr := NewQoS2Tracker(policy)

	tr.TrackSend(1, &Message{Topic: "a", QoS: 2})
	assert.Empty(t, tr.PendingRetries())

	d, _ := tr.Get(1)
	d.SentAt = time.Now().Add(-time.Second)

	pending := tr.PendingRetries()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, 20*time.Millisecond, pending[0].RetryInterval)

	// PUBREC resets the backoff for the PUBREL phase
	_, ok := tr.HandlePubrec(1)
	require.True(t, ok)
	d, _ = tr.Get(1)
	assert.Zero(t, d.RetryCount)
	assert.Equal(t, policy.Initial, d.RetryInterval)
}

func TestQoS2TrackerTakeAbandonedSenderOnly(t *testing.T) {
	policy := RetryPolicy{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond, MaxRetries: 1}
	tr := NewQoS2Tracker(policy)

	tr.TrackSend(1, &Message{Topic: "a", QoS: 2})
	tr.TrackReceive(2, &Message{Topic: "b", QoS: 2})

	for _, id := range []uint16{1, 2} {
		d, _ := tr.Get(id)
		d.SentAt = time.Now().Add(-time.Second)
	}
	require.Len(t, tr.PendingRetries(), 2)

	for _, id := range []uint16{1, 2} {
		d, _ := tr.Get(id)
		d.SentAt = time.Now().Add(-time.Second)
	}

	abandoned := tr.TakeAbandoned()
	require.Len(t, abandoned, 1)
	assert.Equal(t, uint16(1), abandoned[0].ID)

	// The receiver-side entry stays; the broker drives its completion
	assert.Equal(t, 1, tr.Count())
}

func TestQoS2TrackerCleanupCompleted(t *testing.T) {
	policy := RetryPolicy{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond, MaxRetries: 5}
	tr := NewQoS2Tracker(policy)

	tr.TrackReceive(1, &Message{Topic: "a", QoS: 2})
	require.True(t, tr.SendPubrec(1))
	_, ok := tr.HandlePubrel(1)
	require.True(t, ok)

	assert.Zero(t, tr.CleanupCompleted())

	tr.completed[1] = time.Now().Add(-time.Second)
	assert.Equal(t, 1, tr.CleanupCompleted())

	// Once cleaned up, a late PUBREL is no longer recognized
	_, ok = tr.HandlePubrel(1)
	assert.False(t, ok)
}
