package mqtt311

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrPacketIDExhausted is returned when all 65535 packet identifiers
	// are owned by unresolved in-flight deliveries.
	ErrPacketIDExhausted = errors.New("no available packet IDs")

	ErrPacketIDNotFound = errors.New("packet ID not found")
)

// PacketIDManager manages allocation and release of packet IDs (1-65535).
// An identifier is never reassigned while its delivery is still pending.
type PacketIDManager struct {
	mu     sync.Mutex
	used   map[uint16]struct{}
	next   uint16
	maxIDs int
}

// NewPacketIDManager creates a new packet ID manager.
func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{
		used:   make(map[uint16]struct{}),
		next:   1,
		maxIDs: 65535,
	}
}

// Allocate returns the next available packet ID.
func (m *PacketIDManager) Allocate() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.used) >= m.maxIDs {
		return 0, ErrPacketIDExhausted
	}

	start := m.next
	for {
		if _, ok := m.used[m.next]; !ok {
			id := m.next
			m.used[id] = struct{}{}
			m.next++
			if m.next == 0 {
				m.next = 1
			}
			return id, nil
		}
		m.next++
		if m.next == 0 {
			m.next = 1
		}
		if m.next == start {
			return 0, ErrPacketIDExhausted
		}
	}
}

// Reserve marks a specific packet ID as in use, for deliveries
// restored from a persisted session. Returns false if the ID is zero
// or already taken.
func (m *PacketIDManager) Reserve(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 {
		return false
	}
	if _, ok := m.used[id]; ok {
		return false
	}
	m.used[id] = struct{}{}
	return true
}

// Release releases a packet ID for reuse.
func (m *PacketIDManager) Release(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.used[id]; !ok {
		return ErrPacketIDNotFound
	}
	delete(m.used, id)
	return nil
}

// IsUsed returns true if the packet ID is currently in use.
func (m *PacketIDManager) IsUsed(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.used[id]
	return ok
}

// InUse returns the count of packet IDs currently in use.
func (m *PacketIDManager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}

// RetryPolicy configures per-delivery retransmission. Each in-flight
// entry backs off independently: the interval starts at Initial and
// doubles after every retry up to Max. An entry that has been resent
// MaxRetries times without acknowledgment is abandoned.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:    5 * time.Second,
		Max:        60 * time.Second,
		MaxRetries: 5,
	}
}

// normalize fills in zero fields with defaults.
func (p RetryPolicy) normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	return p
}

// QoS1State represents the state of a QoS 1 publish flow.
type QoS1State int

const (
	QoS1AwaitingPuback QoS1State = 0
	QoS1Complete       QoS1State = 1
)

// QoS1Delivery represents a QoS 1 message awaiting acknowledgment.
type QoS1Delivery struct {
	ID            uint16
	Message       *Message
	State         QoS1State
	SentAt        time.Time
	RetryCount    int
	RetryInterval time.Duration
}

// shouldRetry returns true if the delivery's current backoff interval
// has elapsed without an acknowledgment.
func (d *QoS1Delivery) shouldRetry(now time.Time) bool {
	if d.State != QoS1AwaitingPuback {
		return false
	}
	return now.Sub(d.SentAt) > d.RetryInterval
}

// QoS1Tracker tracks QoS 1 messages awaiting acknowledgment.
type QoS1Tracker struct {
	mu         sync.RWMutex
	deliveries map[uint16]*QoS1Delivery
	policy     RetryPolicy
}

// NewQoS1Tracker creates a new QoS 1 tracker.
func NewQoS1Tracker(policy RetryPolicy) *QoS1Tracker {
	return &QoS1Tracker{
		deliveries: make(map[uint16]*QoS1Delivery),
		policy:     policy.normalize(),
	}
}

// Track starts tracking a QoS 1 message.
func (t *QoS1Tracker) Track(packetID uint16, msg *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deliveries[packetID] = &QoS1Delivery{
		ID:            packetID,
		Message:       msg,
		State:         QoS1AwaitingPuback,
		SentAt:        time.Now(),
		RetryInterval: t.policy.Initial,
	}
}

// Restore inserts a delivery recovered from a persisted session.
func (t *QoS1Tracker) Restore(d *QoS1Delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d.RetryInterval <= 0 {
		d.RetryInterval = t.policy.Initial
	}
	t.deliveries[d.ID] = d
}

// Acknowledge marks a delivery as acknowledged and removes it.
func (t *QoS1Tracker) Acknowledge(packetID uint16) (*QoS1Delivery, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.deliveries[packetID]
	if !ok {
		return nil, false
	}
	d.State = QoS1Complete
	delete(t.deliveries, packetID)
	return d, true
}

// Get returns a tracked delivery.
func (t *QoS1Tracker) Get(packetID uint16) (*QoS1Delivery, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.deliveries[packetID]
	return d, ok
}

// PendingRetries returns deliveries due for retransmission, advancing
// each entry's independent exponential backoff.
func (t *QoS1Tracker) PendingRetries() []*QoS1Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var pending []*QoS1Delivery
	for _, d := range t.deliveries {
		if d.shouldRetry(now) && d.RetryCount < t.policy.MaxRetries {
			d.RetryCount++
			d.SentAt = now
			d.RetryInterval *= 2
			if d.RetryInterval > t.policy.Max {
				d.RetryInterval = t.policy.Max
			}
			pending = append(pending, d)
		}
	}
	return pending
}

// TakeAbandoned removes and returns deliveries that exhausted their
// retry budget without acknowledgment.
func (t *QoS1Tracker) TakeAbandoned() []*QoS1Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var abandoned []*QoS1Delivery
	for packetID, d := range t.deliveries {
		if d.RetryCount >= t.policy.MaxRetries && d.shouldRetry(now) {
			delete(t.deliveries, packetID)
			abandoned = append(abandoned, d)
		}
	}
	return abandoned
}

// All returns every tracked delivery, for replay after reconnect.
func (t *QoS1Tracker) All() []*QoS1Delivery {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]*QoS1Delivery, 0, len(t.deliveries))
	for _, d := range t.deliveries {
		all = append(all, d)
	}
	return all
}

// Remove removes a delivery from tracking.
func (t *QoS1Tracker) Remove(packetID uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.deliveries[packetID]; !ok {
		return false
	}
	delete(t.deliveries, packetID)
	return true
}

// Reset discards all tracked deliveries in place. The tracker stays
// usable by concurrent readers holding the same pointer.
func (t *QoS1Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deliveries = make(map[uint16]*QoS1Delivery)
}

// Count returns the number of tracked deliveries.
func (t *QoS1Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.deliveries)
}

// QoS2State represents the state of a QoS 2 publish flow.
type QoS2State int

const (
	// Sender states
	QoS2AwaitingPubrec  QoS2State = 0
	QoS2AwaitingPubcomp QoS2State = 1

	// Receiver states
	QoS2ReceivedPublish QoS2State = 2
	QoS2AwaitingPubrel  QoS2State = 3

	QoS2Complete QoS2State = 4
)

// QoS2Delivery represents a QoS 2 message in the four-step handshake.
type QoS2Delivery struct {
	ID            uint16
	Message       *Message
	State         QoS2State
	SentAt        time.Time
	RetryCount    int
	RetryInterval time.Duration
	IsSender      bool
}

// shouldRetry returns true if the delivery's current backoff interval
// has elapsed without the handshake advancing.
func (d *QoS2Delivery) shouldRetry(now time.Time) bool {
	if d.State == QoS2Complete {
		return false
	}
	return now.Sub(d.SentAt) > d.RetryInterval
}

// QoS2Tracker tracks QoS 2 messages through PUBLISH, PUBREC, PUBREL,
// PUBCOMP. On the receiver side it remembers identifiers past PUBREC so
// a duplicated PUBLISH is never delivered to the application twice
// before the handshake completes.
type QoS2Tracker struct {
	mu         sync.RWMutex
	deliveries map[uint16]*QoS2Delivery
	completed  map[uint16]time.Time // for PUBCOMP retransmission
	policy     RetryPolicy
}

// NewQoS2Tracker creates a new QoS 2 tracker.
func NewQoS2Tracker(policy RetryPolicy) *QoS2Tracker {
	return &QoS2Tracker{
		deliveries: make(map[uint16]*QoS2Delivery),
		completed:  make(map[uint16]time.Time),
		policy:     policy.normalize(),
	}
}

// TrackSend starts tracking a sent QoS 2 message (sender side).
func (t *QoS2Tracker) TrackSend(packetID uint16, msg *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deliveries[packetID] = &QoS2Delivery{
		ID:            packetID,
		Message:       msg,
		State:         QoS2AwaitingPubrec,
		SentAt:        time.Now(),
		RetryInterval: t.policy.Initial,
		IsSender:      true,
	}
}

// TrackReceive starts tracking a received QoS 2 message (receiver side).
func (t *QoS2Tracker) TrackReceive(packetID uint16, msg *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deliveries[packetID] = &QoS2Delivery{
		ID:            packetID,
		Message:       msg,
		State:         QoS2ReceivedPublish,
		SentAt:        time.Now(),
		RetryInterval: t.policy.Initial,
		IsSender:      false,
	}
}

// Restore inserts a delivery recovered from a persisted session.
func (t *QoS2Tracker) Restore(d *QoS2Delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d.RetryInterval <= 0 {
		d.RetryInterval = t.policy.Initial
	}
	t.deliveries[d.ID] = d
}

// HandlePubrec handles receiving PUBREC (sender side).
func (t *QoS2Tracker) HandlePubrec(packetID uint16) (*QoS2Delivery, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.deliveries[packetID]
	if !ok || d.State != QoS2AwaitingPubrec {
		return nil, false
	}
	d.State = QoS2AwaitingPubcomp
	d.SentAt = time.Now()
	d.RetryCount = 0
	d.RetryInterval = t.policy.Initial
	return d, true
}

// HandlePubrel handles receiving PUBREL (receiver side).
// Returns (delivery, shouldSendPubcomp). If the packet ID was already
// completed, returns (nil, true) so PUBCOMP can be retransmitted.
func (t *QoS2Tracker) HandlePubrel(packetID uint16) (*QoS2Delivery, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, completed := t.completed[packetID]; completed {
		t.completed[packetID] = time.Now()
		return nil, true
	}

	d, ok := t.deliveries[packetID]
	if !ok {
		return nil, false
	}
	if d.State != QoS2ReceivedPublish && d.State != QoS2AwaitingPubrel {
		return nil, false
	}
	d.State = QoS2Complete
	delete(t.deliveries, packetID)

	// Remember the identifier in case the peer retransmits PUBREL
	t.completed[packetID] = time.Now()

	return d, true
}

// HandlePubcomp handles receiving PUBCOMP (sender side).
func (t *QoS2Tracker) HandlePubcomp(packetID uint16) (*QoS2Delivery, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.deliveries[packetID]
	if !ok || d.State != QoS2AwaitingPubcomp {
		return nil, false
	}
	d.State = QoS2Complete
	delete(t.deliveries, packetID)
	return d, true
}

// SendPubrec transitions receiver state after sending PUBREC.
func (t *QoS2Tracker) SendPubrec(packetID uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.deliveries[packetID]
	if !ok || d.State != QoS2ReceivedPublish {
		return false
	}
	d.State = QoS2AwaitingPubrel
	d.SentAt = time.Now()
	return true
}

// Get returns a tracked delivery.
func (t *QoS2Tracker) Get(packetID uint16) (*QoS2Delivery, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.deliveries[packetID]
	return d, ok
}

// PendingRetries returns deliveries due for retransmission, advancing
// each entry's independent exponential backoff.
func (t *QoS2Tracker) PendingRetries() []*QoS2Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var pending []*QoS2Delivery
	for _, d := range t.deliveries {
		if d.shouldRetry(now) && d.RetryCount < t.policy.MaxRetries {
			d.RetryCount++
			d.SentAt = now
			d.RetryInterval *= 2
			if d.RetryInterval > t.policy.Max {
				d.RetryInterval = t.policy.Max
			}
			pending = append(pending, d)
		}
	}
	return pending
}

// TakeAbandoned removes and returns sender-side deliveries that
// exhausted their retry budget without completing the handshake.
func (t *QoS2Tracker) TakeAbandoned() []*QoS2Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var abandoned []*QoS2Delivery
	for packetID, d := range t.deliveries {
		if d.IsSender && d.RetryCount >= t.policy.MaxRetries && d.shouldRetry(now) {
			delete(t.deliveries, packetID)
			abandoned = append(abandoned, d)
		}
	}
	return abandoned
}

// All returns every tracked delivery, for replay after reconnect.
func (t *QoS2Tracker) All() []*QoS2Delivery {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]*QoS2Delivery, 0, len(t.deliveries))
	for _, d := range t.deliveries {
		all = append(all, d)
	}
	return all
}

// Remove removes a delivery from tracking.
func (t *QoS2Tracker) Remove(packetID uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.deliveries[packetID]; !ok {
		return false
	}
	delete(t.deliveries, packetID)
	return true
}

// Reset discards all tracked deliveries and remembered completions in
// place. The tracker stays usable by concurrent readers holding the
// same pointer.
func (t *QoS2Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deliveries = make(map[uint16]*QoS2Delivery)
	t.completed = make(map[uint16]time.Time)
}

// Count returns the number of tracked deliveries.
func (t *QoS2Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.deliveries)
}

// CleanupCompleted removes completed packet IDs older than twice the
// maximum retry interval. Called periodically to bound memory.
func (t *QoS2Tracker) CleanupCompleted() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	now := time.Now()
	for packetID, completedAt := range t.completed {
		if now.Sub(completedAt) > t.policy.Max*2 {
			delete(t.completed, packetID)
			count++
		}
	}
	return count
}
