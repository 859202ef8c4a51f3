package mqtt311

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// Session holds client-side state that must survive a network drop
// when the broker keeps the session (CleanSession false): granted
// subscriptions for restoration and unresolved QoS deliveries for
// DUP replay.
type Session interface {
	// ClientID returns the client identifier.
	ClientID() string

	// Subscriptions returns a copy of all subscriptions.
	Subscriptions() []Subscription

	// AddSubscription adds or updates a subscription.
	AddSubscription(sub Subscription)

	// RemoveSubscription removes a subscription by filter.
	RemoveSubscription(filter string) bool

	// GetSubscription returns a subscription by filter.
	GetSubscription(filter string) (Subscription, bool)

	// StoreQoS1 records a QoS 1 delivery awaiting PUBACK.
	StoreQoS1(d *QoS1Delivery)

	// RemoveQoS1 drops a resolved QoS 1 delivery.
	RemoveQoS1(packetID uint16) bool

	// PendingQoS1 returns unresolved QoS 1 deliveries for replay.
	PendingQoS1() []*QoS1Delivery

	// StoreQoS2 records a QoS 2 delivery in the four-step handshake.
	StoreQoS2(d *QoS2Delivery)

	// RemoveQoS2 drops a resolved QoS 2 delivery.
	RemoveQoS2(packetID uint16) bool

	// PendingQoS2 returns unresolved QoS 2 deliveries for replay.
	PendingQoS2() []*QoS2Delivery

	// CreatedAt returns when the session was created.
	CreatedAt() time.Time

	// LastActivity returns the last activity time.
	LastActivity() time.Time

	// UpdateLastActivity updates the last activity time.
	UpdateLastActivity()

	// Clear wipes all session state, for CleanSession connects.
	Clear()
}

// SessionStore defines the interface for session persistence. The
// default store keeps sessions in memory; implementations backed by
// disk or a database plug in here.
type SessionStore interface {
	// Create creates a new session.
	Create(session Session) error

	// Get retrieves a session by client ID.
	Get(clientID string) (Session, error)

	// Delete deletes a session by client ID.
	Delete(clientID string) error

	// List returns all sessions.
	List() []Session
}

// SessionFactory creates new Session instances, allowing custom
// implementations to back the client.
type SessionFactory func(clientID string) Session

// DefaultSessionFactory returns a factory that creates MemorySession instances.
func DefaultSessionFactory() SessionFactory {
	return func(clientID string) Session {
		return NewMemorySession(clientID)
	}
}

// StoredSessionFactory returns a factory that looks sessions up in the
// store by client ID, creating and registering a MemorySession on the
// first connect. Clients sharing a store resume unresolved deliveries
// across client instances when the broker also kept the session.
func StoredSessionFactory(store SessionStore) SessionFactory {
	return func(clientID string) Session {
		if session, err := store.Get(clientID); err == nil {
			return session
		}
		session := NewMemorySession(clientID)
		_ = store.Create(session)
		return session
	}
}
