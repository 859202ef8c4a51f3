package mqtt311

import (
	"sync"
	"time"
)

// MemorySession is an in-memory implementation of Session.
type MemorySession struct {
	mu            sync.RWMutex
	clientID      string
	subscriptions map[string]Subscription
	pendingQoS1   map[uint16]*QoS1Delivery
	pendingQoS2   map[uint16]*QoS2Delivery
	createdAt     time.Time
	lastActivity  time.Time
}

// NewMemorySession creates a new in-memory session.
func NewMemorySession(clientID string) *MemorySession {
	now := time.Now()
	return &MemorySession{
		clientID:      clientID,
		subscriptions: make(map[string]Subscription),
		pendingQoS1:   make(map[uint16]*QoS1Delivery),
		pendingQoS2:   make(map[uint16]*QoS2Delivery),
		createdAt:     now,
		lastActivity:  now,
	}
}

func (s *MemorySession) ClientID() string {
	return s.clientID
}

func (s *MemorySession) Subscriptions() []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	return subs
}

func (s *MemorySession) AddSubscription(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.TopicFilter] = sub
}

func (s *MemorySession) RemoveSubscription(filter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[filter]; ok {
		delete(s.subscriptions, filter)
		return true
	}
	return false
}

func (s *MemorySession) GetSubscription(filter string) (Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[filter]
	return sub, ok
}

func (s *MemorySession) StoreQoS1(d *QoS1Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingQoS1[d.ID] = d
}

func (s *MemorySession) RemoveQoS1(packetID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pendingQoS1[packetID]; ok {
		delete(s.pendingQoS1, packetID)
		return true
	}
	return false
}

func (s *MemorySession) PendingQoS1() []*QoS1Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*QoS1Delivery, 0, len(s.pendingQoS1))
	for _, d := range s.pendingQoS1 {
		out = append(out, d)
	}
	return out
}

func (s *MemorySession) StoreQoS2(d *QoS2Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingQoS2[d.ID] = d
}

func (s *MemorySession) RemoveQoS2(packetID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pendingQoS2[packetID]; ok {
		delete(s.pendingQoS2, packetID)
		return true
	}
	return false
}

func (s *MemorySession) PendingQoS2() []*QoS2Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*QoS2Delivery, 0, len(s.pendingQoS2))
	for _, d := range s.pendingQoS2 {
		out = append(out, d)
	}
	return out
}

func (s *MemorySession) CreatedAt() time.Time {
	return s.createdAt
}

func (s *MemorySession) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *MemorySession) UpdateLastActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

func (s *MemorySession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = make(map[string]Subscription)
	s.pendingQoS1 = make(map[uint16]*QoS1Delivery)
	s.pendingQoS2 = make(map[uint16]*QoS2Delivery)
}

// MemorySessionStore is an in-memory implementation of SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]Session),
	}
}

func (s *MemorySessionStore) Create(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ClientID()]; ok {
		return ErrSessionExists
	}
	s.sessions[session.ClientID()] = session
	return nil
}

func (s *MemorySessionStore) Get(clientID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[clientID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemorySessionStore) Delete(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[clientID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, clientID)
	return nil
}

func (s *MemorySessionStore) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}
