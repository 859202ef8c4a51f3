package mqtt311

import (
	"fmt"
	"sync"
)

// MessageHandler handles incoming MQTT messages.
type MessageHandler func(msg *Message)

// HandlerError describes a handler that panicked during dispatch.
// Failures are collected out-of-band; they never interrupt delivery to
// the remaining matching handlers.
type HandlerError struct {
	// Filter is the topic filter whose handler failed.
	Filter string

	// Topic is the topic of the message being delivered.
	Topic string

	// Recovered is the value recovered from the handler's panic.
	Recovered any
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %q panicked on topic %q: %v", e.Filter, e.Topic, e.Recovered)
}

// route associates a topic filter with its handler and granted QoS.
type route struct {
	filter     string
	grantedQoS byte
	handler    MessageHandler
}

// MatchSubscriber identifies a route during TopicMatcher.Unsubscribe.
func (r *route) MatchSubscriber(other any) bool {
	o, ok := other.(*route)
	return ok && o.filter == r.filter
}

// Router matches incoming publish topics against registered topic
// filters and dispatches messages to their handlers.
type Router struct {
	mu      sync.RWMutex
	matcher *TopicMatcher
	routes  map[string]*route
}

// NewRouter creates a new subscription router.
func NewRouter() *Router {
	return &Router{
		matcher: NewTopicMatcher(),
		routes:  make(map[string]*route),
	}
}

// Add registers a handler for the given topic filter. An existing route
// for the same filter is replaced. Returns the effective QoS, capped at
// the requested level until a broker grant updates it.
func (r *Router) Add(filter string, qos byte, handler MessageHandler) (byte, error) {
	if err := ValidateTopicFilter(filter); err != nil {
		return 0, err
	}
	if qos > 2 {
		return 0, ErrInvalidQoS
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.routes[filter]; ok {
		r.matcher.Unsubscribe(filter, existing)
	}

	rt := &route{
		filter:     filter,
		grantedQoS: qos,
		handler:    handler,
	}
	if err := r.matcher.Subscribe(filter, rt); err != nil {
		return 0, err
	}
	r.routes[filter] = rt

	return qos, nil
}

// SetGranted records the QoS granted by the broker for a filter.
func (r *Router) SetGranted(filter string, qos byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.routes[filter]; ok {
		rt.grantedQoS = qos
	}
}

// Granted returns the granted QoS for a filter.
func (r *Router) Granted(filter string) (byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.routes[filter]
	if !ok {
		return 0, false
	}
	return rt.grantedQoS, true
}

// Remove unregisters the handler for the given topic filter.
// Returns true if a route existed.
func (r *Router) Remove(filter string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[filter]
	if !ok {
		return false
	}
	r.matcher.Unsubscribe(filter, rt)
	delete(r.routes, filter)
	return true
}

// Clear removes all routes.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.matcher = NewTopicMatcher()
	r.routes = make(map[string]*route)
}

// Filters returns all registered topic filters.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filters := make([]string, 0, len(r.routes))
	for filter := range r.routes {
		filters = append(filters, filter)
	}
	return filters
}

// Subscriptions returns all routes as Subscription values with their
// granted QoS, for session persistence and re-subscribe after reconnect.
func (r *Router) Subscriptions() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscription, 0, len(r.routes))
	for _, rt := range r.routes {
		subs = append(subs, Subscription{
			TopicFilter: rt.filter,
			QoS:         rt.grantedQoS,
		})
	}
	return subs
}

// Count returns the number of registered routes.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Dispatch delivers the message to every handler whose filter matches
// the message topic. Each handler runs independently; a panicking
// handler is recovered and reported in the returned slice without
// stopping delivery to the rest.
func (r *Router) Dispatch(msg *Message) []*HandlerError {
	r.mu.RLock()
	matches := r.matcher.Match(msg.Topic)
	routes := make([]*route, 0, len(matches))
	for _, m := range matches {
		if rt, ok := m.(*route); ok {
			routes = append(routes, rt)
		}
	}
	r.mu.RUnlock()

	var failures []*HandlerError
	for _, rt := range routes {
		if err := r.invoke(rt, msg); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

// invoke runs a single handler, converting a panic into a HandlerError.
func (r *Router) invoke(rt *route, msg *Message) (herr *HandlerError) {
	defer func() {
		if rec := recover(); rec != nil {
			herr = &HandlerError{
				Filter:    rt.filter,
				Topic:     msg.Topic,
				Recovered: rec,
			}
		}
	}()

	rt.handler(msg)
	return nil
}
