// Package rpc provides request/response messaging on top of MQTT 3.1.1.
//
// The protocol carries no message properties, so correlation travels in
// the topic. A request to service topic T is published to
// T/{requesterID}/{correlID}; the responder extracts the two trailing
// levels and publishes its reply to {responsePrefix}/{requesterID}/{correlID}.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iotforge/mqtt311"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("rpc: request timeout")

	// ErrClientClosed is returned when the client is not connected.
	ErrClientClosed = errors.New("rpc: client closed")
)

// DefaultResponsePrefix is the topic prefix responses are published under.
const DefaultResponsePrefix = "rpc/response"

// Client defines the MQTT operations required for RPC.
type Client interface {
	// ClientID returns the client identifier.
	ClientID() string

	// Subscribe subscribes to a topic filter with a message handler.
	Subscribe(ctx context.Context, filter string, qos byte, handler mqtt311.MessageHandler) (byte, error)

	// Unsubscribe removes subscriptions for the given filters.
	Unsubscribe(ctx context.Context, filters ...string) error

	// Publish sends a message to the broker.
	Publish(ctx context.Context, msg *mqtt311.Message) (*mqtt311.DeliveryToken, error)

	// IsConnected reports whether the client is connected.
	IsConnected() bool
}

// Handler issues RPC requests and matches responses by correlation ID.
type Handler struct {
	mu      sync.Mutex
	client  Client
	pending map[string]chan []byte
	prefix  string
	qos     byte
	seq     atomic.Uint64
}

// HandlerOptions configures the RPC handler.
type HandlerOptions struct {
	// ResponsePrefix is the topic prefix where responses are received.
	// Defaults to DefaultResponsePrefix.
	ResponsePrefix string

	// QoS is the quality of service level for requests and responses.
	// Defaults to 0.
	QoS byte
}

// NewHandler creates an RPC handler and subscribes to the client's
// response filter: {prefix}/{clientID}/+.
func NewHandler(ctx context.Context, client Client, opts *HandlerOptions) (*Handler, error) {
	if client == nil {
		return nil, errors.New("rpc: client is required")
	}

	if opts == nil {
		opts = &HandlerOptions{}
	}

	prefix := opts.ResponsePrefix
	if prefix == "" {
		prefix = DefaultResponsePrefix
	}

	h := &Handler{
		client:  client,
		pending: make(map[string]chan []byte),
		prefix:  prefix,
		qos:     opts.QoS,
	}

	if _, err := client.Subscribe(ctx, h.ResponseFilter(), opts.QoS, h.handleResponse); err != nil {
		return nil, fmt.Errorf("rpc: failed to subscribe to response filter: %w", err)
	}

	return h, nil
}

// ResponseFilter returns the topic filter responses arrive on.
func (h *Handler) ResponseFilter() string {
	return h.prefix + "/" + h.client.ClientID() + "/+"
}

// Call publishes a request to the service topic and blocks until a
// response arrives or the context is done.
func (h *Handler) Call(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	if !h.client.IsConnected() {
		return nil, ErrClientClosed
	}

	correlID := strconv.FormatUint(h.seq.Add(1), 10) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	respChan := make(chan []byte, 1)
	h.addPending(correlID, respChan)
	defer h.removePending(correlID)

	requestTopic := topic + "/" + h.client.ClientID() + "/" + correlID
	token, err := h.client.Publish(ctx, &mqtt311.Message{
		Topic:   requestTopic,
		Payload: payload,
		QoS:     h.qos,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to publish request: %w", err)
	}
	if err := token.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rpc: request delivery failed: %w", err)
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// CallWithTimeout is a convenience method that creates a context with timeout.
func (h *Handler) CallWithTimeout(topic string, payload []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Call(ctx, topic, payload)
}

// Close unsubscribes from the response filter and fails pending calls.
func (h *Handler) Close() error {
	h.mu.Lock()
	for correlID, ch := range h.pending {
		close(ch)
		delete(h.pending, correlID)
	}
	h.mu.Unlock()

	return h.client.Unsubscribe(context.Background(), h.ResponseFilter())
}

func (h *Handler) addPending(correlID string, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[correlID] = ch
}

func (h *Handler) removePending(correlID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, correlID)
}

func (h *Handler) getPending(correlID string) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending[correlID]
}

// handleResponse matches an incoming response to a waiting call by the
// correlation ID in the last topic level.
func (h *Handler) handleResponse(msg *mqtt311.Message) {
	if msg == nil {
		return
	}

	idx := strings.LastIndexByte(msg.Topic, '/')
	if idx < 0 {
		return
	}
	correlID := msg.Topic[idx+1:]

	ch := h.getPending(correlID)
	if ch == nil {
		return // No waiting request for this correlation ID
	}

	select {
	case ch <- msg.Payload:
	default:
		// Channel full or closed, response dropped
	}
}

// ResponderFunc computes the response payload for a request.
// A returned error suppresses the response; the requester times out.
type ResponderFunc func(req *mqtt311.Message) ([]byte, error)

// Responder serves RPC requests published to a service topic.
type Responder struct {
	client Client
	topic  string
	prefix string
	qos    byte
	fn     ResponderFunc
}

// ResponderOptions configures a Responder.
type ResponderOptions struct {
	// ResponsePrefix must match the requester's prefix.
	// Defaults to DefaultResponsePrefix.
	ResponsePrefix string

	// QoS is the quality of service level for responses and the
	// request subscription. Defaults to 0.
	QoS byte
}

// NewResponder subscribes to {topic}/+/+ and serves requests with fn.
func NewResponder(ctx context.Context, client Client, topic string, fn ResponderFunc, opts *ResponderOptions) (*Responder, error) {
	if client == nil {
		return nil, errors.New("rpc: client is required")
	}
	if fn == nil {
		return nil, errors.New("rpc: responder func is required")
	}

	if opts == nil {
		opts = &ResponderOptions{}
	}

	prefix := opts.ResponsePrefix
	if prefix == "" {
		prefix = DefaultResponsePrefix
	}

	r := &Responder{
		client: client,
		topic:  topic,
		prefix: prefix,
		qos:    opts.QoS,
		fn:     fn,
	}

	if _, err := client.Subscribe(ctx, topic+"/+/+", opts.QoS, r.handleRequest); err != nil {
		return nil, fmt.Errorf("rpc: failed to subscribe to request filter: %w", err)
	}

	return r, nil
}

// Close unsubscribes from the request filter.
func (r *Responder) Close() error {
	return r.client.Unsubscribe(context.Background(), r.topic+"/+/+")
}

// handleRequest serves one request: the two trailing topic levels name
// the requester and the correlation ID.
func (r *Responder) handleRequest(msg *mqtt311.Message) {
	if msg == nil {
		return
	}

	rest := strings.TrimPrefix(msg.Topic, r.topic+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return
	}
	requesterID, correlID := parts[0], parts[1]

	payload, err := r.fn(msg)
	if err != nil {
		return
	}

	responseTopic := r.prefix + "/" + requesterID + "/" + correlID
	token, err := r.client.Publish(context.Background(), &mqtt311.Message{
		Topic:   responseTopic,
		Payload: payload,
		QoS:     r.qos,
	})
	if err != nil {
		return
	}
	_ = token.Wait(context.Background())
}
