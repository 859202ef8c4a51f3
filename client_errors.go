package mqtt311

import (
	"errors"
	"time"
)

// Event handler function type.
type EventHandler func(client *Client, event error)

// Sentinel events for client lifecycle - check with errors.Is().
var (
	// ErrConnected is emitted when the client successfully connects.
	ErrConnected = errors.New("connected")

	// ErrDisconnected is emitted when the client disconnects gracefully.
	ErrDisconnected = errors.New("disconnected")

	// ErrConnectionLost is emitted when the connection is lost unexpectedly.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReconnecting is emitted when the client is attempting to reconnect.
	ErrReconnecting = errors.New("reconnecting")

	// ErrReconnectFailed is emitted when all reconnection attempts have failed.
	ErrReconnectFailed = errors.New("reconnect failed")
)

// Sentinel errors for protocol issues - check with errors.Is().
var (
	// ErrProtocolError is returned when a protocol violation occurs.
	ErrProtocolError = errors.New("protocol error")

	// ErrConnectRejected is returned when the server refuses CONNECT.
	ErrConnectRejected = errors.New("connect rejected")

	// ErrConnectTimeout is returned when CONNACK does not arrive in time.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrKeepAliveTimeout is emitted when the server doesn't respond to PINGREQ.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
)

// Sentinel errors for operations - check with errors.Is().
var (
	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("publish failed")

	// ErrDeliveryAbandoned is returned when a QoS delivery exhausted its
	// retry budget without acknowledgment.
	ErrDeliveryAbandoned = errors.New("delivery abandoned")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")

	// ErrClientClosed is returned when an operation is attempted on a closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrNotConnected is returned when an operation requires an active connection.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidTopic is returned when a topic is invalid.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrTooManySubscriptions is returned when the configured
	// subscription limit would be exceeded.
	ErrTooManySubscriptions = errors.New("too many subscriptions")
)

// ConnectedEvent contains details about a successful connection.
// Extract with errors.As().
type ConnectedEvent struct {
	err            error
	SessionPresent bool
}

func (e *ConnectedEvent) Error() string { return e.err.Error() }
func (e *ConnectedEvent) Unwrap() error { return e.err }

// NewConnectedEvent creates a new ConnectedEvent.
func NewConnectedEvent(sessionPresent bool) *ConnectedEvent {
	return &ConnectedEvent{
		err:            ErrConnected,
		SessionPresent: sessionPresent,
	}
}

// ConnectRejectedError reports the CONNACK return code the server
// refused the connection with. Extract with errors.As().
type ConnectRejectedError struct {
	err  error
	Code ConnackCode
}

func (e *ConnectRejectedError) Error() string {
	return "connect rejected: " + e.Code.String()
}

func (e *ConnectRejectedError) Unwrap() error { return e.err }

// NewConnectRejectedError creates a new ConnectRejectedError.
func NewConnectRejectedError(code ConnackCode) *ConnectRejectedError {
	return &ConnectRejectedError{
		err:  ErrConnectRejected,
		Code: code,
	}
}

// ReconnectEvent contains details about a reconnection attempt.
// Extract with errors.As().
type ReconnectEvent struct {
	err         error
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	cancelFn    func()
}

func (e *ReconnectEvent) Error() string { return e.err.Error() }
func (e *ReconnectEvent) Unwrap() error { return e.err }

// Cancel stops further reconnection attempts.
func (e *ReconnectEvent) Cancel() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
}

// NewReconnectEvent creates a new ReconnectEvent.
func NewReconnectEvent(attempt, maxAttempts int, delay time.Duration, cancelFn func()) *ReconnectEvent {
	return &ReconnectEvent{
		err:         ErrReconnecting,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Delay:       delay,
		cancelFn:    cancelFn,
	}
}

// DeliveryAbandonedError reports a QoS 1 or 2 publish dropped after
// exhausting its retry budget. Extract with errors.As().
type DeliveryAbandonedError struct {
	err      error
	Topic    string
	PacketID uint16
	Retries  int
}

func (e *DeliveryAbandonedError) Error() string {
	return "delivery abandoned: " + e.Topic
}

func (e *DeliveryAbandonedError) Unwrap() error { return e.err }

// NewDeliveryAbandonedError creates a new DeliveryAbandonedError.
func NewDeliveryAbandonedError(topic string, packetID uint16, retries int) *DeliveryAbandonedError {
	return &DeliveryAbandonedError{
		err:      ErrDeliveryAbandoned,
		Topic:    topic,
		PacketID: packetID,
		Retries:  retries,
	}
}

// SubscribeError contains details about a failed subscribe operation.
// Extract with errors.As().
type SubscribeError struct {
	err   error
	Topic string
}

func (e *SubscribeError) Error() string {
	return "subscribe failed: " + e.Topic
}

func (e *SubscribeError) Unwrap() error { return e.err }

// NewSubscribeError creates a new SubscribeError.
func NewSubscribeError(topic string) *SubscribeError {
	return &SubscribeError{
		err:   ErrSubscribeFailed,
		Topic: topic,
	}
}

// ConnectionLostError contains details about an unexpected disconnection.
// Extract with errors.As().
type ConnectionLostError struct {
	err   error
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() error { return e.err }

// NewConnectionLostError creates a new ConnectionLostError.
func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{
		err:   ErrConnectionLost,
		Cause: cause,
	}
}
