package mqtt311

import (
	"context"
	"sync"
)

// DeliveryToken tracks completion of a QoS 1 or QoS 2 publish. The
// token resolves when the delivery is acknowledged, abandoned, or the
// client shuts down.
type DeliveryToken struct {
	packetID uint16
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	err      error
	cancelFn func()
}

func newDeliveryToken(packetID uint16) *DeliveryToken {
	return &DeliveryToken{
		packetID: packetID,
		done:     make(chan struct{}),
	}
}

// completedToken returns an already-resolved token, used for QoS 0
// publishes where delivery completes at write time.
func completedToken(err error) *DeliveryToken {
	t := newDeliveryToken(0)
	t.complete(err)
	return t
}

// CompletedToken returns a token already resolved with a nil outcome.
// Useful for Client implementations that complete deliveries at write
// time.
func CompletedToken() *DeliveryToken {
	return completedToken(nil)
}

// PacketID returns the packet identifier assigned to the delivery,
// or 0 for QoS 0.
func (t *DeliveryToken) PacketID() uint16 {
	return t.packetID
}

// Done returns a channel closed when the delivery resolves.
func (t *DeliveryToken) Done() <-chan struct{} {
	return t.done
}

// Err returns the delivery outcome. It is only meaningful after Done
// is closed: nil means acknowledged, non-nil means the delivery failed.
func (t *DeliveryToken) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the delivery resolves or the context is canceled.
func (t *DeliveryToken) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel gives up on the delivery: the in-flight entry is dropped, the
// packet identifier is released, and the token resolves with
// context.Canceled. The broker may still have received the message.
// Canceling an already-resolved token is a no-op.
func (t *DeliveryToken) Cancel() {
	select {
	case <-t.done:
		return
	default:
	}
	if t.cancelFn != nil {
		t.cancelFn()
	}
	t.complete(context.Canceled)
}

func (t *DeliveryToken) complete(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}
