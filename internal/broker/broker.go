// Package broker keeps a durable-queue connection alive and exposes
// publish and manual-ack consume on top of it.
package broker

import (
	"context"
	"errors"
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	// ErrConnectionLost is reported on NotifyClose when a transport drops
	// without being asked to.
	ErrConnectionLost = errors.New("broker: connection lost")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("broker: connection closed")
	// ErrAlreadySettled is returned when a delivery is acked or nacked twice.
	ErrAlreadySettled = errors.New("broker: delivery already settled")
)

// Handler processes one message body. A nil return acks the message; an
// error nacks it without requeue.
type Handler func(ctx context.Context, body []byte) error

// Delivery is a message handed out by a transport that must be settled
// exactly once.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}

// Conn is one live session with a broker. Queues are always declared
// durable and messages always published persistent.
type Conn interface {
	DeclareQueue(name string) error
	Publish(ctx context.Context, queue string, body []byte) error
	// Consume starts delivering messages from queue with at most prefetch
	// unsettled deliveries outstanding. The channel closes with the
	// connection.
	Consume(queue string, prefetch int) (<-chan Delivery, error)
	// NotifyClose yields an error when the connection drops and is closed
	// once the connection is gone.
	NotifyClose() <-chan error
	Close() error
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }
