package hub

import (
	"context"
	"errors"
)

// ConnState is the observable state of a Connection.
type ConnState int

const (
	ConnOpen ConnState = iota
	ConnClosing
	ConnClosed
	ConnErrored
)

func (s ConnState) String() string {
	switch s {
	case ConnOpen:
		return "open"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	case ConnErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Connection is a duplex endpoint owned by the transport layer. The hub only
// borrows it while it is registered.
type Connection interface {
	// ID identifies the connection in the registry and in logs.
	ID() string

	// State is queried before every send.
	State() ConnState

	// Send writes one message. It must respect ctx's deadline.
	Send(ctx context.Context, data []byte) error

	// ForceClose tears the connection down without a handshake.
	ForceClose() error
}

// Generator produces the data broadcast on each tick.
type Generator interface {
	Generate(ctx context.Context) (any, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context) (any, error)

func (f GeneratorFunc) Generate(ctx context.Context) (any, error) { return f(ctx) }

var (
	// ErrSendFailed wraps a transport error from one connection during one
	// broadcast. The connection stays registered.
	ErrSendFailed = errors.New("hub: send failed")

	// ErrConnectionClosed is returned by transports asked to send on a
	// connection that is no longer open.
	ErrConnectionClosed = errors.New("hub: connection closed")

	// ErrFeedFailed wraps a Generator or encoding failure. The tick is skipped
	// and the cached payload is kept.
	ErrFeedFailed = errors.New("hub: feed generation failed")

	// ErrInvalidInterval is returned by Start and SetInterval for a
	// non-positive broadcast interval.
	ErrInvalidInterval = errors.New("hub: broadcast interval must be positive")
)
