package network

import (
	"context"
	"net"
)

// Link is an outbound connection to a remote node's inbound endpoint.
//
// Send never blocks: frames are queued on an outbox drained by the link's
// writer, and a full outbox fails the send.
type Link interface {
	ID() string
	Send(f Frame) error
	Frames() <-chan Frame
	Done() <-chan struct{}
	// Err reports why the link ended. Only meaningful after Done is closed.
	Err() error
	Close() error
}

// Dialer opens links. The hello frame is the first frame the remote sees.
type Dialer interface {
	Dial(ctx context.Context, address string, hello Hello) (Link, error)
}

// Inbound is a frame received on the listening endpoint.
type Inbound struct {
	LinkID string
	Frame  Frame
}

// Listener is a node's inbound endpoint.
type Listener interface {
	// Recv blocks for the next frame. A malformed frame yields
	// ErrMalformedFrame with the link ID still set; a closed listener
	// yields ErrLinkClosed.
	Recv() (Inbound, error)
	SendTo(linkID string, f Frame) error
	Addr() net.Addr
	Close() error
}

// ListenFunc opens a listener bound to address.
type ListenFunc func(ctx context.Context, address string) (Listener, error)
