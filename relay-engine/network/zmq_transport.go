package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
)

const (
	defaultOutboxSize   = 1024
	defaultDrainTimeout = time.Second
)

// ZmqDialer opens DEALER links.
type ZmqDialer struct {
	OutboxSize   int
	DrainTimeout time.Duration
}

// Dial connects a DEALER socket to address and queues hello as its first frame.
// The attempt is abandoned when ctx ends first; nothing is left behind.
func (d ZmqDialer) Dial(ctx context.Context, address string, hello Hello) (Link, error) {
	id := uuid.NewString()
	lctx, cancel := context.WithCancel(context.Background())

	dealer := zmq4.NewDealer(lctx, zmq4.WithID(zmq4.SocketIdentity(id)))

	// Dial retries internally; run it aside so ctx bounds the attempt.
	errc := make(chan error, 1)
	go func() {
		errc <- dealer.Dial(address)
	}()

	select {
	case err := <-errc:
		if err != nil {
			cancel()
			_ = dealer.Close()
			return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrTransportFailure, address, err)
		}
	case <-ctx.Done():
		cancel()
		_ = dealer.Close()
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrTransportFailure, address, ctx.Err())
	}

	helloFrame, err := NewFrame(EventConnect, hello)
	if err != nil {
		cancel()
		_ = dealer.Close()
		return nil, err
	}

	link := newZmqLink(id, dealer, cancel, d.OutboxSize, d.DrainTimeout)
	if err := link.Send(helloFrame); err != nil {
		_ = link.Close()
		return nil, err
	}
	link.start()
	return link, nil
}

type zmqLink struct {
	id           string
	sock         zmq4.Socket
	cancel       context.CancelFunc
	drainTimeout time.Duration

	outbox  chan []byte
	frames  chan Frame
	done    chan struct{}
	drained chan struct{}

	mu       sync.RWMutex
	closed   bool
	err      error
	tearOnce sync.Once
}

func newZmqLink(id string, sock zmq4.Socket, cancel context.CancelFunc, outboxSize int, drainTimeout time.Duration) *zmqLink {
	if outboxSize <= 0 {
		outboxSize = defaultOutboxSize
	}
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	return &zmqLink{
		id:           id,
		sock:         sock,
		cancel:       cancel,
		drainTimeout: drainTimeout,
		outbox:       make(chan []byte, outboxSize),
		frames:       make(chan Frame, outboxSize),
		done:         make(chan struct{}),
		drained:      make(chan struct{}),
	}
}

func (l *zmqLink) start() {
	go l.writeLoop()
	go l.readLoop()
}

func (l *zmqLink) ID() string { return l.id }

func (l *zmqLink) Frames() <-chan Frame { return l.frames }

func (l *zmqLink) Done() <-chan struct{} { return l.done }

func (l *zmqLink) Err() error { return l.err }

func (l *zmqLink) Send(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrLinkClosed
	}

	select {
	case l.outbox <- data:
		return nil
	default:
		return fmt.Errorf("%w: outbox full", ErrTransportFailure)
	}
}

// Close flushes queued frames, waiting at most the drain timeout, then
// closes the socket.
func (l *zmqLink) Close() error {
	if l.closeOutbox() {
		select {
		case <-l.drained:
		case <-time.After(l.drainTimeout):
		}
	}
	l.teardown(ErrLinkClosed)
	return nil
}

func (l *zmqLink) closeOutbox() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.closed = true
	close(l.outbox)
	return true
}

func (l *zmqLink) teardown(err error) {
	l.tearOnce.Do(func() {
		l.err = err
		l.cancel()
		_ = l.sock.Close()
		close(l.done)
	})
}

func (l *zmqLink) fail(err error) {
	l.closeOutbox()
	l.teardown(fmt.Errorf("%w: %v", ErrTransportFailure, err))
}

func (l *zmqLink) writeLoop() {
	defer close(l.drained)

	for data := range l.outbox {
		if err := l.sock.Send(zmq4.NewMsg(data)); err != nil {
			l.fail(err)
			return
		}
	}
}

func (l *zmqLink) readLoop() {
	for {
		msg, err := l.sock.Recv()
		if err != nil {
			l.fail(err)
			return
		}
		if len(msg.Frames) == 0 {
			continue
		}

		f, err := DecodeFrame(msg.Frames[len(msg.Frames)-1])
		if err != nil {
			continue
		}

		select {
		case l.frames <- f:
		case <-l.done:
			return
		}
	}
}

type routed struct {
	id   string
	data []byte
}

// zmqListener is a ROUTER socket. Each connected DEALER is a link keyed
// by its socket identity.
type zmqListener struct {
	sock         zmq4.Socket
	cancel       context.CancelFunc
	drainTimeout time.Duration

	outbox  chan routed
	drained chan struct{}

	mu     sync.RWMutex
	closed bool
}

// ListenZmq binds a ROUTER socket to address.
func ListenZmq(ctx context.Context, address string) (Listener, error) {
	lctx, cancel := context.WithCancel(ctx)

	router := zmq4.NewRouter(lctx, zmq4.WithID(zmq4.SocketIdentity(address)))
	if err := router.Listen(address); err != nil {
		cancel()
		_ = router.Close()
		return nil, fmt.Errorf("failed to bind router: %w", err)
	}

	l := &zmqListener{
		sock:         router,
		cancel:       cancel,
		drainTimeout: defaultDrainTimeout,
		outbox:       make(chan routed, defaultOutboxSize),
		drained:      make(chan struct{}),
	}
	go l.writeLoop()
	return l, nil
}

func (l *zmqListener) Recv() (Inbound, error) {
	msg, err := l.sock.Recv()
	if err != nil {
		l.mu.RLock()
		closed := l.closed
		l.mu.RUnlock()
		if closed || errors.Is(err, context.Canceled) {
			return Inbound{}, ErrLinkClosed
		}
		return Inbound{}, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	if len(msg.Frames) < 2 {
		return Inbound{}, fmt.Errorf("%w: expected identity and payload frames", ErrMalformedFrame)
	}

	in := Inbound{LinkID: string(msg.Frames[0])}
	f, err := DecodeFrame(msg.Frames[len(msg.Frames)-1])
	if err != nil {
		return in, err
	}
	in.Frame = f
	return in, nil
}

func (l *zmqListener) SendTo(linkID string, f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrLinkClosed
	}

	select {
	case l.outbox <- routed{id: linkID, data: data}:
		return nil
	default:
		return fmt.Errorf("%w: outbox full", ErrTransportFailure)
	}
}

func (l *zmqListener) Addr() net.Addr {
	return l.sock.Addr()
}

func (l *zmqListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.outbox)
	l.mu.Unlock()

	select {
	case <-l.drained:
	case <-time.After(l.drainTimeout):
	}

	l.cancel()
	return l.sock.Close()
}

func (l *zmqListener) writeLoop() {
	defer close(l.drained)

	for r := range l.outbox {
		// An unknown identity means the link is gone; nothing to do.
		_ = l.sock.Send(zmq4.NewMsgFrom([]byte(r.id), r.data))
	}
}
