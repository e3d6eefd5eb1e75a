package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/VanDung-dev/HieraChain-Relay/api"
)

// memNetwork is an in-process transport: listeners keyed by address and
// links that hand frames straight to them.
type memNetwork struct {
	mu        sync.Mutex
	listeners map[string]*memListener
	nextPort  int
	blackhole map[string]bool
}

func newMemNetwork() *memNetwork {
	return &memNetwork{
		listeners: make(map[string]*memListener),
		nextPort:  20000,
		blackhole: make(map[string]bool),
	}
}

func (m *memNetwork) Listen(_ context.Context, address string) (Listener, error) {
	host, port, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if port == 0 {
		m.nextPort++
		port = m.nextPort
		address = FormatAddress(host, port)
	}
	if _, ok := m.listeners[address]; ok {
		return nil, fmt.Errorf("address %s in use", address)
	}

	l := &memListener{
		net:     m,
		address: address,
		port:    port,
		inbox:   make(chan Inbound, 4096),
		links:   make(map[string]*memLink),
		closed:  make(chan struct{}),
	}
	m.listeners[address] = l
	return l, nil
}

func (m *memNetwork) lookup(address string) (*memListener, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listeners[address]
	return l, ok
}

// Blackhole makes dials to address hang until their context ends.
func (m *memNetwork) Blackhole(address string) {
	m.mu.Lock()
	m.blackhole[address] = true
	m.mu.Unlock()
}

func (m *memNetwork) Dial(ctx context.Context, address string, hello Hello) (Link, error) {
	m.mu.Lock()
	hole := m.blackhole[address]
	m.mu.Unlock()

	if hole {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, ctx.Err())
	}

	l, ok := m.lookup(address)
	if !ok {
		return nil, fmt.Errorf("%w: connection refused", ErrTransportFailure)
	}

	link := &memLink{
		id:       uuid.NewString(),
		listener: l,
		frames:   make(chan Frame, 1024),
		done:     make(chan struct{}),
	}
	if err := l.register(link); err != nil {
		return nil, err
	}

	hf, err := NewFrame(EventConnect, hello)
	if err != nil {
		return nil, err
	}
	if err := link.Send(hf); err != nil {
		return nil, err
	}
	return link, nil
}

type memListener struct {
	net     *memNetwork
	address string
	port    int
	inbox   chan Inbound

	mu     sync.Mutex
	links  map[string]*memLink
	closed chan struct{}
	once   sync.Once
}

func (l *memListener) register(link *memLink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closed:
		return fmt.Errorf("%w: connection refused", ErrTransportFailure)
	default:
	}
	l.links[link.id] = link
	return nil
}

func (l *memListener) Recv() (Inbound, error) {
	select {
	case in := <-l.inbox:
		return in, nil
	case <-l.closed:
		return Inbound{}, ErrLinkClosed
	}
}

func (l *memListener) SendTo(linkID string, f Frame) error {
	l.mu.Lock()
	link, ok := l.links[linkID]
	l.mu.Unlock()

	if !ok {
		return nil
	}
	link.deliver(f)
	return nil
}

func (l *memListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: l.port}
}

func (l *memListener) Close() error {
	l.once.Do(func() {
		close(l.closed)

		l.net.mu.Lock()
		delete(l.net.listeners, l.address)
		l.net.mu.Unlock()

		l.mu.Lock()
		links := l.links
		l.links = make(map[string]*memLink)
		l.mu.Unlock()

		for _, link := range links {
			_ = link.Close()
		}
	})
	return nil
}

type memLink struct {
	id       string
	listener *memListener
	frames   chan Frame
	done     chan struct{}
	once     sync.Once
}

func (l *memLink) ID() string { return l.id }

func (l *memLink) Frames() <-chan Frame { return l.frames }

func (l *memLink) Done() <-chan struct{} { return l.done }

func (l *memLink) Err() error { return ErrLinkClosed }

func (l *memLink) Send(f Frame) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	case <-l.listener.closed:
		_ = l.Close()
		return ErrLinkClosed
	default:
	}

	// Round-trip through the codec like a real wire.
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	decoded, err := DecodeFrame(data)
	if err != nil {
		return err
	}

	select {
	case l.listener.inbox <- Inbound{LinkID: l.id, Frame: decoded}:
		return nil
	default:
		return fmt.Errorf("%w: outbox full", ErrTransportFailure)
	}
}

func (l *memLink) deliver(f Frame) {
	select {
	case <-l.done:
	case l.frames <- f:
	default:
	}
}

func (l *memLink) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.listener.mu.Lock()
		delete(l.listener.links, l.id)
		l.listener.mu.Unlock()
	})
	return nil
}

// recordingLink stores every frame sent on it.
type recordingLink struct {
	id      string
	address string

	mu     sync.Mutex
	sent   []Frame
	failed bool

	frames chan Frame
	done   chan struct{}
	once   sync.Once
}

func (l *recordingLink) ID() string { return l.id }

func (l *recordingLink) Frames() <-chan Frame { return l.frames }

func (l *recordingLink) Done() <-chan struct{} { return l.done }

func (l *recordingLink) Err() error { return ErrLinkClosed }

func (l *recordingLink) Send(f Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failed {
		return ErrLinkClosed
	}
	l.sent = append(l.sent, f)
	return nil
}

func (l *recordingLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// Fail makes every later send fail as if the link died.
func (l *recordingLink) Fail() {
	l.mu.Lock()
	l.failed = true
	l.mu.Unlock()
}

func (l *recordingLink) Sent(event string) []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Frame
	for _, f := range l.sent {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (l *recordingLink) Envelopes() []Envelope {
	var envs []Envelope
	for _, f := range l.Sent(EventNetworkMessage) {
		var env Envelope
		if err := f.Decode(&env); err == nil {
			envs = append(envs, env)
		}
	}
	return envs
}

// recordingDialer hands out recordingLinks and remembers them by address.
type recordingDialer struct {
	mu     sync.Mutex
	links  map[string]*recordingLink
	hellos map[string]Hello
	delay  time.Duration
	err    error
}

func newRecordingDialer() *recordingDialer {
	return &recordingDialer{
		links:  make(map[string]*recordingLink),
		hellos: make(map[string]Hello),
	}
}

func (d *recordingDialer) Dial(ctx context.Context, address string, hello Hello) (Link, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTransportFailure, ctx.Err())
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	link := &recordingLink{
		id:      uuid.NewString(),
		address: address,
		frames:  make(chan Frame, 16),
		done:    make(chan struct{}),
	}

	d.mu.Lock()
	d.links[address] = link
	d.hellos[address] = hello
	d.mu.Unlock()
	return link, nil
}

func (d *recordingDialer) Link(address string) *recordingLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[address]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.Timeout = 500 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.StaleTimeout = 2 * time.Second
	cfg.RateLimit = 10000
	cfg.RateBurst = 10000
	return cfg
}

func newTestTransmitter(t *testing.T, address string, cfg Config, dialer Dialer) *Transmitter {
	t.Helper()

	tr := NewTransmitter(address, cfg, dialer, nil, zaptest.NewLogger(t), api.NewMetrics("relay"))
	t.Cleanup(tr.Close)
	return tr
}

func startTestNode(t *testing.T, mn *memNetwork, cfg Config) *Node {
	t.Helper()

	n := NewNode(cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithDialer(mn),
		WithListenFunc(mn.Listen),
	)
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}
