package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraChain-Relay/api"
	"github.com/VanDung-dev/HieraChain-Relay/cache"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/core"
)

// outboundPeer is one entry of the connections map.
type outboundPeer struct {
	address     string
	link        Link
	connectedAt time.Time
}

// PeerLink describes an outbound connection.
type PeerLink struct {
	Address     string    `json:"address"`
	LinkID      string    `json:"link_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Transmitter owns the outbound links of a node and runs the gossip fan-out.
type Transmitter struct {
	address string
	cfg     Config

	dialer  Dialer
	seen    *cache.Seen[Envelope]
	pool    *core.WorkerPool
	log     *zap.Logger
	metrics *api.Metrics

	connections map[string]*outboundPeer
	pending     map[string]struct{}
	mu          sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewTransmitter creates a transmitter for the node at address.
func NewTransmitter(address string, cfg Config, dialer Dialer, seen *cache.Seen[Envelope], logger *zap.Logger, metrics *api.Metrics) *Transmitter {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = api.NewMetrics("relay")
	}
	if seen == nil {
		seen = cache.NewSeen[Envelope](cache.Options{TTL: cfg.SeenTTL, MaxEntries: cfg.SeenMaxEntries})
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &Transmitter{
		address:     address,
		cfg:         cfg,
		dialer:      dialer,
		seen:        seen,
		log:         logger.Named("transmitter"),
		metrics:     metrics,
		connections: make(map[string]*outboundPeer),
		pending:     make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	t.pool = core.NewWorkerPool("connect", cfg.DialWorkers, cfg.MaxConnections*10, t.onConnectResult)
	return t
}

// Start launches the heartbeat loop.
func (t *Transmitter) Start() {
	t.mu.Lock()
	if t.started || t.closed {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.heartbeatLoop()
}

// Address returns the node address advertised in handshakes.
func (t *Transmitter) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address
}

func (t *Transmitter) setAddress(address string) {
	t.mu.Lock()
	t.address = address
	t.mu.Unlock()
}

// Connect opens an outbound link to the described peer.
//
// Empty descriptors, self and already connected or dialing peers fail fast
// with ErrEmptyHandshake, ErrSelfConnect and ErrAlreadyExists. The attempt
// is bounded by the configured timeout and leaves no entry on failure.
func (t *Transmitter) Connect(ctx context.Context, h Handshake) error {
	if h.IsEmpty() {
		t.log.Debug("Ignoring empty handshake")
		return ErrEmptyHandshake
	}

	target := h.Target()
	if err := ValidateAddress(target); err != nil {
		t.log.Warn("Ignoring malformed peer address", zap.String("address", target), zap.Error(err))
		return err
	}

	t.mu.Lock()
	self := t.address
	switch {
	case t.closed:
		t.mu.Unlock()
		return ErrNodeNotRunning
	case target == self:
		t.mu.Unlock()
		t.log.Debug("Refusing to connect to self", zap.String("address", target))
		return ErrSelfConnect
	}
	if _, ok := t.connections[target]; ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: connection to %s", ErrAlreadyExists, target)
	}
	if _, ok := t.pending[target]; ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: connection to %s in progress", ErrAlreadyExists, target)
	}
	t.pending[target] = struct{}{}
	t.mu.Unlock()

	t.log.Info("Attempting connection", zap.String("address", target))

	dctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	link, err := t.dialer.Dial(dctx, target, Hello{ConnectionType: ConnectionTransmitter, Address: self})

	t.mu.Lock()
	delete(t.pending, target)
	if err != nil {
		t.mu.Unlock()
		t.metrics.RecordConnect("failure")
		t.log.Warn("Connection failed", zap.String("address", target), zap.Error(err))
		return err
	}
	if t.closed {
		t.mu.Unlock()
		_ = link.Close()
		return ErrNodeNotRunning
	}

	peer := &outboundPeer{address: target, link: link, connectedAt: time.Now()}
	t.connections[target] = peer
	count := len(t.connections)
	t.wg.Add(1)
	t.mu.Unlock()

	t.metrics.RecordConnect("success")
	t.metrics.OutboundPeers.Set(float64(count))
	t.log.Info("Connected to peer", zap.String("address", target), zap.Int("peers", count))

	go t.watch(peer)

	if err := link.Send(Frame{Event: EventSharePeers}); err != nil {
		t.log.Warn("Failed to request peers", zap.String("address", target), zap.Error(err))
	}
	return nil
}

// ConnectAsync queues a connect attempt on the worker pool.
func (t *Transmitter) ConnectAsync(h Handshake) {
	task := &core.Task{
		ID:        h.Target(),
		CreatedAt: time.Now(),
		Ctx:       t.ctx,
		Run: func(ctx context.Context) error {
			return t.Connect(ctx, h)
		},
	}

	if err := t.pool.Submit(task); err != nil {
		t.log.Warn("Dropping connect attempt", zap.String("address", task.ID), zap.Error(err))
	}
}

func (t *Transmitter) onConnectResult(r *core.Result) {
	stats := t.pool.GetStats()
	t.metrics.UpdateWorkerPool(int(stats.Active), stats.Pending)

	if r.Err == nil || errors.Is(r.Err, ErrAlreadyExists) || errors.Is(r.Err, ErrSelfConnect) {
		return
	}
	t.log.Debug("Connect attempt finished with error", zap.String("address", r.TaskID), zap.Error(r.Err))
}

// Broadcast sends a new message to every connected peer except the payload's
// declared origin. It returns the minted message ID.
func (t *Transmitter) Broadcast(p Payload) (string, error) {
	id := NewMessageID()
	if err := t.BroadcastWithID(id, p); err != nil {
		return "", err
	}
	return id, nil
}

// BroadcastWithID is Broadcast with a caller-minted message ID.
func (t *Transmitter) BroadcastWithID(id string, p Payload) error {
	if p.IsEmpty() {
		return ErrEmptyMessage
	}

	self := t.Address()
	env := Envelope{
		MessageID: id,
		Data:      p,
		Origin:    self,
		RelayedBy: self,
	}
	t.seen.MarkIfAbsent(id, env)

	frame, err := NewFrame(EventNetworkMessage, env)
	if err != nil {
		return err
	}

	sent := t.fanOut(frame, func(address string) bool {
		return p.Origin != "" && address == p.Origin
	})

	t.metrics.MessagesBroadcast.Inc()
	t.log.Debug("Broadcast message", zap.String("message_id", id), zap.String("kind", string(p.Kind)), zap.Int("peers", sent))
	return nil
}

// Relay forwards an envelope to every connected peer except its origin
// and the peer it came from. It returns the number of copies sent.
func (t *Transmitter) Relay(env Envelope) int {
	relayed := env.RelayedVia(t.Address())

	frame, err := NewFrame(EventNetworkMessage, relayed)
	if err != nil {
		t.log.Error("Failed to encode relayed message", zap.String("message_id", env.MessageID), zap.Error(err))
		return 0
	}

	return t.fanOut(frame, func(address string) bool {
		return address == env.Origin || address == env.RelayedBy
	})
}

// SendMessage sends a direct message to one connected peer.
func (t *Transmitter) SendMessage(address, text string) error {
	t.mu.RLock()
	peer, ok := t.connections[address]
	self := t.address
	t.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchPeer, address)
	}

	frame, err := NewFrame(EventMessage, ChatMessage{Text: text, UserName: self})
	if err != nil {
		return err
	}
	if err := peer.link.Send(frame); err != nil {
		t.metrics.SendFailures.Inc()
		t.dropIfDead(peer, err)
		return err
	}
	return nil
}

// RequestPeerAddresses asks a connected peer for its peer list.
func (t *Transmitter) RequestPeerAddresses(address string) error {
	t.mu.RLock()
	peer, ok := t.connections[address]
	t.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchPeer, address)
	}
	return peer.link.Send(Frame{Event: EventGetPeerAddresses})
}

// Disconnect closes and forgets the link to address.
func (t *Transmitter) Disconnect(address string) error {
	t.mu.Lock()
	peer, ok := t.connections[address]
	if ok {
		delete(t.connections, address)
	}
	count := len(t.connections)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchPeer, address)
	}

	_ = peer.link.Send(Frame{Event: EventDisconnect})
	_ = peer.link.Close()

	t.metrics.OutboundPeers.Set(float64(count))
	t.log.Info("Disconnected from peer", zap.String("address", address), zap.Int("peers", count))
	return nil
}

// PeerAddresses returns the sorted addresses of connected peers.
func (t *Transmitter) PeerAddresses() []string {
	t.mu.RLock()
	addrs := make([]string, 0, len(t.connections))
	for addr := range t.connections {
		addrs = append(addrs, addr)
	}
	t.mu.RUnlock()

	sort.Strings(addrs)
	return addrs
}

// Peers returns a snapshot of the outbound links.
func (t *Transmitter) Peers() []PeerLink {
	t.mu.RLock()
	peers := make([]PeerLink, 0, len(t.connections))
	for _, p := range t.connections {
		peers = append(peers, PeerLink{Address: p.address, LinkID: p.link.ID(), ConnectedAt: p.connectedAt})
	}
	t.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })
	return peers
}

// HasPeer reports whether an outbound link to address exists.
func (t *Transmitter) HasPeer(address string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.connections[address]
	return ok
}

// PeerCount returns the number of outbound links.
func (t *Transmitter) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connections)
}

// Subscribe connects to every peer announced on ch while slots remain.
func (t *Transmitter) Subscribe(ch <-chan Handshake) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		for {
			select {
			case <-t.ctx.Done():
				return
			case h, ok := <-ch:
				if !ok {
					return
				}
				if t.PeerCount() >= t.cfg.MaxConnections {
					t.log.Debug("No free slots for discovered peer", zap.String("address", h.Target()))
					continue
				}
				t.ConnectAsync(h)
			}
		}
	}()
}

// handlePeersShared applies the peer exchange policy to a shared list.
// Auto-expansion only runs when enabled and uses at most the free slots.
func (t *Transmitter) handlePeersShared(from string, peers []string) {
	if !t.cfg.AutoExpand {
		t.log.Debug("Received shared peers", zap.String("from", from), zap.Int("count", len(peers)))
		return
	}

	available := t.cfg.MaxConnections - t.PeerCount()
	if available <= 0 {
		return
	}

	self := t.Address()
	for _, addr := range peers {
		if available == 0 {
			break
		}
		if addr == self || t.HasPeer(addr) {
			continue
		}
		t.ConnectAsync(HandshakeFor(addr))
		available--
	}
}

// Close disconnects every peer and stops background work. Safe to call twice.
func (t *Transmitter) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	peers := t.connections
	t.connections = make(map[string]*outboundPeer)
	t.mu.Unlock()

	t.cancel()

	for _, p := range peers {
		_ = p.link.Send(Frame{Event: EventDisconnect})
		_ = p.link.Close()
	}

	t.pool.Shutdown()
	t.wg.Wait()

	t.metrics.OutboundPeers.Set(0)
	t.log.Info("Transmitter closed", zap.Int("peers", len(peers)))
}

// fanOut sends frame to every peer not skipped. Each send is independent.
func (t *Transmitter) fanOut(frame Frame, skip func(address string) bool) int {
	t.mu.RLock()
	peers := make([]*outboundPeer, 0, len(t.connections))
	for _, p := range t.connections {
		if skip != nil && skip(p.address) {
			continue
		}
		peers = append(peers, p)
	}
	t.mu.RUnlock()

	sent := 0
	for _, p := range peers {
		if err := p.link.Send(frame); err != nil {
			t.metrics.SendFailures.Inc()
			t.log.Warn("Send to peer failed", zap.String("address", p.address), zap.String("event", frame.Event), zap.Error(err))
			t.dropIfDead(p, err)
			continue
		}
		sent++
	}
	return sent
}

func (t *Transmitter) dropIfDead(p *outboundPeer, err error) {
	if errors.Is(err, ErrLinkClosed) {
		t.removeLink(p, err)
	}
}

// removeLink forgets p if it is still the current entry for its address.
func (t *Transmitter) removeLink(p *outboundPeer, reason error) {
	t.mu.Lock()
	current, ok := t.connections[p.address]
	if ok && current == p {
		delete(t.connections, p.address)
	}
	count := len(t.connections)
	t.mu.Unlock()

	_ = p.link.Close()

	if ok && current == p {
		t.metrics.OutboundPeers.Set(float64(count))
		t.log.Info("Peer link dropped", zap.String("address", p.address), zap.NamedError("reason", reason))
	}
}

func (t *Transmitter) watch(p *outboundPeer) {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-p.link.Done():
			t.removeLink(p, p.link.Err())
			return
		case f := <-p.link.Frames():
			t.handleFrame(p, f)
		}
	}
}

func (t *Transmitter) handleFrame(p *outboundPeer, f Frame) {
	switch f.Event {
	case EventPeersShared:
		var peers []string
		if err := f.Decode(&peers); err != nil {
			t.log.Debug("Bad peersShared frame", zap.String("address", p.address), zap.Error(err))
			return
		}
		t.handlePeersShared(p.address, peers)
	case EventPeerAddresses:
		var peers []string
		if err := f.Decode(&peers); err == nil {
			t.log.Info("Peer addresses", zap.String("from", p.address), zap.Strings("peers", peers))
		}
	case EventMessage:
		var msg ChatMessage
		if err := f.Decode(&msg); err == nil {
			t.log.Info("Received message", zap.String("from", p.address), zap.String("text", msg.Text))
		}
	case EventDisconnect:
		t.removeLink(p, ErrLinkClosed)
	case EventHeartbeat:
	default:
		t.log.Debug("Unhandled frame on outbound link", zap.String("address", p.address), zap.String("event", f.Event))
	}
}

func (t *Transmitter) heartbeatLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.fanOut(Frame{Event: EventHeartbeat}, nil)
		}
	}
}
