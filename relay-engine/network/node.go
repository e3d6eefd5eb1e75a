package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/VanDung-dev/HieraChain-Relay/api"
	"github.com/VanDung-dev/HieraChain-Relay/cache"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/core"
)

// Discoverer finds peers and announces them as handshakes.
type Discoverer interface {
	Start(ctx context.Context) error
	Announcements() <-chan Handshake
	Close() error
}

// ApplicationHandler receives application payloads delivered by the mesh.
type ApplicationHandler func(env Envelope)

type linkKind int

const (
	linkPending linkKind = iota
	linkPeer
	linkUser
)

func (k linkKind) String() string {
	switch k {
	case linkPeer:
		return "peer"
	case linkUser:
		return "user"
	default:
		return "pending"
	}
}

// inboundLink is one connection accepted on the listening endpoint.
// kind and address are written by the accept loop under linksMu.
type inboundLink struct {
	id       string
	kind     linkKind
	address  string
	limiter  *rate.Limiter
	lastSeen atomic.Int64
	closed   atomic.Bool
	node     *Node
}

func (l *inboundLink) touch() {
	l.lastSeen.Store(time.Now().UnixNano())
}

// Disconnect tells the remote end the link is dropped.
func (l *inboundLink) Disconnect() {
	if l.closed.CompareAndSwap(false, true) {
		_ = l.node.listener.SendTo(l.id, Frame{Event: EventDisconnect})
	}
}

// Status represents the current status of a node.
type Status struct {
	Address       string         `json:"address"`
	Channel       string         `json:"channel"`
	IsRunning     bool           `json:"is_running"`
	StartedAt     time.Time      `json:"started_at"`
	OutboundPeers int            `json:"outbound_peers"`
	InboundPeers  int            `json:"inbound_peers"`
	Users         int            `json:"users"`
	Links         int            `json:"links"`
	SeenCache     cache.Stats    `json:"seen_cache"`
	ConnectPool   core.PoolStats `json:"connect_pool"`
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the node logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) { n.log = logger }
}

// WithMetrics sets the metrics the node reports to.
func WithMetrics(m *api.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithDialer replaces the outbound transport.
func WithDialer(d Dialer) Option {
	return func(n *Node) { n.dialer = d }
}

// WithListenFunc replaces the inbound transport.
func WithListenFunc(fn ListenFunc) Option {
	return func(n *Node) { n.listen = fn }
}

// WithDiscoverer attaches a discovery source.
func WithDiscoverer(d Discoverer) Option {
	return func(n *Node) { n.discovery = d }
}

// Node is a relay node: it accepts inbound peer and user links, deduplicates
// gossip and dispatches it, and drives its Transmitter for outbound traffic.
type Node struct {
	cfg     Config
	address string

	listen    ListenFunc
	dialer    Dialer
	listener  Listener
	discovery Discoverer

	transmitter *Transmitter
	seen        *cache.Seen[Envelope]
	peers       *PeerRegistry

	links   map[string]*inboundLink
	linksMu sync.RWMutex

	users   map[string]User
	usersMu sync.RWMutex

	handler   ApplicationHandler
	handlerMu sync.RWMutex

	log     *zap.Logger
	metrics *api.Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	stopped   bool
	startedAt time.Time
	mu        sync.RWMutex
}

// NewNode creates a node from cfg.
func NewNode(cfg Config, opts ...Option) *Node {
	cfg = cfg.withDefaults()

	n := &Node{
		cfg:     cfg,
		address: FormatAddress(cfg.Host, cfg.Port),
		listen:  ListenZmq,
		dialer:  ZmqDialer{},
		peers:   NewPeerRegistry(),
		links:   make(map[string]*inboundLink),
		users:   make(map[string]User),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = zap.NewNop()
	}
	if n.metrics == nil {
		n.metrics = api.NewMetrics("relay")
	}

	n.seen = cache.NewSeen[Envelope](cache.Options{
		TTL:        cfg.SeenTTL,
		MaxEntries: cfg.SeenMaxEntries,
	})
	n.transmitter = NewTransmitter(n.address, cfg, n.dialer, n.seen, n.log, n.metrics)
	n.log = n.log.Named("node")
	return n
}

// Start binds the listening endpoint and starts background work.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return errors.New("node already running")
	}
	if n.stopped {
		n.mu.Unlock()
		return fmt.Errorf("%w: node was stopped", ErrNodeNotRunning)
	}

	n.ctx, n.cancel = context.WithCancel(ctx)

	// The listener outlives cancellation so Stop can still say goodbye.
	listener, err := n.listen(context.WithoutCancel(ctx), n.address)
	if err != nil {
		n.cancel()
		n.mu.Unlock()
		return fmt.Errorf("failed to start listener: %w", err)
	}
	n.listener = listener

	// Port 0 asks the OS for a port; advertise the real one.
	if n.cfg.Port == 0 {
		if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
			n.cfg.Port = tcp.Port
			n.address = FormatAddress(n.cfg.Host, tcp.Port)
			n.transmitter.setAddress(n.address)
		}
	}

	n.running = true
	n.startedAt = time.Now()
	address := n.address
	n.mu.Unlock()

	n.seen.Start()
	n.transmitter.Start()

	n.wg.Add(2)
	go n.acceptLoop()
	go n.pruneLoop()

	if n.discovery != nil {
		if err := n.discovery.Start(n.ctx); err != nil {
			n.log.Warn("Discovery unavailable", zap.Error(fmt.Errorf("%w: %v", ErrDiscoveryFailure, err)))
		} else {
			n.transmitter.Subscribe(n.discovery.Announcements())
		}
	}

	n.log.Info("Node started", zap.String("address", address), zap.String("channel", n.cfg.Channel))
	return nil
}

// Stop stops accepting, drops every user and peer link, then closes the
// listener, the transmitter and discovery. A stopped node cannot restart.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		neverStarted := !n.stopped
		n.stopped = true
		n.mu.Unlock()
		if neverStarted {
			// NewNode already spun up the connect pool and the seen cleaner.
			n.transmitter.Close()
			n.seen.Stop()
		}
		return
	}
	n.running = false
	n.stopped = true
	n.mu.Unlock()

	n.cancel()

	n.linksMu.Lock()
	links := n.links
	n.links = make(map[string]*inboundLink)
	n.linksMu.Unlock()

	for _, l := range links {
		l.Disconnect()
	}
	n.peers.DisconnectAll()

	n.usersMu.Lock()
	n.users = make(map[string]User)
	n.usersMu.Unlock()

	if err := n.listener.Close(); err != nil {
		n.log.Warn("Failed to close listener", zap.Error(err))
	}

	n.transmitter.Close()
	n.seen.Stop()

	if n.discovery != nil {
		if err := n.discovery.Close(); err != nil {
			n.log.Warn("Failed to close discovery", zap.Error(err))
		}
	}

	n.wg.Wait()
	n.log.Info("Node stopped", zap.String("address", n.Address()))
}

// IsRunning reports whether the node is running.
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Address returns the node's advertised address.
func (n *Node) Address() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.address
}

// Transmitter returns the node's outbound side.
func (n *Node) Transmitter() *Transmitter {
	return n.transmitter
}

// SetApplicationHandler sets the receiver of application payloads.
func (n *Node) SetApplicationHandler(h ApplicationHandler) {
	n.handlerMu.Lock()
	n.handler = h
	n.handlerMu.Unlock()
}

// Connect opens an outbound link to address and waits for the result.
func (n *Node) Connect(address string) error {
	if !n.IsRunning() {
		return ErrNodeNotRunning
	}
	return n.transmitter.Connect(n.ctx, HandshakeFor(address))
}

// HasPeer reports whether an outbound link to address exists.
func (n *Node) HasPeer(address string) bool {
	return n.transmitter.HasPeer(address)
}

// PeerCount returns the number of outbound links.
func (n *Node) PeerCount() int {
	return n.transmitter.PeerCount()
}

// PeerAddresses returns the addresses of outbound links.
func (n *Node) PeerAddresses() []string {
	return n.transmitter.PeerAddresses()
}

// Peers returns the outbound links.
func (n *Node) Peers() []PeerLink {
	return n.transmitter.Peers()
}

// InboundPeers returns the addresses of registered inbound peers.
func (n *Node) InboundPeers() []string {
	return n.peers.Addresses()
}

// PeerHistory returns past inbound peers.
func (n *Node) PeerHistory() []HistoryEntry {
	return n.peers.History()
}

// UsersOnline returns a snapshot of the online users directory.
func (n *Node) UsersOnline() map[string]User {
	n.usersMu.RLock()
	defer n.usersMu.RUnlock()

	users := make(map[string]User, len(n.users))
	for name, u := range n.users {
		users[name] = u
	}
	return users
}

// Status returns the current node status.
func (n *Node) Status() Status {
	n.mu.RLock()
	status := Status{
		Address:   n.address,
		Channel:   n.cfg.Channel,
		IsRunning: n.running,
		StartedAt: n.startedAt,
	}
	n.mu.RUnlock()

	n.linksMu.RLock()
	status.Links = len(n.links)
	n.linksMu.RUnlock()

	n.usersMu.RLock()
	status.Users = len(n.users)
	n.usersMu.RUnlock()

	status.OutboundPeers = n.transmitter.PeerCount()
	status.InboundPeers = n.peers.Len()
	status.SeenCache = n.seen.GetStats()
	status.ConnectPool = n.transmitter.pool.GetStats()
	return status
}

// SendNetworkMessage merges data and config into an application payload
// and broadcasts it. It returns the message ID.
func (n *Node) SendNetworkMessage(data, config map[string]any) (string, error) {
	if !n.IsRunning() {
		return "", ErrNodeNotRunning
	}

	fields := make(map[string]any, len(data)+len(config))
	for k, v := range data {
		fields[k] = v
	}
	for k, v := range config {
		fields[k] = v
	}

	id := NewMessageID()
	if n.seen.Has(id) {
		return "", fmt.Errorf("%w: message %s", ErrAlreadyExists, id)
	}

	if err := n.transmitter.BroadcastWithID(id, Payload{Kind: KindApplication, Fields: fields}); err != nil {
		return "", err
	}
	return id, nil
}

// HandleNetworkMessage records, relays and dispatches an envelope received
// from a peer. It returns false when the envelope was already seen.
func (n *Node) HandleNetworkMessage(env Envelope) bool {
	if env.MessageID == "" {
		n.metrics.RecordDrop("missing_id")
		n.log.Debug("Dropping envelope without message ID", zap.String("origin", env.Origin))
		return false
	}

	if !n.seen.MarkIfAbsent(env.MessageID, env) {
		n.metrics.MessagesDuplicate.Inc()
		return false
	}

	start := time.Now()
	relayed := n.transmitter.Relay(env)

	if err := n.handleNetworkMessageType(env); err != nil {
		n.log.Warn("Failed to dispatch message", zap.String("message_id", env.MessageID), zap.Error(err))
	}

	n.metrics.RecordDispatch(relayed, time.Since(start))
	return true
}

func (n *Node) handleNetworkMessageType(env Envelope) error {
	p := env.Data

	switch p.Kind {
	case KindUserMessage:
		n.pushToUsers(EventMessageResponse, p, p.SocketID)
	case KindNewUser:
		if p.UserName == "" {
			return fmt.Errorf("%w: newUser without name", ErrInvalidArgument)
		}
		n.addUser(User{UserName: p.UserName, SocketID: p.SocketID})
		n.pushUsersOnline()
	case KindUserDisconnected:
		n.removeUser(p.UserName, p.SocketID)
		n.pushUsersOnline()
	case KindApplication:
		n.handlerMu.RLock()
		h := n.handler
		n.handlerMu.RUnlock()
		if h != nil {
			h(env)
		} else {
			n.log.Debug("Application message without handler", zap.String("message_id", env.MessageID))
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPayload, p.Kind)
	}
	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		in, err := n.listener.Recv()
		if err != nil {
			if errors.Is(err, ErrLinkClosed) || n.ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrMalformedFrame) {
				n.metrics.RecordDrop("malformed")
				n.log.Debug("Dropping malformed frame", zap.String("link", in.LinkID), zap.Error(err))
				continue
			}

			n.log.Warn("Receive failed", zap.Error(err))
			select {
			case <-n.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		n.dispatch(in)
	}
}

func (n *Node) dispatch(in Inbound) {
	n.linksMu.RLock()
	link, ok := n.links[in.LinkID]
	n.linksMu.RUnlock()

	if !ok {
		if in.Frame.Event != EventConnect {
			n.metrics.RecordDrop("unknown_link")
			n.log.Debug("Dropping frame from unknown link", zap.String("link", in.LinkID), zap.String("event", in.Frame.Event))
			return
		}
		link = n.newLink(in.LinkID)
	}

	link.touch()
	if !exemptFromLimit(link.kind, in.Frame.Event) && !link.limiter.Allow() {
		n.metrics.RecordDrop("rate_limited")
		return
	}

	switch link.kind {
	case linkPending:
		n.accept(link, in.Frame)
	case linkPeer:
		n.handlePeerFrame(link, in.Frame)
	case linkUser:
		n.handleUserFrame(link, in.Frame)
	}
}

// exemptFromLimit reports whether a frame bypasses the per-link limiter.
// Gossip and heartbeats from peers are never dropped: a lost envelope is
// never marked seen here, so it would stop spreading at this hop.
func exemptFromLimit(kind linkKind, event string) bool {
	return kind == linkPeer && (event == EventNetworkMessage || event == EventHeartbeat)
}

func (n *Node) newLink(id string) *inboundLink {
	link := &inboundLink{
		id:      id,
		kind:    linkPending,
		limiter: rate.NewLimiter(rate.Limit(n.cfg.RateLimit), n.cfg.RateBurst),
		node:    n,
	}
	link.touch()

	n.linksMu.Lock()
	n.links[id] = link
	n.linksMu.Unlock()
	return link
}

// accept classifies a pending link from its connect frame.
func (n *Node) accept(link *inboundLink, f Frame) {
	var hello Hello
	if err := f.Decode(&hello); err != nil {
		n.metrics.RecordDrop("malformed")
		n.forgetLink(link.id)
		n.log.Debug("Bad connect frame", zap.String("link", link.id), zap.Error(err))
		return
	}

	self := n.Address()
	if hello.ConnectionType == ConnectionTransmitter && hello.Address != "" && hello.Address != self {
		n.linksMu.Lock()
		link.kind = linkPeer
		link.address = hello.Address
		n.linksMu.Unlock()

		if err := n.peers.Add(hello.Address, link); err != nil {
			n.log.Debug("Duplicate peer connection", zap.String("address", hello.Address))
		} else {
			n.metrics.InboundPeers.Set(float64(n.peers.Len()))
			n.log.Info("New peer connected", zap.String("address", hello.Address))
		}

		// Links are bidirectional: make sure we talk back.
		n.transmitter.ConnectAsync(HandshakeFor(hello.Address))
		return
	}

	n.linksMu.Lock()
	link.kind = linkUser
	n.linksMu.Unlock()

	n.log.Info("User connected", zap.String("socket_id", link.id))
	n.sendTo(link, Frame{Event: EventActiveUsersRequest})
}

func (n *Node) handlePeerFrame(link *inboundLink, f Frame) {
	switch f.Event {
	case EventSharePeers:
		shared := make([]string, 0)
		for _, addr := range n.transmitter.PeerAddresses() {
			if addr != link.address {
				shared = append(shared, addr)
			}
		}
		n.reply(link, EventPeersShared, shared)
	case EventNetworkMessage:
		var env Envelope
		if err := f.Decode(&env); err != nil {
			n.metrics.RecordDrop("malformed")
			return
		}
		n.metrics.MessagesReceived.Inc()
		n.HandleNetworkMessage(env)
	case EventGetPeerAddresses:
		n.reply(link, EventPeerAddresses, n.transmitter.PeerAddresses())
	case EventMessage:
		var msg ChatMessage
		if err := f.Decode(&msg); err == nil {
			n.log.Info("Received message", zap.String("from", link.address), zap.String("text", msg.Text))
		}
	case EventDisconnect:
		n.closeLink(link, "peer disconnected")
	case EventHeartbeat:
	default:
		n.log.Debug("Unhandled peer frame", zap.String("address", link.address), zap.String("event", f.Event))
	}
}

func (n *Node) handleUserFrame(link *inboundLink, f Frame) {
	switch f.Event {
	case EventMessage:
		var msg ChatMessage
		if err := f.Decode(&msg); err != nil {
			n.metrics.RecordDrop("malformed")
			return
		}
		n.handleChat(link, msg)
	case EventNewUser:
		var u User
		if err := f.Decode(&u); err != nil || u.UserName == "" {
			n.metrics.RecordDrop("malformed")
			return
		}
		n.handleNewUser(link, u.UserName)
	case EventGetPeerAddresses:
		n.reply(link, EventPeerAddresses, n.transmitter.PeerAddresses())
	case EventDisconnect:
		n.closeLink(link, "user disconnected")
	case EventHeartbeat:
	default:
		n.log.Debug("Unhandled user frame", zap.String("socket_id", link.id), zap.String("event", f.Event))
	}
}

func (n *Node) handleChat(link *inboundLink, msg ChatMessage) {
	userName := msg.UserName
	if userName == "" {
		userName = n.userNameFor(link.id)
	}

	p := Payload{
		Kind:     KindUserMessage,
		Text:     msg.Text,
		UserName: userName,
		SocketID: link.id,
	}

	n.pushToUsers(EventMessageResponse, p, "")
	if _, err := n.transmitter.Broadcast(p); err != nil {
		n.log.Warn("Failed to broadcast chat message", zap.Error(err))
	}
}

func (n *Node) handleNewUser(link *inboundLink, userName string) {
	n.addUser(User{UserName: userName, SocketID: link.id})
	n.pushUsersOnline()

	n.log.Info("User joined", zap.String("user", userName), zap.String("socket_id", link.id))
	if _, err := n.transmitter.Broadcast(Payload{Kind: KindNewUser, UserName: userName, SocketID: link.id}); err != nil {
		n.log.Warn("Failed to broadcast new user", zap.Error(err))
	}
}

// closeLink forgets an inbound link and runs the cleanup for its kind.
func (n *Node) closeLink(link *inboundLink, reason string) {
	n.linksMu.Lock()
	if current, ok := n.links[link.id]; !ok || current != link {
		n.linksMu.Unlock()
		return
	}
	delete(n.links, link.id)
	kind, address := link.kind, link.address
	n.linksMu.Unlock()

	switch kind {
	case linkPeer:
		entry, ok := n.peers.Get(address)
		if !ok || entry.Handle != link {
			link.Disconnect()
			return
		}
		_ = n.peers.Disconnect(address)
		if next := n.livePeerLink(address); next != nil {
			// A restarted peer dialed in again while the old link was still
			// registered. Hand the address over and keep the outbound link.
			if err := n.peers.Add(address, next); err == nil {
				n.log.Info("Peer link replaced", zap.String("address", address), zap.String("reason", reason))
				return
			}
		}
		_ = n.transmitter.Disconnect(address)
		n.metrics.InboundPeers.Set(float64(n.peers.Len()))
		n.log.Info("Peer disconnected", zap.String("address", address), zap.String("reason", reason))
	case linkUser:
		link.Disconnect()
		removed := n.removeUsersBySocket(link.id)
		n.pushUsersOnline()
		for _, u := range removed {
			if _, err := n.transmitter.Broadcast(Payload{Kind: KindUserDisconnected, UserName: u.UserName, SocketID: u.SocketID}); err != nil {
				n.log.Warn("Failed to broadcast user disconnect", zap.Error(err))
			}
		}
		n.log.Info("User disconnected", zap.String("socket_id", link.id), zap.String("reason", reason))
	default:
		link.Disconnect()
	}
}

// livePeerLink returns another open peer link declared under address.
func (n *Node) livePeerLink(address string) *inboundLink {
	n.linksMu.RLock()
	defer n.linksMu.RUnlock()

	var best *inboundLink
	for _, l := range n.links {
		if l.kind != linkPeer || l.address != address || l.closed.Load() {
			continue
		}
		if best == nil || l.lastSeen.Load() > best.lastSeen.Load() {
			best = l
		}
	}
	return best
}

func (n *Node) forgetLink(id string) {
	n.linksMu.Lock()
	delete(n.links, id)
	n.linksMu.Unlock()
}

func (n *Node) addUser(u User) {
	n.usersMu.Lock()
	n.users[u.UserName] = u
	count := len(n.users)
	n.usersMu.Unlock()

	n.metrics.UsersOnline.Set(float64(count))
}

// removeUser deletes a user, unless the entry now belongs to another socket.
func (n *Node) removeUser(userName, socketID string) {
	n.usersMu.Lock()
	if u, ok := n.users[userName]; ok && (socketID == "" || u.SocketID == socketID) {
		delete(n.users, userName)
	}
	count := len(n.users)
	n.usersMu.Unlock()

	n.metrics.UsersOnline.Set(float64(count))
}

func (n *Node) removeUsersBySocket(socketID string) []User {
	n.usersMu.Lock()
	var removed []User
	for name, u := range n.users {
		if u.SocketID == socketID {
			removed = append(removed, u)
			delete(n.users, name)
		}
	}
	count := len(n.users)
	n.usersMu.Unlock()

	n.metrics.UsersOnline.Set(float64(count))
	sort.Slice(removed, func(i, j int) bool { return removed[i].UserName < removed[j].UserName })
	return removed
}

func (n *Node) userNameFor(socketID string) string {
	n.usersMu.RLock()
	defer n.usersMu.RUnlock()
	for _, u := range n.users {
		if u.SocketID == socketID {
			return u.UserName
		}
	}
	return ""
}

func (n *Node) userLinks() []*inboundLink {
	n.linksMu.RLock()
	defer n.linksMu.RUnlock()

	links := make([]*inboundLink, 0, len(n.links))
	for _, l := range n.links {
		if l.kind == linkUser {
			links = append(links, l)
		}
	}
	return links
}

// pushToUsers sends an event to every local user link except one.
func (n *Node) pushToUsers(event string, v any, except string) {
	frame, err := NewFrame(event, v)
	if err != nil {
		n.log.Error("Failed to encode user event", zap.String("event", event), zap.Error(err))
		return
	}
	for _, l := range n.userLinks() {
		if l.id == except {
			continue
		}
		n.sendTo(l, frame)
	}
}

func (n *Node) pushUsersOnline() {
	n.pushToUsers(EventUsersOnline, n.UsersOnline(), "")
}

func (n *Node) reply(link *inboundLink, event string, v any) {
	frame, err := NewFrame(event, v)
	if err != nil {
		n.log.Error("Failed to encode reply", zap.String("event", event), zap.Error(err))
		return
	}
	n.sendTo(link, frame)
}

func (n *Node) sendTo(link *inboundLink, f Frame) {
	if err := n.listener.SendTo(link.id, f); err != nil {
		n.metrics.SendFailures.Inc()
		n.log.Debug("Send on inbound link failed", zap.String("link", link.id), zap.String("event", f.Event), zap.Error(err))
	}
}

// pruneLoop drops links that stayed silent past the stale timeout and
// refreshes gauges.
func (n *Node) pruneLoop() {
	defer n.wg.Done()

	interval := n.cfg.StaleTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.pruneStaleLinks()
			n.metrics.UpdatePeers(n.transmitter.PeerCount(), n.peers.Len())
			n.metrics.SeenCacheSize.Set(float64(n.seen.Len()))
		}
	}
}

func (n *Node) pruneStaleLinks() {
	cutoff := time.Now().Add(-n.cfg.StaleTimeout).UnixNano()

	type staleLink struct {
		link    *inboundLink
		kind    linkKind
		address string
	}

	n.linksMu.RLock()
	var stale []staleLink
	for _, l := range n.links {
		if l.lastSeen.Load() < cutoff {
			stale = append(stale, staleLink{link: l, kind: l.kind, address: l.address})
		}
	}
	n.linksMu.RUnlock()

	for _, s := range stale {
		n.log.Info("Pruning stale link", zap.String("link", s.link.id), zap.Stringer("kind", s.kind), zap.String("address", s.address))
		n.closeLink(s.link, "stale")
	}
}
