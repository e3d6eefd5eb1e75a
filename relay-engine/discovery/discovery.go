package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	corenet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/network"
)

// ProtocolPrefix keeps the relay DHT apart from the public IPFS one.
const ProtocolPrefix = "/hierachain-relay"

// Config configures a Discovery.
type Config struct {
	Host string
	// ServicePort is the relay node port; discovery listens one below it.
	ServicePort    int
	Channel        string
	Bootstrap      []string
	MDNS           bool
	FindInterval   time.Duration
	ConnectTimeout time.Duration
	InactiveAfter  time.Duration
	// LogLevel applies to libp2p's own loggers.
	LogLevel string
}

// DefaultConfig returns discovery defaults for a node on servicePort.
func DefaultConfig(servicePort int) Config {
	return Config{
		Host:           "127.0.0.1",
		ServicePort:    servicePort,
		Channel:        "main",
		FindInterval:   30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		InactiveAfter:  24 * time.Minute,
		LogLevel:       "error",
	}
}

// DiscoveryPort returns the libp2p listening port.
func (c Config) DiscoveryPort() int {
	return c.ServicePort - 1
}

// KnownPeer is a relay node learned through discovery.
type KnownPeer struct {
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
}

// Discovery finds relay nodes on a libp2p DHT and announces their service
// endpoints. Only connections the remote side initiated are announced.
type Discovery struct {
	cfg Config
	log *zap.Logger

	host host.Host
	dht  *dht.IpfsDHT
	mdns mdns.Service

	announce chan network.Handshake

	known   map[string]KnownPeer
	knownMu sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	closed  bool
}

// New creates a Discovery. Nothing is bound until Start.
func New(cfg Config, logger *zap.Logger) *Discovery {
	def := DefaultConfig(cfg.ServicePort)
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.FindInterval <= 0 {
		cfg.FindInterval = def.FindInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.InactiveAfter <= 0 {
		cfg.InactiveAfter = def.InactiveAfter
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Discovery{
		cfg:      cfg,
		log:      logger.Named("discovery"),
		announce: make(chan network.Handshake, 64),
		known:    make(map[string]KnownPeer),
	}
}

// Start creates the libp2p host and DHT and begins advertising and
// searching the channel.
func (d *Discovery) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("%w: discovery closed", network.ErrDiscoveryFailure)
	}
	if d.started {
		return errors.New("discovery already started")
	}

	port := d.cfg.DiscoveryPort()
	if port < 1 {
		return fmt.Errorf("%w: service port %d leaves no discovery port", network.ErrInvalidArgument, d.cfg.ServicePort)
	}

	if lvl, err := golog.LevelFromString(d.cfg.LogLevel); err == nil {
		golog.SetAllLoggers(lvl)
	}

	listen, err := listenAddr(d.cfg.Host, port)
	if err != nil {
		return err
	}

	h, err := libp2p.New(libp2p.ListenAddrStrings(listen))
	if err != nil {
		return fmt.Errorf("%w: failed to create libp2p host: %v", network.ErrDiscoveryFailure, err)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	bootstrap := d.parseBootstrap()
	opts := []dht.Option{
		dht.Mode(dht.ModeServer),
		dht.ProtocolPrefix(ProtocolPrefix),
	}
	if len(bootstrap) > 0 {
		opts = append(opts, dht.BootstrapPeers(bootstrap...))
	}

	kad, err := dht.New(d.ctx, h, opts...)
	if err != nil {
		d.cancel()
		_ = h.Close()
		return fmt.Errorf("%w: failed to create DHT: %v", network.ErrDiscoveryFailure, err)
	}
	if err := kad.Bootstrap(d.ctx); err != nil {
		d.cancel()
		_ = kad.Close()
		_ = h.Close()
		return fmt.Errorf("%w: failed to bootstrap DHT: %v", network.ErrDiscoveryFailure, err)
	}

	d.host = h
	d.dht = kad
	d.started = true

	h.Network().Notify(&corenet.NotifyBundle{
		ConnectedF: func(_ corenet.Network, c corenet.Conn) {
			if c.Stat().Direction == corenet.DirInbound {
				d.handleInbound(c.RemoteMultiaddr())
			}
		},
	})

	for _, pi := range bootstrap {
		d.connectAsync(pi, "bootstrap")
	}

	if d.cfg.MDNS {
		d.mdns = mdns.NewMdnsService(h, d.cfg.Channel, &mdnsNotifee{d: d})
		if err := d.mdns.Start(); err != nil {
			d.log.Warn("Failed to start mDNS discovery", zap.Error(err))
			d.mdns = nil
		}
	}

	rd := drouting.NewRoutingDiscovery(kad)
	dutil.Advertise(d.ctx, rd, d.cfg.Channel)

	d.wg.Add(2)
	go d.findLoop(rd)
	go d.sweepLoop()

	d.log.Info("Discovery started",
		zap.String("peer_id", h.ID().String()),
		zap.Strings("addrs", d.addrsLocked()),
		zap.String("channel", d.cfg.Channel))
	return nil
}

// Announcements returns the channel of discovered relay endpoints.
func (d *Discovery) Announcements() <-chan network.Handshake {
	return d.announce
}

// Addrs returns the host's dialable addresses with its peer ID, suitable
// as bootstrap entries for other nodes.
func (d *Discovery) Addrs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addrsLocked()
}

func (d *Discovery) addrsLocked() []string {
	if d.host == nil {
		return nil
	}
	addrs := make([]string, 0, len(d.host.Addrs()))
	for _, a := range d.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, d.host.ID()))
	}
	return addrs
}

// KnownPeers returns the relay endpoints seen recently, by address.
func (d *Discovery) KnownPeers() []KnownPeer {
	d.knownMu.RLock()
	peers := make([]KnownPeer, 0, len(d.known))
	for _, p := range d.known {
		peers = append(peers, p)
	}
	d.knownMu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })
	return peers
}

// Close stops searching and closes mDNS, the DHT and the host. Safe to
// call when never started and more than once.
func (d *Discovery) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	var errs []error
	if started {
		d.cancel()
		if d.mdns != nil {
			if err := d.mdns.Close(); err != nil {
				errs = append(errs, fmt.Errorf("mdns: %w", err))
			}
		}
		if err := d.dht.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dht: %w", err))
		}
		if err := d.host.Close(); err != nil {
			errs = append(errs, fmt.Errorf("host: %w", err))
		}
		d.wg.Wait()
	}

	d.mu.Lock()
	close(d.announce)
	d.mu.Unlock()

	d.log.Info("Discovery closed")
	return errors.Join(errs...)
}

func (d *Discovery) handleInbound(remote multiaddr.Multiaddr) {
	h, err := derivePeer(remote)
	if err != nil {
		d.log.Debug("Ignoring inbound connection", zap.Stringer("remote", remote), zap.Error(err))
		return
	}

	d.remember(h)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.announce <- h:
		d.log.Info("Discovered relay node", zap.String("address", h.Address))
	default:
		d.log.Warn("Announcement queue full, dropping peer", zap.String("address", h.Address))
	}
}

func (d *Discovery) remember(h network.Handshake) {
	d.knownMu.Lock()
	d.known[h.Address] = KnownPeer{Host: h.Host, Port: h.Port, Address: h.Address, LastSeen: time.Now()}
	d.knownMu.Unlock()
}

// sweep forgets peers not seen since cutoff and returns how many.
func (d *Discovery) sweep(cutoff time.Time) int {
	d.knownMu.Lock()
	defer d.knownMu.Unlock()

	removed := 0
	for addr, p := range d.known {
		if p.LastSeen.Before(cutoff) {
			delete(d.known, addr)
			removed++
			d.log.Debug("Peer inactive", zap.String("address", addr))
		}
	}
	return removed
}

func (d *Discovery) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sweep(time.Now().Add(-d.cfg.InactiveAfter))
		}
	}
}

func (d *Discovery) findLoop(rd *drouting.RoutingDiscovery) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.FindInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}

		peers, err := rd.FindPeers(d.ctx, d.cfg.Channel)
		if err != nil {
			d.log.Debug("DHT search failed", zap.Error(err))
			continue
		}
		for pi := range peers {
			d.connectAsync(pi, "dht")
		}
	}
}

// connectAsync dials a found peer so it sees us as an inbound connection.
func (d *Discovery) connectAsync(pi peer.AddrInfo, source string) {
	if pi.ID == d.host.ID() || len(pi.Addrs) == 0 {
		return
	}
	if d.host.Network().Connectedness(pi.ID) == corenet.Connected {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.ConnectTimeout)
		defer cancel()

		if err := d.host.Connect(ctx, pi); err != nil {
			d.log.Debug("Failed to connect to discovered peer", zap.String("source", source), zap.Stringer("peer", pi.ID), zap.Error(err))
			return
		}
		d.log.Debug("Connected to discovered peer", zap.String("source", source), zap.Stringer("peer", pi.ID))
	}()
}

func (d *Discovery) parseBootstrap() []peer.AddrInfo {
	var infos []peer.AddrInfo
	for _, s := range d.cfg.Bootstrap {
		pi, err := peer.AddrInfoFromString(s)
		if err != nil {
			d.log.Warn("Invalid bootstrap peer address", zap.String("addr", s), zap.Error(err))
			continue
		}
		infos = append(infos, *pi)
	}
	return infos
}

type mdnsNotifee struct {
	d *Discovery
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	n.d.mu.RLock()
	closed := n.d.closed
	n.d.mu.RUnlock()

	if !closed {
		n.d.connectAsync(pi, "mdns")
	}
}

// derivePeer maps the remote end of a discovery connection to the relay
// service next to it, one port above.
func derivePeer(remote multiaddr.Multiaddr) (network.Handshake, error) {
	host, err := remote.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		host, err = remote.ValueForProtocol(multiaddr.P_IP6)
		if err != nil {
			return network.Handshake{}, fmt.Errorf("%w: no IP in %s", network.ErrInvalidArgument, remote)
		}
	}

	portStr, err := remote.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return network.Handshake{}, fmt.Errorf("%w: no TCP port in %s", network.ErrInvalidArgument, remote)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port >= 65535 {
		return network.Handshake{}, fmt.Errorf("%w: unusable port %q", network.ErrInvalidArgument, portStr)
	}

	service := port + 1
	return network.Handshake{
		Host:    host,
		Port:    service,
		Address: network.FormatAddress(host, service),
	}, nil
}

func listenAddr(host string, port int) (string, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("%w: discovery host %q is not an IP", network.ErrInvalidArgument, host)
	}
	if ip.To4() != nil {
		return fmt.Sprintf("/ip4/%s/tcp/%d", ip, port), nil
	}
	return fmt.Sprintf("/ip6/%s/tcp/%d", ip, port), nil
}
