package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/network"
)

const (
	defaultHeartbeat   = 5 * time.Second
	defaultDialTimeout = 10 * time.Second
	defaultEventBuffer = 64
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client closed")

// Event is something the node pushed to this user.
type Event struct {
	Type string `json:"type"`
	// Message is set for messageResponse events.
	Message *network.Payload `json:"message,omitempty"`
	// Users is set for usersOnline events.
	Users map[string]network.User `json:"users,omitempty"`
	// Peers is set for peerAddresses events.
	Peers []string `json:"peers,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the zmq transport.
func WithDialer(d network.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(c *Client) { c.bufSize = n }
}

// Client is a chat user attached to one relay node.
type Client struct {
	userName string
	address  string

	dialer    network.Dialer
	heartbeat time.Duration
	bufSize   int
	log       *zap.Logger

	link   network.Link
	events chan Event

	users   map[string]network.User
	usersMu sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the node at address and joins as userName. The node
// asks for the user's name right after the link opens; the client answers
// on its own.
func Dial(ctx context.Context, address, userName string, opts ...Option) (*Client, error) {
	if userName == "" {
		return nil, fmt.Errorf("%w: empty user name", network.ErrInvalidArgument)
	}
	if _, _, err := network.ParseAddress(address); err != nil {
		return nil, err
	}

	c := &Client{
		userName:  userName,
		address:   address,
		dialer:    network.ZmqDialer{},
		heartbeat: defaultHeartbeat,
		bufSize:   defaultEventBuffer,
		users:     make(map[string]network.User),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.Named("client").With(zap.String("user", userName))
	c.events = make(chan Event, c.bufSize)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	link, err := c.dialer.Dial(ctx, address, network.Hello{ConnectionType: network.ConnectionUser})
	if err != nil {
		return nil, err
	}
	c.link = link

	c.wg.Add(1)
	go c.readLoop()
	if c.heartbeat > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop()
	}

	c.log.Info("Connected to node", zap.String("address", address))
	return c, nil
}

// UserName returns the name the client joined with.
func (c *Client) UserName() string {
	return c.userName
}

// Events delivers node pushes. It is closed when the link ends or the
// node drops the user.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Users returns the last directory the node pushed.
func (c *Client) Users() map[string]network.User {
	c.usersMu.RLock()
	defer c.usersMu.RUnlock()

	out := make(map[string]network.User, len(c.users))
	for k, v := range c.users {
		out[k] = v
	}
	return out
}

// UserNames returns the sorted names from Users.
func (c *Client) UserNames() []string {
	users := c.Users()
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Say sends a chat message. The node echoes it back and gossips it on.
func (c *Client) Say(text string) error {
	if text == "" {
		return network.ErrEmptyMessage
	}
	return c.send(network.EventMessage, network.ChatMessage{Text: text, UserName: c.userName})
}

// Announce re-sends the join frame, refreshing this user in the node's
// directory.
func (c *Client) Announce() error {
	return c.send(network.EventNewUser, network.User{UserName: c.userName})
}

// RequestPeerAddresses asks the node for its outbound peers. The answer
// arrives as a peerAddresses event.
func (c *Client) RequestPeerAddresses() error {
	return c.send(network.EventGetPeerAddresses, nil)
}

// Close leaves the node and releases the link. It is safe to call twice.
func (c *Client) Close() error {
	err := c.shutdown(true)
	c.wg.Wait()
	return err
}

// shutdown releases the link once. It does not wait for the loops, so the
// read loop may call it.
func (c *Client) shutdown(sayGoodbye bool) error {
	var err error
	c.closeOnce.Do(func() {
		if sayGoodbye {
			if sendErr := c.link.Send(network.Frame{Event: network.EventDisconnect}); sendErr != nil {
				c.log.Debug("Failed to send disconnect", zap.Error(sendErr))
			}
		}
		close(c.done)
		err = c.link.Close()
		c.log.Info("Disconnected from node")
	})
	return err
}

func (c *Client) send(event string, v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	frame, err := network.NewFrame(event, v)
	if err != nil {
		return err
	}
	return c.link.Send(frame)
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		select {
		case <-c.done:
			return
		case <-c.link.Done():
			if err := c.link.Err(); err != nil {
				c.log.Warn("Link to node ended", zap.Error(err))
			}
			return
		case f, ok := <-c.link.Frames():
			if !ok {
				return
			}
			if f.Event == network.EventDisconnect {
				c.log.Info("Node closed the link")
				_ = c.shutdown(false)
				return
			}
			c.handle(f)
		}
	}
}

func (c *Client) handle(f network.Frame) {
	switch f.Event {
	case network.EventActiveUsersRequest:
		if err := c.Announce(); err != nil {
			c.log.Warn("Failed to announce user", zap.Error(err))
		}
	case network.EventUsersOnline:
		var users map[string]network.User
		if err := f.Decode(&users); err != nil {
			c.log.Debug("Bad usersOnline frame", zap.Error(err))
			return
		}
		c.usersMu.Lock()
		c.users = users
		c.usersMu.Unlock()
		c.emit(Event{Type: f.Event, Users: users})
	case network.EventMessageResponse:
		var p network.Payload
		if err := f.Decode(&p); err != nil {
			c.log.Debug("Bad messageResponse frame", zap.Error(err))
			return
		}
		c.emit(Event{Type: f.Event, Message: &p})
	case network.EventPeerAddresses:
		var peers []string
		if len(f.Data) > 0 {
			if err := f.Decode(&peers); err != nil {
				c.log.Debug("Bad peerAddresses frame", zap.Error(err))
				return
			}
		}
		c.emit(Event{Type: f.Event, Peers: peers})
	default:
		c.log.Debug("Unhandled frame", zap.String("event", f.Event))
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.link.Done():
			return
		case <-ticker.C:
			if err := c.link.Send(network.Frame{Event: network.EventHeartbeat}); err != nil {
				c.log.Debug("Heartbeat failed", zap.Error(err))
			}
		}
	}
}
