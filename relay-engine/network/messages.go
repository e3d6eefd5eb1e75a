package network

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Peer protocol events.
const (
	EventConnect          = "connect"
	EventSharePeers       = "sharePeers"
	EventPeersShared      = "peersShared"
	EventNetworkMessage   = "networkMessage"
	EventGetPeerAddresses = "getPeerAddresses"
	EventPeerAddresses    = "peerAddresses"
	EventMessage          = "message"
	EventHeartbeat        = "heartbeat"
	EventDisconnect       = "disconnect"
)

// User protocol events.
const (
	EventNewUser            = "newUser"
	EventUsersOnline        = "usersOnline"
	EventMessageResponse    = "messageResponse"
	EventActiveUsersRequest = "activeUsersRequest"
)

// Connection types declared in the connect frame.
const (
	ConnectionTransmitter = "transmitter"
	ConnectionUser        = "user"
)

// Frame is the unit exchanged over every link.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame carrying v as JSON data. A nil v yields no data.
func NewFrame(event string, v any) (Frame, error) {
	f := Frame{Event: event}
	if v == nil {
		return f, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s data: %w", event, err)
	}
	f.Data = data
	return f, nil
}

// Decode unmarshals the frame data into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s frame has no data", ErrMalformedFrame, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a frame from the wire.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	return f, nil
}

// Hello is the data of the first frame on every link.
type Hello struct {
	ConnectionType string `json:"connectionType"`
	Address        string `json:"address,omitempty"`
}

// PayloadKind tags the variant carried by a Payload.
type PayloadKind string

const (
	KindUserMessage      PayloadKind = "userMessage"
	KindNewUser          PayloadKind = "newUser"
	KindUserDisconnected PayloadKind = "userDisconnected"
	KindApplication      PayloadKind = "application"
)

// Valid reports whether k is one of the known kinds.
func (k PayloadKind) Valid() bool {
	switch k {
	case KindUserMessage, KindNewUser, KindUserDisconnected, KindApplication:
		return true
	default:
		return false
	}
}

// Payload is the application content of a gossip envelope.
type Payload struct {
	Kind     PayloadKind    `json:"kind"`
	Text     string         `json:"text,omitempty"`
	UserName string         `json:"userName,omitempty"`
	SocketID string         `json:"socketID,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`

	// Origin is the declared origin address; Broadcast skips that peer.
	Origin string `json:"origin,omitempty"`
}

// IsEmpty reports whether the payload carries nothing to send.
func (p Payload) IsEmpty() bool {
	if p.Kind == "" {
		return true
	}
	if p.Kind == KindApplication {
		return len(p.Fields) == 0
	}
	return false
}

// Envelope is a gossip message as relayed between peers.
type Envelope struct {
	MessageID string  `json:"messageID"`
	Data      Payload `json:"data"`
	Origin    string  `json:"origin"`
	RelayedBy string  `json:"relayedBy"`
}

// RelayedVia returns a copy of the envelope stamped with the relaying node.
func (e Envelope) RelayedVia(address string) Envelope {
	cp := e
	cp.RelayedBy = address
	if e.Data.Fields != nil {
		cp.Data.Fields = make(map[string]any, len(e.Data.Fields))
		for k, v := range e.Data.Fields {
			cp.Data.Fields[k] = v
		}
	}
	return cp
}

// User is an entry of the online users directory.
type User struct {
	UserName string `json:"userName"`
	SocketID string `json:"socketID"`
}

// ChatMessage is the data of a user's message frame.
type ChatMessage struct {
	Text     string `json:"text"`
	UserName string `json:"userName,omitempty"`
}

// NewMessageID mints a gossip message ID: the hex SHA-1 of a random UUID.
func NewMessageID() string {
	id := uuid.New()
	sum := sha1.Sum(id[:])
	return hex.EncodeToString(sum[:])
}
