package network

import "errors"

// Common errors for network operations
var (
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotConnected     = errors.New("not connected")
	ErrNoSuchPeer       = errors.New("no such peer")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrEmptyMessage     = errors.New("empty message")
	ErrEmptyHandshake   = errors.New("empty handshake")
	ErrSelfConnect      = errors.New("cannot connect to self")
	ErrTransportFailure = errors.New("transport failure")
	ErrDiscoveryFailure = errors.New("discovery failure")
	ErrNodeNotRunning   = errors.New("node is not running")
	ErrUnknownPayload   = errors.New("unknown payload kind")
	ErrLinkClosed       = errors.New("link closed")
	ErrMalformedFrame   = errors.New("malformed frame")
)
