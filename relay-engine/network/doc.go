// Package network implements the relay overlay.
// This package implements:
// - ZeroMQ ROUTER/DEALER transport with JSON frames
// - Peer registry with connection history
// - Transmitter: outbound links, gossip fan-out and peer exchange
// - Node: inbound endpoint, deduplication and payload dispatch
package network
