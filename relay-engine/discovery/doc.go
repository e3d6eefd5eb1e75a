// Package discovery finds relay nodes through a libp2p Kademlia DHT.
//
// A node's discovery host listens one port below its relay service. When
// another node connects to it, the remote's service endpoint is derived as
// its discovery port plus one and announced as a network.Handshake.
package discovery
