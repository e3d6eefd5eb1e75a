package network

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Scheme is the transport prefix of every node address.
const Scheme = "tcp"

// FormatAddress builds the address key for a host and service port.
func FormatAddress(host string, port int) string {
	return fmt.Sprintf("%s://%s", Scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

// ParseAddress splits an address of the form tcp://host:port.
func ParseAddress(address string) (string, int, error) {
	rest, ok := strings.CutPrefix(address, Scheme+"://")
	if !ok {
		return "", 0, fmt.Errorf("%w: address %q lacks %s:// prefix", ErrInvalidArgument, address, Scheme)
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("%w: address %q has no host", ErrInvalidArgument, address)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: address %q has invalid port", ErrInvalidArgument, address)
	}
	return host, port, nil
}

// ValidateAddress reports whether address is a well-formed non-empty key.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidArgument)
	}
	_, _, err := ParseAddress(address)
	return err
}

// Handshake describes a peer to connect to.
type Handshake struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Address string `json:"address"`
}

// IsEmpty reports whether the descriptor carries nothing to connect to.
func (h Handshake) IsEmpty() bool {
	return h.Host == "" && h.Port == 0 && h.Address == ""
}

// Target returns the address to dial, deriving it from host and port when unset.
func (h Handshake) Target() string {
	if h.Address != "" {
		return h.Address
	}
	if h.Host == "" {
		return ""
	}
	return FormatAddress(h.Host, h.Port)
}

// HandshakeFor builds a descriptor from an address, filling host and port when parseable.
func HandshakeFor(address string) Handshake {
	h := Handshake{Address: address}
	if host, port, err := ParseAddress(address); err == nil {
		h.Host = host
		h.Port = port
	}
	return h
}
