// Package core provides shared execution primitives for the relay engine.
// This package implements:
// - Worker pool running outbound connect attempts off the receive path
package core
