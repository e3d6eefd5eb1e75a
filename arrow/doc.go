// Package arrow provides Apache Arrow export of relay peer tables.
// This package implements:
// - Peer table schema (active and past peers)
// - Arrow IPC stream encoding for the admin history route
package arrow
