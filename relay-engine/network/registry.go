package network

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Disconnecter is implemented by handles that can be told to drop their link.
type Disconnecter interface {
	Disconnect()
}

// PeerEntry is an active registry record.
type PeerEntry struct {
	Address     string    `json:"address"`
	Handle      any       `json:"-"`
	ConnectedAt time.Time `json:"connected_at"`
}

// HistoryEntry records a peer that was connected in the past.
type HistoryEntry struct {
	Address        string    `json:"address"`
	ConnectedAt    time.Time `json:"connected_at"`
	DisconnectedAt time.Time `json:"disconnected_at"`
}

// PeerRegistry tracks active peers and the history of past ones.
// An address is in at most one of active and history.
type PeerRegistry struct {
	mu     sync.RWMutex
	active map[string]*PeerEntry
	past   map[string]HistoryEntry
	now    func() time.Time
}

// NewPeerRegistry creates an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		active: make(map[string]*PeerEntry),
		past:   make(map[string]HistoryEntry),
		now:    time.Now,
	}
}

// Add records an active peer.
func (r *PeerRegistry) Add(address string, handle any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[address]; ok {
		return fmt.Errorf("%w: peer %s", ErrAlreadyExists, address)
	}

	delete(r.past, address)
	r.active[address] = &PeerEntry{
		Address:     address,
		Handle:      handle,
		ConnectedAt: r.now(),
	}
	return nil
}

// Disconnect moves an active peer into history and tells its handle to disconnect.
func (r *PeerRegistry) Disconnect(address string) error {
	r.mu.Lock()
	entry, ok := r.active[address]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: peer %s", ErrNotConnected, address)
	}

	r.past[address] = HistoryEntry{
		Address:        address,
		ConnectedAt:    entry.ConnectedAt,
		DisconnectedAt: r.now(),
	}
	delete(r.active, address)
	r.mu.Unlock()

	if d, ok := entry.Handle.(Disconnecter); ok {
		d.Disconnect()
	}
	return nil
}

// Erase removes every trace of a peer.
func (r *PeerRegistry) Erase(address string) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, address)
	delete(r.past, address)
	return nil
}

// Exists reports whether address is active.
func (r *PeerRegistry) Exists(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[address]
	return ok
}

// ConnectedBefore reports whether address is in history.
func (r *PeerRegistry) ConnectedBefore(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.past[address]
	return ok
}

// Get returns a copy of the active entry for address.
func (r *PeerRegistry) Get(address string) (PeerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.active[address]
	if !ok {
		return PeerEntry{}, false
	}
	return *entry, true
}

// Addresses returns the sorted active addresses.
func (r *PeerRegistry) Addresses() []string {
	r.mu.RLock()
	addrs := make([]string, 0, len(r.active))
	for addr := range r.active {
		addrs = append(addrs, addr)
	}
	r.mu.RUnlock()

	sort.Strings(addrs)
	return addrs
}

// History returns past peers ordered by disconnect time.
func (r *PeerRegistry) History() []HistoryEntry {
	r.mu.RLock()
	entries := make([]HistoryEntry, 0, len(r.past))
	for _, e := range r.past {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DisconnectedAt.Equal(entries[j].DisconnectedAt) {
			return entries[i].Address < entries[j].Address
		}
		return entries[i].DisconnectedAt.Before(entries[j].DisconnectedAt)
	})
	return entries
}

// Len returns the number of active peers.
func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// DisconnectAll disconnects every active peer.
func (r *PeerRegistry) DisconnectAll() {
	for _, addr := range r.Addresses() {
		_ = r.Disconnect(addr)
	}
}
