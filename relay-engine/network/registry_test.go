package network

import (
	"errors"
	"testing"
	"time"
)

type countingHandle struct {
	calls int
}

func (h *countingHandle) Disconnect() { h.calls++ }

func TestPeerRegistryAdd(t *testing.T) {
	r := NewPeerRegistry()

	if err := r.Add("tcp://127.0.0.1:5001", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !r.Exists("tcp://127.0.0.1:5001") {
		t.Error("Expected peer to exist")
	}
	if r.ConnectedBefore("tcp://127.0.0.1:5001") {
		t.Error("Expected no history for an active peer")
	}

	err := r.Add("tcp://127.0.0.1:5001", nil)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 peer, got %d", r.Len())
	}
}

func TestPeerRegistryDisconnect(t *testing.T) {
	r := NewPeerRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	h := &countingHandle{}
	_ = r.Add("tcp://127.0.0.1:5001", h)

	r.now = func() time.Time { return base.Add(time.Minute) }
	if err := r.Disconnect("tcp://127.0.0.1:5001"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	if h.calls != 1 {
		t.Errorf("Expected handle to be told once, got %d", h.calls)
	}
	if r.Exists("tcp://127.0.0.1:5001") {
		t.Error("Expected peer to leave the active set")
	}
	if !r.ConnectedBefore("tcp://127.0.0.1:5001") {
		t.Error("Expected peer in history")
	}

	hist := r.History()
	if len(hist) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(hist))
	}
	if !hist[0].ConnectedAt.Equal(base) || !hist[0].DisconnectedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("Unexpected timestamps: %+v", hist[0])
	}

	if err := r.Disconnect("tcp://127.0.0.1:5001"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected on second disconnect, got %v", err)
	}
}

func TestPeerRegistryHandleWithoutDisconnect(t *testing.T) {
	r := NewPeerRegistry()
	_ = r.Add("tcp://127.0.0.1:5001", "opaque")

	if err := r.Disconnect("tcp://127.0.0.1:5001"); err != nil {
		t.Errorf("Expected plain handles to be accepted, got %v", err)
	}
}

func TestPeerRegistryReAddClearsHistory(t *testing.T) {
	r := NewPeerRegistry()
	_ = r.Add("tcp://127.0.0.1:5001", nil)
	_ = r.Disconnect("tcp://127.0.0.1:5001")

	if err := r.Add("tcp://127.0.0.1:5001", nil); err != nil {
		t.Fatalf("Re-add failed: %v", err)
	}
	if r.ConnectedBefore("tcp://127.0.0.1:5001") {
		t.Error("Expected history entry to be dropped on re-add")
	}
	if !r.Exists("tcp://127.0.0.1:5001") {
		t.Error("Expected peer to be active again")
	}
}

func TestPeerRegistryErase(t *testing.T) {
	r := NewPeerRegistry()
	_ = r.Add("tcp://127.0.0.1:5001", nil)
	_ = r.Add("tcp://127.0.0.1:5002", nil)
	_ = r.Disconnect("tcp://127.0.0.1:5002")

	if err := r.Erase("tcp://127.0.0.1:5001"); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if err := r.Erase("tcp://127.0.0.1:5002"); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if r.Exists("tcp://127.0.0.1:5001") || r.ConnectedBefore("tcp://127.0.0.1:5002") {
		t.Error("Expected erased peers to leave no trace")
	}

	if err := r.Erase(""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for empty address, got %v", err)
	}
	if err := r.Erase("tcp://127.0.0.1:5009"); err != nil {
		t.Errorf("Expected erasing an unknown peer to succeed, got %v", err)
	}
}

func TestPeerRegistryOrdering(t *testing.T) {
	r := NewPeerRegistry()
	for _, addr := range []string{"tcp://127.0.0.1:5003", "tcp://127.0.0.1:5001", "tcp://127.0.0.1:5002"} {
		_ = r.Add(addr, nil)
	}

	addrs := r.Addresses()
	want := []string{"tcp://127.0.0.1:5001", "tcp://127.0.0.1:5002", "tcp://127.0.0.1:5003"}
	for i := range want {
		if addrs[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, addrs)
		}
	}

	base := time.Now()
	r.now = func() time.Time { return base.Add(2 * time.Second) }
	_ = r.Disconnect("tcp://127.0.0.1:5001")
	r.now = func() time.Time { return base.Add(time.Second) }
	_ = r.Disconnect("tcp://127.0.0.1:5003")

	hist := r.History()
	if hist[0].Address != "tcp://127.0.0.1:5003" || hist[1].Address != "tcp://127.0.0.1:5001" {
		t.Errorf("Expected history by disconnect time, got %+v", hist)
	}
}

func TestPeerRegistryDisconnectAll(t *testing.T) {
	r := NewPeerRegistry()
	handles := []*countingHandle{{}, {}}
	_ = r.Add("tcp://127.0.0.1:5001", handles[0])
	_ = r.Add("tcp://127.0.0.1:5002", handles[1])

	r.DisconnectAll()

	if r.Len() != 0 {
		t.Errorf("Expected no active peers, got %d", r.Len())
	}
	if len(r.History()) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(r.History()))
	}
	for i, h := range handles {
		if h.calls != 1 {
			t.Errorf("Handle %d told %d times", i, h.calls)
		}
	}
}
