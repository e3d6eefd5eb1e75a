package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSeen(opts Options) (*Seen[string], *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewSeen[string](opts)
	s.now = clock.Now
	return s, clock
}

func TestNewSeenDefaults(t *testing.T) {
	s := NewSeen[int](Options{})

	if len(s.shards) != DefaultShards {
		t.Errorf("Expected %d shards, got %d", DefaultShards, len(s.shards))
	}
	if s.ttl != DefaultTTL {
		t.Errorf("Expected TTL %v, got %v", DefaultTTL, s.ttl)
	}
	if s.perShard != DefaultMaxEntries/DefaultShards {
		t.Errorf("Expected %d entries per shard, got %d", DefaultMaxEntries/DefaultShards, s.perShard)
	}
}

func TestMarkIfAbsent(t *testing.T) {
	s, _ := newTestSeen(Options{})

	if !s.MarkIfAbsent("m1", "first") {
		t.Fatal("First mark should report a new id")
	}
	if s.MarkIfAbsent("m1", "second") {
		t.Error("Second mark should report a duplicate")
	}

	v, ok := s.Get("m1")
	if !ok {
		t.Fatal("Expected m1 to be present")
	}
	if v != "first" {
		t.Errorf("Expected first value to be kept, got %s", v)
	}
	if !s.Has("m1") {
		t.Error("Has should report m1")
	}
	if s.Has("m2") {
		t.Error("Has should not report unknown id")
	}
}

func TestSeenExpiry(t *testing.T) {
	s, clock := newTestSeen(Options{TTL: time.Minute})

	s.MarkIfAbsent("old", "a")
	clock.Advance(30 * time.Second)
	s.MarkIfAbsent("young", "b")
	clock.Advance(45 * time.Second)

	if s.Has("old") {
		t.Error("old should be expired")
	}
	if !s.Has("young") {
		t.Error("young should still be live")
	}

	removed := s.Sweep()
	if removed != 1 {
		t.Errorf("Expected 1 removed entry, got %d", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 entry after sweep, got %d", s.Len())
	}

	// An expired id may be recorded again.
	if !s.MarkIfAbsent("old", "c") {
		t.Error("Expired id should be accepted again")
	}
}

func TestSeenRemarkAfterExpiryBeforeSweep(t *testing.T) {
	s, clock := newTestSeen(Options{Shards: 1, TTL: time.Minute})

	s.MarkIfAbsent("x", "a")
	clock.Advance(2 * time.Minute)
	if !s.MarkIfAbsent("x", "b") {
		t.Fatal("Expired id should be accepted again")
	}

	if removed := s.Sweep(); removed != 0 {
		t.Errorf("Expected stale slot to be skipped, removed %d", removed)
	}
	if v, ok := s.Get("x"); !ok || v != "b" {
		t.Errorf("Expected re-marked value b, got %q (present=%v)", v, ok)
	}
}

func TestSeenEvictsOldest(t *testing.T) {
	s, clock := newTestSeen(Options{Shards: 1, MaxEntries: 3})

	for i := 0; i < 5; i++ {
		s.MarkIfAbsent(fmt.Sprintf("m%d", i), "v")
		clock.Advance(time.Second)
	}

	if s.Len() != 3 {
		t.Errorf("Expected 3 entries, got %d", s.Len())
	}
	if s.Has("m0") || s.Has("m1") {
		t.Error("Oldest entries should have been evicted")
	}
	for _, id := range []string{"m2", "m3", "m4"} {
		if !s.Has(id) {
			t.Errorf("Expected %s to be kept", id)
		}
	}

	stats := s.GetStats()
	if stats.Evicted != 2 {
		t.Errorf("Expected 2 evictions, got %d", stats.Evicted)
	}
}

func TestSeenConcurrentMark(t *testing.T) {
	s := NewSeen[int](Options{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.MarkIfAbsent("shared", i) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins)
	}
}

func TestSeenStartStop(t *testing.T) {
	s := NewSeen[string](Options{CleanInterval: 10 * time.Millisecond})

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()

	// Restart after stop.
	s.Start()
	s.Stop()
}
