package cache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultShards        = 16
	DefaultTTL           = 10 * time.Minute
	DefaultMaxEntries    = 100000
	DefaultCleanInterval = time.Minute
)

// Options configures a Seen cache.
type Options struct {
	Shards        int
	TTL           time.Duration
	MaxEntries    int
	CleanInterval time.Duration
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		Shards:        DefaultShards,
		TTL:           DefaultTTL,
		MaxEntries:    DefaultMaxEntries,
		CleanInterval: DefaultCleanInterval,
	}
}

// Stats contains cache statistics.
type Stats struct {
	Entries int   `json:"entries"`
	Shards  int   `json:"shards"`
	Expired int64 `json:"expired"`
	Evicted int64 `json:"evicted"`
}

type entry[V any] struct {
	value V
	at    time.Time
	seq   uint64
}

type slot struct {
	id  string
	seq uint64
}

// shard keeps its keys in insertion order. Entries are never refreshed,
// so insertion order is also age order and both expiry and eviction pop
// from the front.
type shard[V any] struct {
	mu      sync.Mutex
	items   map[string]entry[V]
	order   []slot
	seq     uint64
	expired int64
	evicted int64
}

// Seen records message IDs that have already been processed.
type Seen[V any] struct {
	shards     []*shard[V]
	ttl        time.Duration
	perShard   int
	cleanEvery time.Duration
	now        func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewSeen creates a cache. Zero option fields take their defaults.
func NewSeen[V any](opts Options) *Seen[V] {
	def := DefaultOptions()
	if opts.Shards <= 0 {
		opts.Shards = def.Shards
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = def.MaxEntries
	}
	if opts.CleanInterval <= 0 {
		opts.CleanInterval = def.CleanInterval
	}

	perShard := opts.MaxEntries / opts.Shards
	if perShard < 1 {
		perShard = 1
	}

	s := &Seen[V]{
		shards:     make([]*shard[V], opts.Shards),
		ttl:        opts.TTL,
		perShard:   perShard,
		cleanEvery: opts.CleanInterval,
		now:        time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return s
}

func (s *Seen[V]) shardFor(id string) *shard[V] {
	return s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
}

// MarkIfAbsent records id with value v unless it is already present.
// It returns true when the id was new.
func (s *Seen[V]) MarkIfAbsent(id string, v V) bool {
	sh := s.shardFor(id)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.items[id]; ok && now.Sub(e.at) < s.ttl {
		return false
	}

	sh.seq++
	sh.items[id] = entry[V]{value: v, at: now, seq: sh.seq}
	sh.order = append(sh.order, slot{id: id, seq: sh.seq})

	for len(sh.items) > s.perShard {
		if sh.popFront() {
			sh.evicted++
		}
	}
	return true
}

// Has reports whether id is recorded and not expired.
func (s *Seen[V]) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Get returns the value recorded for id.
func (s *Seen[V]) Get(id string) (V, bool) {
	sh := s.shardFor(id)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[id]
	if !ok || s.now().Sub(e.at) >= s.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *Seen[V]) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.items)
		sh.mu.Unlock()
	}
	return total
}

// Sweep removes expired entries and returns how many were dropped.
func (s *Seen[V]) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	removed := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for len(sh.order) > 0 {
			front := sh.order[0]
			e, ok := sh.items[front.id]
			if ok && e.seq == front.seq && e.at.After(cutoff) {
				break
			}
			if sh.popFront() {
				sh.expired++
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// popFront drops the oldest slot and reports whether it removed a live entry.
// A key re-marked after expiry leaves a stale slot behind whose seq no longer
// matches the map.
func (sh *shard[V]) popFront() bool {
	front := sh.order[0]
	sh.order = sh.order[1:]
	if e, ok := sh.items[front.id]; ok && e.seq == front.seq {
		delete(sh.items, front.id)
		return true
	}
	return false
}

// GetStats returns current cache statistics.
func (s *Seen[V]) GetStats() Stats {
	stats := Stats{Shards: len(s.shards)}
	for _, sh := range s.shards {
		sh.mu.Lock()
		stats.Entries += len(sh.items)
		stats.Expired += sh.expired
		stats.Evicted += sh.evicted
		sh.mu.Unlock()
	}
	return stats
}

// Start launches the background cleaner.
func (s *Seen[V]) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	s.wg.Add(1)
	go s.cleaner(stop)
}

// Stop halts the background cleaner.
func (s *Seen[V]) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
}

func (s *Seen[V]) cleaner(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
