package mesh

import (
	"sync"
	"time"
)

// seenKey identifies a packet by its origin and sender-chosen id.
type seenKey struct {
	src      Address
	packetID uint32
}

type seenRecord struct {
	key       seenKey
	firstSeen time.Time
}

// DedupConfig tunes Dedup capacity and expiry.
type DedupConfig struct {
	// Capacity bounds the number of tracked (src, packet_id) pairs
	// (default 128).
	Capacity int
	// Window is how long an entry suppresses duplicates (default 30s).
	Window time.Duration
}

// DefaultDedupConfig returns spec.md's defaults.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{Capacity: 128, Window: 30 * time.Second}
}

// Dedup is the short cache of recently-seen (src, packet_id) pairs that
// backs the engine's duplicate suppression (spec.md §4.4).
type Dedup struct {
	mu    sync.Mutex
	cfg   DedupConfig
	index map[seenKey]int // key -> position in order
	order []seenRecord
}

// NewDedup constructs a cache with the given configuration, filling in
// spec.md defaults for zero fields.
func NewDedup(cfg DedupConfig) *Dedup {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultDedupConfig().Capacity
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultDedupConfig().Window
	}
	return &Dedup{
		cfg:   cfg,
		index: make(map[seenKey]int, cfg.Capacity),
	}
}

// Seen inserts (src, packetID) at time now and reports whether the pair
// was already present within the dedup window — i.e., whether this is a
// duplicate (spec.md §4.4). Entries older than Window are purged lazily
// before the check; when the cache is at capacity, the oldest entry is
// evicted to make room.
func (d *Dedup) Seen(src Address, packetID uint32, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.purgeLocked(now)

	key := seenKey{src: src, packetID: packetID}
	if _, ok := d.index[key]; ok {
		return true
	}

	if len(d.order) >= d.cfg.Capacity {
		d.evictOldestLocked()
	}

	d.order = append(d.order, seenRecord{key: key, firstSeen: now})
	d.index[key] = len(d.order) - 1
	return false
}

// Len reports the number of tracked pairs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.index)
}

// Purge forces the lazy expiry pass the tick loop expects every 30s
// (spec.md §4.6), independent of any insert.
func (d *Dedup) Purge(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purgeLocked(now)
}

// purgeLocked drops every record older than cfg.Window. Caller holds d.mu.
func (d *Dedup) purgeLocked(now time.Time) {
	if len(d.order) == 0 {
		return
	}
	cut := 0
	for cut < len(d.order) && now.Sub(d.order[cut].firstSeen) >= d.cfg.Window {
		delete(d.index, d.order[cut].key)
		cut++
	}
	if cut == 0 {
		return
	}
	d.order = append(d.order[:0], d.order[cut:]...)
	d.reindexLocked()
}

// evictOldestLocked drops the single oldest record. Caller holds d.mu.
func (d *Dedup) evictOldestLocked() {
	if len(d.order) == 0 {
		return
	}
	delete(d.index, d.order[0].key)
	d.order = d.order[1:]
	d.reindexLocked()
}

func (d *Dedup) reindexLocked() {
	for i, rec := range d.order {
		d.index[rec.key] = i
	}
}
