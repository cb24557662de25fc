package mesh

import (
	"sync"
	"time"
)

// RouteStatus classifies a RoutingEntry's freshness (spec.md §3).
type RouteStatus uint8

// Route status values.
const (
	StatusOnline RouteStatus = iota
	StatusStale
	StatusOffline
)

// String names a route status.
func (s RouteStatus) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusStale:
		return "stale"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// RoutingEntry is a single device record in the RoutingTable (spec.md §3).
type RoutingEntry struct {
	Device    Address
	Parent    Address
	RSSI      int8
	LastSeen  time.Time
	Status    RouteStatus
	BatteryMV *uint16
}

// RoutingConfig tunes RoutingTable capacity and freshness horizons.
type RoutingConfig struct {
	// Capacity bounds the number of live entries (default 100).
	Capacity int
	// OnlineHorizon is the freshness cutoff: an entry is online iff
	// now-LastSeen < OnlineHorizon (default 300s).
	OnlineHorizon time.Duration
	// EvictionHorizon bounds table size by age: entries older than this
	// are evicted on sweep (default 1h).
	EvictionHorizon time.Duration
}

// DefaultRoutingConfig returns spec.md's defaults.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		Capacity:        100,
		OnlineHorizon:   300 * time.Second,
		EvictionHorizon: time.Hour,
	}
}

// RoutingTable is the bounded, FIFO-by-staleness device table that
// backs the engine's next-hop policy (spec.md §4.3).
type RoutingTable struct {
	mu      sync.Mutex
	cfg     RoutingConfig
	entries map[Address]*RoutingEntry
	order   []Address // insertion order, for deterministic Snapshot/Sweep iteration
}

// NewRoutingTable constructs a table with the given configuration,
// filling in spec.md defaults for zero fields.
func NewRoutingTable(cfg RoutingConfig) *RoutingTable {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultRoutingConfig().Capacity
	}
	if cfg.OnlineHorizon <= 0 {
		cfg.OnlineHorizon = DefaultRoutingConfig().OnlineHorizon
	}
	if cfg.EvictionHorizon <= 0 {
		cfg.EvictionHorizon = DefaultRoutingConfig().EvictionHorizon
	}
	return &RoutingTable{
		cfg:     cfg,
		entries: make(map[Address]*RoutingEntry, cfg.Capacity),
	}
}

// Observe records ingress of a packet from src, relayed immediately by
// lastHop with the given signal strength (spec.md §4.3). If src is new
// and the table is at capacity, the oldest entry is evicted first.
func (t *RoutingTable) Observe(src, lastHop Address, rssi int8, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[src]
	if !exists {
		if len(t.entries) >= t.cfg.Capacity {
			t.evictOldestLocked()
		}
		entry = &RoutingEntry{
			Device: src,
			Parent: lastHop,
		}
		t.entries[src] = entry
		t.order = append(t.order, src)
	}

	entry.LastSeen = now
	entry.RSSI = rssi
	if lastHop != src {
		entry.Parent = lastHop
	}
	entry.Status = t.statusForLocked(entry, now)
}

// Lookup returns the entry for dst, if any.
func (t *RoutingTable) Lookup(dst Address) (RoutingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[dst]
	if !ok {
		return RoutingEntry{}, false
	}
	return *entry, true
}

// Sweep refreshes online/stale/offline status for every entry and
// evicts entries whose age exceeds the eviction horizon (spec.md §4.3).
func (t *RoutingTable) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.order[:0]
	for _, addr := range t.order {
		entry, ok := t.entries[addr]
		if !ok {
			continue
		}
		if now.Sub(entry.LastSeen) >= t.cfg.EvictionHorizon {
			delete(t.entries, addr)
			continue
		}
		entry.Status = t.statusForLocked(entry, now)
		kept = append(kept, addr)
	}
	t.order = kept
}

// Snapshot returns a read-only copy of every entry, for the admin
// surface (spec.md §4.3/§5).
func (t *RoutingTable) Snapshot() []RoutingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]RoutingEntry, 0, len(t.entries))
	for _, addr := range t.order {
		if entry, ok := t.entries[addr]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// Len returns the number of live entries.
func (t *RoutingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// OnlineCount returns the number of entries currently online.
func (t *RoutingTable) OnlineCount(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, entry := range t.entries {
		if t.statusForLocked(entry, now) == StatusOnline {
			n++
		}
	}
	return n
}

func (t *RoutingTable) statusForLocked(entry *RoutingEntry, now time.Time) RouteStatus {
	age := now.Sub(entry.LastSeen)
	switch {
	case age < t.cfg.OnlineHorizon:
		return StatusOnline
	case age < t.cfg.EvictionHorizon:
		return StatusStale
	default:
		return StatusOffline
	}
}

// evictOldestLocked drops the entry with the oldest LastSeen timestamp
// (FIFO-by-staleness, spec.md §3). Caller holds t.mu.
func (t *RoutingTable) evictOldestLocked() {
	var oldest Address
	var oldestSeen time.Time
	found := false
	for addr, entry := range t.entries {
		if !found || entry.LastSeen.Before(oldestSeen) {
			oldest = addr
			oldestSeen = entry.LastSeen
			found = true
		}
	}
	if !found {
		return
	}
	delete(t.entries, oldest)
	for i, addr := range t.order {
		if addr == oldest {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}
