package mesh_test

import (
	"testing"
	"time"

	"github.com/dj3m/meshstatic/internal/mesh"
)

func TestObserveThenLookup(t *testing.T) {
	t.Parallel()

	rt := mesh.NewRoutingTable(mesh.DefaultRoutingConfig())
	now := time.Now()
	dev := mesh.Address{2, 0, 0, 0, 0, 1}
	hop := mesh.Address{2, 0, 0, 0, 0, 9}

	rt.Observe(dev, hop, -40, now)

	entry, ok := rt.Lookup(dev)
	if !ok {
		t.Fatal("expected entry after Observe")
	}
	if entry.RSSI != -40 {
		t.Fatalf("RSSI = %d, want -40", entry.RSSI)
	}
	if !entry.LastSeen.Equal(now) {
		t.Fatalf("LastSeen = %v, want %v", entry.LastSeen, now)
	}
	if entry.Parent != hop {
		t.Fatalf("Parent = %v, want %v", entry.Parent, hop)
	}
}

func TestObserveParentOnlyUpdatedWhenLastHopDiffers(t *testing.T) {
	t.Parallel()

	rt := mesh.NewRoutingTable(mesh.DefaultRoutingConfig())
	now := time.Now()
	dev := mesh.Address{2, 0, 0, 0, 0, 1}
	parent := mesh.Address{2, 0, 0, 0, 0, 9}

	rt.Observe(dev, parent, -40, now)
	// A direct observation of dev itself (last_hop == src) must not
	// overwrite the learned parent.
	rt.Observe(dev, dev, -30, now.Add(time.Second))

	entry, _ := rt.Lookup(dev)
	if entry.Parent != parent {
		t.Fatalf("Parent = %v, want unchanged %v", entry.Parent, parent)
	}
}

func TestOnlineStaleOffline(t *testing.T) {
	t.Parallel()

	cfg := mesh.RoutingConfig{Capacity: 10, OnlineHorizon: 300 * time.Second, EvictionHorizon: time.Hour}
	rt := mesh.NewRoutingTable(cfg)
	now := time.Now()
	dev := mesh.Address{2, 0, 0, 0, 0, 1}
	rt.Observe(dev, dev, 0, now)

	if n := rt.OnlineCount(now.Add(100 * time.Second)); n != 1 {
		t.Fatalf("OnlineCount = %d, want 1 within online horizon", n)
	}
	if n := rt.OnlineCount(now.Add(400 * time.Second)); n != 0 {
		t.Fatalf("OnlineCount = %d, want 0 past online horizon", n)
	}

	rt.Sweep(now.Add(400 * time.Second))
	entry, ok := rt.Lookup(dev)
	if !ok {
		t.Fatal("entry should survive a sweep inside the eviction horizon")
	}
	if entry.Status != mesh.StatusStale {
		t.Fatalf("Status = %v, want Stale", entry.Status)
	}

	rt.Sweep(now.Add(2 * time.Hour))
	if _, ok := rt.Lookup(dev); ok {
		t.Fatal("entry should be evicted past the eviction horizon")
	}
}

func TestEvictionIsFIFOByStaleness(t *testing.T) {
	t.Parallel()

	cfg := mesh.RoutingConfig{Capacity: 2, OnlineHorizon: 300 * time.Second, EvictionHorizon: time.Hour}
	rt := mesh.NewRoutingTable(cfg)
	now := time.Now()

	a := mesh.Address{2, 0, 0, 0, 0, 1}
	b := mesh.Address{2, 0, 0, 0, 0, 2}
	c := mesh.Address{2, 0, 0, 0, 0, 3}

	rt.Observe(a, a, 0, now)
	rt.Observe(b, b, 0, now.Add(time.Second))
	// refresh a so it is no longer the stalest entry
	rt.Observe(a, a, 0, now.Add(2*time.Second))

	// table is full (a, b); inserting c must evict the stalest, which is b
	rt.Observe(c, c, 0, now.Add(3*time.Second))

	if _, ok := rt.Lookup(b); ok {
		t.Fatal("expected b (stalest) to be evicted, found it still present")
	}
	if _, ok := rt.Lookup(a); !ok {
		t.Fatal("expected a (refreshed) to remain")
	}
	if _, ok := rt.Lookup(c); !ok {
		t.Fatal("expected c (newly inserted) to be present")
	}
}

func TestSnapshotIsReadOnlyCopy(t *testing.T) {
	t.Parallel()

	rt := mesh.NewRoutingTable(mesh.DefaultRoutingConfig())
	now := time.Now()
	dev := mesh.Address{2, 0, 0, 0, 0, 1}
	rt.Observe(dev, dev, -50, now)

	snap := rt.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot length = %d, want 1", len(snap))
	}
	snap[0].RSSI = 127 // mutating the copy must not affect the table

	entry, _ := rt.Lookup(dev)
	if entry.RSSI != -50 {
		t.Fatalf("table entry mutated via snapshot copy: RSSI = %d", entry.RSSI)
	}
}
