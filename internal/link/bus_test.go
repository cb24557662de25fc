package link_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dj3m/meshstatic/internal/link"
	"github.com/dj3m/meshstatic/internal/mesh"
)

// fakeIngestor records every frame it receives, for assertions, without
// pulling in a full mesh.Engine.
type fakeIngestor struct {
	mu      sync.Mutex
	frames  [][]byte
	lastHop mesh.Address
}

func (f *fakeIngestor) Ingest(frame []byte, lastHop mesh.Address, _ int8, _ time.Time) mesh.IngestOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
	f.lastHop = lastHop
	return mesh.IngestOutcome{}
}

func (f *fakeIngestor) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func addr(b byte) mesh.Address {
	return mesh.Address{0x02, 0, 0, 0, 0, b}
}

func runBus(t *testing.T, b *link.Bus) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBusRegisterUnicastDelivery(t *testing.T) {
	t.Parallel()

	b := link.NewBus(0)
	runBus(t, b)

	a1, a2 := addr(1), addr(2)
	recv2 := &fakeIngestor{}

	senderLink, err := b.Register(a1, &fakeIngestor{})
	if err != nil {
		t.Fatalf("Register(a1): %v", err)
	}
	if _, err := b.Register(a2, recv2); err != nil {
		t.Fatalf("Register(a2): %v", err)
	}

	if err := senderLink.Send(context.Background(), a2, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitForCondition(t, func() bool { return len(recv2.received()) == 1 })
	got := recv2.received()[0]
	if string(got) != "hello" {
		t.Errorf("received frame = %q, want %q", got, "hello")
	}
}

func TestBusRegisterDuplicateAddress(t *testing.T) {
	t.Parallel()

	b := link.NewBus(0)
	a1 := addr(1)

	if _, err := b.Register(a1, &fakeIngestor{}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := b.Register(a1, &fakeIngestor{}); err == nil {
		t.Fatal("second Register with same address: want error, got nil")
	}
}

func TestBusBroadcastExcludesSender(t *testing.T) {
	t.Parallel()

	b := link.NewBus(0)
	runBus(t, b)

	a1, a2, a3 := addr(1), addr(2), addr(3)
	recv1, recv2, recv3 := &fakeIngestor{}, &fakeIngestor{}, &fakeIngestor{}

	l1, err := b.Register(a1, recv1)
	if err != nil {
		t.Fatalf("Register(a1): %v", err)
	}
	if _, err := b.Register(a2, recv2); err != nil {
		t.Fatalf("Register(a2): %v", err)
	}
	if _, err := b.Register(a3, recv3); err != nil {
		t.Fatalf("Register(a3): %v", err)
	}

	if err := l1.Send(context.Background(), mesh.Broadcast, []byte("beacon")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitForCondition(t, func() bool {
		return len(recv2.received()) == 1 && len(recv3.received()) == 1
	})
	if len(recv1.received()) != 0 {
		t.Errorf("sender received its own broadcast: %d frames", len(recv1.received()))
	}
}

func TestBusReserveBindRoundTrip(t *testing.T) {
	t.Parallel()

	b := link.NewBus(0)
	runBus(t, b)

	self := addr(1)
	peer := addr(2)
	peerRecv := &fakeIngestor{}

	selfLink, err := b.Reserve(self)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := b.Register(peer, peerRecv); err != nil {
		t.Fatalf("Register(peer): %v", err)
	}

	selfRecv := &fakeIngestor{}
	if err := b.Bind(self, selfRecv); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := selfLink.Send(context.Background(), peer, []byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitForCondition(t, func() bool { return len(peerRecv.received()) == 1 })

	if _, err := b.Register(peer, peerRecv); err == nil {
		t.Fatal("peer address already registered once; want error on re-register")
	}
}

func TestBusReserveDeliveryBeforeBindIsNoop(t *testing.T) {
	t.Parallel()

	b := link.NewBus(0)
	runBus(t, b)

	self := addr(1)
	peer := addr(2)
	peerRecv := &fakeIngestor{}

	if _, err := b.Reserve(self); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	peerLink, err := b.Register(peer, peerRecv)
	if err != nil {
		t.Fatalf("Register(peer): %v", err)
	}

	// self is reserved but not yet bound: sending to it must not panic
	// and must simply not be observed anywhere.
	if err := peerLink.Send(context.Background(), self, []byte("unbound")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(peerRecv.received()) != 0 {
		t.Errorf("peer unexpectedly received a frame addressed to an unbound node")
	}
}

func TestBusBindWithoutReserveFails(t *testing.T) {
	t.Parallel()

	b := link.NewBus(0)
	if err := b.Bind(addr(9), &fakeIngestor{}); err == nil {
		t.Fatal("Bind on never-reserved address: want error, got nil")
	}
}

func TestBusUnregisterStopsDelivery(t *testing.T) {
	t.Parallel()

	b := link.NewBus(0)
	runBus(t, b)

	a1, a2 := addr(1), addr(2)
	recv2 := &fakeIngestor{}

	l1, err := b.Register(a1, &fakeIngestor{})
	if err != nil {
		t.Fatalf("Register(a1): %v", err)
	}
	if _, err := b.Register(a2, recv2); err != nil {
		t.Fatalf("Register(a2): %v", err)
	}

	b.Unregister(a2)

	if err := l1.Send(context.Background(), a2, []byte("dropped")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(recv2.received()) != 0 {
		t.Errorf("unregistered node received a frame: %d frames", len(recv2.received()))
	}
}

func TestBusCloseRejectsSend(t *testing.T) {
	t.Parallel()

	b := link.NewBus(0)
	runBus(t, b)

	a1, a2 := addr(1), addr(2)
	l1, err := b.Register(a1, &fakeIngestor{})
	if err != nil {
		t.Fatalf("Register(a1): %v", err)
	}
	if _, err := b.Register(a2, &fakeIngestor{}); err != nil {
		t.Fatalf("Register(a2): %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := l1.Send(context.Background(), a2, []byte("too late")); err == nil {
		t.Fatal("Send after Close: want error, got nil")
	}

	// Close must be idempotent.
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestBusLoopbackTopologyDoesNotDeadlock(t *testing.T) {
	t.Parallel()

	// Two nodes that each forward everything they receive back onto the
	// bus addressed to the other, exercising the queue-and-drain
	// dispatch path: delivery must never happen synchronously inside
	// Send, or this topology would reenter a receiver's lock from
	// within its own Ingest call.
	b := link.NewBus(0)
	runBus(t, b)

	a1, a2 := addr(1), addr(2)

	var l2 *link.BusLink
	relay1 := &relayIngestor{}
	relay2 := &relayIngestor{}

	l1, err := b.Register(a1, relay1)
	if err != nil {
		t.Fatalf("Register(a1): %v", err)
	}
	l2, err = b.Register(a2, relay2)
	if err != nil {
		t.Fatalf("Register(a2): %v", err)
	}
	relay1.link, relay1.other = l1, a2
	relay2.link, relay2.other = l2, a1

	if err := l1.Send(context.Background(), a2, []byte{0}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitForCondition(t, func() bool { return relay1.count() >= 3 && relay2.count() >= 3 })
}

// relayIngestor bounces every received frame, unchanged, back to the
// sender and counts its receptions; from the fifth reception on it stops
// bouncing.
type relayIngestor struct {
	mu    sync.Mutex
	n     int
	link  *link.BusLink
	other mesh.Address
}

func (r *relayIngestor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *relayIngestor) Ingest(frame []byte, _ mesh.Address, _ int8, _ time.Time) mesh.IngestOutcome {
	r.mu.Lock()
	r.n++
	n := r.n
	r.mu.Unlock()
	if n < 5 {
		_ = r.link.Send(context.Background(), r.other, frame)
	}
	return mesh.IngestOutcome{}
}
