// Package link provides the Link interface's one non-production
// implementation: an in-memory Bus connecting every mesh.Engine running
// in the same process (spec.md §1 treats the link driver itself, radio
// or otherwise, as an external collaborator; Bus exists to exercise that
// boundary in tests and in cmd/meshnode's -simulate mode).
package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dj3m/meshstatic/internal/mesh"
)

// Ingestor is the subset of mesh.Engine the Bus needs to deliver a
// received frame, kept narrow so tests can register fakes.
type Ingestor interface {
	Ingest(frame []byte, lastHop mesh.Address, rssi int8, now time.Time) mesh.IngestOutcome
}

// ErrAlreadyRegistered indicates Register was called twice for the same
// address.
var ErrAlreadyRegistered = fmt.Errorf("link: address already registered on bus")

// ErrClosed indicates a send was attempted after Close.
var ErrClosed = fmt.Errorf("link: bus closed")

// ErrBusy indicates a send found the delivery queue full; the frame is
// not queued.
var ErrBusy = fmt.Errorf("link: bus queue full")

type delivery struct {
	from, to mesh.Address
	frame    []byte
}

// Bus is an in-memory broadcast medium. Every registered node receives
// every frame sent to mesh.Broadcast; unicast frames are delivered only
// to their addressed recipient. Delivery always happens on the Bus's own
// dispatch goroutine, never synchronously inside Send, so a topology
// that loops a send back to its own sender never reenters the sender's
// engine lock.
type Bus struct {
	mu    sync.RWMutex
	nodes map[mesh.Address]Ingestor

	queue  chan delivery
	closed chan struct{}
	once   sync.Once
}

// NewBus creates a Bus with the given queue depth. A depth of 0 uses a
// reasonable default.
func NewBus(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Bus{
		nodes:  make(map[mesh.Address]Ingestor),
		queue:  make(chan delivery, queueDepth),
		closed: make(chan struct{}),
	}
}

// Register attaches addr's engine to the bus and returns a mesh.Link
// handle for it to send through. Use this when the Ingestor (typically
// a *mesh.Engine) already exists.
func (b *Bus) Register(addr mesh.Address, ingestor Ingestor) (*BusLink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.nodes[addr]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr)
	}
	b.nodes[addr] = ingestor
	return &BusLink{bus: b, self: addr}, nil
}

// Reserve claims addr on the bus and returns a send-only handle for it,
// without yet attaching a receiver. mesh.New requires a Link at
// construction time but a *mesh.Engine cannot exist before it, so
// callers building an Engine around a BusLink reserve the address
// first, construct the Engine with the returned link, then Bind the
// finished Engine in as the address's receiver.
func (b *Bus) Reserve(addr mesh.Address) (*BusLink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.nodes[addr]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr)
	}
	b.nodes[addr] = nil
	return &BusLink{bus: b, self: addr}, nil
}

// Bind attaches the receiver for a previously Reserved address.
func (b *Bus) Bind(addr mesh.Address, ingestor Ingestor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.nodes[addr]; !exists {
		return fmt.Errorf("link: bind: %s was not reserved", addr)
	}
	b.nodes[addr] = ingestor
	return nil
}

// Unregister detaches addr from the bus; subsequent broadcasts no longer
// reach it.
func (b *Bus) Unregister(addr mesh.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, addr)
}

// Run drains the delivery queue until ctx is cancelled or Close is
// called, invoking each recipient's Ingest off the sender's call stack.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closed:
			return nil
		case d := <-b.queue:
			b.deliver(d)
		}
	}
}

func (b *Bus) deliver(d delivery) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if d.to.IsBroadcast() {
		for addr, ingestor := range b.nodes {
			if addr == d.from || ingestor == nil {
				continue
			}
			ingestor.Ingest(d.frame, d.from, 0, time.Now())
		}
		return
	}

	if ingestor, ok := b.nodes[d.to]; ok && ingestor != nil {
		ingestor.Ingest(d.frame, d.from, 0, time.Now())
	}
}

func (b *Bus) enqueue(d delivery) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	select {
	case b.queue <- d:
		return nil
	default:
		return ErrBusy
	}
}

// Close stops Run and rejects further sends.
func (b *Bus) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

// BusLink implements mesh.Link for one node registered on a Bus.
type BusLink struct {
	bus  *Bus
	self mesh.Address
}

// Send implements mesh.Link. frame is copied before enqueueing since the
// caller may reuse its buffer. Send never blocks: a full queue yields
// ErrBusy.
func (l *BusLink) Send(_ context.Context, nextHop mesh.Address, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	if err := l.bus.enqueue(delivery{from: l.self, to: nextHop, frame: cp}); err != nil {
		return fmt.Errorf("link: send to %s: %w", nextHop, err)
	}
	return nil
}
