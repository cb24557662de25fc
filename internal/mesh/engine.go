package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EncryptedPayloadCapacity is the plaintext span sealed within an
// encrypted payload: the wire format reserves no separate tag field
// (spec.md §3), so the 16-byte Poly1305 tag occupies the trailing bytes
// of the 180-byte payload and the remaining 164 bytes carry ciphertext.
// AEAD always operates over this fixed span, so ciphertext length never
// varies with the logical message content.
const EncryptedPayloadCapacity = PayloadSize - TagSize

// sessionOverlap is how long a rotated-out session key still decrypts
// and re-seals forwarded traffic (spec.md §3 "Session state"). Adoption
// of a new session id every 24h is the KeyStore collaborator's
// responsibility; rotateSessionLocked only reacts to the id it reports
// changing.
const sessionOverlap = 5 * time.Minute

// Role distinguishes a node's heartbeat cadence (spec.md §4.6).
type Role uint8

// Node roles.
const (
	RoleNode Role = iota
	RoleRepeater
)

// PacketID identifies a submitted packet for delivery-status correlation.
type PacketID uint32

// IngestOutcome summarizes what Ingest did with one inbound frame, for
// tests and instrumentation; it is never itself surfaced as an error.
type IngestOutcome struct {
	Dropped   bool
	Drop      DropKind
	Delivered bool
	Forwarded bool
}

// Counters is a point-in-time snapshot of engine activity.
type Counters struct {
	RX    uint64
	TX    uint64
	Drops map[DropKind]uint64
}

// Sinks delivers decoded local-destined payloads to the collaborator
// (spec.md §6).
type Sinks struct {
	OnSensor  func(src Address, data SensorData)
	OnCommand func(src Address, payload []byte)
	OnEvent   func(src Address, event EmergencyEvent)
}

// Link is the non-blocking send half of the collaborator-owned link
// driver (spec.md §6, §9 "Callback-style link I/O").
type Link interface {
	Send(ctx context.Context, nextHop Address, frame []byte) error
}

// Clock is a monotonic, millisecond-resolution time source.
type Clock interface{ NowMS() uint32 }

// Random is a cryptographically strong byte source, consulted once at
// construction to seed the packet-id counter (spec.md §7 "Fatal
// conditions").
type Random interface{ Fill([]byte) error }

// KeyStore supplies the master key and the currently active session
// (spec.md §6).
type KeyStore interface {
	MasterKey() [KeySize]byte
	CurrentSession() (id uint32, key [KeySize]byte)
}

// EngineConfig constructs an Engine. Zero-value duration fields fall
// back to spec.md §4.6 defaults.
type EngineConfig struct {
	Self   Address
	Role   Role
	Link   Link
	Clock  Clock
	Random Random
	Keys   KeyStore
	Sinks  Sinks

	// Groups lists the group ids this node participates in, consulted by
	// the CMD_GROUP local handler (spec.md §4.5).
	Groups map[uint16]bool

	Routing RoutingConfig
	Dedup   DedupConfig

	HeartbeatInterval    time.Duration
	DiscoveryInterval    time.Duration
	RoutingSweepInterval time.Duration
	DedupPurgeInterval   time.Duration
	SessionCheckInterval time.Duration
}

// EngineOption configures optional Engine collaborators, following the
// functional-options idiom used throughout this codebase.
type EngineOption func(*Engine)

// WithMetrics attaches a MetricsReporter. If unset, the engine reports to
// a no-op implementation.
func WithMetrics(mr MetricsReporter) EngineOption {
	return func(e *Engine) {
		if mr != nil {
			e.metrics = mr
		}
	}
}

// WithLogger attaches a structured logger. If unset, the engine logs to
// slog.Default().
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

type sessionState struct {
	id      uint32
	key     [KeySize]byte
	expires time.Time // zero means "does not expire by overlap"
}

// Engine is the single-threaded cooperative packet processor at the
// heart of the core (spec.md §4.5, §5). All mutation of routing table,
// dedup cache, and outbound-waiting set happens while e.mu is held,
// modeling the single-producer ingress queue spec.md §5 describes for
// multi-threaded hosts.
type Engine struct {
	mu sync.Mutex

	self   Address
	role   Role
	link   Link
	clock  Clock
	random Random
	keys   KeyStore
	sinks  Sinks
	groups map[uint16]bool

	log     *slog.Logger
	metrics MetricsReporter

	routing *RoutingTable
	dedup   *Dedup
	waiters *ackWaitSet

	nextPacketID uint32

	// epoch anchors clock.NowMS() to a time.Time so Submit, which the
	// external interface gives no explicit `now` (spec.md §6), can still
	// share the time.Time vocabulary the rest of the engine uses.
	epoch   time.Time
	epochMS uint32

	current  sessionState
	previous sessionState

	heartbeatInterval    time.Duration
	discoveryInterval    time.Duration
	sweepInterval        time.Duration
	dedupPurgeInterval   time.Duration
	sessionCheckInterval time.Duration

	nextHeartbeat    time.Time
	nextDiscovery    time.Time
	nextSweep        time.Time
	nextDedupPurge   time.Time
	nextSessionCheck time.Time

	rx    uint64
	tx    uint64
	drops map[DropKind]uint64
}

// New constructs an Engine. It returns an error only for the fatal
// condition spec.md §7 names for initialisation: inability to obtain
// randomness for the packet-id seed.
func New(cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	if cfg.Self.IsZero() || cfg.Self.IsBroadcast() {
		return nil, fmt.Errorf("mesh: engine self address must not be zero or broadcast")
	}
	if cfg.Link == nil || cfg.Clock == nil || cfg.Random == nil || cfg.Keys == nil {
		return nil, fmt.Errorf("mesh: engine requires link, clock, random, and keystore collaborators")
	}

	var seed [4]byte
	if err := cfg.Random.Fill(seed[:]); err != nil {
		return nil, fmt.Errorf("mesh: engine: obtaining initial randomness: %w", err)
	}

	e := &Engine{
		self:    cfg.Self,
		role:    cfg.Role,
		link:    cfg.Link,
		clock:   cfg.Clock,
		random:  cfg.Random,
		keys:    cfg.Keys,
		sinks:   cfg.Sinks,
		groups:  cfg.Groups,
		log:     slog.Default(),
		metrics: noopMetrics{},

		routing: NewRoutingTable(cfg.Routing),
		dedup:   NewDedup(cfg.Dedup),
		waiters: newAckWaitSet(),

		nextPacketID: beUint32(seed),

		heartbeatInterval:    cfg.HeartbeatInterval,
		discoveryInterval:    cfg.DiscoveryInterval,
		sweepInterval:        cfg.RoutingSweepInterval,
		dedupPurgeInterval:   cfg.DedupPurgeInterval,
		sessionCheckInterval: cfg.SessionCheckInterval,

		drops: make(map[DropKind]uint64),
	}
	if e.groups == nil {
		e.groups = make(map[uint16]bool)
	}
	if e.heartbeatInterval <= 0 {
		if e.role == RoleRepeater {
			e.heartbeatInterval = 30 * time.Second
		} else {
			e.heartbeatInterval = 60 * time.Second
		}
	}
	if e.discoveryInterval <= 0 {
		e.discoveryInterval = 10 * time.Minute
	}
	if e.sweepInterval <= 0 {
		e.sweepInterval = 60 * time.Second
	}
	if e.dedupPurgeInterval <= 0 {
		e.dedupPurgeInterval = 30 * time.Second
	}
	if e.sessionCheckInterval <= 0 {
		e.sessionCheckInterval = 60 * time.Second
	}

	id, key := cfg.Keys.CurrentSession()
	e.current = sessionState{id: id, key: key}

	e.epoch = time.Now()
	e.epochMS = cfg.Clock.NowMS()

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func beUint32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// clockNowLocked converts the collaborator clock's current millisecond
// reading into a time.Time relative to the epoch captured at New.
func (e *Engine) clockNowLocked() time.Time {
	elapsed := e.clock.NowMS() - e.epochMS // uint32 wraparound is intentional
	return e.epoch.Add(time.Duration(elapsed) * time.Millisecond)
}

// -------------------------------------------------------------------------
// Ingress
// -------------------------------------------------------------------------

// Ingest processes one inbound frame (spec.md §4.5 ingress path).
func (e *Engine) Ingest(frame []byte, lastHop Address, rssi int8, now time.Time) IngestOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rx++
	e.metrics.IncRX()

	pkt, err := Decode(frame)
	if err != nil {
		return e.dropLocked(DropMalformedFrame)
	}

	if pkt.NetworkID != NetworkID || pkt.Version != Version || pkt.TTL == 0 || !pkt.Src.ValidSource() {
		return e.dropLocked(DropInvalidHeader)
	}

	isEmergency := pkt.MsgType == MsgEventBroadcast
	duplicate := e.dedup.Seen(pkt.Src, pkt.PacketID, now)
	if duplicate && !isEmergency {
		return e.dropLocked(DropDuplicate)
	}

	e.routing.Observe(pkt.Src, lastHop, rssi, now)

	plaintext := pkt.Payload[:]
	usedSession := e.current
	if pkt.Flags.Has(FlagEncrypted) {
		pt, sess, ok := e.decryptLocked(&pkt, now)
		if !ok {
			if sess == nil {
				return e.dropLocked(DropUnknownSession)
			}
			return e.dropLocked(DropAuthFailure)
		}
		plaintext = pt[:]
		usedSession = *sess
	}

	forMe := pkt.Dst == e.self || pkt.Dst.IsBroadcast()
	outcome := IngestOutcome{}

	if forMe {
		e.dispatchLocked(&pkt, plaintext, &outcome, now)
	}

	groupForward := pkt.MsgType == MsgCmdGroup && pkt.GroupID != 0
	shouldForward := !forMe || pkt.Dst.IsBroadcast() || isEmergency || groupForward

	if shouldForward {
		e.forwardLocked(&pkt, plaintext, usedSession, now, &outcome)
	}

	if forMe && pkt.Flags.Has(FlagRequireAck) && pkt.MsgType != MsgAck && pkt.MsgType != MsgNack {
		e.sendAckLocked(pkt.Src, pkt.PacketID, now)
	}

	return outcome
}

// decryptLocked tries the current session, then the previous session if
// still within its overlap window, to decrypt pkt's payload in place for
// dispatch purposes. sess is nil only when no session is configured at
// all (DropUnknownSession); a non-nil sess with ok=false means every
// known session's tag check failed (DropAuthFailure).
func (e *Engine) decryptLocked(pkt *Packet, now time.Time) (plaintext [EncryptedPayloadCapacity]byte, sess *sessionState, ok bool) {
	var zero [KeySize]byte
	if e.current.key == zero {
		return plaintext, nil, false
	}

	nonce := PacketNonce(pkt.PacketID, pkt.Src)
	aad := HeaderAAD(pkt)

	var tag [TagSize]byte
	copy(tag[:], pkt.Payload[EncryptedPayloadCapacity:PayloadSize])
	ciphertext := pkt.Payload[:EncryptedPayloadCapacity]

	candidates := []*sessionState{&e.current}
	if e.previous.key != zero && now.Before(e.previous.expires) {
		candidates = append(candidates, &e.previous)
	}

	for _, cand := range candidates {
		pt, err := Open(cand.key, nonce, aad, ciphertext, tag)
		if err == nil {
			copy(plaintext[:], pt)
			return plaintext, cand, true
		}
	}
	return plaintext, &e.current, false
}

// dropLocked counts a drop and logs it at debug level. Per spec.md §7,
// AuthFailure logging carries no data derived from the offending frame
// beyond the kind itself, so the log line below is deliberately bare.
func (e *Engine) dropLocked(kind DropKind) IngestOutcome {
	e.drops[kind]++
	e.metrics.IncDrop(kind)
	e.log.Debug("mesh: ingress drop", "kind", kind.String())
	return IngestOutcome{Dropped: true, Drop: kind}
}

// dispatchLocked runs the local-handler branch of spec.md §4.5 step 6.
func (e *Engine) dispatchLocked(pkt *Packet, plaintext []byte, outcome *IngestOutcome, now time.Time) {
	switch pkt.MsgType {
	case MsgDataSensor:
		data, err := DecodeSensorData(plaintext)
		if err != nil {
			return
		}
		if data.Temperature > 40 || data.BatteryMV < 3000 {
			e.log.Warn("mesh: sensor advisory", "src", pkt.Src, "temperature", data.Temperature, "battery_mv", data.BatteryMV)
		}
		if e.sinks.OnSensor != nil {
			e.sinks.OnSensor(pkt.Src, data)
		}
		outcome.Delivered = true

	case MsgCmdSet, MsgCmdGet:
		if e.sinks.OnCommand != nil {
			e.sinks.OnCommand(pkt.Src, plaintext)
		}
		outcome.Delivered = true

	case MsgCmdGroup:
		cmd, err := DecodeGroupCommand(plaintext)
		if err != nil {
			return
		}
		if pkt.Flags.Has(FlagLocalProcess) || e.groups[cmd.GroupID] {
			if e.sinks.OnCommand != nil {
				e.sinks.OnCommand(pkt.Src, plaintext)
			}
			outcome.Delivered = true
		}

	case MsgEventBroadcast:
		event, err := DecodeEmergencyEvent(plaintext, len(plaintext)-emergencyHeaderSize)
		if err != nil {
			return
		}
		if e.sinks.OnEvent != nil {
			e.sinks.OnEvent(pkt.Src, event)
		}
		outcome.Delivered = true

	case MsgHeartbeat:
		// Routing entry already refreshed by Observe; no further action.

	case MsgDiscovery:
		e.replyDiscoveryLocked(pkt.Src, now)
		outcome.Delivered = true

	case MsgAck, MsgNack:
		if len(plaintext) >= 4 {
			refID := leUint32(plaintext[:4])
			if e.waiters.resolve(refID) {
				e.metrics.SetWaitingCount(e.waiters.Len())
			}
		}
		outcome.Delivered = true
	}
}

// forwardLocked re-transmits pkt toward its next hop with a decremented
// TTL (spec.md §4.5 step 7). For encrypted packets the payload is
// re-sealed under the forwarded header's AAD (ttl and last_hop changed),
// using the same nonce and the session that authenticated decryptLocked.
func (e *Engine) forwardLocked(pkt *Packet, plaintext []byte, sess sessionState, now time.Time, outcome *IngestOutcome) {
	if pkt.TTL-1 == 0 {
		e.recordDropLocked(outcome, DropTTLExhausted)
		return
	}

	fwd := *pkt
	fwd.TTL = pkt.TTL - 1
	fwd.LastHop = e.self

	if pkt.Flags.Has(FlagEncrypted) {
		nonce := PacketNonce(fwd.PacketID, fwd.Src)
		aad := HeaderAAD(&fwd)
		ciphertext, tag, err := Seal(sess.key, nonce, aad, plaintext[:EncryptedPayloadCapacity])
		if err != nil {
			e.recordDropLocked(outcome, DropAuthFailure)
			return
		}
		copy(fwd.Payload[:EncryptedPayloadCapacity], ciphertext)
		copy(fwd.Payload[EncryptedPayloadCapacity:PayloadSize], tag[:])
	}

	nextHop, ok := e.nextHopLocked(fwd.Dst)
	if !ok {
		e.recordDropLocked(outcome, DropNoRoute)
		return
	}

	if e.transmitLocked(&fwd, nextHop) {
		outcome.Forwarded = true
	}
}

// recordDropLocked counts and logs a drop encountered past the local
// dispatch step, folding it into outcome without erasing a Delivered
// result a broadcast packet may already have earned locally.
func (e *Engine) recordDropLocked(outcome *IngestOutcome, kind DropKind) {
	e.dropLocked(kind)
	outcome.Dropped = true
	outcome.Drop = kind
}

// nextHopLocked resolves the next hop per spec.md §4.3's policy.
func (e *Engine) nextHopLocked(dst Address) (Address, bool) {
	if dst.IsBroadcast() {
		return Broadcast, true
	}
	entry, ok := e.routing.Lookup(dst)
	if !ok {
		return Address{}, false
	}
	if entry.Parent == e.self {
		return dst, true
	}
	return entry.Parent, true
}

// transmitLocked encodes and sends pkt, counting TX or LinkBusy.
func (e *Engine) transmitLocked(pkt *Packet, nextHop Address) bool {
	frame := Encode(pkt)
	if err := e.link.Send(context.Background(), nextHop, frame[:]); err != nil {
		e.dropLocked(DropLinkBusy)
		return false
	}
	e.tx++
	e.metrics.IncTX()
	return true
}

// sendAckLocked originates and transmits an ACK referencing refID
// (spec.md §4.5 step 8).
func (e *Engine) sendAckLocked(dst Address, refID uint32, now time.Time) {
	pkt := Packet{
		NetworkID: NetworkID,
		Version:   Version,
		TTL:       DefaultTTL,
		PacketID:  e.allocatePacketIDLocked(),
		Src:       e.self,
		Dst:       dst,
		LastHop:   e.self,
		MsgType:   MsgAck,
		Flags:     0,
	}
	putUint32le(pkt.Payload[:4], refID)

	nextHop, ok := e.nextHopLocked(dst)
	if !ok {
		e.dropLocked(DropNoRoute)
		return
	}
	e.transmitLocked(&pkt, nextHop)
}

// replyDiscoveryLocked answers a DISCOVERY request with a unicast
// DEVICE_STATE_UPDATE describing self (spec.md §4.5 "DISCOVERY").
func (e *Engine) replyDiscoveryLocked(dst Address, now time.Time) {
	pkt := Packet{
		NetworkID: NetworkID,
		Version:   Version,
		TTL:       DefaultTTL,
		PacketID:  e.allocatePacketIDLocked(),
		Src:       e.self,
		Dst:       dst,
		LastHop:   e.self,
		MsgType:   MsgDeviceStateUpdate,
		Flags:     0,
	}
	nextHop, ok := e.nextHopLocked(dst)
	if !ok {
		e.dropLocked(DropNoRoute)
		return
	}
	e.transmitLocked(&pkt, nextHop)
}

// -------------------------------------------------------------------------
// Egress
// -------------------------------------------------------------------------

// Submit builds, optionally encrypts, and transmits an originated packet
// (spec.md §4.5 egress path). Errors are returned synchronously;
// DeliveryFailed for REQUIRE_ACK submissions is reported later by Tick,
// through its DeliveryFailedFunc callback and the DropDeliveryFailed
// counter, since the core has no inflight-cancellation or synchronous-wait
// API (spec.md §5).
func (e *Engine) Submit(dst Address, msgType MsgType, flags Flags, groupID uint16, payload []byte) (PacketID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clockNowLocked()

	if len(payload) > PayloadSize {
		return 0, fmt.Errorf("mesh: submit: %w", ErrPayloadTooLarge)
	}
	wantEncrypt := flags.Has(FlagEncrypted)
	if wantEncrypt && len(payload) > EncryptedPayloadCapacity {
		return 0, fmt.Errorf("mesh: submit: encrypted payload exceeds %d bytes: %w", EncryptedPayloadCapacity, ErrPayloadTooLarge)
	}

	pkt := Packet{
		NetworkID: NetworkID,
		Version:   Version,
		TTL:       DefaultTTL,
		PacketID:  e.allocatePacketIDLocked(),
		Src:       e.self,
		Dst:       dst,
		LastHop:   e.self,
		MsgType:   msgType,
		Flags:     flags,
		GroupID:   groupID,
	}
	copy(pkt.Payload[:], payload)

	if wantEncrypt {
		var zero [KeySize]byte
		if e.current.key == zero {
			return 0, fmt.Errorf("mesh: submit: %w", ErrUnknownSession)
		}
		nonce := PacketNonce(pkt.PacketID, pkt.Src)
		aad := HeaderAAD(&pkt)
		ciphertext, tag, err := Seal(e.current.key, nonce, aad, pkt.Payload[:EncryptedPayloadCapacity])
		if err != nil {
			return 0, fmt.Errorf("mesh: submit: seal: %w", err)
		}
		copy(pkt.Payload[:EncryptedPayloadCapacity], ciphertext)
		copy(pkt.Payload[EncryptedPayloadCapacity:PayloadSize], tag[:])
	}

	nextHop, ok := e.nextHopLocked(dst)
	if !ok {
		return 0, fmt.Errorf("mesh: submit: %w", ErrNoRoute)
	}
	if !e.transmitLocked(&pkt, nextHop) {
		return 0, fmt.Errorf("mesh: submit: %w", ErrLinkBusy)
	}

	if flags.Has(FlagRequireAck) {
		e.waiters.register(pkt.PacketID, ackWaiter{
			dst:     dst,
			msgType: msgType,
			flags:   flags,
			groupID: groupID,
			payload: append([]byte(nil), payload...),
			ttl:     pkt.TTL,
		}, now)
		e.metrics.SetWaitingCount(e.waiters.Len())
	}

	return PacketID(pkt.PacketID), nil
}

func (e *Engine) allocatePacketIDLocked() uint32 {
	e.nextPacketID++
	return e.nextPacketID
}

// -------------------------------------------------------------------------
// Timer loop
// -------------------------------------------------------------------------

// DeliveryFailedFunc is invoked asynchronously when a REQUIRE_ACK
// submission exhausts its retransmits (spec.md §4.5, §7).
type DeliveryFailedFunc func(id PacketID)

// Tick drives the periodic duties spec.md §4.6 lists: heartbeat and
// discovery origination, routing sweep, dedup purge, session rollover,
// and ACK-waiter expiry. onDeliveryFailed may be nil.
func (e *Engine) Tick(now time.Time, onDeliveryFailed DeliveryFailedFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nextHeartbeat.IsZero() {
		e.nextHeartbeat = now
	}
	if e.nextDiscovery.IsZero() {
		e.nextDiscovery = now
	}
	if e.nextSweep.IsZero() {
		e.nextSweep = now
	}
	if e.nextDedupPurge.IsZero() {
		e.nextDedupPurge = now
	}
	if e.nextSessionCheck.IsZero() {
		e.nextSessionCheck = now
	}

	if !now.Before(e.nextHeartbeat) {
		e.originateBroadcastLocked(MsgHeartbeat, nil)
		e.nextHeartbeat = now.Add(e.heartbeatInterval)
	}
	if !now.Before(e.nextDiscovery) {
		e.originateBroadcastLocked(MsgDiscovery, nil)
		e.nextDiscovery = now.Add(e.discoveryInterval)
	}
	if !now.Before(e.nextSweep) {
		e.routing.Sweep(now)
		e.metrics.SetOnlineCount(e.routing.OnlineCount(now))
		e.nextSweep = now.Add(e.sweepInterval)
	}
	if !now.Before(e.nextDedupPurge) {
		e.dedup.Purge(now)
		e.nextDedupPurge = now.Add(e.dedupPurgeInterval)
	}
	if !now.Before(e.nextSessionCheck) {
		e.rotateSessionLocked(now)
		e.nextSessionCheck = now.Add(e.sessionCheckInterval)
	}

	e.expireWaitersLocked(now, onDeliveryFailed)
}

func (e *Engine) originateBroadcastLocked(msgType MsgType, payload []byte) {
	pkt := Packet{
		NetworkID: NetworkID,
		Version:   Version,
		TTL:       DefaultTTL,
		PacketID:  e.allocatePacketIDLocked(),
		Src:       e.self,
		Dst:       Broadcast,
		LastHop:   e.self,
		MsgType:   msgType,
		Flags:     FlagBroadcast,
	}
	copy(pkt.Payload[:], payload)
	e.transmitLocked(&pkt, Broadcast)
}

// rotateSessionLocked shifts the KeyStore's current session into current,
// demoting the previous current into the overlap window (spec.md §3
// "Rotation policy").
func (e *Engine) rotateSessionLocked(now time.Time) {
	id, key := e.keys.CurrentSession()
	if id == e.current.id {
		return
	}
	e.previous = e.current
	e.previous.expires = now.Add(sessionOverlap)
	e.current = sessionState{id: id, key: key}
}

// expireWaitersLocked retransmits or fails ACK waiters past their
// deadline (spec.md §4.5 step 4).
func (e *Engine) expireWaitersLocked(now time.Time, onDeliveryFailed DeliveryFailedFunc) {
	due := e.waiters.expired(now)
	for id, w := range due {
		if w.retries >= maxRetransmits {
			e.drops[DropDeliveryFailed]++
			e.metrics.IncDrop(DropDeliveryFailed)
			if onDeliveryFailed != nil {
				onDeliveryFailed(PacketID(id))
			}
			continue
		}

		pkt := Packet{
			NetworkID: NetworkID,
			Version:   Version,
			TTL:       w.ttl,
			PacketID:  id,
			Src:       e.self,
			Dst:       w.dst,
			LastHop:   e.self,
			MsgType:   w.msgType,
			Flags:     w.flags,
			GroupID:   w.groupID,
		}
		copy(pkt.Payload[:], w.payload)

		if w.flags.Has(FlagEncrypted) {
			var zero [KeySize]byte
			if e.current.key == zero {
				e.drops[DropUnknownSession]++
				e.metrics.IncDrop(DropUnknownSession)
				continue
			}
			nonce := PacketNonce(pkt.PacketID, pkt.Src)
			aad := HeaderAAD(&pkt)
			ciphertext, tag, err := Seal(e.current.key, nonce, aad, pkt.Payload[:EncryptedPayloadCapacity])
			if err != nil {
				e.drops[DropUnknownSession]++
				e.metrics.IncDrop(DropUnknownSession)
				continue
			}
			copy(pkt.Payload[:EncryptedPayloadCapacity], ciphertext)
			copy(pkt.Payload[EncryptedPayloadCapacity:PayloadSize], tag[:])
		}

		nextHop, ok := e.nextHopLocked(w.dst)
		if !ok {
			e.drops[DropNoRoute]++
			e.metrics.IncDrop(DropNoRoute)
			continue
		}
		e.transmitLocked(&pkt, nextHop)
		e.waiters.reregister(id, w, now)
	}
	e.metrics.SetWaitingCount(e.waiters.Len())
}

// -------------------------------------------------------------------------
// Introspection
// -------------------------------------------------------------------------

// SnapshotRoutes returns a read-only copy of the routing table, for the
// administrative surface (spec.md §6).
func (e *Engine) SnapshotRoutes() []RoutingEntry {
	return e.routing.Snapshot()
}

// Counters returns a point-in-time copy of engine activity counters.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	drops := make(map[DropKind]uint64, len(e.drops))
	for k, v := range e.drops {
		drops[k] = v
	}
	return Counters{RX: e.rx, TX: e.tx, Drops: drops}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putUint32le(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
