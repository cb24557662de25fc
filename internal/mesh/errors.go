package mesh

import "errors"

// DropKind classifies why the engine discarded a packet or failed a send,
// for logging and metrics (spec.md §7). It is not itself an error type;
// engine callbacks and metrics label on it directly.
type DropKind uint8

// Drop reasons, ingress and egress.
const (
	DropMalformedFrame DropKind = iota
	DropInvalidHeader
	DropDuplicate
	DropAuthFailure
	DropUnknownSession
	DropTTLExhausted
	DropNoRoute
	DropTableFull
	DropLinkBusy
	DropPayloadTooLarge
	DropDeliveryFailed
)

// String names a drop reason for logs and metric labels.
func (k DropKind) String() string {
	switch k {
	case DropMalformedFrame:
		return "malformed_frame"
	case DropInvalidHeader:
		return "invalid_header"
	case DropDuplicate:
		return "duplicate"
	case DropAuthFailure:
		return "auth_failure"
	case DropUnknownSession:
		return "unknown_session"
	case DropTTLExhausted:
		return "ttl_exhausted"
	case DropNoRoute:
		return "no_route"
	case DropTableFull:
		return "table_full"
	case DropLinkBusy:
		return "link_busy"
	case DropPayloadTooLarge:
		return "payload_too_large"
	case DropDeliveryFailed:
		return "delivery_failed"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by Submit (spec.md §7). Callers should compare
// with errors.Is; the engine always wraps these with packet context via
// fmt.Errorf("...: %w", ...). TTL exhaustion, a full routing table, and
// delivery failure are ingest-side and asynchronous outcomes instead —
// they surface as DropKind counters/callbacks, not as errors a caller
// gets back from a call, so there is no sentinel for them here.
var (
	ErrUnknownSession  = errors.New("mesh: unknown session")
	ErrNoRoute         = errors.New("mesh: no route to destination")
	ErrLinkBusy        = errors.New("mesh: link busy")
	ErrPayloadTooLarge = errors.New("mesh: payload exceeds frame capacity")
)
