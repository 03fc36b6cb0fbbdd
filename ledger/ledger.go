// Package ledger defines the capability interface every supported ledger
// implements, and the normalized event stream the coordinator consumes.
// Native event formats, clock epochs and finality rules stay behind this
// boundary; timelocks cross it as Unix seconds and amounts as integer
// minor units.
package ledger

import (
	"context"
)

// EventType identifies a normalized ledger event.
type EventType uint8

const (
	EventInvalid EventType = iota
	EventLocked
	EventClaimed
	EventRefunded
)

var eventTypeValue = map[EventType]string{
	EventInvalid:  "INVALID",
	EventLocked:   "LOCKED",
	EventClaimed:  "CLAIMED",
	EventRefunded: "REFUNDED",
}

// String returns the string of an event type.
func (t EventType) String() string {
	if _, ok := eventTypeValue[t]; !ok {
		return "unknown"
	}

	return eventTypeValue[t]
}

// LockDetails carries the cross-chain intent published with a lock. The
// destination fields are supplied by the initiator when the source HTLC is
// funded; the destination hashlock is the same secret committed under the
// destination ledger's digest algorithm.
type LockDetails struct {
	Sender           string
	Receiver         string
	Asset            string
	Amount           uint64
	MinPartialAmount uint64
	Hashlock         []byte
	HashAlgorithm    string
	TimelockExpiry   int64

	DestLedgerID       string
	DestReceiver       string
	DestAsset          string
	DestAmount         uint64
	DestHashlock       []byte
	DestTimelockExpiry int64
}

// Event is a normalized, finalized ledger event. Cursor is a monotonic
// per-ledger position used for checkpointing; (LedgerID, NativeID, Type,
// Cursor) is the idempotency key for de-duplication, so a replayed event
// is dropped while a later partial claim on the same lock is not.
type Event struct {
	Type     EventType
	LedgerID string
	NativeID string
	Cursor   uint64

	// Lock is set for EventLocked.
	Lock *LockDetails

	// Secret and Amount are set for EventClaimed. Amount is the claimed
	// portion; a zero Amount means the full remaining balance.
	Secret []byte
	Amount uint64
}

// HTLCState is a point-in-time view of a ledger-side lock as reported by
// the ledger itself.
type HTLCState struct {
	NativeID        string
	Sender          string
	Receiver        string
	Asset           string
	Amount          uint64
	LockedRemaining uint64
	Hashlock        []byte
	TimelockExpiry  int64
	Claimed         bool
	Refunded        bool
}

// LockParams are the arguments to Adapter.Lock.
type LockParams struct {
	Receiver         string
	Asset            string
	Amount           uint64
	MinPartialAmount uint64
	Hashlock         []byte
	TimelockExpiry   int64
}

// Adapter is implemented once per supported ledger. Claim and Refund are
// idempotent by construction: the on-ledger contract rejects a second
// successful claim, so resubmitting after a timeout is safe.
type Adapter interface {
	// LedgerID returns the unique identifier of this ledger.
	LedgerID() string

	// HashAlgorithm returns the digest algorithm the ledger's HTLC
	// contract applies to revealed secrets.
	HashAlgorithm() string

	// FinalityDepth returns the number of confirmations an event needs
	// before it is trusted.
	FinalityDepth() uint64

	// Lock creates an HTLC and returns its ledger-assigned handle.
	Lock(ctx context.Context, params LockParams) (string, error)

	// Claim reveals the secret to sweep locked funds. A zero amount
	// claims the full remaining balance; a non-zero amount performs a
	// partial claim where the ledger supports it.
	Claim(ctx context.Context, nativeID string, secret []byte, amount uint64) error

	// Refund returns expired locked funds to the sender.
	Refund(ctx context.Context, nativeID string) error

	// Get fetches the ledger's view of an HTLC, or nil if unknown.
	Get(ctx context.Context, nativeID string) (*HTLCState, error)

	// Events returns finalized events after cursor in order, and the new
	// cursor to resume from. Push-based ledgers buffer their subscription
	// behind this poll surface.
	Events(ctx context.Context, cursor uint64) ([]Event, uint64, error)
}
