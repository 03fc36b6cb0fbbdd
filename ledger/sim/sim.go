// Package sim implements an in-memory simulated ledger. It is fully
// deterministic: handles are sequential, time advances only through the
// injected clock, and events are emitted in a stable order. Tests drive it
// directly; local runs use it in place of a real ledger RPC endpoint.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainrelay/swap-coordinator/commit"
	"github.com/chainrelay/swap-coordinator/ledger"
)

type htlc struct {
	state ledger.HTLCState
	lock  ledger.LockDetails
}

// Ledger is a simulated ledger. The zero value is not usable; construct
// with New.
type Ledger struct {
	mu sync.Mutex

	id        string
	algorithm string
	now       int64
	seq       uint64
	htlcs     map[string]*htlc
	events    []ledger.Event

	// failures counts down transient errors injected by FailNext.
	failures int
}

// New returns a simulated ledger using the given digest algorithm for its
// hashlock checks.
func New(id, algorithm string) *Ledger {
	return &Ledger{
		id:        id,
		algorithm: algorithm,
		htlcs:     make(map[string]*htlc),
	}
}

// LedgerID implements ledger.Adapter.
func (l *Ledger) LedgerID() string {
	return l.id
}

// HashAlgorithm implements ledger.Adapter.
func (l *Ledger) HashAlgorithm() string {
	return l.algorithm
}

// FinalityDepth implements ledger.Adapter. Simulated events are final
// immediately.
func (l *Ledger) FinalityDepth() uint64 {
	return 0
}

// SetNow moves the simulated clock to the given Unix time.
func (l *Ledger) SetNow(now int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// FailNext makes the next n adapter calls fail with a transient error.
func (l *Ledger) FailNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = n
}

func (l *Ledger) failInjected() error {
	if l.failures > 0 {
		l.failures--
		return ledger.Unavailable(fmt.Errorf("injected failure"))
	}

	return nil
}

func (l *Ledger) emit(ev ledger.Event) {
	l.seq++
	ev.LedgerID = l.id
	ev.Cursor = l.seq
	l.events = append(l.events, ev)
}

// Lock implements ledger.Adapter.
func (l *Ledger) Lock(_ context.Context, params ledger.LockParams) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failInjected(); err != nil {
		return "", err
	}

	if params.Amount == 0 {
		return "", ledger.Rejected("zero amount")
	}

	if params.TimelockExpiry <= l.now {
		return "", ledger.Rejected("timelock already expired")
	}

	nativeID := fmt.Sprintf("%s-htlc-%d", l.id, len(l.htlcs)+1)
	h := &htlc{
		state: ledger.HTLCState{
			NativeID:        nativeID,
			Receiver:        params.Receiver,
			Asset:           params.Asset,
			Amount:          params.Amount,
			LockedRemaining: params.Amount,
			Hashlock:        params.Hashlock,
			TimelockExpiry:  params.TimelockExpiry,
		},
		lock: ledger.LockDetails{
			Receiver:         params.Receiver,
			Asset:            params.Asset,
			Amount:           params.Amount,
			MinPartialAmount: params.MinPartialAmount,
			Hashlock:         params.Hashlock,
			HashAlgorithm:    l.algorithm,
			TimelockExpiry:   params.TimelockExpiry,
		},
	}
	l.htlcs[nativeID] = h

	lock := h.lock
	l.emit(ledger.Event{
		Type:     ledger.EventLocked,
		NativeID: nativeID,
		Lock:     &lock,
	})

	return nativeID, nil
}

// LockWithIntent funds an HTLC carrying cross-chain intent, the way an
// initiator creates the source side of a swap. Tests use it to originate
// orders.
func (l *Ledger) LockWithIntent(details ledger.LockDetails) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	nativeID := fmt.Sprintf("%s-htlc-%d", l.id, len(l.htlcs)+1)
	details.HashAlgorithm = l.algorithm
	l.htlcs[nativeID] = &htlc{
		state: ledger.HTLCState{
			NativeID:        nativeID,
			Sender:          details.Sender,
			Receiver:        details.Receiver,
			Asset:           details.Asset,
			Amount:          details.Amount,
			LockedRemaining: details.Amount,
			Hashlock:        details.Hashlock,
			TimelockExpiry:  details.TimelockExpiry,
		},
		lock: details,
	}

	lock := details
	l.emit(ledger.Event{
		Type:     ledger.EventLocked,
		NativeID: nativeID,
		Lock:     &lock,
	})

	return nativeID
}

// Claim implements ledger.Adapter.
func (l *Ledger) Claim(_ context.Context, nativeID string, secret []byte, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failInjected(); err != nil {
		return err
	}

	h, ok := l.htlcs[nativeID]
	if !ok {
		return ledger.Rejected("unknown htlc")
	}

	if h.state.Refunded {
		return ledger.Rejected("already refunded")
	}

	if h.state.LockedRemaining == 0 {
		return ledger.Rejected("already claimed")
	}

	if l.now >= h.state.TimelockExpiry {
		return ledger.Rejected("timelock expired")
	}

	if !commit.Verify(secret, h.state.Hashlock, l.algorithm) {
		return ledger.Rejected("invalid secret")
	}

	if amount == 0 {
		amount = h.state.LockedRemaining
	}

	if amount > h.state.LockedRemaining {
		return ledger.Rejected("claim exceeds remaining")
	}

	if amount < h.state.LockedRemaining && amount < h.lock.MinPartialAmount {
		return ledger.Rejected("claim below minimum fill")
	}

	h.state.LockedRemaining -= amount
	if h.state.LockedRemaining == 0 {
		h.state.Claimed = true
	}

	l.emit(ledger.Event{
		Type:     ledger.EventClaimed,
		NativeID: nativeID,
		Secret:   append([]byte(nil), secret...),
		Amount:   amount,
	})

	return nil
}

// Refund implements ledger.Adapter.
func (l *Ledger) Refund(_ context.Context, nativeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failInjected(); err != nil {
		return err
	}

	h, ok := l.htlcs[nativeID]
	if !ok {
		return ledger.Rejected("unknown htlc")
	}

	if h.state.Claimed {
		return ledger.Rejected("already claimed")
	}

	if h.state.Refunded {
		return ledger.Rejected("already refunded")
	}

	if l.now < h.state.TimelockExpiry {
		return ledger.Rejected("timelock not expired")
	}

	h.state.Refunded = true
	h.state.LockedRemaining = 0

	l.emit(ledger.Event{
		Type:     ledger.EventRefunded,
		NativeID: nativeID,
	})

	return nil
}

// Get implements ledger.Adapter.
func (l *Ledger) Get(_ context.Context, nativeID string) (*ledger.HTLCState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failInjected(); err != nil {
		return nil, err
	}

	h, ok := l.htlcs[nativeID]
	if !ok {
		return nil, nil
	}

	state := h.state
	return &state, nil
}

// Events implements ledger.Adapter.
func (l *Ledger) Events(_ context.Context, cursor uint64) ([]ledger.Event, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failInjected(); err != nil {
		return nil, cursor, err
	}

	var out []ledger.Event
	next := cursor
	for _, ev := range l.events {
		if ev.Cursor <= cursor {
			continue
		}

		out = append(out, ev)
		next = ev.Cursor
	}

	return out, next, nil
}
