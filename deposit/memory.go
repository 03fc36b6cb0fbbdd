package deposit

import (
	"context"
	"sort"
	"sync"

	"github.com/chainrelay/swap-coordinator/database/orm"
)

// MemoryLedger is an in-memory collateral book with the same semantics as
// the mysql-backed one. Tests and simulator runs use it.
type MemoryLedger struct {
	mu sync.Mutex

	deposits map[string]*orm.SafetyDeposit // key ledgerID + "/" + asset
	locks    map[string]*orm.DepositLock   // key orderID
}

// NewMemoryLedger returns an empty in-memory collateral book.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		deposits: make(map[string]*orm.SafetyDeposit),
		locks:    make(map[string]*orm.DepositLock),
	}
}

func depositKey(ledgerID, asset string) string {
	return ledgerID + "/" + asset
}

// Add implements Ledger.
func (l *MemoryLedger) Add(_ context.Context, ledgerID, asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := depositKey(ledgerID, asset)
	d, ok := l.deposits[key]
	if !ok {
		d = &orm.SafetyDeposit{LedgerID: ledgerID, Asset: asset}
		l.deposits[key] = d
	}

	d.TotalDeposited += amount
	return nil
}

// Lock implements Ledger.
func (l *MemoryLedger) Lock(_ context.Context, orderID, ledgerID, asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.deposits[depositKey(ledgerID, asset)]
	if !ok || d.Available() < amount {
		return ErrInsufficientDeposit
	}

	d.Locked += amount
	l.locks[orderID] = &orm.DepositLock{
		OrderID:  orderID,
		LedgerID: ledgerID,
		Asset:    asset,
		Amount:   amount,
	}

	return nil
}

func (l *MemoryLedger) resolve(orderID string, slash bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[orderID]
	if !ok {
		return ErrLockNotFound
	}

	if lock.Released || lock.Slashed {
		return nil
	}

	d, ok := l.deposits[depositKey(lock.LedgerID, lock.Asset)]
	if !ok || d.Locked < lock.Amount {
		return ErrLockNotFound
	}

	d.Locked -= lock.Amount
	if slash {
		d.Slashed += lock.Amount
		lock.Slashed = true
	} else {
		lock.Released = true
	}

	return nil
}

// Unlock implements Ledger.
func (l *MemoryLedger) Unlock(_ context.Context, orderID string) error {
	return l.resolve(orderID, false)
}

// Slash implements Ledger.
func (l *MemoryLedger) Slash(_ context.Context, orderID string) error {
	return l.resolve(orderID, true)
}

// Balances implements Ledger.
func (l *MemoryLedger) Balances(_ context.Context) ([]*orm.SafetyDeposit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*orm.SafetyDeposit, 0, len(l.deposits))
	for _, d := range l.deposits {
		c := *d
		out = append(out, &c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LedgerID != out[j].LedgerID {
			return out[i].LedgerID < out[j].LedgerID
		}
		return out[i].Asset < out[j].Asset
	})

	return out, nil
}
