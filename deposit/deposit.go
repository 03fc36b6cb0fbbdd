// Package deposit accounts for resolver collateral per (ledger, asset).
// Locking is conditional on the available balance, so available funds can
// never go negative and a deposit can never back two orders at once.
package deposit

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/chainrelay/swap-coordinator/database/orm"
)

// ErrInsufficientDeposit is returned when a lock exceeds the available
// collateral.
var ErrInsufficientDeposit = errors.New("insufficient safety deposit")

// ErrLockNotFound is returned when no collateral is held for an order.
var ErrLockNotFound = errors.New("deposit lock not found")

// Ledger is the resolver collateral book.
type Ledger interface {
	// Add credits fresh collateral for (ledgerID, asset).
	Add(ctx context.Context, ledgerID, asset string, amount uint64) error

	// Lock moves amount from available to locked against orderID.
	// Fails with ErrInsufficientDeposit without changing state when the
	// available balance is short.
	Lock(ctx context.Context, orderID, ledgerID, asset string, amount uint64) error

	// Unlock releases the collateral held against orderID back to
	// available. Releasing twice is a no-op.
	Unlock(ctx context.Context, orderID string) error

	// Slash forfeits the collateral held against orderID. Administrative
	// operation for provable resolver failure.
	Slash(ctx context.Context, orderID string) error

	// Balances returns the current book.
	Balances(ctx context.Context) ([]*orm.SafetyDeposit, error)
}

// Required computes the collateral for a destination lock of amount minor
// units under the configured multiplier, rounded up.
func Required(amount uint64, multiplier decimal.Decimal) uint64 {
	required := decimal.NewFromInt(int64(amount)).Mul(multiplier)
	return uint64(required.Ceil().IntPart())
}
