// Package store is the durable home of Order and HTLC records, the
// per-ledger monitor checkpoints and the processed-event idempotency log.
// The coordinator is the only writer; concurrent transitions on the same
// order race on CompareAndSwapOrder and exactly one wins.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/chainrelay/swap-coordinator/database/orm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store owns the order and HTLC tables.
type Store interface {
	// CreateOrder inserts a new order. OrderID must be unique.
	CreateOrder(ctx context.Context, order *orm.Order) error

	// CreateHTLC inserts a new ledger-side lock record.
	CreateHTLC(ctx context.Context, htlc *orm.HTLC) error

	// Order fetches an order by its id.
	Order(ctx context.Context, orderID string) (*orm.Order, error)

	// OrderByLedgerHTLC fetches the order owning the given ledger lock.
	OrderByLedgerHTLC(ctx context.Context, ledgerID, nativeID string) (*orm.Order, error)

	// OrderBySourceLock fetches the order originated from the given
	// source-side lock handle, whether or not its HTLC row landed yet.
	OrderBySourceLock(ctx context.Context, ledgerID, nativeID string) (*orm.Order, error)

	// HTLC fetches a lock record by its ledger handle.
	HTLC(ctx context.Context, ledgerID, nativeID string) (*orm.HTLC, error)

	// HTLCsByOrder returns both lock records of an order.
	HTLCsByOrder(ctx context.Context, orderID string) ([]*orm.HTLC, error)

	// CompareAndSwapOrder persists order only if the stored status still
	// equals expected. Returns false when another writer won the race;
	// the caller re-reads fresh state and retries.
	CompareAndSwapOrder(ctx context.Context, expected orm.OrderStatus, order *orm.Order) (bool, error)

	// ClaimHTLC atomically decrements a lock's remaining balance and
	// moves it to PartiallyClaimed or Claimed. Returns false when the
	// decrement would violate locked_remaining >= amount or the lock is
	// already terminal.
	ClaimHTLC(ctx context.Context, ledgerID, nativeID string, amount uint64) (bool, error)

	// SetHTLCStatus moves a lock from any of the from statuses to the
	// to status. Returns false when the lock was not in a from status.
	SetHTLCStatus(ctx context.Context, ledgerID, nativeID string, from []orm.HTLCStatus, to orm.HTLCStatus) (bool, error)

	// ListActive returns all orders not yet in a terminal status.
	ListActive(ctx context.Context) ([]*orm.Order, error)

	// SweepExpired marks every non-terminal order whose deadline has
	// passed as Expired and returns the swept orders so the caller can
	// trigger refunds. Each order is swept through the CAS path.
	SweepExpired(ctx context.Context, now int64) ([]*orm.Order, error)

	// ListExpiredUnsettled returns Expired orders still owning a lock
	// that is neither claimed nor refunded, so refund scheduling can
	// resume once the on-ledger timelocks open.
	ListExpiredUnsettled(ctx context.Context) ([]*orm.Order, error)
}

// Checkpoints persists the last safely processed event cursor per ledger.
type Checkpoints interface {
	Load(ctx context.Context, ledgerID string) (uint64, error)
	Save(ctx context.Context, ledgerID string, cursor uint64) error
}

// Events is the duplicate-delivery guard for normalized events. The
// monitor checks Seen before forwarding and records with MarkProcessed
// only after the consumer accepted the event, so a consumer failure is
// re-delivered on the next cycle instead of dropped.
type Events interface {
	// Seen reports whether the event was already recorded.
	Seen(ctx context.Context, ledgerID, nativeID, eventType string, cursor uint64) (bool, error)

	// MarkProcessed records the event under its idempotency key and
	// returns false if it was already recorded.
	MarkProcessed(ctx context.Context, ledgerID, nativeID, eventType string, cursor uint64) (bool, error)
}
