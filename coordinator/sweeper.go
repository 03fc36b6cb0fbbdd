package coordinator

import (
	"context"
	"time"

	"github.com/photon-storage/go-common/log"

	"github.com/chainrelay/swap-coordinator/database/orm"
	"github.com/chainrelay/swap-coordinator/ledger"
)

// RunSweeper periodically expires orders whose deadline has passed and
// issues refunds for whatever is still locked on either ledger. Refund
// confirmations flow back through the monitor, which marks the HTLC rows
// terminal and releases collateral.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := c.Sweep(ctx); err != nil {
				log.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one expiry pass.
func (c *Coordinator) Sweep(ctx context.Context) error {
	// Orders expired on an earlier pass may still own locks whose
	// on-ledger timelocks had not opened yet. Keep rescheduling their
	// refunds until every side settles and the collateral is released.
	stale, err := c.orders.ListExpiredUnsettled(ctx)
	if err != nil {
		return err
	}

	for _, order := range stale {
		if err := c.refundOrder(ctx, order); err != nil {
			log.Error("refund scheduling failed",
				"order", order.OrderID, "error", err)
		}
	}

	swept, err := c.orders.SweepExpired(ctx, c.now())
	if err != nil {
		return err
	}

	for _, order := range swept {
		ordersExpired.Inc()
		log.Warn("order expired",
			"order", order.OrderID,
			"expires_at", order.ExpiresAt,
		)

		if err := c.refundOrder(ctx, order); err != nil {
			log.Error("refund scheduling failed",
				"order", order.OrderID, "error", err)
		}
	}

	return c.updateGauges(ctx)
}

// updateGauges refreshes the point-in-time gauges once per sweep pass.
func (c *Coordinator) updateGauges(ctx context.Context) error {
	active, err := c.orders.ListActive(ctx)
	if err != nil {
		return err
	}

	ordersActive.Set(float64(len(active)))

	balances, err := c.deposits.Balances(ctx)
	if err != nil {
		return err
	}

	for _, b := range balances {
		depositAvailable.WithLabelValues(b.LedgerID, b.Asset).Set(float64(b.Available()))
		depositLocked.WithLabelValues(b.LedgerID, b.Asset).Set(float64(b.Locked))
	}

	return nil
}

// refundOrder schedules refunds for every non-terminal lock of an
// expired order. An order expired before its destination deployment has
// only collateral to release.
func (c *Coordinator) refundOrder(ctx context.Context, order *orm.Order) error {
	htlcs, err := c.orders.HTLCsByOrder(ctx, order.OrderID)
	if err != nil {
		return err
	}

	pending := false
	for _, h := range htlcs {
		if h.Status.Terminal() {
			continue
		}

		adapter, ok := c.adapters[h.LedgerID]
		if !ok {
			log.Error("no adapter for expired lock",
				"order", order.OrderID, "ledger", h.LedgerID)
			continue
		}

		// Refunds before the on-ledger timelock are deterministic
		// rejections; only schedule once the window has opened.
		if c.now() < h.TimelockExpiry {
			pending = true
			continue
		}

		pending = true
		nativeID := h.NativeID
		c.spawnAction(order.OrderID, "refund", h.LedgerID, func(ctx context.Context) {
			if err := c.submit(ctx, adapter, order.OrderID, "refund", func(ctx context.Context) error {
				return adapter.Refund(ctx, nativeID)
			}); err != nil && ledger.IsRejected(err) {
				// Already claimed or already refunded on-ledger; the
				// corresponding event settles the row.
				log.Warn("refund rejected by ledger",
					"order", order.OrderID,
					"ledger", adapter.LedgerID(),
					"error", err,
				)
			}
		})
	}

	if !pending {
		return c.releaseDeposit(ctx, order.OrderID)
	}

	return nil
}
