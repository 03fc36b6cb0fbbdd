package coordinator

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/photon-storage/go-common/log"

	"github.com/chainrelay/swap-coordinator/database/orm"
	"github.com/chainrelay/swap-coordinator/ledger"
)

// sequencer serializes transaction submissions against one ledger so a
// single signing identity never races its own nonce.
type sequencer struct {
	mu     sync.Mutex
	closed bool
	ch     chan func(context.Context)
}

func newSequencer() *sequencer {
	return &sequencer{
		ch: make(chan func(context.Context), 64),
	}
}

func (s *sequencer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()

			// Drain actions queued before shutdown; each sees the
			// cancelled context and unwinds its bookkeeping.
			for {
				select {
				case fn := <-s.ch:
					fn(ctx)

				default:
					return
				}
			}

		case fn := <-s.ch:
			fn(ctx)
		}
	}
}

// submit hands fn to the sequencer goroutine. Returns false once the
// sequencer has shut down; the caller unwinds inline. The send never
// blocks while holding the mutex, so shutdown cannot deadlock against a
// full queue.
func (s *sequencer) submit(fn func(context.Context)) bool {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return false
		}

		select {
		case s.ch <- fn:
			s.mu.Unlock()
			return true

		default:
		}
		s.mu.Unlock()

		// Queue full; wait for the sequencer to make room.
		time.Sleep(10 * time.Millisecond)
	}
}

// spawnAction runs fn on the target ledger's sequencer, guarded so only
// one action per (order, kind) is in flight at a time. Re-delivered
// events while an action is pending are dropped here; the durable state
// plus the sweeper recover anything that falls through.
func (c *Coordinator) spawnAction(orderID, kind, ledgerID string, fn func(context.Context)) {
	key := orderID + "/" + kind + ":" + ledgerID
	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		return
	}

	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}

	if c.syncActions {
		defer release()
		fn(context.Background())
		return
	}

	seq, ok := c.seqs[ledgerID]
	if !ok {
		release()
		return
	}

	c.wg.Add(1)
	wrapped := func(ctx context.Context) {
		defer c.wg.Done()
		defer release()
		if ctx.Err() != nil {
			return
		}

		fn(ctx)
	}

	go func() {
		if !seq.submit(wrapped) {
			// Sequencer already shut down; unwind the bookkeeping so
			// Wait does not block on an action that will never run.
			c.wg.Done()
			release()
		}
	}()
}

// submit drives one ledger operation with bounded exponential backoff.
// Deterministic rejections are permanent; transient unavailability is
// retried up to the configured attempt budget.
func (c *Coordinator) submit(ctx context.Context, a ledger.Adapter, orderID, op string, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if ledger.IsRejected(err) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.RelayAttempts), ctx))

	if err != nil {
		submissionFailures.WithLabelValues(a.LedgerID(), op).Inc()
		log.Error("ledger submission failed",
			"order", orderID,
			"ledger", a.LedgerID(),
			"op", op,
			"error", err,
		)
	}

	return err
}

// deployDestination locks the resolver's funds on the destination ledger
// and records the resulting HTLC. Confirmation still flows back through
// the monitor; the row written here is what lets the Locked event be
// recognized as our own deployment.
func (c *Coordinator) deployDestination(ctx context.Context, orderID string, a ledger.Adapter, lock *ledger.LockDetails) {
	var nativeID string
	err := c.submit(ctx, a, orderID, "lock", func(ctx context.Context) error {
		id, err := a.Lock(ctx, ledger.LockParams{
			Receiver:         lock.DestReceiver,
			Asset:            lock.DestAsset,
			Amount:           lock.DestAmount,
			MinPartialAmount: lock.MinPartialAmount,
			Hashlock:         lock.DestHashlock,
			TimelockExpiry:   lock.DestTimelockExpiry,
		})
		if err != nil {
			return err
		}

		nativeID = id
		return nil
	})

	if err != nil {
		if ledger.IsRejected(err) {
			if cerr := c.casRetry(ctx, orderID, func(o *orm.Order) error {
				if o.Status.Terminal() {
					return errSkip
				}

				o.Status = orm.OrderCancelled
				o.Reason = err.Error()
				return nil
			}); cerr != nil && !errors.Is(cerr, errSkip) {
				log.Error("cancel after rejected deployment failed",
					"order", orderID, "error", cerr)
			}

			if derr := c.releaseDeposit(ctx, orderID); derr != nil {
				log.Error("deposit release after rejected deployment failed",
					"order", orderID, "error", derr)
			}
		}

		// Transient exhaustion leaves the order in SourceLocked with its
		// collateral booked; the sweeper expires it once the source
		// timelock passes.
		return
	}

	if err := c.orders.CreateHTLC(ctx, &orm.HTLC{
		OrderID:         orderID,
		LedgerID:        a.LedgerID(),
		NativeID:        nativeID,
		Receiver:        lock.DestReceiver,
		Asset:           lock.DestAsset,
		Amount:          lock.DestAmount,
		LockedRemaining: lock.DestAmount,
		Hashlock:        hex.EncodeToString(lock.DestHashlock),
		HashAlgorithm:   a.HashAlgorithm(),
		TimelockExpiry:  lock.DestTimelockExpiry,
		Status:          orm.HTLCLocked,
	}); err != nil {
		log.Error("persist destination htlc failed",
			"order", orderID, "error", err)
		return
	}

	if err := c.casRetry(ctx, orderID, func(o *orm.Order) error {
		if o.Status != orm.OrderSourceLocked {
			return errSkip
		}

		o.Status = orm.OrderDestinationLocked
		o.DestNativeID = nativeID
		return nil
	}); err != nil && !errors.Is(err, errSkip) {
		log.Error("transition to destination-locked failed",
			"order", orderID, "error", err)
		return
	}

	destinationLocks.WithLabelValues(a.LedgerID()).Inc()
	log.Info("destination lock deployed",
		"order", orderID,
		"ledger", a.LedgerID(),
		"native_id", nativeID,
	)
}
