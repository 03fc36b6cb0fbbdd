// Package coordinator drives the cross-ledger order state machine. It
// consumes normalized monitor events, enforces the timelock-asymmetry
// policy before any destination funds move, propagates revealed secrets
// to the opposite ledger, and books resolver collateral.
//
// Event handling is re-entrant per order: events for different orders run
// fully in parallel, while concurrent transitions on the same order
// serialize through the store's compare-and-swap.
package coordinator

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/photon-storage/go-common/log"

	"github.com/chainrelay/swap-coordinator/commit"
	"github.com/chainrelay/swap-coordinator/database/orm"
	"github.com/chainrelay/swap-coordinator/deposit"
	"github.com/chainrelay/swap-coordinator/ledger"
	"github.com/chainrelay/swap-coordinator/store"
)

// Cancellation reasons surfaced on the order's status field.
const (
	ReasonUnsafeTimelockSkew  = "UnsafeTimelockSkew"
	ReasonInsufficientDeposit = "InsufficientDeposit"
	ReasonUnknownLedger       = "UnknownDestinationLedger"
)

// ErrInvariantBroken is surfaced when a transition keeps losing the
// compare-and-swap race beyond the retry budget. It indicates a stuck
// writer or pathological contention and needs manual attention.
var ErrInvariantBroken = errors.New("order transition lost cas race beyond retry budget")

// ErrInvalidPartialAmount marks a claim below the order's minimum
// partial amount or above the lock's remaining balance.
var ErrInvalidPartialAmount = errors.New("invalid partial amount")

// errSkip aborts a casRetry loop because the transition no longer
// applies to fresh state.
var errSkip = errors.New("transition no longer applicable")

// Config carries the coordinator policy knobs.
type Config struct {
	// SafetyMargin is the minimum gap between destination and source
	// timelocks. It must cover destination finality plus relay latency.
	SafetyMargin time.Duration

	// DepositMultiplier scales the destination amount into required
	// resolver collateral. Expected > 1.0.
	DepositMultiplier decimal.Decimal

	// CASRetryBudget bounds transition retries on the same order.
	CASRetryBudget int

	// MaxOrderLifetime caps an order's TTL independent of timelocks.
	MaxOrderLifetime time.Duration

	// RelayAttempts bounds transient retries of a claim or refund
	// submission before the order is left for the stalled-order alert.
	RelayAttempts uint64
}

// Coordinator is the swap orchestrator.
type Coordinator struct {
	cfg      Config
	adapters map[string]ledger.Adapter
	orders   store.Store
	deposits deposit.Ledger

	// now is injectable for deterministic tests.
	now func() int64

	mu       sync.Mutex
	inflight map[string]struct{}
	seqs     map[string]*sequencer
	wg       sync.WaitGroup

	// syncActions runs ledger actions inline instead of through the
	// sequencers, for deterministic tests.
	syncActions bool
}

// New wires a coordinator over the given adapters and stores.
func New(
	cfg Config,
	adapters []ledger.Adapter,
	orders store.Store,
	deposits deposit.Ledger,
) *Coordinator {
	byID := make(map[string]ledger.Adapter, len(adapters))
	seqs := make(map[string]*sequencer, len(adapters))
	for _, a := range adapters {
		byID[a.LedgerID()] = a
		seqs[a.LedgerID()] = newSequencer()
	}

	if cfg.CASRetryBudget == 0 {
		cfg.CASRetryBudget = 8
	}

	if cfg.RelayAttempts == 0 {
		cfg.RelayAttempts = 10
	}

	return &Coordinator{
		cfg:      cfg,
		adapters: byID,
		orders:   orders,
		deposits: deposits,
		now:      func() int64 { return time.Now().Unix() },
		inflight: make(map[string]struct{}),
		seqs:     seqs,
	}
}

// Start launches the per-ledger submission sequencers.
func (c *Coordinator) Start(ctx context.Context) {
	for _, seq := range c.seqs {
		c.wg.Add(1)
		go func(s *sequencer) {
			defer c.wg.Done()
			s.run(ctx)
		}(seq)
	}
}

// Wait blocks until all sequencers have drained after ctx cancellation.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// HandleEvent implements monitor.Handler.
func (c *Coordinator) HandleEvent(ctx context.Context, ev ledger.Event) error {
	switch ev.Type {
	case ledger.EventLocked:
		return c.handleLocked(ctx, ev)

	case ledger.EventClaimed:
		return c.handleClaimed(ctx, ev)

	case ledger.EventRefunded:
		return c.handleRefunded(ctx, ev)

	default:
		log.Warn("dropping event of unknown type",
			"ledger", ev.LedgerID, "native_id", ev.NativeID)
		return nil
	}
}

// handleLocked either confirms a destination lock the coordinator itself
// deployed, or originates a new order from an initiator's source lock.
func (c *Coordinator) handleLocked(ctx context.Context, ev ledger.Event) error {
	if _, err := c.orders.HTLC(ctx, ev.LedgerID, ev.NativeID); err == nil {
		// Known lock: the confirmation of a deployment we issued.
		return nil
	} else if err != store.ErrNotFound {
		return err
	}

	lock := ev.Lock
	if lock == nil || lock.DestLedgerID == "" {
		// Not a cross-chain order; nothing to coordinate.
		return nil
	}

	// The order row lands before its source HTLC row. A failure between
	// the two is resumed here on re-delivery instead of originating a
	// duplicate order or stranding one behind the known-lock check.
	order, err := c.orders.OrderBySourceLock(ctx, ev.LedgerID, ev.NativeID)
	if err == store.ErrNotFound {
		now := c.now()
		expiresAt := lock.TimelockExpiry
		if maxTTL := now + int64(c.cfg.MaxOrderLifetime/time.Second); c.cfg.MaxOrderLifetime > 0 && maxTTL < expiresAt {
			expiresAt = maxTTL
		}

		order = &orm.Order{
			OrderID:          uuid.NewString(),
			SecretHash:       hex.EncodeToString(lock.Hashlock),
			SourceLedger:     ev.LedgerID,
			SourceNativeID:   ev.NativeID,
			DestLedger:       lock.DestLedgerID,
			MinPartialAmount: lock.MinPartialAmount,
			SourceAmount:     lock.Amount,
			DestAmount:       lock.DestAmount,
			Asset:            lock.Asset,
			Status:           orm.OrderSourceLocked,
			ExpiresAt:        expiresAt,
		}
		if err := c.orders.CreateOrder(ctx, order); err != nil {
			return errors.Wrap(err, "persist order")
		}

		ordersCreated.Inc()
		log.Info("order created from source lock",
			"order", order.OrderID,
			"source", ev.LedgerID,
			"dest", lock.DestLedgerID,
			"amount", lock.Amount,
		)
	} else if err != nil {
		return err
	}

	if err := c.orders.CreateHTLC(ctx, &orm.HTLC{
		OrderID:         order.OrderID,
		LedgerID:        ev.LedgerID,
		NativeID:        ev.NativeID,
		Sender:          lock.Sender,
		Receiver:        lock.Receiver,
		Asset:           lock.Asset,
		Amount:          lock.Amount,
		LockedRemaining: lock.Amount,
		Hashlock:        hex.EncodeToString(lock.Hashlock),
		HashAlgorithm:   lock.HashAlgorithm,
		TimelockExpiry:  lock.TimelockExpiry,
		Status:          orm.HTLCLocked,
	}); err != nil {
		return errors.Wrap(err, "persist source htlc")
	}

	return c.acceptOrder(ctx, order, lock)
}

// acceptOrder runs the pre-funding policy gate and, when it passes,
// books collateral and schedules the destination lock deployment.
func (c *Coordinator) acceptOrder(ctx context.Context, order *orm.Order, lock *ledger.LockDetails) error {
	destAdapter, ok := c.adapters[lock.DestLedgerID]
	if !ok {
		return c.cancel(ctx, order, ReasonUnknownLedger)
	}

	if !commit.Supported(destAdapter.HashAlgorithm()) {
		return c.cancel(ctx, order, commit.ErrUnsupportedAlgorithm.Error())
	}

	// Timelock-asymmetry invariant: the destination window must close at
	// least SafetyMargin before the source window, or the resolver can
	// pay out on the destination with no path back to the source funds.
	// Equality is accepted: the margin already contains the slack.
	margin := int64(c.cfg.SafetyMargin / time.Second)
	if lock.DestTimelockExpiry > lock.TimelockExpiry-margin {
		ordersRejected.WithLabelValues(ReasonUnsafeTimelockSkew).Inc()
		return c.cancel(ctx, order, ReasonUnsafeTimelockSkew)
	}

	required := deposit.Required(lock.DestAmount, c.cfg.DepositMultiplier)
	if err := c.deposits.Lock(ctx, order.OrderID, lock.DestLedgerID, lock.DestAsset, required); err != nil {
		if errors.Is(err, deposit.ErrInsufficientDeposit) {
			ordersRejected.WithLabelValues(ReasonInsufficientDeposit).Inc()
			return c.cancel(ctx, order, ReasonInsufficientDeposit)
		}

		return err
	}

	// The deposit lock row is the durable marker that a destination
	// deployment is being attempted; persist it before any funds move.
	order.DepositAmount = required
	if err := c.casRetry(ctx, order.OrderID, func(o *orm.Order) error {
		if o.Status != orm.OrderSourceLocked {
			return errSkip
		}

		o.DepositAmount = required
		return nil
	}); err != nil && !errors.Is(err, errSkip) {
		return err
	}

	c.spawnAction(order.OrderID, "deploy", lock.DestLedgerID, func(ctx context.Context) {
		c.deployDestination(ctx, order.OrderID, destAdapter, lock)
	})

	return nil
}

// handleClaimed applies a (possibly partial) claim observed on one side
// and relays the revealed secret to the other.
func (c *Coordinator) handleClaimed(ctx context.Context, ev ledger.Event) error {
	htlc, err := c.orders.HTLC(ctx, ev.LedgerID, ev.NativeID)
	if err == store.ErrNotFound {
		return nil
	}

	if err != nil {
		return err
	}

	order, err := c.orders.Order(ctx, htlc.OrderID)
	if err != nil {
		return err
	}

	amount := ev.Amount
	if amount == 0 {
		amount = htlc.LockedRemaining
	}

	if err := c.validatePartial(order, htlc, amount); err != nil {
		log.Error("observed claim violates partial-fill policy",
			"order", order.OrderID,
			"ledger", ev.LedgerID,
			"amount", amount,
			"error", err,
		)
		return nil
	}

	applied, err := c.orders.ClaimHTLC(ctx, ev.LedgerID, ev.NativeID, amount)
	if err != nil {
		return err
	}

	if !applied {
		// Duplicate or racing claim already accounted for.
		return c.maybeComplete(ctx, order.OrderID)
	}

	// Relay runs destination to source only: the destination receiver is
	// the taker claiming their own tranches, while the source receiver is
	// the resolver, whose claim this coordinator submits. A claim seen on
	// the source side is our own submission confirming.
	if ev.LedgerID == order.DestLedger && len(ev.Secret) > 0 {
		other, err := c.otherHTLC(ctx, order, htlc)
		if err != nil {
			return err
		}

		if other != nil && !other.Status.Terminal() {
			c.relaySecret(ctx, order, htlc, other, ev.Secret)
		}
	}

	return c.maybeComplete(ctx, order.OrderID)
}

// relaySecret verifies the revealed secret against the opposite lock's
// hashlock/algorithm pair (a cheap local check) and schedules the claim
// on the opposite ledger.
func (c *Coordinator) relaySecret(ctx context.Context, order *orm.Order, claimed, other *orm.HTLC, secret []byte) {
	hashlock, err := hex.DecodeString(other.Hashlock)
	if err != nil || !commit.Verify(secret, hashlock, other.HashAlgorithm) {
		log.Error("revealed secret does not open opposite hashlock",
			"order", order.OrderID,
			"claimed_ledger", claimed.LedgerID,
			"other_ledger", other.LedgerID,
		)
		return
	}

	secretHex := hex.EncodeToString(secret)
	if err := c.casRetry(ctx, order.OrderID, func(o *orm.Order) error {
		if o.Status.Terminal() || o.Status == orm.OrderSecretRevealed {
			return errSkip
		}

		o.Status = orm.OrderSecretRevealed
		o.Secret = secretHex
		return nil
	}); err != nil && !errors.Is(err, errSkip) {
		log.Error("persist secret reveal failed",
			"order", order.OrderID, "error", err)
		return
	}

	adapter, ok := c.adapters[other.LedgerID]
	if !ok {
		log.Error("no adapter for relay target",
			"order", order.OrderID, "ledger", other.LedgerID)
		return
	}

	amount := other.LockedRemaining
	nativeID := other.NativeID
	c.spawnAction(order.OrderID, "claim", other.LedgerID, func(ctx context.Context) {
		c.submit(ctx, adapter, order.OrderID, "claim", func(ctx context.Context) error {
			return adapter.Claim(ctx, nativeID, secret, amount)
		})
		secretsRelayed.WithLabelValues(other.LedgerID).Inc()
	})
}

// handleRefunded marks the refunded side terminal and resolves the order
// once nothing is left locked.
func (c *Coordinator) handleRefunded(ctx context.Context, ev ledger.Event) error {
	htlc, err := c.orders.HTLC(ctx, ev.LedgerID, ev.NativeID)
	if err == store.ErrNotFound {
		return nil
	}

	if err != nil {
		return err
	}

	if _, err := c.orders.SetHTLCStatus(
		ctx, ev.LedgerID, ev.NativeID,
		[]orm.HTLCStatus{orm.HTLCLocked, orm.HTLCPartiallyClaimed, orm.HTLCExpired},
		orm.HTLCRefunded,
	); err != nil {
		return err
	}

	order, err := c.orders.Order(ctx, htlc.OrderID)
	if err != nil {
		return err
	}

	return c.resolveAfterRefund(ctx, order)
}

// resolveAfterRefund expires the order and releases collateral once no
// side remains claimable.
func (c *Coordinator) resolveAfterRefund(ctx context.Context, order *orm.Order) error {
	htlcs, err := c.orders.HTLCsByOrder(ctx, order.OrderID)
	if err != nil {
		return err
	}

	for _, h := range htlcs {
		if !h.Status.Terminal() {
			return nil
		}
	}

	if err := c.casRetry(ctx, order.OrderID, func(o *orm.Order) error {
		if o.Status.Terminal() {
			return errSkip
		}

		o.Status = orm.OrderExpired
		return nil
	}); err != nil && !errors.Is(err, errSkip) {
		return err
	}

	return c.releaseDeposit(ctx, order.OrderID)
}

// maybeComplete finishes the order once both sides are fully claimed.
func (c *Coordinator) maybeComplete(ctx context.Context, orderID string) error {
	htlcs, err := c.orders.HTLCsByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if len(htlcs) < 2 {
		return nil
	}

	for _, h := range htlcs {
		if h.Status != orm.HTLCClaimed || h.LockedRemaining != 0 {
			return nil
		}
	}

	err = c.casRetry(ctx, orderID, func(o *orm.Order) error {
		if o.Status.Terminal() {
			return errSkip
		}

		o.Status = orm.OrderCompleted
		return nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}

	if err != nil {
		return err
	}

	ordersCompleted.Inc()
	log.Info("order completed", "order", orderID)

	return c.releaseDeposit(ctx, orderID)
}

func (c *Coordinator) releaseDeposit(ctx context.Context, orderID string) error {
	err := c.deposits.Unlock(ctx, orderID)
	if errors.Is(err, deposit.ErrLockNotFound) {
		// No collateral was ever booked for this order.
		return nil
	}

	return err
}

// validatePartial enforces the partial-fill policy on observed claims.
func (c *Coordinator) validatePartial(order *orm.Order, htlc *orm.HTLC, amount uint64) error {
	if amount > htlc.LockedRemaining {
		return errors.Wrapf(ErrInvalidPartialAmount,
			"claim %d exceeds remaining %d", amount, htlc.LockedRemaining)
	}

	if amount < htlc.LockedRemaining && amount < order.MinPartialAmount {
		return errors.Wrapf(ErrInvalidPartialAmount,
			"partial claim %d below minimum %d", amount, order.MinPartialAmount)
	}

	return nil
}

func (c *Coordinator) otherHTLC(ctx context.Context, order *orm.Order, this *orm.HTLC) (*orm.HTLC, error) {
	htlcs, err := c.orders.HTLCsByOrder(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}

	for _, h := range htlcs {
		if h.LedgerID != this.LedgerID || h.NativeID != this.NativeID {
			return h, nil
		}
	}

	return nil, nil
}

// cancel moves an order to Cancelled with the given reason. Policy
// rejections land here before any destination funds move.
func (c *Coordinator) cancel(ctx context.Context, order *orm.Order, reason string) error {
	err := c.casRetry(ctx, order.OrderID, func(o *orm.Order) error {
		if o.Status.Terminal() {
			return errSkip
		}

		o.Status = orm.OrderCancelled
		o.Reason = reason
		return nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}

	return err
}

// casRetry re-reads the order and applies mutate under compare-and-swap
// until it wins, the transition stops applying (mutate returns errSkip,
// which is propagated), or the budget runs out.
func (c *Coordinator) casRetry(ctx context.Context, orderID string, mutate func(*orm.Order) error) error {
	for attempt := 0; attempt < c.cfg.CASRetryBudget; attempt++ {
		order, err := c.orders.Order(ctx, orderID)
		if err != nil {
			return err
		}

		expected := order.Status
		if err := mutate(order); err != nil {
			return err
		}

		ok, err := c.orders.CompareAndSwapOrder(ctx, expected, order)
		if err != nil {
			return err
		}

		if ok {
			return nil
		}
	}

	casBudgetExceeded.Inc()
	log.Error("order transition exceeded cas retry budget", "order", orderID)

	return errors.Wrap(ErrInvariantBroken, orderID)
}
