package coordinator

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/chainrelay/swap-coordinator/commit"
	"github.com/chainrelay/swap-coordinator/database/orm"
	"github.com/chainrelay/swap-coordinator/deposit"
	"github.com/chainrelay/swap-coordinator/ledger"
	"github.com/chainrelay/swap-coordinator/ledger/sim"
	"github.com/chainrelay/swap-coordinator/store"
)

const testNow = int64(1_700_000_000)

type testEnv struct {
	coord    *Coordinator
	src      *sim.Ledger
	dst      *sim.Ledger
	orders   *store.MemoryStore
	deposits *deposit.MemoryLedger
	cursors  map[string]uint64
}

func newTestEnv(t *testing.T, margin time.Duration) *testEnv {
	t.Helper()

	src := sim.New("src-chain", commit.SHA256)
	dst := sim.New("dst-chain", commit.Keccak256)
	src.SetNow(testNow)
	dst.SetNow(testNow)

	orders := store.NewMemoryStore()
	deposits := deposit.NewMemoryLedger()
	if err := deposits.Add(context.Background(), "dst-chain", "token", 10_000_000); err != nil {
		t.Fatalf("fund deposits: %v", err)
	}

	coord := New(
		Config{
			SafetyMargin:      margin,
			DepositMultiplier: decimal.NewFromFloat(1.1),
			CASRetryBudget:    8,
			RelayAttempts:     3,
		},
		[]ledger.Adapter{src, dst},
		orders,
		deposits,
	)
	coord.now = func() int64 { return testNow }
	coord.syncActions = true

	return &testEnv{
		coord:    coord,
		src:      src,
		dst:      dst,
		orders:   orders,
		deposits: deposits,
		cursors:  map[string]uint64{},
	}
}

// pump delivers all pending ledger events to the coordinator until both
// ledgers go quiet, applying the same duplicate guard the monitors
// apply: skip already-recorded events, record only after the
// coordinator accepted the delivery.
func (e *testEnv) pump(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	for {
		busy := false
		for _, l := range []*sim.Ledger{e.src, e.dst} {
			evs, next, err := l.Events(ctx, e.cursors[l.LedgerID()])
			if err != nil {
				t.Fatalf("poll %v: %v", l.LedgerID(), err)
			}

			for _, ev := range evs {
				seen, err := e.orders.Seen(
					ctx, ev.LedgerID, ev.NativeID, ev.Type.String(), ev.Cursor,
				)
				if err != nil {
					t.Fatalf("dedup check %v on %v: %v", ev.Type, ev.LedgerID, err)
				}

				if seen {
					continue
				}

				if err := e.coord.HandleEvent(ctx, ev); err != nil {
					t.Fatalf("handle %v on %v: %v", ev.Type, ev.LedgerID, err)
				}

				if _, err := e.orders.MarkProcessed(
					ctx, ev.LedgerID, ev.NativeID, ev.Type.String(), ev.Cursor,
				); err != nil {
					t.Fatalf("mark %v on %v: %v", ev.Type, ev.LedgerID, err)
				}
			}

			if next != e.cursors[l.LedgerID()] {
				busy = true
				e.cursors[l.LedgerID()] = next
			}
		}

		if !busy {
			return
		}
	}
}

func mustCommit(t *testing.T, secret []byte, algorithm string) []byte {
	t.Helper()

	hashlock, err := commit.Commit(secret, algorithm)
	if err != nil {
		t.Fatalf("commit secret: %v", err)
	}

	return hashlock
}

func (e *testEnv) lockSource(t *testing.T, secret []byte, amount, minPartial uint64, srcExpiry, dstExpiry int64) string {
	return e.src.LockWithIntent(ledger.LockDetails{
		Sender:             "alice",
		Receiver:           "resolver",
		Asset:              "token",
		Amount:             amount,
		MinPartialAmount:   minPartial,
		Hashlock:           mustCommit(t, secret, commit.SHA256),
		TimelockExpiry:     srcExpiry,
		DestLedgerID:       "dst-chain",
		DestReceiver:       "alice-dst",
		DestAsset:          "token",
		DestAmount:         amount,
		DestHashlock:       mustCommit(t, secret, commit.Keccak256),
		DestTimelockExpiry: dstExpiry,
	})
}

func (e *testEnv) orderFor(t *testing.T, nativeID string) *orm.Order {
	t.Helper()

	order, err := e.orders.OrderByLedgerHTLC(context.Background(), "src-chain", nativeID)
	if err != nil {
		t.Fatalf("lookup order for %v: %v", nativeID, err)
	}

	return order
}

func TestTimelockPolicy(t *testing.T) {
	margin := 1800 * time.Second

	testCases := []struct {
		name       string
		srcExpiry  int64
		dstExpiry  int64
		wantStatus orm.OrderStatus
		wantReason string
	}{
		{
			name:       "skew above margin accepted",
			srcExpiry:  testNow + 7200,
			dstExpiry:  testNow + 3600,
			wantStatus: orm.OrderDestinationLocked,
		},
		{
			name:       "skew equal to margin accepted",
			srcExpiry:  testNow + 7200,
			dstExpiry:  testNow + 5400,
			wantStatus: orm.OrderDestinationLocked,
		},
		{
			name:       "skew one second short rejected",
			srcExpiry:  testNow + 7200,
			dstExpiry:  testNow + 5401,
			wantStatus: orm.OrderCancelled,
			wantReason: ReasonUnsafeTimelockSkew,
		},
		{
			name:       "destination outlives source rejected",
			srcExpiry:  testNow + 3600,
			dstExpiry:  testNow + 7200,
			wantStatus: orm.OrderCancelled,
			wantReason: ReasonUnsafeTimelockSkew,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, margin)
			secret, err := commit.NewSecret()
			if err != nil {
				t.Fatalf("new secret: %v", err)
			}

			nativeID := env.lockSource(t, secret, 1_000_000, 100_000, tc.srcExpiry, tc.dstExpiry)
			env.pump(t)

			order := env.orderFor(t, nativeID)
			if order.Status != tc.wantStatus {
				t.Fatalf("order status: got %v, want %v", order.Status, tc.wantStatus)
			}

			if order.Reason != tc.wantReason {
				t.Errorf("order reason: got %q, want %q", order.Reason, tc.wantReason)
			}

			if tc.wantStatus == orm.OrderCancelled {
				balances, err := env.deposits.Balances(context.Background())
				if err != nil {
					t.Fatalf("balances: %v", err)
				}

				for _, b := range balances {
					if b.Locked != 0 {
						t.Errorf("rejected order holds collateral: %v locked", b.Locked)
					}
				}
			}
		})
	}
}

func TestPartialFillSwapCompletes(t *testing.T) {
	env := newTestEnv(t, 1800*time.Second)
	ctx := context.Background()

	secret, err := commit.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}

	nativeID := env.lockSource(t, secret, 1_000_000, 100_000, testNow+7200, testNow+5400)
	env.pump(t)

	order := env.orderFor(t, nativeID)
	if order.Status != orm.OrderDestinationLocked {
		t.Fatalf("after deployment: got %v, want %v", order.Status, orm.OrderDestinationLocked)
	}

	if order.DepositAmount != 1_100_000 {
		t.Fatalf("deposit amount: got %v, want 1100000", order.DepositAmount)
	}

	// The initiator claims a first tranche on destination, revealing the
	// secret.
	if err := env.dst.Claim(ctx, order.DestNativeID, secret, 300_000); err != nil {
		t.Fatalf("initiator partial claim: %v", err)
	}

	env.pump(t)

	order = env.orderFor(t, nativeID)
	if order.Status != orm.OrderSecretRevealed {
		t.Fatalf("after first tranche: got %v, want %v", order.Status, orm.OrderSecretRevealed)
	}

	if order.Secret != hex.EncodeToString(secret) {
		t.Errorf("persisted secret mismatch")
	}

	// The relayed secret must have swept the full source lock.
	srcHTLC, err := env.orders.HTLC(ctx, "src-chain", nativeID)
	if err != nil {
		t.Fatalf("source htlc: %v", err)
	}

	if srcHTLC.Status != orm.HTLCClaimed || srcHTLC.LockedRemaining != 0 {
		t.Fatalf("source side: got status %v remaining %v, want Claimed/0",
			srcHTLC.Status, srcHTLC.LockedRemaining)
	}

	dstHTLC, err := env.orders.HTLC(ctx, "dst-chain", order.DestNativeID)
	if err != nil {
		t.Fatalf("dest htlc: %v", err)
	}

	if dstHTLC.Status != orm.HTLCPartiallyClaimed || dstHTLC.LockedRemaining != 700_000 {
		t.Fatalf("dest side: got status %v remaining %v, want PartiallyClaimed/700000",
			dstHTLC.Status, dstHTLC.LockedRemaining)
	}

	// Remaining tranches exhaust the destination lock.
	for _, amount := range []uint64{500_000, 200_000} {
		if err := env.dst.Claim(ctx, order.DestNativeID, secret, amount); err != nil {
			t.Fatalf("claim %v: %v", amount, err)
		}
	}

	env.pump(t)

	order = env.orderFor(t, nativeID)
	if order.Status != orm.OrderCompleted {
		t.Fatalf("final status: got %v, want %v", order.Status, orm.OrderCompleted)
	}

	balances, err := env.deposits.Balances(ctx)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}

	for _, b := range balances {
		if b.Locked != 0 {
			t.Errorf("completed order still holds collateral: %v locked", b.Locked)
		}
	}
}

func TestDuplicateClaimEventIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 1800*time.Second)
	ctx := context.Background()

	secret, err := commit.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}

	nativeID := env.lockSource(t, secret, 1_000_000, 100_000, testNow+7200, testNow+5400)
	env.pump(t)

	order := env.orderFor(t, nativeID)
	if err := env.dst.Claim(ctx, order.DestNativeID, secret, 300_000); err != nil {
		t.Fatalf("partial claim: %v", err)
	}

	env.pump(t)

	// Rewind the cursor and re-deliver everything, as a monitor replay
	// after losing its checkpoint would.
	env.cursors["dst-chain"] = 0
	env.cursors["src-chain"] = 0
	env.pump(t)

	dstHTLC, err := env.orders.HTLC(ctx, "dst-chain", order.DestNativeID)
	if err != nil {
		t.Fatalf("dest htlc: %v", err)
	}

	if dstHTLC.LockedRemaining != 700_000 {
		t.Fatalf("replay changed remaining: got %v, want 700000", dstHTLC.LockedRemaining)
	}
}

func TestExpirySweepRefundsBothSides(t *testing.T) {
	env := newTestEnv(t, 1800*time.Second)
	ctx := context.Background()

	secret, err := commit.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}

	nativeID := env.lockSource(t, secret, 1_000_000, 100_000, testNow+7200, testNow+5400)
	env.pump(t)

	// Nobody claims; both timelocks pass.
	late := testNow + 7300
	env.coord.now = func() int64 { return late }
	env.src.SetNow(late)
	env.dst.SetNow(late)

	if err := env.coord.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	env.pump(t)

	order := env.orderFor(t, nativeID)
	if order.Status != orm.OrderExpired {
		t.Fatalf("order status: got %v, want %v", order.Status, orm.OrderExpired)
	}

	for _, ref := range []struct {
		ledgerID string
		nativeID string
	}{
		{"src-chain", nativeID},
		{"dst-chain", order.DestNativeID},
	} {
		h, err := env.orders.HTLC(ctx, ref.ledgerID, ref.nativeID)
		if err != nil {
			t.Fatalf("htlc %v: %v", ref.ledgerID, err)
		}

		if h.Status != orm.HTLCRefunded {
			t.Errorf("%v lock: got %v, want %v", ref.ledgerID, h.Status, orm.HTLCRefunded)
		}
	}

	balances, err := env.deposits.Balances(ctx)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}

	for _, b := range balances {
		if b.Locked != 0 {
			t.Errorf("expired order still holds collateral: %v locked", b.Locked)
		}
	}
}

func TestInsufficientDepositCancelsOrder(t *testing.T) {
	env := newTestEnv(t, 1800*time.Second)

	secret, err := commit.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}

	// Requires 11M collateral against the 10M funded in the test book.
	nativeID := env.lockSource(t, secret, 10_000_000, 100_000, testNow+7200, testNow+5400)
	env.pump(t)

	order := env.orderFor(t, nativeID)
	if order.Status != orm.OrderCancelled {
		t.Fatalf("order status: got %v, want %v", order.Status, orm.OrderCancelled)
	}

	if order.Reason != ReasonInsufficientDeposit {
		t.Errorf("order reason: got %q, want %q", order.Reason, ReasonInsufficientDeposit)
	}
}

// flakyStore injects transient insert failures around the memory store.
type flakyStore struct {
	*store.MemoryStore
	failHTLCInserts int
}

func (s *flakyStore) CreateHTLC(ctx context.Context, htlc *orm.HTLC) error {
	if s.failHTLCInserts > 0 {
		s.failHTLCInserts--
		return errors.New("storage unavailable")
	}

	return s.MemoryStore.CreateHTLC(ctx, htlc)
}

func TestSourceLockPersistRetryResumesOrder(t *testing.T) {
	ctx := context.Background()
	src := sim.New("src-chain", commit.SHA256)
	dst := sim.New("dst-chain", commit.Keccak256)
	src.SetNow(testNow)
	dst.SetNow(testNow)

	flaky := &flakyStore{MemoryStore: store.NewMemoryStore(), failHTLCInserts: 1}
	deposits := deposit.NewMemoryLedger()
	if err := deposits.Add(ctx, "dst-chain", "token", 10_000_000); err != nil {
		t.Fatalf("fund deposits: %v", err)
	}

	coord := New(
		Config{
			SafetyMargin:      1800 * time.Second,
			DepositMultiplier: decimal.NewFromFloat(1.1),
			CASRetryBudget:    8,
			RelayAttempts:     3,
		},
		[]ledger.Adapter{src, dst},
		flaky,
		deposits,
	)
	coord.now = func() int64 { return testNow }
	coord.syncActions = true

	secret, err := commit.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}

	nativeID := src.LockWithIntent(ledger.LockDetails{
		Sender:             "alice",
		Receiver:           "resolver",
		Asset:              "token",
		Amount:             1_000_000,
		MinPartialAmount:   100_000,
		Hashlock:           mustCommit(t, secret, commit.SHA256),
		TimelockExpiry:     testNow + 7200,
		DestLedgerID:       "dst-chain",
		DestReceiver:       "alice-dst",
		DestAsset:          "token",
		DestAmount:         1_000_000,
		DestHashlock:       mustCommit(t, secret, commit.Keccak256),
		DestTimelockExpiry: testNow + 5400,
	})

	evs, _, err := src.Events(ctx, 0)
	if err != nil {
		t.Fatalf("poll source: %v", err)
	}

	if len(evs) != 1 {
		t.Fatalf("source emitted %d events, want 1", len(evs))
	}

	if err := coord.HandleEvent(ctx, evs[0]); err == nil {
		t.Fatal("expected first delivery to fail on the lock persist")
	}

	// Re-delivery must resume the half-persisted order rather than
	// strand it behind the known-lock check or originate a duplicate.
	if err := coord.HandleEvent(ctx, evs[0]); err != nil {
		t.Fatalf("re-delivery: %v", err)
	}

	order, err := flaky.OrderByLedgerHTLC(ctx, "src-chain", nativeID)
	if err != nil {
		t.Fatalf("lookup order: %v", err)
	}

	if order.Status != orm.OrderDestinationLocked {
		t.Fatalf("order status: got %v, want %v", order.Status, orm.OrderDestinationLocked)
	}

	active, err := flaky.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}

	if len(active) != 1 {
		t.Errorf("re-delivery left %d active orders, want 1", len(active))
	}
}

func TestTTLExpiredOrderEventuallyRefunded(t *testing.T) {
	env := newTestEnv(t, 1800*time.Second)
	env.coord.cfg.MaxOrderLifetime = 700 * time.Second
	ctx := context.Background()

	secret, err := commit.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}

	nativeID := env.lockSource(t, secret, 1_000_000, 100_000, testNow+7200, testNow+5400)
	env.pump(t)

	// The lifetime cap expires the order long before either on-ledger
	// timelock opens, so the first sweep cannot refund anything yet.
	mid := testNow + 800
	env.coord.now = func() int64 { return mid }
	env.src.SetNow(mid)
	env.dst.SetNow(mid)

	if err := env.coord.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	env.pump(t)

	order := env.orderFor(t, nativeID)
	if order.Status != orm.OrderExpired {
		t.Fatalf("order status: got %v, want %v", order.Status, orm.OrderExpired)
	}

	srcHTLC, err := env.orders.HTLC(ctx, "src-chain", nativeID)
	if err != nil {
		t.Fatalf("source htlc: %v", err)
	}

	if srcHTLC.Status != orm.HTLCLocked {
		t.Fatalf("refund submitted before timelock opened: %v", srcHTLC.Status)
	}

	// Once the timelocks pass, a later sweep must pick the already
	// expired order back up and settle both sides.
	late := testNow + 7300
	env.coord.now = func() int64 { return late }
	env.src.SetNow(late)
	env.dst.SetNow(late)

	if err := env.coord.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	env.pump(t)

	for _, ref := range []struct {
		ledgerID string
		nativeID string
	}{
		{"src-chain", nativeID},
		{"dst-chain", order.DestNativeID},
	} {
		h, err := env.orders.HTLC(ctx, ref.ledgerID, ref.nativeID)
		if err != nil {
			t.Fatalf("htlc %v: %v", ref.ledgerID, err)
		}

		if h.Status != orm.HTLCRefunded {
			t.Errorf("%v lock: got %v, want %v", ref.ledgerID, h.Status, orm.HTLCRefunded)
		}
	}

	balances, err := env.deposits.Balances(ctx)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}

	for _, b := range balances {
		if b.Locked != 0 {
			t.Errorf("abandoned order still holds collateral: %v locked", b.Locked)
		}
	}
}

func TestSweepRefreshesGauges(t *testing.T) {
	env := newTestEnv(t, 1800*time.Second)
	ctx := context.Background()

	secret, err := commit.NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}

	env.lockSource(t, secret, 1_000_000, 100_000, testNow+7200, testNow+5400)
	env.pump(t)

	if err := env.coord.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	active, err := env.orders.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}

	if got := testutil.ToFloat64(ordersActive); got != float64(len(active)) {
		t.Errorf("active orders gauge = %v, want %v", got, len(active))
	}

	if got := testutil.ToFloat64(depositLocked.WithLabelValues("dst-chain", "token")); got != 1_100_000 {
		t.Errorf("locked collateral gauge = %v, want 1100000", got)
	}

	if got := testutil.ToFloat64(depositAvailable.WithLabelValues("dst-chain", "token")); got != 8_900_000 {
		t.Errorf("available collateral gauge = %v, want 8900000", got)
	}
}

func TestLockWithoutIntentIgnored(t *testing.T) {
	env := newTestEnv(t, 1800*time.Second)
	ctx := context.Background()

	if _, err := env.src.Lock(ctx, ledger.LockParams{
		Receiver:       "bob",
		Asset:          "token",
		Amount:         500,
		Hashlock:       mustCommit(t, make([]byte, commit.SecretSize), commit.SHA256),
		TimelockExpiry: testNow + 3600,
	}); err != nil {
		t.Fatalf("plain lock: %v", err)
	}

	env.pump(t)

	active, err := env.orders.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}

	if len(active) != 0 {
		t.Fatalf("plain lock originated %d orders, want 0", len(active))
	}
}
