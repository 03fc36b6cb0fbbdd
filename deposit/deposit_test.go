package deposit

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLockUnlockAccounting(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if err := l.Add(ctx, "evm-test", "USDC", 1_000_000); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := l.Lock(ctx, "order-1", "evm-test", "USDC", 600_000); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	// Second lock exceeding the remaining available must fail and leave
	// the book untouched.
	if err := l.Lock(ctx, "order-2", "evm-test", "USDC", 500_000); err != ErrInsufficientDeposit {
		t.Fatalf("over-lock returned %v, want ErrInsufficientDeposit", err)
	}

	balances, err := l.Balances(ctx)
	if err != nil {
		t.Fatalf("balances failed: %v", err)
	}

	if len(balances) != 1 {
		t.Fatalf("expected one balance row, got %d", len(balances))
	}

	if got := balances[0].Available(); got != 400_000 {
		t.Errorf("available = %d, want 400000", got)
	}

	if err := l.Unlock(ctx, "order-1"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	// Unlock is idempotent.
	if err := l.Unlock(ctx, "order-1"); err != nil {
		t.Fatalf("repeat unlock failed: %v", err)
	}

	balances, err = l.Balances(ctx)
	if err != nil {
		t.Fatalf("balances failed: %v", err)
	}

	if got := balances[0].Available(); got != 1_000_000 {
		t.Errorf("available after unlock = %d, want 1000000", got)
	}
}

func TestSlash(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if err := l.Add(ctx, "sim-a", "XLM", 500_000); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := l.Lock(ctx, "order-bad", "sim-a", "XLM", 200_000); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	if err := l.Slash(ctx, "order-bad"); err != nil {
		t.Fatalf("slash failed: %v", err)
	}

	balances, err := l.Balances(ctx)
	if err != nil {
		t.Fatalf("balances failed: %v", err)
	}

	d := balances[0]
	if d.Slashed != 200_000 {
		t.Errorf("slashed = %d, want 200000", d.Slashed)
	}

	if d.Locked != 0 {
		t.Errorf("locked = %d, want 0", d.Locked)
	}

	if got := d.Available(); got != 300_000 {
		t.Errorf("available = %d, want 300000", got)
	}

	if err := l.Slash(ctx, "order-unknown"); err != ErrLockNotFound {
		t.Errorf("slash unknown order returned %v, want ErrLockNotFound", err)
	}
}

func TestRequired(t *testing.T) {
	testCases := []struct {
		name       string
		amount     uint64
		multiplier string
		want       uint64
	}{
		{
			name:       "default multiplier rounds up",
			amount:     1_000_001,
			multiplier: "1.1",
			want:       1_100_002,
		},
		{
			name:       "exact multiple",
			amount:     1_000_000,
			multiplier: "1.5",
			want:       1_500_000,
		},
		{
			name:       "unit multiplier",
			amount:     42,
			multiplier: "1.0",
			want:       42,
		},
	}
	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			m, err := decimal.NewFromString(c.multiplier)
			if err != nil {
				t.Fatalf("bad multiplier: %v", err)
			}

			if got := Required(c.amount, m); got != c.want {
				t.Errorf("required = %d, want %d", got, c.want)
			}
		})
	}
}
