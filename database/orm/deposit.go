package orm

import "time"

// SafetyDeposit is a gorm table definition holding resolver collateral
// per (ledger, asset). Available balance is always total minus locked;
// locking is conditional so available can never go negative.
type SafetyDeposit struct {
	ID             uint64 `gorm:"primary_key"`
	LedgerID       string `gorm:"uniqueIndex:idx_ledger_asset;size:64"`
	Asset          string `gorm:"uniqueIndex:idx_ledger_asset;size:128"`
	TotalDeposited uint64
	Locked         uint64
	Slashed        uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Available returns the spendable portion of the deposit.
func (d SafetyDeposit) Available() uint64 {
	return d.TotalDeposited - d.Locked - d.Slashed
}

// TableName change default table name
func (d SafetyDeposit) TableName() string {
	return "safety_deposits"
}

// DepositLock records the collateral held against a single order so the
// exact amount can be released or slashed on resolution.
type DepositLock struct {
	ID        uint64 `gorm:"primary_key"`
	OrderID   string `gorm:"uniqueIndex;size:64"`
	LedgerID  string
	Asset     string
	Amount    uint64
	Released  bool
	Slashed   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName change default table name
func (l DepositLock) TableName() string {
	return "deposit_locks"
}
