package deposit

import (
	"context"

	"gorm.io/gorm"

	"github.com/chainrelay/swap-coordinator/database/orm"
)

// GormLedger implements Ledger on a mysql-backed gorm handle.
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger returns a collateral book over the given db handle.
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// Add implements Ledger.
func (l *GormLedger) Add(ctx context.Context, ledgerID, asset string, amount uint64) error {
	res := l.db.WithContext(ctx).Model(&orm.SafetyDeposit{}).
		Where("ledger_id = ? AND asset = ?", ledgerID, asset).
		Update("total_deposited", gorm.Expr("total_deposited + ?", amount))
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 1 {
		return nil
	}

	return l.db.WithContext(ctx).Model(&orm.SafetyDeposit{}).
		Create(&orm.SafetyDeposit{
			LedgerID:       ledgerID,
			Asset:          asset,
			TotalDeposited: amount,
		}).Error
}

// Lock implements Ledger. The conditional UPDATE enforces the
// available >= amount invariant at the database.
func (l *GormLedger) Lock(ctx context.Context, orderID, ledgerID, asset string, amount uint64) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&orm.SafetyDeposit{}).
			Where("ledger_id = ? AND asset = ?", ledgerID, asset).
			Where("total_deposited - locked - slashed >= ?", amount).
			Update("locked", gorm.Expr("locked + ?", amount))
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected != 1 {
			return ErrInsufficientDeposit
		}

		return tx.Model(&orm.DepositLock{}).Create(&orm.DepositLock{
			OrderID:  orderID,
			LedgerID: ledgerID,
			Asset:    asset,
			Amount:   amount,
		}).Error
	})
}

func (l *GormLedger) resolve(ctx context.Context, orderID string, slash bool) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lock := &orm.DepositLock{}
		err := tx.Model(lock).
			Where("order_id = ?", orderID).
			First(lock).Error
		if err == gorm.ErrRecordNotFound {
			return ErrLockNotFound
		}

		if err != nil {
			return err
		}

		if lock.Released || lock.Slashed {
			return nil
		}

		updates := map[string]interface{}{
			"locked": gorm.Expr("locked - ?", lock.Amount),
		}
		if slash {
			updates["slashed"] = gorm.Expr("slashed + ?", lock.Amount)
		}

		res := tx.Model(&orm.SafetyDeposit{}).
			Where("ledger_id = ? AND asset = ?", lock.LedgerID, lock.Asset).
			Where("locked >= ?", lock.Amount).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected != 1 {
			return ErrLockNotFound
		}

		return tx.Model(&orm.DepositLock{}).
			Where("order_id = ?", orderID).
			Updates(map[string]interface{}{
				"released": !slash,
				"slashed":  slash,
			}).Error
	})
}

// Unlock implements Ledger.
func (l *GormLedger) Unlock(ctx context.Context, orderID string) error {
	return l.resolve(ctx, orderID, false)
}

// Slash implements Ledger.
func (l *GormLedger) Slash(ctx context.Context, orderID string) error {
	return l.resolve(ctx, orderID, true)
}

// Balances implements Ledger.
func (l *GormLedger) Balances(ctx context.Context) ([]*orm.SafetyDeposit, error) {
	out := make([]*orm.SafetyDeposit, 0)
	if err := l.db.WithContext(ctx).Model(&orm.SafetyDeposit{}).
		Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}
