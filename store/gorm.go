package store

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/chainrelay/swap-coordinator/database/orm"
)

// GormStore implements Store, Checkpoints and Events on a mysql-backed
// gorm handle.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a store over the given db handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint")
}

// CreateOrder implements Store.
func (s *GormStore) CreateOrder(ctx context.Context, order *orm.Order) error {
	return s.db.WithContext(ctx).Model(&orm.Order{}).Create(order).Error
}

// CreateHTLC implements Store.
func (s *GormStore) CreateHTLC(ctx context.Context, htlc *orm.HTLC) error {
	return s.db.WithContext(ctx).Model(&orm.HTLC{}).Create(htlc).Error
}

// Order implements Store.
func (s *GormStore) Order(ctx context.Context, orderID string) (*orm.Order, error) {
	order := &orm.Order{}
	err := s.db.WithContext(ctx).Model(order).
		Where("order_id = ?", orderID).
		First(order).Error
	switch err {
	case gorm.ErrRecordNotFound:
		return nil, ErrNotFound

	case nil:
		return order, nil

	default:
		return nil, err
	}
}

// OrderByLedgerHTLC implements Store.
func (s *GormStore) OrderByLedgerHTLC(ctx context.Context, ledgerID, nativeID string) (*orm.Order, error) {
	htlc, err := s.HTLC(ctx, ledgerID, nativeID)
	if err != nil {
		return nil, err
	}

	return s.Order(ctx, htlc.OrderID)
}

// OrderBySourceLock implements Store.
func (s *GormStore) OrderBySourceLock(ctx context.Context, ledgerID, nativeID string) (*orm.Order, error) {
	order := &orm.Order{}
	err := s.db.WithContext(ctx).Model(order).
		Where("source_ledger = ? AND source_native_id = ?", ledgerID, nativeID).
		First(order).Error
	switch err {
	case gorm.ErrRecordNotFound:
		return nil, ErrNotFound

	case nil:
		return order, nil

	default:
		return nil, err
	}
}

// HTLC implements Store.
func (s *GormStore) HTLC(ctx context.Context, ledgerID, nativeID string) (*orm.HTLC, error) {
	htlc := &orm.HTLC{}
	err := s.db.WithContext(ctx).Model(htlc).
		Where("ledger_id = ? AND native_id = ?", ledgerID, nativeID).
		First(htlc).Error
	switch err {
	case gorm.ErrRecordNotFound:
		return nil, ErrNotFound

	case nil:
		return htlc, nil

	default:
		return nil, err
	}
}

// HTLCsByOrder implements Store.
func (s *GormStore) HTLCsByOrder(ctx context.Context, orderID string) ([]*orm.HTLC, error) {
	htlcs := make([]*orm.HTLC, 0, 2)
	if err := s.db.WithContext(ctx).Model(&orm.HTLC{}).
		Where("order_id = ?", orderID).
		Find(&htlcs).Error; err != nil {
		return nil, err
	}

	return htlcs, nil
}

// CompareAndSwapOrder implements Store. The conditional UPDATE is the
// optimistic lock: the WHERE clause pins the status the caller read.
func (s *GormStore) CompareAndSwapOrder(ctx context.Context, expected orm.OrderStatus, order *orm.Order) (bool, error) {
	res := s.db.WithContext(ctx).Model(&orm.Order{}).
		Where("order_id = ? AND status = ?", order.OrderID, expected).
		Updates(map[string]interface{}{
			"status":         order.Status,
			"reason":         order.Reason,
			"secret":         order.Secret,
			"dest_ledger":    order.DestLedger,
			"dest_native_id": order.DestNativeID,
			"deposit_amount": order.DepositAmount,
			"expires_at":     order.ExpiresAt,
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// ClaimHTLC implements Store. The update is pinned to the remaining
// balance the caller raced against, so two concurrent claims can never
// both decrement the same funds.
func (s *GormStore) ClaimHTLC(ctx context.Context, ledgerID, nativeID string, amount uint64) (bool, error) {
	htlc, err := s.HTLC(ctx, ledgerID, nativeID)
	if err != nil {
		return false, err
	}

	if htlc.Status != orm.HTLCLocked && htlc.Status != orm.HTLCPartiallyClaimed {
		return false, nil
	}

	if amount > htlc.LockedRemaining {
		return false, nil
	}

	remaining := htlc.LockedRemaining - amount
	status := orm.HTLCPartiallyClaimed
	if remaining == 0 {
		status = orm.HTLCClaimed
	}

	res := s.db.WithContext(ctx).Model(&orm.HTLC{}).
		Where("ledger_id = ? AND native_id = ?", ledgerID, nativeID).
		Where("locked_remaining = ? AND status = ?", htlc.LockedRemaining, htlc.Status).
		Updates(map[string]interface{}{
			"locked_remaining": remaining,
			"status":           status,
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// SetHTLCStatus implements Store.
func (s *GormStore) SetHTLCStatus(ctx context.Context, ledgerID, nativeID string, from []orm.HTLCStatus, to orm.HTLCStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&orm.HTLC{}).
		Where("ledger_id = ? AND native_id = ?", ledgerID, nativeID).
		Where("status IN ?", from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

var activeStatuses = []orm.OrderStatus{
	orm.OrderCreated,
	orm.OrderSourceLocked,
	orm.OrderDestinationLocked,
	orm.OrderSecretRevealed,
}

// ListActive implements Store.
func (s *GormStore) ListActive(ctx context.Context) ([]*orm.Order, error) {
	out := make([]*orm.Order, 0)
	if err := s.db.WithContext(ctx).Model(&orm.Order{}).
		Where("status IN ?", activeStatuses).
		Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}

var settledHTLCStatuses = []orm.HTLCStatus{
	orm.HTLCClaimed,
	orm.HTLCRefunded,
	orm.HTLCExpired,
}

// ListExpiredUnsettled implements Store.
func (s *GormStore) ListExpiredUnsettled(ctx context.Context) ([]*orm.Order, error) {
	out := make([]*orm.Order, 0)
	if err := s.db.WithContext(ctx).Model(&orm.Order{}).
		Where("status = ?", orm.OrderExpired).
		Where("order_id IN (?)", s.db.Model(&orm.HTLC{}).
			Select("order_id").
			Where("status NOT IN ?", settledHTLCStatuses),
		).
		Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}

// SweepExpired implements Store.
func (s *GormStore) SweepExpired(ctx context.Context, now int64) ([]*orm.Order, error) {
	candidates := make([]*orm.Order, 0)
	if err := s.db.WithContext(ctx).Model(&orm.Order{}).
		Where("status IN ?", activeStatuses).
		Where("expires_at <= ?", now).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	swept := make([]*orm.Order, 0, len(candidates))
	for _, order := range candidates {
		expected := order.Status
		order.Status = orm.OrderExpired
		ok, err := s.CompareAndSwapOrder(ctx, expected, order)
		if err != nil {
			return swept, err
		}

		// A lost race means the order moved concurrently; the next
		// sweep re-evaluates it.
		if ok {
			swept = append(swept, order)
		}
	}

	return swept, nil
}

// Load implements Checkpoints.
func (s *GormStore) Load(ctx context.Context, ledgerID string) (uint64, error) {
	cp := &orm.Checkpoint{}
	err := s.db.WithContext(ctx).Model(cp).
		Where("ledger_id = ?", ledgerID).
		First(cp).Error
	switch err {
	case gorm.ErrRecordNotFound:
		return 0, nil

	case nil:
		return cp.Cursor, nil

	default:
		return 0, err
	}
}

// Save implements Checkpoints.
func (s *GormStore) Save(ctx context.Context, ledgerID string, cursor uint64) error {
	res := s.db.WithContext(ctx).Model(&orm.Checkpoint{}).
		Where("ledger_id = ?", ledgerID).
		Update("cursor", cursor)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 1 {
		return nil
	}

	return s.db.WithContext(ctx).Model(&orm.Checkpoint{}).Create(&orm.Checkpoint{
		LedgerID: ledgerID,
		Cursor:   cursor,
	}).Error
}

// Seen implements Events.
func (s *GormStore) Seen(ctx context.Context, ledgerID, nativeID, eventType string, cursor uint64) (bool, error) {
	count := int64(0)
	if err := s.db.WithContext(ctx).Model(&orm.LedgerEvent{}).
		Where("ledger_id = ? AND native_id = ? AND event_type = ? AND cursor = ?",
			ledgerID, nativeID, eventType, cursor).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

// MarkProcessed implements Events.
func (s *GormStore) MarkProcessed(ctx context.Context, ledgerID, nativeID, eventType string, cursor uint64) (bool, error) {
	err := s.db.WithContext(ctx).Model(&orm.LedgerEvent{}).Create(&orm.LedgerEvent{
		LedgerID:  ledgerID,
		NativeID:  nativeID,
		EventType: eventType,
		Cursor:    cursor,
	}).Error
	if isDuplicateKey(err) {
		return false, nil
	}

	if err != nil {
		return false, errors.Wrap(err, "record event")
	}

	return true, nil
}
