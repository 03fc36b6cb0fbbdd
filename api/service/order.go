package service

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/chainrelay/swap-coordinator/api/pagination"
	"github.com/chainrelay/swap-coordinator/database/orm"
)

type baseOrder struct {
	OrderID      string `json:"order_id"`
	SecretHash   string `json:"secret_hash"`
	SourceLedger string `json:"source_ledger"`
	DestLedger   string `json:"dest_ledger"`
	Asset        string `json:"asset"`
	SourceAmount uint64 `json:"source_amount"`
	DestAmount   uint64 `json:"dest_amount"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
	CreatedAt    int64  `json:"created_at"`
}

func newBaseOrder(o *orm.Order) *baseOrder {
	return &baseOrder{
		OrderID:      o.OrderID,
		SecretHash:   o.SecretHash,
		SourceLedger: o.SourceLedger,
		DestLedger:   o.DestLedger,
		Asset:        o.Asset,
		SourceAmount: o.SourceAmount,
		DestAmount:   o.DestAmount,
		Status:       o.Status.String(),
		Reason:       o.Reason,
		ExpiresAt:    o.ExpiresAt,
		CreatedAt:    o.CreatedAt.Unix(),
	}
}

// Orders handles the /orders request.
func (s *Service) Orders(
	c *gin.Context,
	page *pagination.Query,
) (*pagination.Result, error) {
	query := s.db.Model(&orm.Order{})
	if status := c.Query("status"); status != "" {
		st := orm.StrToOrderStatus(status)
		if st == orm.OrderInvalid {
			return nil, errUnknownStatus
		}

		query = query.Where("status = ?", st)
	}

	if ledgerID := c.Query("ledger"); ledgerID != "" {
		query = query.Where(
			"source_ledger = ? or dest_ledger = ?",
			ledgerID, ledgerID,
		)
	}

	count := int64(0)
	if err := query.Count(&count).Error; err != nil {
		return nil, err
	}

	orders := make([]*orm.Order, 0)
	if err := query.Offset(page.Start).
		Limit(page.Limit).
		Order("id desc").
		Find(&orders).
		Error; err != nil {
		return nil, err
	}

	baseOrders := make([]*baseOrder, len(orders))
	for i, o := range orders {
		baseOrders[i] = newBaseOrder(o)
	}

	return &pagination.Result{
		Data:  baseOrders,
		Total: count,
	}, nil
}

type htlcResp struct {
	LedgerID        string `json:"ledger_id"`
	NativeID        string `json:"native_id"`
	Sender          string `json:"sender,omitempty"`
	Receiver        string `json:"receiver"`
	Amount          uint64 `json:"amount"`
	LockedRemaining uint64 `json:"locked_remaining"`
	Hashlock        string `json:"hashlock"`
	HashAlgorithm   string `json:"hash_algorithm"`
	TimelockExpiry  int64  `json:"timelock_expiry"`
	Status          string `json:"status"`
}

type orderResp struct {
	*baseOrder
	MinPartialAmount uint64      `json:"min_partial_amount"`
	DepositAmount    uint64      `json:"deposit_amount"`
	HTLCs            []*htlcResp `json:"htlcs"`
}

type orderReq struct {
	OrderID    string `form:"order_id"`
	SecretHash string `form:"secret_hash" binding:"omitempty,hexhash"`
}

// Order handles the /order request, looking up by order id or by the
// cross-ledger secret hash.
func (s *Service) Order(_ *gin.Context, req *orderReq) (*orderResp, error) {
	if req.OrderID == "" && req.SecretHash == "" {
		return nil, errMissingOrderID
	}

	query := s.db.Model(&orm.Order{})
	if req.OrderID != "" {
		query = query.Where("order_id = ?", req.OrderID)
	} else {
		query = query.Where("secret_hash = ?", req.SecretHash)
	}

	order := &orm.Order{}
	if err := query.First(order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errUnknownOrder
		}

		return nil, err
	}

	htlcs := make([]*orm.HTLC, 0)
	if err := s.db.Model(&orm.HTLC{}).
		Where("order_id = ?", order.OrderID).
		Order("id asc").
		Find(&htlcs).
		Error; err != nil {
		return nil, err
	}

	resp := &orderResp{
		baseOrder:        newBaseOrder(order),
		MinPartialAmount: order.MinPartialAmount,
		DepositAmount:    order.DepositAmount,
		HTLCs:            make([]*htlcResp, len(htlcs)),
	}
	for i, h := range htlcs {
		resp.HTLCs[i] = &htlcResp{
			LedgerID:        h.LedgerID,
			NativeID:        h.NativeID,
			Sender:          h.Sender,
			Receiver:        h.Receiver,
			Amount:          h.Amount,
			LockedRemaining: h.LockedRemaining,
			Hashlock:        h.Hashlock,
			HashAlgorithm:   h.HashAlgorithm,
			TimelockExpiry:  h.TimelockExpiry,
			Status:          h.Status.String(),
		}
	}

	return resp, nil
}

type htlcReq struct {
	LedgerID string `form:"ledger"`
	NativeID string `form:"native_id" binding:"required"`
}

// HTLC handles the /htlc request, resolving a ledger-native lock handle
// to its tracked state and owning order.
func (s *Service) HTLC(_ *gin.Context, req *htlcReq) (*htlcResp, error) {
	if req.LedgerID == "" {
		return nil, errMissingLedgerID
	}

	htlc := &orm.HTLC{}
	if err := s.db.Model(&orm.HTLC{}).
		Where("ledger_id = ? AND native_id = ?", req.LedgerID, req.NativeID).
		First(htlc).
		Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errUnknownOrder
		}

		return nil, err
	}

	return &htlcResp{
		LedgerID:        htlc.LedgerID,
		NativeID:        htlc.NativeID,
		Sender:          htlc.Sender,
		Receiver:        htlc.Receiver,
		Amount:          htlc.Amount,
		LockedRemaining: htlc.LockedRemaining,
		Hashlock:        htlc.Hashlock,
		HashAlgorithm:   htlc.HashAlgorithm,
		TimelockExpiry:  htlc.TimelockExpiry,
		Status:          htlc.Status.String(),
	}, nil
}
