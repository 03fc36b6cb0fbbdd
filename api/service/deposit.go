package service

import (
	"github.com/gin-gonic/gin"

	"github.com/chainrelay/swap-coordinator/api/pagination"
	"github.com/chainrelay/swap-coordinator/database/orm"
)

type depositResp struct {
	LedgerID       string `json:"ledger_id"`
	Asset          string `json:"asset"`
	TotalDeposited uint64 `json:"total_deposited"`
	Locked         uint64 `json:"locked"`
	Slashed        uint64 `json:"slashed"`
	Available      uint64 `json:"available"`
}

type depositsResp struct {
	Deposits []*depositResp `json:"deposits"`
}

// Deposits handles the /deposits request, reporting the resolver's
// collateral book.
func (s *Service) Deposits(_ *gin.Context) (*depositsResp, error) {
	deposits := make([]*orm.SafetyDeposit, 0)
	if err := s.db.Model(&orm.SafetyDeposit{}).
		Order("ledger_id asc, asset asc").
		Find(&deposits).
		Error; err != nil {
		return nil, err
	}

	resp := &depositsResp{
		Deposits: make([]*depositResp, len(deposits)),
	}
	for i, d := range deposits {
		resp.Deposits[i] = &depositResp{
			LedgerID:       d.LedgerID,
			Asset:          d.Asset,
			TotalDeposited: d.TotalDeposited,
			Locked:         d.Locked,
			Slashed:        d.Slashed,
			Available:      d.Available(),
		}
	}

	return resp, nil
}

// DepositLocks handles the /deposits/locks request listing the per-order
// collateral holds.
func (s *Service) DepositLocks(
	c *gin.Context,
	page *pagination.Query,
) (*pagination.Result, error) {
	query := s.db.Model(&orm.DepositLock{})
	if ledgerID := c.Query("ledger"); ledgerID != "" {
		query = query.Where("ledger_id = ?", ledgerID)
	}

	count := int64(0)
	if err := query.Count(&count).Error; err != nil {
		return nil, err
	}

	locks := make([]*orm.DepositLock, 0)
	if err := query.Offset(page.Start).
		Limit(page.Limit).
		Order("id desc").
		Find(&locks).
		Error; err != nil {
		return nil, err
	}

	return &pagination.Result{
		Data:  locks,
		Total: count,
	}, nil
}

type slashReq struct {
	OrderID string `form:"order_id" binding:"required"`
}

// SlashDeposit handles the /deposits/slash request. Administrative
// operation forfeiting the collateral held against an order after
// provable resolver failure.
func (s *Service) SlashDeposit(c *gin.Context, req *slashReq) error {
	return s.deposits.Slash(c.Request.Context(), req.OrderID)
}
