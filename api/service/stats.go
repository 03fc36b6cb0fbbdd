package service

import (
	"time"

	"github.com/docker/go-units"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/chainrelay/swap-coordinator/database/orm"
)

type statsResp struct {
	ActiveOrders    int64  `json:"active_orders"`
	CompletedOrders int64  `json:"completed_orders"`
	ExpiredOrders   int64  `json:"expired_orders"`
	CancelledOrders int64  `json:"cancelled_orders"`
	SettledVolume   uint64 `json:"settled_volume"`
	SuccessRate     string `json:"success_rate"`
	Uptime          string `json:"uptime"`
}

// Stats handles the /stats request.
func (s *Service) Stats(_ *gin.Context) (*statsResp, error) {
	active := int64(0)
	if err := s.db.Model(&orm.Order{}).
		Where("status in ?", []orm.OrderStatus{
			orm.OrderCreated,
			orm.OrderSourceLocked,
			orm.OrderDestinationLocked,
			orm.OrderSecretRevealed,
		}).
		Count(&active).
		Error; err != nil {
		return nil, err
	}

	counts := make(map[orm.OrderStatus]int64)
	for _, st := range []orm.OrderStatus{
		orm.OrderCompleted,
		orm.OrderExpired,
		orm.OrderCancelled,
	} {
		n := int64(0)
		if err := s.db.Model(&orm.Order{}).
			Where("status = ?", st).
			Count(&n).
			Error; err != nil {
			return nil, err
		}

		counts[st] = n
	}

	volume := new(struct{ Volume uint64 })
	if err := s.db.Model(&orm.Order{}).
		Select("coalesce(sum(source_amount), 0) as volume").
		Where("status = ?", orm.OrderCompleted).
		Scan(volume).
		Error; err != nil {
		return nil, err
	}

	rate := "n/a"
	if settled := counts[orm.OrderCompleted] + counts[orm.OrderExpired]; settled > 0 {
		rate = decimal.NewFromInt(counts[orm.OrderCompleted]).
			Div(decimal.NewFromInt(settled)).
			Mul(decimal.NewFromInt(100)).
			Round(2).
			String() + "%"
	}

	return &statsResp{
		ActiveOrders:    active,
		CompletedOrders: counts[orm.OrderCompleted],
		ExpiredOrders:   counts[orm.OrderExpired],
		CancelledOrders: counts[orm.OrderCancelled],
		SettledVolume:   volume.Volume,
		SuccessRate:     rate,
		Uptime:          units.HumanDuration(time.Since(s.startAt)),
	}, nil
}
