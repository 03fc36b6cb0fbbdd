// Package service implements the read-only HTTP endpoints over the order
// and collateral tables. The coordinator daemon is the only writer; this
// surface exists for operators and takers to inspect swap progress.
package service

import (
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/chainrelay/swap-coordinator/deposit"
)

// Service handles third-party requests against the swap database.
type Service struct {
	db       *gorm.DB
	deposits deposit.Ledger
	startAt  time.Time
}

var hexHashReg = regexp.MustCompile("^(0x)?[0-9a-fA-F]{64}$")

// New creates a new service instance and registers the custom request
// validations used by the order endpoints.
func New(db *gorm.DB) *Service {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// hexhash accepts a 32-byte hex digest with optional 0x prefix.
		_ = v.RegisterValidation("hexhash", func(fl validator.FieldLevel) bool {
			return hexHashReg.MatchString(fl.Field().String())
		})
	}

	return &Service{
		db:       db,
		deposits: deposit.NewGormLedger(db),
		startAt:  time.Now(),
	}
}

type pingResp struct {
	Pong string `json:"pong"`
}

func (s *Service) Ping(_ *gin.Context) (*pingResp, error) {
	return &pingResp{Pong: "pong"}, nil
}
