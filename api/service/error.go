package service

import "github.com/pkg/errors"

var (
	ErrSystem          = errors.New("system error")
	ErrInvalidRequest  = errors.New("invalid request")
	errMissingOrderID  = errors.New("missing order id")
	errUnknownOrder    = errors.New("unknown order")
	errUnknownStatus   = errors.New("unknown order status")
	errMissingLedgerID = errors.New("missing ledger id")
)

var ErrorCode = map[error]int{
	ErrSystem:          1000,
	ErrInvalidRequest:  1001,
	errMissingOrderID:  1002,
	errUnknownOrder:    1003,
	errUnknownStatus:   1004,
	errMissingLedgerID: 1005,
}
