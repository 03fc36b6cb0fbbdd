package orm

import "time"

// OrderStatus represents the lifecycle state of a cross-ledger swap order.
type OrderStatus uint8

const (
	OrderInvalid OrderStatus = iota
	OrderCreated
	OrderSourceLocked
	OrderDestinationLocked
	OrderSecretRevealed
	OrderCompleted
	OrderExpired
	OrderCancelled
)

var (
	orderStatusValue = map[OrderStatus]string{
		OrderInvalid:           "INVALID",
		OrderCreated:           "CREATED",
		OrderSourceLocked:      "SOURCE_LOCKED",
		OrderDestinationLocked: "DESTINATION_LOCKED",
		OrderSecretRevealed:    "SECRET_REVEALED",
		OrderCompleted:         "COMPLETED",
		OrderExpired:           "EXPIRED",
		OrderCancelled:         "CANCELLED",
	}

	orderValueStatus = map[string]OrderStatus{
		"INVALID":            OrderInvalid,
		"CREATED":            OrderCreated,
		"SOURCE_LOCKED":      OrderSourceLocked,
		"DESTINATION_LOCKED": OrderDestinationLocked,
		"SECRET_REVEALED":    OrderSecretRevealed,
		"COMPLETED":          OrderCompleted,
		"EXPIRED":            OrderExpired,
		"CANCELLED":          OrderCancelled,
	}
)

// StrToOrderStatus converts a status string to an order status.
func StrToOrderStatus(str string) OrderStatus {
	if _, ok := orderValueStatus[str]; !ok {
		return OrderInvalid
	}

	return orderValueStatus[str]
}

// String returns the string of an order status.
func (s OrderStatus) String() string {
	if _, ok := orderStatusValue[s]; !ok {
		return "unknown"
	}

	return orderStatusValue[s]
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderExpired || s == OrderCancelled
}

// Order is a gorm table definition representing a swap spanning exactly
// two HTLCs. SecretHash is the cross-ledger correlation key; the
// per-ledger hashlocks live on the HTLC rows because each ledger may
// commit the same secret under a different digest algorithm.
type Order struct {
	ID               uint64 `gorm:"primary_key"`
	OrderID          string `gorm:"uniqueIndex;size:64"`
	SecretHash       string `gorm:"index;size:128"`
	Secret           string
	SourceLedger     string
	SourceNativeID   string
	DestLedger       string
	DestNativeID     string
	MinPartialAmount uint64
	SourceAmount     uint64
	DestAmount       uint64
	Asset            string
	DepositAmount    uint64
	Status           OrderStatus `gorm:"index"`
	Reason           string
	ExpiresAt        int64 `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName change default table name
func (o Order) TableName() string {
	return "orders"
}
