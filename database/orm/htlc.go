package orm

import "time"

// HTLCStatus represents the lifecycle state of a single ledger-side lock.
type HTLCStatus uint8

const (
	HTLCInvalid HTLCStatus = iota
	HTLCLocked
	HTLCPartiallyClaimed
	HTLCClaimed
	HTLCRefunded
	HTLCExpired
)

var (
	htlcStatusValue = map[HTLCStatus]string{
		HTLCInvalid:          "INVALID",
		HTLCLocked:           "LOCKED",
		HTLCPartiallyClaimed: "PARTIALLY_CLAIMED",
		HTLCClaimed:          "CLAIMED",
		HTLCRefunded:         "REFUNDED",
		HTLCExpired:          "EXPIRED",
	}

	htlcValueStatus = map[string]HTLCStatus{
		"INVALID":           HTLCInvalid,
		"LOCKED":            HTLCLocked,
		"PARTIALLY_CLAIMED": HTLCPartiallyClaimed,
		"CLAIMED":           HTLCClaimed,
		"REFUNDED":          HTLCRefunded,
		"EXPIRED":           HTLCExpired,
	}
)

// StrToHTLCStatus converts a status string to an HTLC status.
func StrToHTLCStatus(str string) HTLCStatus {
	if _, ok := htlcValueStatus[str]; !ok {
		return HTLCInvalid
	}

	return htlcValueStatus[str]
}

// String returns the string of an HTLC status.
func (s HTLCStatus) String() string {
	if _, ok := htlcStatusValue[s]; !ok {
		return "unknown"
	}

	return htlcStatusValue[s]
}

// Terminal reports whether the lock can no longer change.
func (s HTLCStatus) Terminal() bool {
	return s == HTLCClaimed || s == HTLCRefunded || s == HTLCExpired
}

// HTLC is a gorm table definition representing one ledger-side lock.
// Rows are never deleted; terminal rows remain as the audit trail.
type HTLC struct {
	ID              uint64 `gorm:"primary_key"`
	OrderID         string `gorm:"index;size:64"`
	LedgerID        string `gorm:"uniqueIndex:idx_ledger_native;size:64"`
	NativeID        string `gorm:"uniqueIndex:idx_ledger_native;size:128"`
	Sender          string
	Receiver        string
	Asset           string
	Amount          uint64
	LockedRemaining uint64
	Hashlock        string `gorm:"size:128"`
	HashAlgorithm   string `gorm:"size:32"`
	TimelockExpiry  int64
	Status          HTLCStatus `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName change default table name
func (h HTLC) TableName() string {
	return "htlcs"
}
