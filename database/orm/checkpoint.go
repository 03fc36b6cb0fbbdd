package orm

import "time"

// Checkpoint is a gorm table definition storing the last safely processed
// event cursor per ledger. The monitor only advances it after every event
// up to the cursor has been forwarded, so a restart re-reads rather than
// skips.
type Checkpoint struct {
	ID        uint64 `gorm:"primary_key"`
	LedgerID  string `gorm:"uniqueIndex;size:64"`
	Cursor    uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName change default table name
func (c Checkpoint) TableName() string {
	return "checkpoints"
}

// LedgerEvent is a gorm table definition recording every normalized event
// the monitors have forwarded. The unique (ledger, native id, type, cursor)
// key is the idempotency guard for duplicate delivery: a replayed event
// carries the cursor it was first seen at, while a genuinely new event on
// the same lock (a further partial claim) carries a fresh cursor.
type LedgerEvent struct {
	ID        uint64 `gorm:"primary_key"`
	LedgerID  string `gorm:"uniqueIndex:idx_event_key;size:64"`
	NativeID  string `gorm:"uniqueIndex:idx_event_key;size:128"`
	EventType string `gorm:"uniqueIndex:idx_event_key;size:16"`
	Cursor    uint64 `gorm:"uniqueIndex:idx_event_key"`
	CreatedAt time.Time
}

// TableName change default table name
func (e LedgerEvent) TableName() string {
	return "ledger_events"
}
