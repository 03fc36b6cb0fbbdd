package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainrelay/swap-coordinator/database/orm"
)

// MemoryStore is an in-memory implementation of Store, Checkpoints and
// Events with the same conditional-write semantics as the mysql-backed
// store. Tests and local simulator runs use it in place of a database.
type MemoryStore struct {
	mu sync.Mutex

	orders      map[string]*orm.Order
	htlcs       map[string]*orm.HTLC // key ledgerID + "/" + nativeID
	checkpoints map[string]uint64
	events      map[string]struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]*orm.Order),
		htlcs:       make(map[string]*orm.HTLC),
		checkpoints: make(map[string]uint64),
		events:      make(map[string]struct{}),
	}
}

func htlcKey(ledgerID, nativeID string) string {
	return ledgerID + "/" + nativeID
}

func copyOrder(o *orm.Order) *orm.Order {
	c := *o
	return &c
}

func copyHTLC(h *orm.HTLC) *orm.HTLC {
	c := *h
	return &c
}

// CreateOrder implements Store.
func (s *MemoryStore) CreateOrder(_ context.Context, order *orm.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[order.OrderID] = copyOrder(order)
	return nil
}

// CreateHTLC implements Store.
func (s *MemoryStore) CreateHTLC(_ context.Context, htlc *orm.HTLC) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.htlcs[htlcKey(htlc.LedgerID, htlc.NativeID)] = copyHTLC(htlc)
	return nil
}

// Order implements Store.
func (s *MemoryStore) Order(_ context.Context, orderID string) (*orm.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}

	return copyOrder(order), nil
}

// OrderByLedgerHTLC implements Store.
func (s *MemoryStore) OrderByLedgerHTLC(ctx context.Context, ledgerID, nativeID string) (*orm.Order, error) {
	s.mu.Lock()
	htlc, ok := s.htlcs[htlcKey(ledgerID, nativeID)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	return s.Order(ctx, htlc.OrderID)
}

// OrderBySourceLock implements Store.
func (s *MemoryStore) OrderBySourceLock(_ context.Context, ledgerID, nativeID string) (*orm.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.SourceLedger == ledgerID && order.SourceNativeID == nativeID {
			return copyOrder(order), nil
		}
	}

	return nil, ErrNotFound
}

// HTLC implements Store.
func (s *MemoryStore) HTLC(_ context.Context, ledgerID, nativeID string) (*orm.HTLC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	htlc, ok := s.htlcs[htlcKey(ledgerID, nativeID)]
	if !ok {
		return nil, ErrNotFound
	}

	return copyHTLC(htlc), nil
}

// HTLCsByOrder implements Store.
func (s *MemoryStore) HTLCsByOrder(_ context.Context, orderID string) ([]*orm.HTLC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*orm.HTLC, 0, 2)
	for _, htlc := range s.htlcs {
		if htlc.OrderID == orderID {
			out = append(out, copyHTLC(htlc))
		}
	}

	return out, nil
}

// CompareAndSwapOrder implements Store.
func (s *MemoryStore) CompareAndSwapOrder(_ context.Context, expected orm.OrderStatus, order *orm.Order) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.OrderID]
	if !ok {
		return false, ErrNotFound
	}

	if current.Status != expected {
		return false, nil
	}

	s.orders[order.OrderID] = copyOrder(order)
	return true, nil
}

// ClaimHTLC implements Store.
func (s *MemoryStore) ClaimHTLC(_ context.Context, ledgerID, nativeID string, amount uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	htlc, ok := s.htlcs[htlcKey(ledgerID, nativeID)]
	if !ok {
		return false, ErrNotFound
	}

	if htlc.Status != orm.HTLCLocked && htlc.Status != orm.HTLCPartiallyClaimed {
		return false, nil
	}

	if amount > htlc.LockedRemaining {
		return false, nil
	}

	htlc.LockedRemaining -= amount
	if htlc.LockedRemaining == 0 {
		htlc.Status = orm.HTLCClaimed
	} else {
		htlc.Status = orm.HTLCPartiallyClaimed
	}

	return true, nil
}

// SetHTLCStatus implements Store.
func (s *MemoryStore) SetHTLCStatus(_ context.Context, ledgerID, nativeID string, from []orm.HTLCStatus, to orm.HTLCStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	htlc, ok := s.htlcs[htlcKey(ledgerID, nativeID)]
	if !ok {
		return false, ErrNotFound
	}

	for _, status := range from {
		if htlc.Status == status {
			htlc.Status = to
			return true, nil
		}
	}

	return false, nil
}

// ListActive implements Store.
func (s *MemoryStore) ListActive(_ context.Context) ([]*orm.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*orm.Order, 0)
	for _, order := range s.orders {
		if !order.Status.Terminal() {
			out = append(out, copyOrder(order))
		}
	}

	return out, nil
}

// SweepExpired implements Store.
func (s *MemoryStore) SweepExpired(_ context.Context, now int64) ([]*orm.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := make([]*orm.Order, 0)
	for _, order := range s.orders {
		if order.Status.Terminal() || order.ExpiresAt > now {
			continue
		}

		order.Status = orm.OrderExpired
		swept = append(swept, copyOrder(order))
	}

	return swept, nil
}

// ListExpiredUnsettled implements Store.
func (s *MemoryStore) ListExpiredUnsettled(_ context.Context) ([]*orm.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*orm.Order, 0)
	for _, order := range s.orders {
		if order.Status != orm.OrderExpired {
			continue
		}

		for _, htlc := range s.htlcs {
			if htlc.OrderID == order.OrderID && !htlc.Status.Terminal() {
				out = append(out, copyOrder(order))
				break
			}
		}
	}

	return out, nil
}

// Load implements Checkpoints.
func (s *MemoryStore) Load(_ context.Context, ledgerID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkpoints[ledgerID], nil
}

// Save implements Checkpoints.
func (s *MemoryStore) Save(_ context.Context, ledgerID string, cursor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[ledgerID] = cursor
	return nil
}

func eventKey(ledgerID, nativeID, eventType string, cursor uint64) string {
	return fmt.Sprintf("%s/%s/%s/%d", ledgerID, nativeID, eventType, cursor)
}

// Seen implements Events.
func (s *MemoryStore) Seen(_ context.Context, ledgerID, nativeID, eventType string, cursor uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.events[eventKey(ledgerID, nativeID, eventType, cursor)]
	return ok, nil
}

// MarkProcessed implements Events.
func (s *MemoryStore) MarkProcessed(_ context.Context, ledgerID, nativeID, eventType string, cursor uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(ledgerID, nativeID, eventType, cursor)
	if _, ok := s.events[key]; ok {
		return false, nil
	}

	s.events[key] = struct{}{}
	return true, nil
}
