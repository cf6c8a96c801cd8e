package wallet

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
// A single mutex covers the read-compute-write of Append, which gives the
// same serialization guarantee the PostgreSQL row lock provides.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	txns     map[string]*Transaction
	order    []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		txns:     make(map[string]*Transaction),
	}
}

var _ Store = (*MemoryStore)(nil)

// Balance returns the current balance in minor units.
func (s *MemoryStore) Balance(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

// Append applies a pending transaction and stores it.
func (s *MemoryStore) Append(ctx context.Context, txn *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.balances[txn.UserID]
	after, err := txn.complete(before, time.Now())
	if err != nil {
		return err
	}

	s.balances[txn.UserID] = after
	stored := *txn
	s.txns[txn.ID] = &stored
	s.order = append(s.order, txn.ID)
	return nil
}

// Get returns a ledger entry by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	copied := *txn
	return &copied, nil
}

// List returns a user's entries, newest first.
func (s *MemoryStore) List(ctx context.Context, userID string, limit, offset int) ([]*Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*Transaction
	for i := len(s.order) - 1; i >= 0; i-- {
		if txn := s.txns[s.order[i]]; txn.UserID == userID {
			copied := *txn
			all = append(all, &copied)
		}
	}

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}
