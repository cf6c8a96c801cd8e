package settlement

import (
	"context"
	"sync"
	"time"
)

// MemoryPaymentStore is an in-memory PaymentStore used by tests and local
// development.
type MemoryPaymentStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
	byOrder  map[string]string
	webhooks map[string]struct{}
}

// NewMemoryPaymentStore creates an empty in-memory payment store.
func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{
		payments: make(map[string]*Payment),
		byOrder:  make(map[string]string),
		webhooks: make(map[string]struct{}),
	}
}

var _ PaymentStore = (*MemoryPaymentStore)(nil)

// Create inserts a new payment.
func (s *MemoryPaymentStore) Create(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *p
	s.payments[p.ID] = &copied
	if p.GatewayOrderID != "" {
		s.byOrder[p.GatewayOrderID] = p.ID
	}
	return nil
}

// Get returns a payment by ID.
func (s *MemoryPaymentStore) Get(ctx context.Context, id string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

// GetByOrderID returns the payment linked to a gateway order.
func (s *MemoryPaymentStore) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOrder[orderID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	copied := *s.payments[id]
	return &copied, nil
}

// Update persists the payment's mutable fields with the terminal guard.
func (s *MemoryPaymentStore) Update(ctx context.Context, p *Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.payments[p.ID]
	if !ok {
		return false, ErrPaymentNotFound
	}
	if current.Status.IsTerminal() {
		return false, nil
	}

	p.UpdatedAt = time.Now().UTC()
	copied := *p
	s.payments[p.ID] = &copied
	if p.GatewayOrderID != "" {
		s.byOrder[p.GatewayOrderID] = p.ID
	}
	return true, nil
}

// MarkWebhookProcessed records an order_id+event pair, once.
func (s *MemoryPaymentStore) MarkWebhookProcessed(ctx context.Context, orderID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := orderID + "|" + eventType
	if _, seen := s.webhooks[key]; seen {
		return false, nil
	}
	s.webhooks[key] = struct{}{}
	return true, nil
}
