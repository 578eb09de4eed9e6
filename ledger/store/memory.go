// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps all records in maps guarded by one RWMutex. WithTx holds the
// write lock for the whole callback, so transactions are serialized.
type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	customers map[int64]ledger.Customer
	debts     map[int64]ledger.Debt
	payments  map[int64]ledger.Payment
	nextID    int64
}

func NewMemory() *Memory {
	return &Memory{state: memoryState{
		customers: make(map[int64]ledger.Customer),
		debts:     make(map[int64]ledger.Debt),
		payments:  make(map[int64]ledger.Payment),
	}}
}

func (m *Memory) ListCustomers(ctx context.Context, filter ledger.CustomerFilter) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listCustomers(filter), nil
}

func (m *Memory) GetCustomer(ctx context.Context, id int64) (*ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getCustomer(id), nil
}

func (m *Memory) CreateCustomer(ctx context.Context, c *ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.createCustomer(c)
	return nil
}

func (m *Memory) UpdateCustomer(ctx context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateCustomer(c)
}

func (m *Memory) ListDebts(ctx context.Context, filter ledger.DebtFilter) ([]ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listDebts(filter), nil
}

func (m *Memory) GetDebt(ctx context.Context, id int64) (*ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getDebt(id), nil
}

func (m *Memory) GetDebtForUpdate(ctx context.Context, id int64) (*ledger.Debt, error) {
	return m.GetDebt(ctx, id)
}

func (m *Memory) CreateDebt(ctx context.Context, d *ledger.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createDebt(d)
}

func (m *Memory) UpdateDebt(ctx context.Context, d ledger.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateDebt(d)
}

func (m *Memory) UpdateDebtBalance(ctx context.Context, id int64, expectedPaid, newPaid decimal.Decimal, status ledger.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateDebtBalance(id, expectedPaid, newPaid, status)
}

func (m *Memory) DeleteDebt(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteDebt(id), nil
}

func (m *Memory) ListPayments(ctx context.Context) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listPayments(), nil
}

func (m *Memory) PaymentsByDebt(ctx context.Context, debtIDs ...int64) (map[int64][]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.paymentsByDebt(debtIDs), nil
}

func (m *Memory) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createPayment(p)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// WithReadTx runs fn under the read lock; writers wait until it returns.
func (m *Memory) WithReadTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return fn(&txView{state: &m.state, readOnly: true})
}

func (s *memoryState) clone() memoryState {
	c := memoryState{
		customers: make(map[int64]ledger.Customer, len(s.customers)),
		debts:     make(map[int64]ledger.Debt, len(s.debts)),
		payments:  make(map[int64]ledger.Payment, len(s.payments)),
		nextID:    s.nextID,
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.debts {
		c.debts[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

// txView runs store calls against the state without taking the lock, which
// the enclosing WithTx or WithReadTx already holds.
type txView struct {
	state    *memoryState
	readOnly bool
}

var errReadOnly = &ledger.StoreError{Op: "memory", Err: errors.New("write inside a read-only transaction")}

func (v *txView) ListCustomers(ctx context.Context, filter ledger.CustomerFilter) ([]ledger.Customer, error) {
	return v.state.listCustomers(filter), nil
}

func (v *txView) GetCustomer(ctx context.Context, id int64) (*ledger.Customer, error) {
	return v.state.getCustomer(id), nil
}

func (v *txView) CreateCustomer(ctx context.Context, c *ledger.Customer) error {
	if v.readOnly {
		return errReadOnly
	}
	v.state.createCustomer(c)
	return nil
}

func (v *txView) UpdateCustomer(ctx context.Context, c ledger.Customer) error {
	if v.readOnly {
		return errReadOnly
	}
	return v.state.updateCustomer(c)
}

func (v *txView) ListDebts(ctx context.Context, filter ledger.DebtFilter) ([]ledger.Debt, error) {
	return v.state.listDebts(filter), nil
}

func (v *txView) GetDebt(ctx context.Context, id int64) (*ledger.Debt, error) {
	return v.state.getDebt(id), nil
}

func (v *txView) GetDebtForUpdate(ctx context.Context, id int64) (*ledger.Debt, error) {
	return v.state.getDebt(id), nil
}

func (v *txView) CreateDebt(ctx context.Context, d *ledger.Debt) error {
	if v.readOnly {
		return errReadOnly
	}
	return v.state.createDebt(d)
}

func (v *txView) UpdateDebt(ctx context.Context, d ledger.Debt) error {
	if v.readOnly {
		return errReadOnly
	}
	return v.state.updateDebt(d)
}

func (v *txView) UpdateDebtBalance(ctx context.Context, id int64, expectedPaid, newPaid decimal.Decimal, status ledger.Status) error {
	if v.readOnly {
		return errReadOnly
	}
	return v.state.updateDebtBalance(id, expectedPaid, newPaid, status)
}

func (v *txView) DeleteDebt(ctx context.Context, id int64) (bool, error) {
	if v.readOnly {
		return false, errReadOnly
	}
	return v.state.deleteDebt(id), nil
}

func (v *txView) ListPayments(ctx context.Context) ([]ledger.Payment, error) {
	return v.state.listPayments(), nil
}

func (v *txView) PaymentsByDebt(ctx context.Context, debtIDs ...int64) (map[int64][]ledger.Payment, error) {
	return v.state.paymentsByDebt(debtIDs), nil
}

func (v *txView) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	if v.readOnly {
		return errReadOnly
	}
	return v.state.createPayment(p)
}

// =============================================================================
// STATE - Unlocked operations shared by Memory and txView
// =============================================================================

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memoryState) listCustomers(filter ledger.CustomerFilter) []ledger.Customer {
	result := make([]ledger.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if filter.ActiveOnly && !c.Active {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

func (s *memoryState) getCustomer(id int64) *ledger.Customer {
	c, ok := s.customers[id]
	if !ok {
		return nil
	}
	return &c
}

func (s *memoryState) createCustomer(c *ledger.Customer) {
	c.ID = s.id()
	s.customers[c.ID] = *c
}

func (s *memoryState) updateCustomer(c ledger.Customer) error {
	if _, ok := s.customers[c.ID]; !ok {
		return &ledger.NotFoundError{Entity: "customer", ID: c.ID}
	}
	s.customers[c.ID] = c
	return nil
}

func (s *memoryState) listDebts(filter ledger.DebtFilter) []ledger.Debt {
	var result []ledger.Debt
	for _, d := range s.debts {
		if filter.Matches(d) {
			result = append(result, d)
		}
	}
	if filter.OverdueAt != nil {
		sort.Slice(result, func(i, j int) bool {
			if !result[i].DueAt.Equal(result[j].DueAt) {
				return result[i].DueAt.Before(result[j].DueAt)
			}
			return result[i].ID < result[j].ID
		})
		return result
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

func (s *memoryState) getDebt(id int64) *ledger.Debt {
	d, ok := s.debts[id]
	if !ok {
		return nil
	}
	return &d
}

func (s *memoryState) createDebt(d *ledger.Debt) error {
	if _, ok := s.customers[d.CustomerID]; !ok {
		return &ledger.ValidationError{Field: "mijozId", Message: "unknown customer"}
	}
	d.ID = s.id()
	s.debts[d.ID] = *d
	return nil
}

func (s *memoryState) updateDebt(d ledger.Debt) error {
	current, ok := s.debts[d.ID]
	if !ok {
		return &ledger.NotFoundError{Entity: "debt", ID: d.ID}
	}
	if !current.PaidAmount.Equal(d.PaidAmount) {
		return ledger.ErrConcurrentModification
	}
	current.Product = d.Product
	current.TotalAmount = d.TotalAmount
	current.IssuedAt = d.IssuedAt
	current.DueAt = d.DueAt
	current.Status = d.Status
	current.Archived = d.Archived
	s.debts[d.ID] = current
	return nil
}

func (s *memoryState) updateDebtBalance(id int64, expectedPaid, newPaid decimal.Decimal, status ledger.Status) error {
	d, ok := s.debts[id]
	if !ok {
		return &ledger.NotFoundError{Entity: "debt", ID: id}
	}
	if !d.PaidAmount.Equal(expectedPaid) {
		return ledger.ErrConcurrentModification
	}
	d.PaidAmount = newPaid
	d.Status = status
	s.debts[id] = d
	return nil
}

func (s *memoryState) deleteDebt(id int64) bool {
	if _, ok := s.debts[id]; !ok {
		return false
	}
	delete(s.debts, id)
	for pid, p := range s.payments {
		if p.DebtID == id {
			delete(s.payments, pid)
		}
	}
	return true
}

func (s *memoryState) listPayments() []ledger.Payment {
	result := make([]ledger.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].PaidAt.Equal(result[j].PaidAt) {
			return result[i].PaidAt.After(result[j].PaidAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

func (s *memoryState) paymentsByDebt(debtIDs []int64) map[int64][]ledger.Payment {
	wanted := make(map[int64]bool, len(debtIDs))
	for _, id := range debtIDs {
		wanted[id] = true
	}
	result := make(map[int64][]ledger.Payment)
	for _, p := range s.payments {
		if wanted[p.DebtID] {
			result[p.DebtID] = append(result[p.DebtID], p)
		}
	}
	for _, ps := range result {
		sort.Slice(ps, func(i, j int) bool {
			if !ps[i].PaidAt.Equal(ps[j].PaidAt) {
				return ps[i].PaidAt.Before(ps[j].PaidAt)
			}
			return ps[i].ID < ps[j].ID
		})
	}
	return result
}

func (s *memoryState) createPayment(p *ledger.Payment) error {
	if _, ok := s.debts[p.DebtID]; !ok {
		return &ledger.NotFoundError{Entity: "debt", ID: p.DebtID}
	}
	p.ID = s.id()
	s.payments[p.ID] = *p
	return nil
}
