package mocks

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/example/medsupply-storefront/internal/domain/cart"
)

// MockBackend is a cart.Backend for testing. Each unit works on a snapshot
// taken when it starts and applies its writes when it ends, so concurrent
// units are not isolated from each other.
type MockBackend struct {
	mu     sync.Mutex
	items  map[string]cart.LineItem
	closed bool

	// For tracking calls in tests
	UpdateCalls int
	ViewCalls   int
	CloseCalls  int

	UpdateErr error
	ViewErr   error
	// CommitErr fails a unit after fn succeeded; nothing is written.
	CommitErr error
}

// NewMockBackend creates a new MockBackend
func NewMockBackend() *MockBackend {
	return &MockBackend{items: make(map[string]cart.LineItem)}
}

// Update runs fn against a snapshot and applies its writes afterwards.
func (m *MockBackend) Update(ctx context.Context, fn func(cart.Tx) error) error {
	tx, err := m.begin(ctx, true)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}

	// widen the window between read and write
	runtime.Gosched()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommitErr != nil {
		return m.CommitErr
	}
	for id := range tx.deleted {
		delete(m.items, id)
	}
	for id, item := range tx.put {
		m.items[id] = item
	}
	return nil
}

func (m *MockBackend) View(ctx context.Context, fn func(cart.Tx) error) error {
	tx, err := m.begin(ctx, false)
	if err != nil {
		return err
	}
	return fn(tx)
}

func (m *MockBackend) begin(ctx context.Context, write bool) (*mockTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if write {
		m.UpdateCalls++
		if m.UpdateErr != nil {
			return nil, m.UpdateErr
		}
	} else {
		m.ViewCalls++
		if m.ViewErr != nil {
			return nil, m.ViewErr
		}
	}
	if m.closed {
		return nil, cart.Unavailable(errors.New("mock backend is closed"))
	}

	snapshot := make(map[string]cart.LineItem, len(m.items))
	for id, item := range m.items {
		snapshot[id] = item
	}
	return &mockTx{
		items:    snapshot,
		put:      make(map[string]cart.LineItem),
		deleted:  make(map[string]struct{}),
		writable: write,
	}, nil
}

// Isolated reports false so stores queue their updates.
func (m *MockBackend) Isolated() bool {
	return false
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	m.closed = true
	return nil
}

// Items returns the committed records.
func (m *MockBackend) Items() []cart.LineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]cart.LineItem, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, item)
	}
	return items
}

// Seed stores items directly, bypassing any unit.
func (m *MockBackend) Seed(items ...cart.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.items[item.ID] = item
	}
}

type mockTx struct {
	items    map[string]cart.LineItem
	put      map[string]cart.LineItem
	deleted  map[string]struct{}
	writable bool
}

var errReadOnly = errors.New("write in read-only unit")

func (tx *mockTx) Get(id string) (cart.LineItem, bool, error) {
	item, ok := tx.items[id]
	return item, ok, nil
}

func (tx *mockTx) BySubProduct(subProductID string) ([]cart.LineItem, error) {
	var items []cart.LineItem
	for _, item := range tx.items {
		if item.SubProductID == subProductID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (tx *mockTx) List() ([]cart.LineItem, error) {
	items := make([]cart.LineItem, 0, len(tx.items))
	for _, item := range tx.items {
		items = append(items, item)
	}
	return items, nil
}

func (tx *mockTx) Put(item cart.LineItem) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.items[item.ID] = item
	tx.put[item.ID] = item
	delete(tx.deleted, item.ID)
	return nil
}

func (tx *mockTx) Delete(id string) error {
	if !tx.writable {
		return errReadOnly
	}
	delete(tx.items, id)
	delete(tx.put, id)
	tx.deleted[id] = struct{}{}
	return nil
}

func (tx *mockTx) DeleteAll() error {
	if !tx.writable {
		return errReadOnly
	}
	for id := range tx.items {
		tx.deleted[id] = struct{}{}
	}
	tx.items = make(map[string]cart.LineItem)
	tx.put = make(map[string]cart.LineItem)
	return nil
}
