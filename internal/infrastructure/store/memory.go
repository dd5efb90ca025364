package store

import (
	"context"
	"errors"
	"sync"

	"github.com/example/medsupply-storefront/internal/domain/cart"
)

var errReadOnly = errors.New("write in read-only unit")

// MemoryBackend is an in-memory line item table.
type MemoryBackend struct {
	mu     sync.RWMutex
	state  memoryState
	closed bool
}

type memoryState struct {
	items map[string]cart.LineItem
	bySub map[string]map[string]struct{} // subProductID -> ids
}

func newMemoryState() memoryState {
	return memoryState{
		items: make(map[string]cart.LineItem),
		bySub: make(map[string]map[string]struct{}),
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		items: make(map[string]cart.LineItem, len(s.items)),
		bySub: make(map[string]map[string]struct{}, len(s.bySub)),
	}
	for id, item := range s.items {
		c.items[id] = item
	}
	for sub, ids := range s.bySub {
		set := make(map[string]struct{}, len(ids))
		for id := range ids {
			set[id] = struct{}{}
		}
		c.bySub[sub] = set
	}
	return c
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{state: newMemoryState()}
}

// Update runs fn against a copy of the table and swaps it in on success.
func (b *MemoryBackend) Update(ctx context.Context, fn func(cart.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return cart.Unavailable(errors.New("memory backend is closed"))
	}

	tx := &memoryTx{state: b.state.clone(), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	b.state = tx.state
	return nil
}

func (b *MemoryBackend) View(ctx context.Context, fn func(cart.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return cart.Unavailable(errors.New("memory backend is closed"))
	}
	return fn(&memoryTx{state: b.state})
}

func (b *MemoryBackend) Isolated() bool {
	return true
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type memoryTx struct {
	state    memoryState
	writable bool
}

func (tx *memoryTx) Get(id string) (cart.LineItem, bool, error) {
	item, ok := tx.state.items[id]
	return item, ok, nil
}

func (tx *memoryTx) BySubProduct(subProductID string) ([]cart.LineItem, error) {
	ids := tx.state.bySub[subProductID]
	items := make([]cart.LineItem, 0, len(ids))
	for id := range ids {
		items = append(items, tx.state.items[id])
	}
	return items, nil
}

func (tx *memoryTx) List() ([]cart.LineItem, error) {
	items := make([]cart.LineItem, 0, len(tx.state.items))
	for _, item := range tx.state.items {
		items = append(items, item)
	}
	return items, nil
}

func (tx *memoryTx) Put(item cart.LineItem) error {
	if !tx.writable {
		return errReadOnly
	}
	if prev, ok := tx.state.items[item.ID]; ok {
		tx.unindex(prev)
	}
	tx.state.items[item.ID] = item
	ids := tx.state.bySub[item.SubProductID]
	if ids == nil {
		ids = make(map[string]struct{})
		tx.state.bySub[item.SubProductID] = ids
	}
	ids[item.ID] = struct{}{}
	return nil
}

func (tx *memoryTx) Delete(id string) error {
	if !tx.writable {
		return errReadOnly
	}
	if prev, ok := tx.state.items[id]; ok {
		tx.unindex(prev)
		delete(tx.state.items, id)
	}
	return nil
}

func (tx *memoryTx) DeleteAll() error {
	if !tx.writable {
		return errReadOnly
	}
	tx.state = newMemoryState()
	return nil
}

func (tx *memoryTx) unindex(item cart.LineItem) {
	ids := tx.state.bySub[item.SubProductID]
	delete(ids, item.ID)
	if len(ids) == 0 {
		delete(tx.state.bySub, item.SubProductID)
	}
}
