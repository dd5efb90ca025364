package cart

import "context"

// Backend is the durable key-value table holding line items for one namespace.
// Records are keyed by ID with a secondary index on SubProductID.
type Backend interface {
	// Update runs fn as a single read-write unit. Writes made through the
	// Tx are committed only if fn returns nil; otherwise nothing changes.
	Update(ctx context.Context, fn func(Tx) error) error

	// View runs fn as a read-only unit.
	View(ctx context.Context, fn func(Tx) error) error

	// Isolated reports whether concurrent Update units are serializable
	// against each other. Stores queue updates for backends that are not.
	Isolated() bool

	Close() error
}

// Tx is the view of the table inside a Backend unit. Reads observe writes
// already made in the same unit.
type Tx interface {
	Get(id string) (LineItem, bool, error)
	BySubProduct(subProductID string) ([]LineItem, error)
	List() ([]LineItem, error)
	Put(item LineItem) error
	Delete(id string) error
	DeleteAll() error
}
