package cart

import (
	"context"
	"time"
)

// ChangeKind names a committed cart mutation.
type ChangeKind string

const (
	LineItemAdded   ChangeKind = "LineItemAdded"
	LineItemMerged  ChangeKind = "LineItemMerged"
	LineItemRemoved ChangeKind = "LineItemRemoved"
	QuantityUpdated ChangeKind = "QuantityUpdated"
	CartCleared     ChangeKind = "CartCleared"
)

// Change is published after a mutation commits so that other views of the
// same namespace can refresh.
type Change struct {
	Namespace  string     `json:"namespace"`
	Source     string     `json:"source"`
	Kind       ChangeKind `json:"kind"`
	LineItemID string     `json:"line_item_id,omitempty"`
	At         time.Time  `json:"at"`
}

// ChangeFeed carries change notifications between store instances.
type ChangeFeed interface {
	Publish(ctx context.Context, change Change) error

	// Subscribe delivers changes until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Change, error)
}
