package cart

import (
	"math"
	"strings"
	"time"
)

// LineItem is one purchasable selection in the cart.
// Name and Image are a display snapshot taken when the item was first added.
type LineItem struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"productId"`
	SubProductID string    `json:"subProductId"`
	Name         string    `json:"name"`
	Image        string    `json:"image,omitempty"`
	Quantity     int       `json:"quantity"`
	Size         string    `json:"size,omitempty"`
	Shape        string    `json:"shape,omitempty"`
	AddedAt      time.Time `json:"addedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LineItemInput is the caller-supplied part of a line item.
type LineItemInput struct {
	ProductID    string `json:"productId"`
	SubProductID string `json:"subProductId"`
	Name         string `json:"name"`
	Image        string `json:"image,omitempty"`
	Quantity     int    `json:"quantity"`
	Size         string `json:"size,omitempty"`
	Shape        string `json:"shape,omitempty"`
}

// Selection identifies a line item for merge purposes.
// An empty Size or Shape means "not applicable".
type Selection struct {
	SubProductID string
	Size         string
	Shape        string
}

// SelectionOf returns the normalized selection triple of an item.
func SelectionOf(item LineItem) Selection {
	return Selection{
		SubProductID: strings.TrimSpace(item.SubProductID),
		Size:         normalizeAttr(item.Size),
		Shape:        normalizeAttr(item.Shape),
	}
}

// Selection returns the normalized selection triple of the input.
func (in LineItemInput) Selection() Selection {
	return Selection{
		SubProductID: strings.TrimSpace(in.SubProductID),
		Size:         normalizeAttr(in.Size),
		Shape:        normalizeAttr(in.Shape),
	}
}

func (in LineItemInput) normalized() LineItemInput {
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.SubProductID = strings.TrimSpace(in.SubProductID)
	in.Size = normalizeAttr(in.Size)
	in.Shape = normalizeAttr(in.Shape)
	return in
}

// missing and blank attributes compare equal
func normalizeAttr(v string) string {
	return strings.TrimSpace(v)
}

// MaxQuantity bounds the quantity of a single line item. It matches the
// INTEGER quantity column of the postgres backend.
const MaxQuantity = math.MaxInt32

// TotalQuantity sums the quantity of every item.
func TotalQuantity(items []LineItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}
