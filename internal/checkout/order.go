package checkout

import (
	"errors"

	"github.com/example/medsupply-storefront/internal/domain/cart"
)

var ErrEmptyCart = errors.New("cart is empty")

// OrderLine is the snapshot of one line item sent with an order.
type OrderLine struct {
	ProductID    string `json:"productId"`
	SubProductID string `json:"subProductId"`
	Name         string `json:"name"`
	Image        string `json:"image,omitempty"`
	Quantity     int    `json:"quantity"`
	Size         string `json:"size,omitempty"`
	Shape        string `json:"shape,omitempty"`
}

// OrderSubmission is the order-submission payload of the storefront API.
type OrderSubmission struct {
	Enquiry
	Items []OrderLine `json:"items"`
}

// BuildOrder validates the enquiry and snapshots items into an order.
func BuildOrder(enquiry Enquiry, items []cart.LineItem) (OrderSubmission, error) {
	enquiry = enquiry.trimmed()
	if err := enquiry.Validate(); err != nil {
		return OrderSubmission{}, err
	}
	if len(items) == 0 {
		return OrderSubmission{}, ErrEmptyCart
	}

	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderLine{
			ProductID:    item.ProductID,
			SubProductID: item.SubProductID,
			Name:         item.Name,
			Image:        item.Image,
			Quantity:     item.Quantity,
			Size:         item.Size,
			Shape:        item.Shape,
		})
	}
	return OrderSubmission{Enquiry: enquiry, Items: lines}, nil
}
