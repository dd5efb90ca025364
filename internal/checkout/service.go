package checkout

import (
	"context"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"go.uber.org/zap"
)

// Cart is the cart being checked out.
type Cart interface {
	List(ctx context.Context) ([]cart.LineItem, error)
	Remove(ctx context.Context, id string) error
}

type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, token string, order OrderSubmission) (string, error)
}

// Service turns a cart and an enquiry into a submitted order.
type Service struct {
	submitter OrderSubmitter
	logger    *zap.Logger
}

func NewService(submitter OrderSubmitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		submitter: submitter,
		logger:    logger.Named("checkout"),
	}
}

// Submit sends the cart's current line items with enquiry and removes those
// line items once the order is accepted. Items added meanwhile stay in the
// cart. A failure to remove an item is logged only; the order exists at that
// point.
func (s *Service) Submit(ctx context.Context, c Cart, token string, enquiry Enquiry) (string, error) {
	if err := enquiry.trimmed().Validate(); err != nil {
		return "", err
	}

	items, err := c.List(ctx)
	if err != nil {
		return "", err
	}

	order, err := BuildOrder(enquiry, items)
	if err != nil {
		return "", err
	}

	orderID, err := s.submitter.SubmitOrder(ctx, token, order)
	if err != nil {
		return "", err
	}

	s.logger.Info("order submitted",
		zap.String("order_id", orderID),
		zap.Int("lines", len(order.Items)),
		zap.Int("units", cart.TotalQuantity(items)),
	)

	for _, item := range items {
		if err := c.Remove(ctx, item.ID); err != nil {
			s.logger.Warn("failed to remove ordered line item",
				zap.String("order_id", orderID),
				zap.String("line_item_id", item.ID),
				zap.Error(err),
			)
		}
	}
	return orderID, nil
}
