package cart

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/example/medsupply-storefront/internal/domain/cart"

// Observer receives the outcome of every store operation.
type Observer interface {
	ObserveOperation(op string, elapsed time.Duration, err error)
}

// Store owns the line items of one namespace and enforces the cart invariants:
// one line item per selection triple, and quantities of at least one.
type Store struct {
	namespace string
	source    string
	backend   Backend
	feed      ChangeFeed
	observer  Observer
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string

	// one-slot queue serializing updates on non-isolated backends
	queue chan struct{}
}

type Option func(*Store)

// WithChangeFeed publishes committed mutations to feed, tagged with source.
func WithChangeFeed(feed ChangeFeed, source string) Option {
	return func(s *Store) {
		s.feed = feed
		s.source = source
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Store) {
		s.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

func NewStore(namespace string, backend Backend, opts ...Option) *Store {
	s := &Store{
		namespace: namespace,
		backend:   backend,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("cart").With(zap.String("namespace", namespace))
	if !backend.Isolated() {
		s.queue = make(chan struct{}, 1)
	}
	return s
}

func (s *Store) Namespace() string {
	return s.namespace
}

// Source identifies this store instance on the change feed.
func (s *Store) Source() string {
	return s.source
}

// Add merges in into the line item with the same selection triple, or creates
// a new line item. It returns the resulting record.
func (s *Store) Add(ctx context.Context, in LineItemInput) (item LineItem, err error) {
	ctx, done := s.begin(ctx, "Add")
	defer func() { done(err) }()

	in = in.normalized()
	if in.SubProductID == "" {
		return LineItem{}, ErrInvalidSelection
	}
	if in.Quantity < 1 || in.Quantity > MaxQuantity {
		return LineItem{}, ErrInvalidQuantity
	}
	sel := in.Selection()

	var kind ChangeKind
	err = s.update(ctx, "add", func(tx Tx) error {
		kind = LineItemAdded
		candidates, err := tx.BySubProduct(sel.SubProductID)
		if err != nil {
			return err
		}

		now := s.now()
		for _, existing := range candidates {
			if SelectionOf(existing) != sel {
				continue
			}
			if existing.Quantity > MaxQuantity-in.Quantity {
				return ErrInvalidQuantity
			}
			existing.Quantity += in.Quantity
			existing.UpdatedAt = now
			item = existing
			kind = LineItemMerged
			return tx.Put(existing)
		}

		item = LineItem{
			ID:           s.newID(),
			ProductID:    in.ProductID,
			SubProductID: in.SubProductID,
			Name:         in.Name,
			Image:        in.Image,
			Quantity:     in.Quantity,
			Size:         in.Size,
			Shape:        in.Shape,
			AddedAt:      now,
			UpdatedAt:    now,
		}
		return tx.Put(item)
	})
	if err != nil {
		return LineItem{}, err
	}

	s.logger.Debug("line item added",
		zap.String("line_item_id", item.ID),
		zap.String("sub_product_id", item.SubProductID),
		zap.Int("quantity", item.Quantity),
		zap.String("kind", string(kind)),
	)
	s.publish(ctx, kind, item.ID)
	return item, nil
}

// Get returns the line item with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (item LineItem, err error) {
	ctx, done := s.begin(ctx, "Get")
	defer func() { done(err) }()

	err = s.view(ctx, "get", func(tx Tx) error {
		found, ok, err := tx.Get(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		item = found
		return nil
	})
	return item, err
}

// List returns every line item ordered by the time it was added.
func (s *Store) List(ctx context.Context) (items []LineItem, err error) {
	ctx, done := s.begin(ctx, "List")
	defer func() { done(err) }()

	err = s.view(ctx, "list", func(tx Tx) error {
		items, err = tx.List()
		return err
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []LineItem{}
	}
	sortItems(items)
	return items, nil
}

// Remove deletes the line item with id. Removing an absent id is not an error.
func (s *Store) Remove(ctx context.Context, id string) (err error) {
	ctx, done := s.begin(ctx, "Remove")
	defer func() { done(err) }()

	return s.remove(ctx, id)
}

func (s *Store) remove(ctx context.Context, id string) error {
	var existed bool
	err := s.update(ctx, "remove", func(tx Tx) error {
		_, ok, err := tx.Get(id)
		if err != nil {
			return err
		}
		existed = ok
		if !ok {
			return nil
		}
		return tx.Delete(id)
	})
	if err != nil {
		return err
	}
	if existed {
		s.publish(ctx, LineItemRemoved, id)
	}
	return nil
}

// SetQuantity overwrites the quantity of the line item with id.
// A quantity of zero or less removes the line item; one above MaxQuantity
// is rejected.
func (s *Store) SetQuantity(ctx context.Context, id string, quantity int) (err error) {
	ctx, done := s.begin(ctx, "SetQuantity")
	defer func() { done(err) }()

	if quantity <= 0 {
		return s.remove(ctx, id)
	}
	if quantity > MaxQuantity {
		return ErrInvalidQuantity
	}

	err = s.update(ctx, "set_quantity", func(tx Tx) error {
		item, ok, err := tx.Get(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		item.Quantity = quantity
		item.UpdatedAt = s.now()
		return tx.Put(item)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, QuantityUpdated, id)
	return nil
}

// Clear deletes every line item.
func (s *Store) Clear(ctx context.Context) (err error) {
	ctx, done := s.begin(ctx, "Clear")
	defer func() { done(err) }()

	err = s.update(ctx, "clear", func(tx Tx) error {
		return tx.DeleteAll()
	})
	if err != nil {
		return err
	}
	s.publish(ctx, CartCleared, "")
	return nil
}

// Count returns the sum of quantities across all line items.
func (s *Store) Count(ctx context.Context) (count int, err error) {
	ctx, done := s.begin(ctx, "Count")
	defer func() { done(err) }()

	err = s.view(ctx, "count", func(tx Tx) error {
		items, err := tx.List()
		if err != nil {
			return err
		}
		count = TotalQuantity(items)
		return nil
	})
	return count, err
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) update(ctx context.Context, op string, fn func(Tx) error) error {
	if s.queue != nil {
		select {
		case s.queue <- struct{}{}:
			defer func() { <-s.queue }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return classify(op, s.backend.Update(ctx, fn))
}

func (s *Store) view(ctx context.Context, op string, fn func(Tx) error) error {
	return classify(op, s.backend.View(ctx, fn))
}

func (s *Store) publish(ctx context.Context, kind ChangeKind, lineItemID string) {
	if s.feed == nil {
		return
	}
	change := Change{
		Namespace:  s.namespace,
		Source:     s.source,
		Kind:       kind,
		LineItemID: lineItemID,
		At:         s.now(),
	}
	if err := s.feed.Publish(ctx, change); err != nil {
		s.logger.Warn("failed to publish cart change", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (s *Store) begin(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "cart."+op,
		trace.WithAttributes(attribute.String("cart.namespace", s.namespace)))
	start := time.Now()

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.observer != nil {
			s.observer.ObserveOperation(op, time.Since(start), err)
		}
	}
}

func sortItems(items []LineItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].AddedAt.Equal(items[j].AddedAt) {
			return items[i].AddedAt.Before(items[j].AddedAt)
		}
		return items[i].ID < items[j].ID
	})
}
