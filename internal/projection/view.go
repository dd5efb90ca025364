package projection

import (
	"context"
	"sync"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"go.uber.org/zap"
)

// Snapshot is what a cart view renders: the line items, the badge count and
// whether the first load is still pending.
type Snapshot struct {
	Items   []cart.LineItem `json:"items"`
	Count   int             `json:"count"`
	Loading bool            `json:"loading"`
}

func (s Snapshot) clone() Snapshot {
	items := make([]cart.LineItem, len(s.Items))
	copy(items, s.Items)
	s.Items = items
	return s
}

// View keeps a snapshot of one namespace's cart in step with its store.
type View struct {
	store  *cart.Store
	logger *zap.Logger

	// serializes refreshes so snapshots are published in read order
	refreshMu sync.Mutex

	mu     sync.Mutex
	snap   Snapshot
	subs   map[int]func(Snapshot)
	nextID int
}

// NewView returns a view in the loading state. Call Refresh to load it.
func NewView(store *cart.Store, logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View{
		store:  store,
		logger: logger.Named("projection").With(zap.String("namespace", store.Namespace())),
		snap:   Snapshot{Items: []cart.LineItem{}, Loading: true},
		subs:   make(map[int]func(Snapshot)),
	}
}

func (v *View) Namespace() string {
	return v.store.Namespace()
}

// Snapshot returns a copy of the current snapshot.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap.clone()
}

// Refresh re-reads the store and publishes the result. A failed read is logged
// and the previous items are kept; either way the view stops loading.
func (v *View) Refresh(ctx context.Context) {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	items, err := v.store.List(ctx)

	v.mu.Lock()
	if err != nil {
		v.logger.Warn("failed to refresh cart view", zap.Error(err))
	} else {
		v.snap.Items = items
		v.snap.Count = cart.TotalQuantity(items)
	}
	v.snap.Loading = false
	snap := v.snap.clone()
	subs := make([]func(Snapshot), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(snap.clone())
	}
}

// Subscribe calls fn with the current snapshot and with every snapshot
// published afterwards, until the returned function is called.
func (v *View) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	snap := v.snap.clone()
	v.mu.Unlock()

	fn(snap)

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

// Add adds a line item and refreshes the view, whether or not the add succeeded.
func (v *View) Add(ctx context.Context, in cart.LineItemInput) (cart.LineItem, error) {
	defer v.Refresh(ctx)
	return v.store.Add(ctx, in)
}

func (v *View) Remove(ctx context.Context, id string) error {
	defer v.Refresh(ctx)
	return v.store.Remove(ctx, id)
}

func (v *View) SetQuantity(ctx context.Context, id string, quantity int) error {
	defer v.Refresh(ctx)
	return v.store.SetQuantity(ctx, id, quantity)
}

func (v *View) Clear(ctx context.Context) error {
	defer v.Refresh(ctx)
	return v.store.Clear(ctx)
}

// List reads the store directly, bypassing the snapshot.
func (v *View) List(ctx context.Context) ([]cart.LineItem, error) {
	return v.store.List(ctx)
}

// Watch refreshes the view for every change to its namespace made by another
// store instance, until ctx is done or the feed closes.
func (v *View) Watch(ctx context.Context, feed cart.ChangeFeed) error {
	changes, err := feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	for change := range changes {
		v.Apply(ctx, change)
	}
	return nil
}

// Apply refreshes the view if change is relevant to it. It reports whether a
// refresh happened.
func (v *View) Apply(ctx context.Context, change cart.Change) bool {
	if change.Namespace != v.store.Namespace() || change.Source == v.store.Source() {
		return false
	}
	v.logger.Debug("cart changed elsewhere",
		zap.String("source", change.Source),
		zap.String("kind", string(change.Kind)),
	)
	v.Refresh(ctx)
	return true
}
