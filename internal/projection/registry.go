package projection

import (
	"context"
	"sync"
	"time"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"go.uber.org/zap"
)

// Registry hands out one loaded View per namespace and routes change feed
// notifications to them. Views unused for a while are dropped together with
// their store (see EvictIdle).
type Registry struct {
	stores *cart.Registry
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	views map[string]*entry
}

type entry struct {
	view *View
	used time.Time
}

func NewRegistry(stores *cart.Registry, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		stores: stores,
		logger: logger,
		now:    time.Now,
		views:  make(map[string]*entry),
	}
}

// View returns the view for namespace. A new view is refreshed once before it
// is returned.
func (r *Registry) View(ctx context.Context, namespace string) (*View, error) {
	if v, ok := r.touch(namespace); ok {
		return v, nil
	}

	store, err := r.stores.Store(ctx, namespace)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	e, ok := r.views[namespace]
	if !ok {
		e = &entry{view: NewView(store, r.logger)}
		r.views[namespace] = e
	}
	e.used = r.now()
	v := e.view
	r.mu.Unlock()

	if !ok {
		v.Refresh(ctx)
	}
	return v, nil
}

func (r *Registry) touch(namespace string) (*View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.views[namespace]
	if !ok {
		return nil, false
	}
	e.used = r.now()
	return e.view, true
}

func (r *Registry) lookup(namespace string) (*View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.views[namespace]
	if !ok {
		return nil, false
	}
	return e.view, true
}

// Len reports how many views are loaded.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// EvictIdle drops the views last used before cutoff and closes their stores.
// It returns the evicted namespaces.
func (r *Registry) EvictIdle(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for namespace, e := range r.views {
		if !e.used.Before(cutoff) {
			continue
		}
		delete(r.views, namespace)
		// under r.mu so a concurrent View cannot pick up the closing store
		if err := r.stores.Evict(namespace); err != nil {
			r.logger.Warn("failed to close idle store", zap.String("namespace", namespace), zap.Error(err))
		}
		evicted = append(evicted, namespace)
	}
	return evicted
}

// Sweep evicts views idle for longer than idle every idle/2 until ctx is done.
func (r *Registry) Sweep(ctx context.Context, idle time.Duration) error {
	ticker := time.NewTicker(max(idle/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if evicted := r.EvictIdle(r.now().Add(-idle)); len(evicted) > 0 {
				r.logger.Debug("evicted idle carts", zap.Int("count", len(evicted)), zap.Int("loaded", r.Len()))
			}
		}
	}
}

// Run subscribes to feed once for the whole process and refreshes the views
// of namespaces changed by other instances. It returns when ctx is done.
func (r *Registry) Run(ctx context.Context, feed cart.ChangeFeed) error {
	changes, err := feed.Subscribe(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("watching cart changes")
	for change := range changes {
		// namespaces without a view have nothing to refresh
		if v, ok := r.lookup(change.Namespace); ok {
			v.Apply(ctx, change)
		}
	}
	return ctx.Err()
}
