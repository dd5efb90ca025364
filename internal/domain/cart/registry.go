package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// BackendFactory opens the backend for a namespace.
type BackendFactory func(ctx context.Context, namespace string) (Backend, error)

// Registry hands out one Store per namespace, constructing it on first use.
// Backends are opened outside the registry lock; concurrent first uses of the
// same namespace share one open.
type Registry struct {
	factory BackendFactory
	opts    []Option
	opening singleflight.Group

	mu     sync.Mutex
	stores map[string]*Store
	closed bool
}

func NewRegistry(factory BackendFactory, opts ...Option) *Registry {
	return &Registry{
		factory: factory,
		opts:    opts,
		stores:  make(map[string]*Store),
	}
}

// Store returns the store for namespace, opening its backend if needed.
func (r *Registry) Store(ctx context.Context, namespace string) (*Store, error) {
	if namespace == "" {
		return nil, errors.New("cart: namespace is required")
	}

	if s, ok, err := r.cached(namespace); ok || err != nil {
		return s, err
	}

	v, err, _ := r.opening.Do(namespace, func() (any, error) {
		if s, ok, err := r.cached(namespace); ok || err != nil {
			return s, err
		}

		backend, err := r.factory(ctx, namespace)
		if err != nil {
			return nil, &StorageError{Op: "open", Kind: ErrStorageUnavailable, Err: Unavailable(err)}
		}
		s := NewStore(namespace, backend, r.opts...)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = s.Close()
			return nil, errRegistryClosed
		}
		r.stores[namespace] = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

var errRegistryClosed = Unavailable(errors.New("registry is closed"))

func (r *Registry) cached(namespace string) (*Store, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, errRegistryClosed
	}
	s, ok := r.stores[namespace]
	return s, ok, nil
}

// Evict closes and forgets the store for namespace. The next Store call for
// it opens a fresh backend.
func (r *Registry) Evict(namespace string) error {
	r.mu.Lock()
	s, ok := r.stores[namespace]
	delete(r.stores, namespace)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// Namespaces lists the namespaces opened so far.
func (r *Registry) Namespaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every opened backend. The registry cannot be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, s := range r.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.stores = make(map[string]*Store)
	r.closed = true
	return errors.Join(errs...)
}
