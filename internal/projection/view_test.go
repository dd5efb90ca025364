package projection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/example/medsupply-storefront/internal/infrastructure/feed"
	"github.com/example/medsupply-storefront/internal/infrastructure/store"
	"github.com/example/medsupply-storefront/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestView(t *testing.T, opts ...cart.Option) (*View, *cart.Store) {
	t.Helper()
	s := cart.NewStore("origin", store.NewMemoryBackend(), opts...)
	return NewView(s, nil), s
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

// =============================================================================
// Snapshot
// =============================================================================

func TestView_InitialSnapshotIsLoading(t *testing.T) {
	v, _ := newTestView(t)

	snap := v.Snapshot()
	assert.True(t, snap.Loading)
	assert.NotNil(t, snap.Items)
	assert.Empty(t, snap.Items)
	assert.Zero(t, snap.Count)
}

func TestView_Refresh(t *testing.T) {
	v, s := newTestView(t)
	ctx := context.Background()

	_, err := s.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Quantity: 2})
	require.NoError(t, err)
	_, err = s.Add(ctx, cart.LineItemInput{SubProductID: "sp-2", Quantity: 3})
	require.NoError(t, err)

	v.Refresh(ctx)

	snap := v.Snapshot()
	assert.False(t, snap.Loading)
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, 5, snap.Count)
}

func TestView_RefreshFailureKeepsLastSnapshot(t *testing.T) {
	backend := mocks.NewMockBackend()
	v := NewView(cart.NewStore("origin", backend), nil)
	ctx := context.Background()

	backend.ViewErr = errors.New("disk gone")
	v.Refresh(ctx)

	snap := v.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Items)

	backend.ViewErr = nil
	_, err := v.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, v.Snapshot().Count)

	backend.ViewErr = cart.Unavailable(errors.New("closed"))
	v.Refresh(ctx)

	snap = v.Snapshot()
	assert.False(t, snap.Loading)
	assert.Len(t, snap.Items, 1)
	assert.Equal(t, 4, snap.Count)
}

func TestView_SnapshotIsACopy(t *testing.T) {
	v, _ := newTestView(t)
	ctx := context.Background()

	_, err := v.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Name: "Gauze", Quantity: 1})
	require.NoError(t, err)

	snap := v.Snapshot()
	snap.Items[0].Name = "changed"
	snap.Items[0].Quantity = 99

	again := v.Snapshot()
	assert.Equal(t, "Gauze", again.Items[0].Name)
	assert.Equal(t, 1, again.Items[0].Quantity)
}

// =============================================================================
// Subscribers
// =============================================================================

func TestView_Subscribe(t *testing.T) {
	v, _ := newTestView(t)
	ctx := context.Background()
	rec := &recorder{}

	unsubscribe := v.Subscribe(rec.record)
	require.Equal(t, 1, rec.len())
	assert.True(t, rec.last().Loading)

	_, err := v.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, 2, rec.len())
	assert.False(t, rec.last().Loading)
	assert.Equal(t, 2, rec.last().Count)

	unsubscribe()
	unsubscribe()
	require.NoError(t, v.Clear(ctx))
	assert.Equal(t, 2, rec.len())
	assert.Zero(t, v.Snapshot().Count)
}

func TestView_MutationsRefreshEvenOnError(t *testing.T) {
	v, _ := newTestView(t)
	ctx := context.Background()
	rec := &recorder{}
	v.Subscribe(rec.record)

	err := v.SetQuantity(ctx, "missing", 3)
	assert.ErrorIs(t, err, cart.ErrNotFound)
	assert.Equal(t, 2, rec.len())

	_, err = v.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Quantity: 0})
	assert.ErrorIs(t, err, cart.ErrInvalidQuantity)
	assert.Equal(t, 3, rec.len())
	assert.False(t, rec.last().Loading)
}

func TestView_Mutations(t *testing.T) {
	v, _ := newTestView(t)
	ctx := context.Background()

	item, err := v.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Size: "M", Quantity: 1})
	require.NoError(t, err)
	_, err = v.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Size: "M", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, v.Snapshot().Count)
	assert.Len(t, v.Snapshot().Items, 1)

	require.NoError(t, v.SetQuantity(ctx, item.ID, 7))
	assert.Equal(t, 7, v.Snapshot().Count)

	require.NoError(t, v.SetQuantity(ctx, item.ID, 0))
	assert.Empty(t, v.Snapshot().Items)

	_, err = v.Add(ctx, cart.LineItemInput{SubProductID: "sp-2", Quantity: 1})
	require.NoError(t, err)
	items, err := v.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, v.Remove(ctx, items[0].ID))
	assert.Zero(t, v.Snapshot().Count)
}

// =============================================================================
// Change feed
// =============================================================================

func TestView_Apply(t *testing.T) {
	v, _ := newTestView(t, cart.WithChangeFeed(feed.NewMemory(nil), "instance-a"))
	ctx := context.Background()

	tests := []struct {
		name   string
		change cart.Change
		want   bool
	}{
		{name: "other instance", change: cart.Change{Namespace: "origin", Source: "instance-b", Kind: cart.LineItemAdded}, want: true},
		{name: "own change", change: cart.Change{Namespace: "origin", Source: "instance-a", Kind: cart.LineItemAdded}, want: false},
		{name: "other namespace", change: cart.Change{Namespace: "session-2", Source: "instance-b", Kind: cart.CartCleared}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Apply(ctx, tt.change))
		})
	}
}

func TestView_WatchSeesOtherInstances(t *testing.T) {
	changes := feed.NewMemory(nil)
	backend := store.NewMemoryBackend()

	// two instances sharing one backend, like two tabs of one origin
	mine := cart.NewStore("origin", backend, cart.WithChangeFeed(changes, "tab-1"))
	theirs := cart.NewStore("origin", backend, cart.WithChangeFeed(changes, "tab-2"))
	v := NewView(mine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Watch(ctx, changes) }()

	require.Eventually(t, func() bool { return changes.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	_, err := theirs.Add(context.Background(), cart.LineItemInput{SubProductID: "sp-1", Quantity: 3})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return v.Snapshot().Count == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
