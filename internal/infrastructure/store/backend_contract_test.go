package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contractEpoch = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func contractItem(id, subProductID string, quantity int) cart.LineItem {
	return cart.LineItem{
		ID:           id,
		ProductID:    "prod-" + subProductID,
		SubProductID: subProductID,
		Name:         "Nitrile gloves",
		Quantity:     quantity,
		Size:         "M",
		AddedAt:      contractEpoch,
		UpdatedAt:    contractEpoch,
	}
}

func ids(items []cart.LineItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

// testBackendContract runs the behaviour every cart.Backend must share.
func testBackendContract(t *testing.T, newBackend func(t *testing.T) cart.Backend) {
	ctx := context.Background()

	t.Run("put then read", func(t *testing.T) {
		b := newBackend(t)

		err := b.Update(ctx, func(tx cart.Tx) error {
			if err := tx.Put(contractItem("a", "sp-1", 2)); err != nil {
				return err
			}
			return tx.Put(contractItem("b", "sp-2", 1))
		})
		require.NoError(t, err)

		err = b.View(ctx, func(tx cart.Tx) error {
			item, ok, err := tx.Get("a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 2, item.Quantity)
			assert.Equal(t, "sp-1", item.SubProductID)
			assert.Equal(t, "M", item.Size)
			assert.True(t, item.AddedAt.Equal(contractEpoch))

			_, ok, err = tx.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			bySub, err := tx.BySubProduct("sp-2")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, ids(bySub))

			all, err := tx.List()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b"}, ids(all))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("failed unit commits nothing", func(t *testing.T) {
		b := newBackend(t)
		boom := errors.New("boom")

		err := b.Update(ctx, func(tx cart.Tx) error {
			require.NoError(t, tx.Put(contractItem("a", "sp-1", 1)))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = b.View(ctx, func(tx cart.Tx) error {
			all, err := tx.List()
			require.NoError(t, err)
			assert.Empty(t, all)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("unit reads its own writes", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Update(ctx, func(tx cart.Tx) error {
			return tx.Put(contractItem("a", "sp-1", 1))
		}))

		err := b.Update(ctx, func(tx cart.Tx) error {
			require.NoError(t, tx.Put(contractItem("b", "sp-1", 3)))
			require.NoError(t, tx.Delete("a"))

			_, ok, err := tx.Get("a")
			require.NoError(t, err)
			assert.False(t, ok)

			item, ok, err := tx.Get("b")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 3, item.Quantity)

			bySub, err := tx.BySubProduct("sp-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, ids(bySub))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("put moves item between sub products", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Update(ctx, func(tx cart.Tx) error {
			return tx.Put(contractItem("a", "sp-1", 1))
		}))
		require.NoError(t, b.Update(ctx, func(tx cart.Tx) error {
			return tx.Put(contractItem("a", "sp-2", 1))
		}))

		err := b.View(ctx, func(tx cart.Tx) error {
			old, err := tx.BySubProduct("sp-1")
			require.NoError(t, err)
			assert.Empty(t, old)

			moved, err := tx.BySubProduct("sp-2")
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, ids(moved))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("delete all", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Update(ctx, func(tx cart.Tx) error {
			for i := 0; i < 5; i++ {
				if err := tx.Put(contractItem(fmt.Sprintf("item-%d", i), "sp-1", 1)); err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, b.Update(ctx, func(tx cart.Tx) error {
			return tx.DeleteAll()
		}))

		err := b.View(ctx, func(tx cart.Tx) error {
			all, err := tx.List()
			require.NoError(t, err)
			assert.Empty(t, all)

			bySub, err := tx.BySubProduct("sp-1")
			require.NoError(t, err)
			assert.Empty(t, bySub)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("view is read only", func(t *testing.T) {
		b := newBackend(t)
		err := b.View(ctx, func(tx cart.Tx) error {
			return tx.Put(contractItem("a", "sp-1", 1))
		})
		assert.Error(t, err)
	})

	t.Run("store merges selections", func(t *testing.T) {
		s := cart.NewStore("origin", newBackend(t), cart.WithClock(func() time.Time { return contractEpoch }))

		first, err := s.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Size: "L", Quantity: 2})
		require.NoError(t, err)
		second, err := s.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Size: "L", Quantity: 3})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 5, second.Quantity)

		_, err = s.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Size: "XL", Quantity: 1})
		require.NoError(t, err)

		items, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, items, 2)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, count)
	})

	t.Run("concurrent adds keep one line item", func(t *testing.T) {
		s := cart.NewStore("origin", newBackend(t))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Add(ctx, cart.LineItemInput{SubProductID: "sp-1", Shape: "round", Quantity: 1})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		items, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, 8, items[0].Quantity)
	})
}
