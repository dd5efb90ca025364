package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "success", err: nil, want: "ok"},
		{name: "invalid quantity", err: cart.ErrInvalidQuantity, want: "invalid"},
		{name: "invalid selection", err: cart.ErrInvalidSelection, want: "invalid"},
		{name: "not found", err: cart.ErrNotFound, want: "not_found"},
		{name: "unavailable", err: &cart.StorageError{Op: "add", Kind: cart.ErrStorageUnavailable, Err: errors.New("dial")}, want: "unavailable"},
		{name: "transient", err: &cart.StorageError{Op: "add", Kind: cart.ErrTransientIO, Err: errors.New("reset")}, want: "error"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Result(tt.err))
		})
	}
}

func TestObserveOperation(t *testing.T) {
	m := New()

	m.ObserveOperation("Add", 5*time.Millisecond, nil)
	m.ObserveOperation("Add", 5*time.Millisecond, nil)
	m.ObserveOperation("SetQuantity", time.Millisecond, cart.ErrNotFound)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CartOperations.WithLabelValues("Add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CartOperations.WithLabelValues("SetQuantity", "not_found")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.CartOperationDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveOperation("List", time.Millisecond, nil)
	m.ObserveRequest("GET /cart", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `storefront_cart_operations_total{op="List",result="ok"} 1`)
	assert.Contains(t, body, `storefront_http_requests_total{route="GET /cart",status="200"} 1`)
}
