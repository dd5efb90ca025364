package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/example/medsupply-storefront/internal/api/middleware"
	"github.com/example/medsupply-storefront/internal/checkout"
	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/example/medsupply-storefront/internal/projection"
	"go.uber.org/zap"
)

type Handlers struct {
	views    *projection.Registry
	checkout *checkout.Service
	logger   *zap.Logger
}

func NewHandlers(views *projection.Registry, checkoutSvc *checkout.Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		views:    views,
		checkout: checkoutSvc,
		logger:   logger.Named("api"),
	}
}

// Cart Handlers

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) GetCartCount(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": snap.Count})
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req cart.LineItemInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}
	item, err := view.Add(r.Context(), req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

func (h *Handlers) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/cart/items/")
	if id == "" {
		respondError(w, "line item id is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Quantity *int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		respondError(w, "quantity is required", http.StatusBadRequest)
		return
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}
	if err := view.SetQuantity(r.Context(), id, *req.Quantity); err != nil {
		h.respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view.Snapshot())
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/cart/items/")

	view, ok := h.view(w, r)
	if !ok {
		return
	}
	if err := view.Remove(r.Context(), id); err != nil {
		h.respondErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}
	if err := view.Clear(r.Context()); err != nil {
		h.respondErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Checkout Handlers

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var enquiry checkout.Enquiry
	if err := json.NewDecoder(r.Body).Decode(&enquiry); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	view, ok := h.view(w, r)
	if !ok {
		return
	}
	orderID, err := h.checkout.Submit(r.Context(), view, middleware.ExtractToken(r), enquiry)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"orderId": orderID})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

// view resolves the projection of the session's cart namespace.
// snapshot reads the cart of the request's session. A session issued by this
// request has an empty cart, so no view is loaded for it.
func (h *Handlers) snapshot(w http.ResponseWriter, r *http.Request) (projection.Snapshot, bool) {
	if middleware.IsNewSession(r.Context()) {
		return projection.Snapshot{Items: []cart.LineItem{}}, true
	}
	view, ok := h.view(w, r)
	if !ok {
		return projection.Snapshot{}, false
	}
	return view.Snapshot(), true
}

func (h *Handlers) view(w http.ResponseWriter, r *http.Request) (*projection.View, bool) {
	namespace, ok := middleware.NamespaceFromContext(r.Context())
	if !ok {
		respondError(w, "cart session required", http.StatusUnauthorized)
		return nil, false
	}
	view, err := h.views.View(r.Context(), namespace)
	if err != nil {
		h.respondErr(w, r, err)
		return nil, false
	}
	return view, true
}

func (h *Handlers) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	respondError(w, err.Error(), status)
}

// statusFor maps domain and upstream errors to HTTP status codes.
func statusFor(err error) int {
	var apiErr *checkout.APIError
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidSelection),
		errors.Is(err, checkout.ErrInvalidEnquiry):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, cart.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusConflict
	case errors.Is(err, cart.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden {
			return apiErr.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

func extractPathParam(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}
