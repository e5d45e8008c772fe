package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/orderflow/fulfillment-system/orchestrator/application"
	"github.com/orderflow/fulfillment-system/orchestrator/domain"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// OrderHandlers contains order HTTP handlers
type OrderHandlers struct {
	submitOrder *application.SubmitOrder
	cancelOrder *application.CancelOrder
	getOrder    *application.GetOrder
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(
	submitOrder *application.SubmitOrder,
	cancelOrder *application.CancelOrder,
	getOrder *application.GetOrder,
) *OrderHandlers {
	return &OrderHandlers{
		submitOrder: submitOrder,
		cancelOrder: cancelOrder,
		getOrder:    getOrder,
	}
}

// SubmitOrder handles order submission requests
func (h *OrderHandlers) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var cmd application.SubmitOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.submitOrder.Execute(r.Context(), &cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// CancelOrder handles order cancellation requests
func (h *OrderHandlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "id")
	if correlationID == "" {
		http.Error(w, "Correlation ID is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	cmd := &application.CancelOrderCommand{
		CorrelationID: models.ID(correlationID),
		Reason:        body.Reason,
	}

	if err := h.cancelOrder.Execute(r.Context(), cmd); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetOrder handles order retrieval requests
func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "id")
	if correlationID == "" {
		http.Error(w, "Correlation ID is required", http.StatusBadRequest)
		return
	}

	response, err := h.getOrder.Execute(r.Context(), models.ID(correlationID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.SubmitOrder)
		r.Post("/{id}/cancel", h.CancelOrder)
		r.Get("/{id}", h.GetOrder)
	})
}
