package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/apperr"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/service"
)

// Webhook headers sent by the payment gateway.
const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookEventID   = "X-Webhook-Event-Id"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles HTTP requests for the storefront.
type Handler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	refunds  *service.RefundService
	db       Pinger
}

func NewHandler(orders *service.OrderService, payments *service.PaymentService, refunds *service.RefundService, db Pinger) *Handler {
	return &Handler{orders: orders, payments: payments, refunds: refunds, db: db}
}

type createOrderRequest struct {
	Items             []entity.PlaceOrderLine `json:"items"`
	ShippingAddressID string                  `json:"shippingAddressId"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type createIntentRequest struct {
	OrderID string `json:"orderId"`
}

type createRefundRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type processRefundRequest struct {
	RefundID string              `json:"refundId"`
	Action   entity.RefundAction `json:"action"`
	Notes    string              `json:"notes"`
}

type updateStatusRequest struct {
	Status         entity.OrderStatus `json:"status"`
	TrackingNumber string             `json:"trackingNumber"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.orders.GetProducts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := callerFrom(r.Context())
	order, err := h.orders.PlaceOrder(r.Context(), entity.PlaceOrder{
		UserID:            caller.UserID,
		CustomerEmail:     caller.Email,
		Items:             req.Items,
		ShippingAddressID: req.ShippingAddressID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), callerFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	timeline, err := h.orders.History(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.orders.ListNotifications(r.Context(), callerFrom(r.Context()).UserID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.payments.CreateIntent(r.Context(), callerFrom(r.Context()).UserID, req.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req service.ConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.payments.Confirm(r.Context(), callerFrom(r.Context()).UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWebhook answers with a bare status code. 400 for a bad signature,
// 500 when the delivery should be retried, 200 otherwise.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	err = h.payments.HandleWebhook(r.Context(), body,
		r.Header.Get(HeaderWebhookSignature), r.Header.Get(HeaderWebhookEventID))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, apperr.ErrSignatureMismatch):
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (h *Handler) handleCreateRefund(w http.ResponseWriter, r *http.Request) {
	var req createRefundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	refund, err := h.refunds.RequestRefund(r.Context(), callerFrom(r.Context()), req.OrderID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

func (h *Handler) handleProcessRefund(w http.ResponseWriter, r *http.Request) {
	var req processRefundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	refund, err := h.refunds.ProcessRefund(r.Context(), callerFrom(r.Context()).UserID, req.RefundID, req.Action, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (h *Handler) handleCompleteRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := h.refunds.CompleteRefund(r.Context(), callerFrom(r.Context()).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := h.orders.UpdateStatus(r.Context(), callerFrom(r.Context()).UserID, chi.URLParam(r, "id"), req.Status, req.TrackingNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleAdminCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := h.orders.AdminCancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
