package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kselivanov/keymarket/internal/auth"
	invdomain "github.com/kselivanov/keymarket/internal/inventory/domain"
	"github.com/kselivanov/keymarket/internal/order/application"
	"github.com/kselivanov/keymarket/internal/order/domain"
	"github.com/kselivanov/keymarket/pkg/httpx"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

type createOrderReq struct {
	Items   []domain.ItemRequest  `json:"items"`
	Payment domain.PaymentDetails `json:"payment"`
}

type updateStatusReq struct {
	Status string `json:"status"`
}

// Routes assumes the auth middleware already ran; admin-only routes add the
// role gate on top.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/me", h.mine)
	r.With(auth.RequireAdmin).Get("/admin", h.all)
	r.Get("/{id}", h.show)
	r.With(auth.RequireAdmin).Patch("/{id}/status", h.updateStatus)
	return r
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	p, ok := auth.FromContext(ctx)
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "Unauthorized.")
		return
	}

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Validation(w, map[string][]string{"body": {"Request body must be valid JSON."}})
		return
	}

	order, err := h.service.CreateOrder(ctx, p.UserID, req.Items, req.Payment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"message": "Order created successfully.",
		"order":   order,
	})
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "MyOrders")
	defer span.End()

	p, ok := auth.FromContext(ctx)
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "Unauthorized.")
		return
	}

	orders, err := h.service.ListMine(ctx, p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) all(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminOrders")
	defer span.End()

	orders, err := h.service.ListAll(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	p, ok := auth.FromContext(ctx)
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "Unauthorized.")
		return
	}
	id, err := orderID(r)
	if err != nil {
		httpx.Message(w, http.StatusNotFound, "Order not found.")
		return
	}

	order, err := h.service.Get(ctx, p, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	id, err := orderID(r)
	if err != nil {
		httpx.Message(w, http.StatusNotFound, "Order not found.")
		return
	}

	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Validation(w, map[string][]string{"body": {"Request body must be valid JSON."}})
		return
	}

	order, err := h.service.UpdateStatus(ctx, id, domain.OrderStatus(req.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message": "Order status updated successfully.",
		"order":   order,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var v *domain.ValidationError
	switch {
	case errors.As(err, &v):
		httpx.Validation(w, v.Fields)
	case errors.Is(err, domain.ErrProductNotFound):
		httpx.Message(w, http.StatusUnprocessableEntity, "One or more products do not exist.")
	case errors.Is(err, invdomain.ErrInsufficientInventory):
		httpx.Message(w, http.StatusUnprocessableEntity, "Not enough keys available for one or more products.")
	case errors.Is(err, domain.ErrInvalidTransition):
		httpx.Message(w, http.StatusUnprocessableEntity, "Order status can be updated only when it is pending.")
	case errors.Is(err, domain.ErrAllocationMismatch):
		httpx.Message(w, http.StatusUnprocessableEntity, "Order cannot be completed: key allocation is inconsistent.")
	case errors.Is(err, domain.ErrOrderNotFound):
		httpx.Message(w, http.StatusNotFound, "Order not found.")
	case errors.Is(err, auth.ErrForbidden):
		httpx.Message(w, http.StatusForbidden, "Forbidden.")
	default:
		h.log.Error("order request failed", "err", err)
		httpx.Message(w, http.StatusInternalServerError, "Internal server error.")
	}
}

func orderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, strconv.ErrSyntax
	}
	return id, nil
}
