package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kselivanov/keymarket/internal/catalog/application"
	"github.com/kselivanov/keymarket/internal/catalog/domain"
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
		tracer:  otel.Tracer("catalog-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Get("/{id}", h.show)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListProducts")
	defer span.End()

	products, err := h.service.List(ctx)
	if err != nil {
		h.log.Error("product list failed", "err", err)
		httpx.Message(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetProduct")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Message(w, http.StatusNotFound, "Product not found.")
		return
	}

	product, err := h.service.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		httpx.Message(w, http.StatusNotFound, "Product not found.")
	case err != nil:
		h.log.Error("product fetch failed", "product_id", id, "err", err)
		httpx.Message(w, http.StatusInternalServerError, "Internal server error.")
	default:
		httpx.JSON(w, http.StatusOK, product)
	}
}
