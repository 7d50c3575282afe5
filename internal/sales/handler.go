package sales

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/platform/httpx"
	"github.com/franchisehq/backoffice/internal/shared"
)

// Handler wires sale capture endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers sale routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sales", h.list)
	r.Post("/sales", h.create)
	r.Get("/sales/{id}", h.get)
	r.Post("/sales/{id}/refund", h.refund)
	r.Post("/sales/{id}/cancel", h.cancel)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	var req CreateSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sale, err := h.service.CreateSale(r.Context(), id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("sale captured",
		"sale_id", sale.ID.String(),
		"invoice", sale.InvoiceNumber,
		"grand_total", sale.GrandTotal,
	)
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.service.Refund)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.service.Cancel)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id shared.Identity, saleID uuid.UUID) (Sale, error)) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	saleID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, err := fn(r.Context(), id, saleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	saleID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, err := h.service.Get(r.Context(), id, saleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	requested, err := httpx.QueryUUID(r, "franchise_id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise id")
		return
	}
	filter := ListFilter{
		Page:    httpx.QueryInt(r, "page"),
		PerPage: httpx.QueryInt(r, "per_page"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := Status(raw)
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if filter.From, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from timestamp")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if filter.To, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to timestamp")
			return
		}
	}
	salesList, pagination, err := h.service.List(r.Context(), id, requested, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": salesList, "pagination": pagination})
}
