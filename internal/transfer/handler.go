package transfer

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/platform/httpx"
	"github.com/franchisehq/backoffice/internal/shared"
)

// Handler wires transfer workflow endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transfer routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transfers", h.list)
	r.Post("/transfers", h.initiate)
	r.Get("/transfers/{id}", h.get)
	r.Post("/transfers/{id}/approve", h.transition(func(s *Service) transitionFunc { return s.Approve }))
	r.Post("/transfers/{id}/dispatch", h.transition(func(s *Service) transitionFunc { return s.Dispatch }))
	r.Post("/transfers/{id}/complete", h.transition(func(s *Service) transitionFunc { return s.Complete }))
	r.Post("/transfers/{id}/reject", h.terminate(func(s *Service) terminateFunc { return s.Reject }))
	r.Post("/transfers/{id}/cancel", h.terminate(func(s *Service) terminateFunc { return s.Cancel }))
	r.Post("/stock/in", h.direct(func(s *Service) directFunc { return s.StockIn }))
	r.Post("/stock/out", h.direct(func(s *Service) directFunc { return s.StockOut }))
}

type (
	transitionFunc func(ctx context.Context, id shared.Identity, transferID uuid.UUID) (Transfer, error)
	terminateFunc  func(ctx context.Context, id shared.Identity, transferID uuid.UUID, reason string) (Transfer, error)
	directFunc     func(ctx context.Context, id shared.Identity, req DirectRequest) (Transfer, error)
)

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	var req InitiateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	t, err := h.service.Initiate(r.Context(), id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("transfer initiated",
		"transfer_id", t.ID.String(),
		"from", t.FromFranchise.String(),
		"to", t.ToFranchise.String(),
		"quantity", t.Quantity,
	)
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) transition(pick func(*Service) transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := httpx.Caller(w, r)
		if !ok {
			return
		}
		transferID, err := httpx.UUIDParam(r, "id")
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
			return
		}
		t, err := pick(h.service)(r.Context(), id, transferID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}

type terminateRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) terminate(pick func(*Service) terminateFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := httpx.Caller(w, r)
		if !ok {
			return
		}
		transferID, err := httpx.UUIDParam(r, "id")
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
			return
		}
		var req terminateRequest
		if r.ContentLength > 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
				return
			}
		}
		t, err := pick(h.service)(r.Context(), id, transferID, req.Reason)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}

func (h *Handler) direct(pick func(*Service) directFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := httpx.Caller(w, r)
		if !ok {
			return
		}
		var req DirectRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		t, err := pick(h.service)(r.Context(), id, req)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, t)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	transferID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
		return
	}
	t, history, err := h.service.Get(r.Context(), id, transferID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfer": t, "history": history})
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
	transfers, pagination, err := h.service.List(r.Context(), id, requested, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": transfers, "pagination": pagination})
}
