package reconcile

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/platform/httpx"
)

// Handler wires bulk import endpoints.
type Handler struct {
	logger    *slog.Logger
	processor *Processor
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, processor *Processor) *Handler {
	return &Handler{logger: logger, processor: processor}
}

// MountRoutes registers import routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/imports/{kind}", h.importRows)
	r.Get("/imports", h.list)
	r.Get("/imports/{id}", h.get)
}

type importRequest struct {
	FranchiseID uuid.UUID `json:"franchise_id"`
	Rows        []Row     `json:"rows"`
}

func (h *Handler) importRows(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	kind := Kind(chi.URLParam(r, "kind"))
	var req importRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.FranchiseID == uuid.Nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "franchise_id required")
		return
	}
	result, err := h.processor.ImportRows(r.Context(), id, kind, req.FranchiseID, req.Rows)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("import finished",
		"import_id", result.Log.ID.String(),
		"kind", string(kind),
		"status", string(result.Log.Status),
		"succeeded", result.Log.Succeeded,
		"failed", result.Log.Failed,
	)
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	logID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid import log id")
		return
	}
	l, err := h.processor.Log(r.Context(), id, logID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, l)
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
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind := Kind(raw)
		filter.Kind = &kind
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := Status(raw)
		filter.Status = &status
	}
	logs, pagination, err := h.processor.Logs(r.Context(), id, requested, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"imports": logs, "pagination": pagination})
}
