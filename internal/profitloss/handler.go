package profitloss

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/franchisehq/backoffice/internal/platform/httpx"
	"github.com/franchisehq/backoffice/internal/shared"
)

// WarmupEnqueuer schedules an asynchronous cache warmup. The worker
// binary picks the task up; the string form avoids a handler dependency
// on the jobs package.
type WarmupEnqueuer interface {
	EnqueueWarmup(ctx context.Context, franchiseID string) error
}

// Handler wires the profit and loss report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	warmups WarmupEnqueuer
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, warmups WarmupEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, warmups: warmups}
}

// MountRoutes registers report routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/profit-loss", h.report)
	r.Post("/reports/profit-loss/warm", h.warm)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	franchiseID, err := httpx.QueryUUID(r, "franchise_id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise id")
		return
	}
	filter := ReportFilter{FranchiseID: franchiseID}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if filter.From, err = time.Parse("2006-01-02", raw); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from date, want YYYY-MM-DD")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if filter.To, err = time.Parse("2006-01-02", raw); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to date, want YYYY-MM-DD")
			return
		}
	}

	report, err := h.service.ComputeProfitLoss(r.Context(), id, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if report.Summary.COGSDivergence {
		h.logger.Warn("report served with cogs divergence",
			"from", report.Period.From.Format("2006-01-02"),
			"to", report.Period.To.Format("2006-01-02"),
		)
	}
	httpx.JSON(w, http.StatusOK, report)
}

type warmRequest struct {
	FranchiseID string `json:"franchise_id,omitempty"`
}

func (h *Handler) warm(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	if id.Role != shared.RoleAdmin {
		httpx.RespondError(w, &shared.AccessDeniedError{Reason: "cache warmup requires admin role"})
		return
	}
	if h.warmups == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "warmup queue not configured")
		return
	}
	var req warmRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if err := h.warmups.EnqueueWarmup(r.Context(), req.FranchiseID); err != nil {
		h.logger.Error("enqueue report warmup", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
