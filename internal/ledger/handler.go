package ledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/platform/httpx"
	"github.com/franchisehq/backoffice/internal/scope"
)

// Handler exposes movement history, stock queries and manual
// adjustments. Scope checks live here because the service's inputs are
// already scope-resolved in every other path.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	resolver  *scope.Resolver
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *scope.Resolver) *Handler {
	return &Handler{logger: logger, service: service, resolver: resolver, validator: validator.New()}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{id}/movements", h.movements)
	r.Get("/products/{id}/stock", h.stock)
	r.Post("/movements", h.apply)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	productID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	requested, err := httpx.QueryUUID(r, "franchise_id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise id")
		return
	}
	sc, err := h.resolver.Resolve(id, requested)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	filter := MovementFilter{
		ProductID: productID,
		Limit:     httpx.QueryInt(r, "limit"),
	}
	switch {
	case requested != nil:
		filter.FranchiseID = *requested
	case !sc.All && len(sc.Franchises) == 1:
		filter.FranchiseID = sc.Franchises[0]
	case !sc.All:
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "franchise_id required for multi-franchise scope")
		return
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

	movements, err := h.service.History(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	productID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	requested, err := httpx.QueryUUID(r, "franchise_id")
	if err != nil || requested == nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "franchise_id required")
		return
	}
	if _, err := h.resolver.Resolve(id, requested); err != nil {
		httpx.RespondError(w, err)
		return
	}
	quantity, err := h.service.FranchiseStock(r.Context(), productID, *requested)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":   productID,
		"franchise_id": *requested,
		"quantity":     quantity,
	})
}

type applyMovementRequest struct {
	ProductID   uuid.UUID `json:"product_id" validate:"required"`
	FranchiseID uuid.UUID `json:"franchise_id" validate:"required"`
	Quantity    int64     `json:"quantity" validate:"required"`
	Kind        string    `json:"kind" validate:"required"`
	Note        string    `json:"note" validate:"max=500"`
	// RefID makes the movement idempotent: retries carrying the same
	// reference id are rejected as duplicates.
	RefID uuid.UUID `json:"ref_id,omitempty"`
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	var req applyMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if _, err := h.resolver.RequireWrite(id, req.FranchiseID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	// Sales and transfers write through their own services; the manual
	// endpoint is for corrections and receipts only.
	kind := Kind(req.Kind)
	switch kind {
	case KindAdjustment, KindPurchase, KindReturn:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind must be adjustment, purchase or return")
		return
	}

	in := MovementInput{
		ProductID:   req.ProductID,
		FranchiseID: req.FranchiseID,
		Quantity:    req.Quantity,
		Kind:        kind,
		Note:        req.Note,
		ActorID:     id.UserID,
	}
	if req.RefID != uuid.Nil {
		in.RefModule = "manual"
		in.RefID = req.RefID
	}
	m, err := h.service.ApplyMovement(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("movement applied",
		"movement_id", m.ID,
		"product_id", req.ProductID.String(),
		"kind", req.Kind,
		"quantity", req.Quantity,
	)
	httpx.JSON(w, http.StatusCreated, m)
}
