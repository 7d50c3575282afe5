package ledger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
)

func newTestRouter(svc *Service) chi.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc, scope.NewResolver())
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithIdentity(req.Context(), shared.Identity{UserID: 1, Role: shared.RoleAdmin})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.MountRoutes(r)
	return r
}

func postMovement(t *testing.T, router chi.Router, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/movements", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestManualMovementWithReferenceAppliedOnce(t *testing.T) {
	store := newMemoryStore()
	keys := newMemoryKeys()
	router := newTestRouter(NewService(store, nil, keys, nil))

	franchise := uuid.New()
	product := store.addProduct(franchise, 0)
	body := map[string]any{
		"product_id":   product.String(),
		"franchise_id": franchise.String(),
		"quantity":     10,
		"kind":         "adjustment",
		"ref_id":       uuid.New().String(),
	}

	rec := postMovement(t, router, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, int64(10), store.stock[product])

	// A retried request with the same reference changes nothing.
	rec = postMovement(t, router, body)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, int64(10), store.stock[product])
	require.Len(t, store.movements, 1)
}

func TestManualMovementWithoutReferenceRepeats(t *testing.T) {
	store := newMemoryStore()
	keys := newMemoryKeys()
	router := newTestRouter(NewService(store, nil, keys, nil))

	franchise := uuid.New()
	product := store.addProduct(franchise, 0)
	body := map[string]any{
		"product_id":   product.String(),
		"franchise_id": franchise.String(),
		"quantity":     5,
		"kind":         "purchase",
	}

	for i := 0; i < 2; i++ {
		rec := postMovement(t, router, body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	require.Equal(t, int64(10), store.stock[product])
}
