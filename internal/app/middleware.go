package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/franchisehq/backoffice/internal/shared"
)

// Identity headers set by the authenticating gateway. The service sits
// behind it and never sees raw credentials.
const (
	headerUserID     = "X-User-Id"
	headerUserRole   = "X-User-Role"
	headerFranchises = "X-User-Franchises"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger *slog.Logger
	Config *Config
}

// identityMiddleware extracts the caller identity from gateway headers.
// Requests without a parseable identity pass through carrying none;
// handlers reject them with 401 when they need a caller.
func identityMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawID := r.Header.Get(headerUserID)
			rawRole := r.Header.Get(headerUserRole)
			if rawID == "" || rawRole == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := strconv.ParseInt(rawID, 10, 64)
			if err != nil {
				logger.Warn("unparseable user id header", "value", rawID)
				next.ServeHTTP(w, r)
				return
			}
			role := shared.Role(rawRole)
			if !role.Valid() {
				logger.Warn("unknown role header", "value", rawRole)
				next.ServeHTTP(w, r)
				return
			}
			id := shared.Identity{UserID: userID, Role: role}
			if raw := r.Header.Get(headerFranchises); raw != "" {
				for _, part := range strings.Split(raw, ",") {
					fid, err := uuid.Parse(strings.TrimSpace(part))
					if err != nil {
						logger.Warn("unparseable franchise header entry", "value", part)
						continue
					}
					id.Franchises = append(id.Franchises, fid)
				}
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
		})
	}
}

// MiddlewareStack installs the HTTP middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	rateLimit := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		rateLimit = cfg.Config.RateLimitPerMinute
	}

	return []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		identityMiddleware(cfg.Logger),
	}
}
