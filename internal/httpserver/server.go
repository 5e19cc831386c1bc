package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"storefront/shopclient/internal/apiclient"
	"storefront/shopclient/internal/auth"
	"storefront/shopclient/internal/checkout"
	"storefront/shopclient/internal/config"
	"storefront/shopclient/internal/guard"
	"storefront/shopclient/internal/observability"
	"storefront/shopclient/internal/shop"
)

type AuthFlow interface {
	State() auth.State
	User() (shop.User, bool)
	TakeNotice() (string, bool)
	DismissNotice()
	Login(ctx context.Context, username, password string) (shop.User, error)
	Register(ctx context.Context, in shop.RegisterInput) (shop.User, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, patch shop.UserPatch) (shop.User, error)
	HandleUnauthorized(ctx context.Context, err error) bool
}

type Catalog interface {
	Products(ctx context.Context, category string) ([]shop.Product, error)
	Product(ctx context.Context, id int64) (shop.Product, error)
	SearchProducts(ctx context.Context, query string) ([]shop.Product, error)
}

type OrderService interface {
	Orders(ctx context.Context) ([]shop.Order, error)
	Order(ctx context.Context, id int64) (shop.Order, error)
	OrderDetails(ctx context.Context, id int64) (shop.Order, error)
	CancelOrder(ctx context.Context, id int64) (shop.Order, error)
}

type CheckoutRegistry interface {
	Open(ctx context.Context, ownerID, productID int64, size string) (*checkout.Controller, error)
	Get(id string, ownerID int64) (*checkout.Controller, error)
	Discard(id string, ownerID int64) error
	DiscardOwner(ownerID int64) int
}

type ReadinessProbe interface {
	Ping(ctx context.Context) error
}

type AuditLogger interface {
	Log(actor, action, target, outcome, detail string) error
}

type Deps struct {
	Auth      AuthFlow
	Catalog   Catalog
	Orders    OrderService
	Checkouts CheckoutRegistry
	Backend   ReadinessProbe
	Audit     AuditLogger
	Logger    *slog.Logger
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

const requestTimeout = 30 * time.Second

func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(loggingMiddleware(deps.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Backend != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Backend.Ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, apiclient.UserMessage(err))
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", observability.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			registerSessionHandlers(r, deps)
			registerCatalogHandlers(r, deps)

			r.Group(func(r chi.Router) {
				r.Use(guard.Middleware(deps.Auth))
				registerProfileHandlers(r, deps)
				registerOrderHandlers(r, deps)
				registerCheckoutHandlers(r, deps)
			})
		})

		// Streams outlive the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware(deps.Auth))
			r.Get("/checkout/{id}/stream", checkoutStream(deps))
		})
	})

	return r
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// writeFailure maps the error taxonomy onto HTTP. A backend 401 also ends the
// local session so the next guarded request redirects.
func writeFailure(w http.ResponseWriter, r *http.Request, deps Deps, err error) {
	var (
		vErr    *shop.ValidationError
		authErr *auth.AuthError
		netErr  *apiclient.NetworkError
		apiErr  *apiclient.APIError
	)
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": vErr.Message, "fields": vErr.Fields})
	case errors.As(err, &authErr):
		writeError(w, http.StatusUnauthorized, authErr.Message)
	case errors.Is(err, auth.ErrAlreadySignedIn):
		w.Header().Set("Location", guard.HomePath)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "redirect": guard.HomePath})
	case errors.Is(err, auth.ErrNotAuthenticated) || apiclient.IsUnauthorized(err):
		if deps.Auth != nil {
			deps.Auth.HandleUnauthorized(r.Context(), err)
		}
		w.Header().Set("Location", guard.AuthPath)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "sign in required", "redirect": guard.AuthPath})
	case errors.Is(err, checkout.ErrBusy), errors.Is(err, checkout.ErrInvalidStage), errors.Is(err, apiclient.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, checkout.ErrNotFound), errors.Is(err, checkout.ErrClosed):
		writeError(w, http.StatusNotFound, "checkout not found")
	case errors.As(err, &netErr):
		writeError(w, http.StatusBadGateway, apiclient.UserMessage(err))
	case errors.As(err, &apiErr):
		writeError(w, apiErr.Status, apiErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		deps.Logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func auditReq(a AuditLogger, r *http.Request, actor, action, target, outcome, detail string) {
	parts := []string{
		"rid=" + middleware.GetReqID(r.Context()),
		"ip=" + clientIP(r),
		"ua=" + strings.TrimSpace(r.UserAgent()),
	}
	if strings.TrimSpace(detail) != "" {
		parts = append(parts, "detail="+strings.TrimSpace(detail))
	}
	auditSafe(a, actor, action, target, outcome, strings.Join(parts, " | "))
}

func auditSafe(a AuditLogger, actor, action, target, outcome, detail string) {
	if a == nil {
		return
	}
	_ = a.Log(actor, action, target, outcome, detail)
}
