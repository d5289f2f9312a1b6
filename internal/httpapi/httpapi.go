package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/metrics"
	"hardwarepos/backend/internal/service"
	"hardwarepos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	metrics       *metrics.Collector
	logger        *slog.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, collector *metrics.Collector, allowedOrigin string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		service:       svc,
		auth:          auth,
		metrics:       collector,
		logger:        logger.With("component", "http"),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/items", a.requireAuth(a.handleListItems, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/items", a.requireAuth(a.handleCreateItem, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/items/low-stock", a.requireAuth(a.handleLowStock, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/items/{id}", a.requireAuth(a.handleGetItem, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("PUT /api/v1/items/{id}", a.requireAuth(a.handleUpdateItem, domain.RoleAdmin))
	mux.HandleFunc("DELETE /api/v1/items/{id}", a.requireAuth(a.handleDeleteItem, domain.RoleAdmin))
	mux.HandleFunc("PATCH /api/v1/items/{id}/stock", a.requireAuth(a.handleAdjustStock, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/categories", a.requireAuth(a.handleCategories, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/bills", a.requireAuth(a.handleListBills, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/bills", a.requireAuth(a.handleCreateBill, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/bills/from-cart", a.requireAuth(a.handleCreateBillFromCart, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/bills/{id}", a.requireAuth(a.handleGetBill, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/bills/{id}/refund", a.requireAuth(a.handleRefundBill, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/bills/{id}/refund-items", a.requireAuth(a.handleRefundItems, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

type requestIDKey struct{}

// RequestID returns the id the middleware assigned to the request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		a.metrics.ObserveHTTP(r.Method, route, rec.status, elapsed)
		a.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", requestID,
		)
	})
}

// statusFor maps service and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, service.ErrAlreadyRefunded),
		errors.Is(err, service.ErrAlreadyFullyRefunded),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, service.ErrNoItemsSpecified),
		errors.Is(err, service.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "request_id", RequestID(r.Context()), "error", err)
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the logs.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
