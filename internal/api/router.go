package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eugenenazirov/tvsubscribe/internal/metrics"
)

// RouterOption configures the behaviour of NewRouter.
type RouterOption func(*routerConfig)

// WithLogging controls whether access logs are emitted.
func WithLogging(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.enableLogging = enabled
	}
}

// WithRateLimiter overrides the default request rate limiter (primarily for tests).
func WithRateLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.rateLimiter = limiter
	}
}

// WithRateLimit replaces the limiter with per-client token buckets of the given rate
// and burst. A non-positive rate disables rate limiting.
func WithRateLimit(ratePerSecond float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		if ratePerSecond <= 0 {
			cfg.rateLimiter = nil
			return
		}
		cfg.rateLimiter = newClientLimiter(ratePerSecond, burst)
	}
}

// WithMetrics exposes h at GET /metrics.
func WithMetrics(h http.Handler) RouterOption {
	return func(cfg *routerConfig) {
		cfg.metrics = h
	}
}

// WithFallback serves every request no API route claims, typically the
// browser UI.
func WithFallback(h http.Handler) RouterOption {
	return func(cfg *routerConfig) {
		cfg.fallback = h
	}
}

type routerConfig struct {
	enableLogging bool
	logger        *zap.Logger
	rateLimiter   rateLimiter
	metrics       http.Handler
	fallback      http.Handler
}

type endpoint struct {
	method  string
	path    string
	handler http.HandlerFunc
}

// NewRouter creates an HTTP router with standard middleware.
func NewRouter(handler *Handler, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := routerConfig{
		enableLogging: true,
		logger:        logger,
		rateLimiter:   newClientLimiter(25, 50),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	endpoints := []endpoint{
		{http.MethodGet, "/health", handler.handleHealth},
		{http.MethodGet, "/getConfig", handler.handleGetConfig},
		{http.MethodPost, "/setConfig", handler.handleSetConfig},
		{http.MethodGet, "/getSubscribeList", handler.handleListSubscriptions},
		{http.MethodPost, "/addSubscribe", handler.handleAddSubscription},
		{http.MethodPost, "/delSubscribe", handler.handleDeleteSubscription},
		{http.MethodPost, "/triggerNow", handler.handleTrigger},
		{http.MethodGet, "/searchDouBan", handler.handleSearchDouban},
		{http.MethodGet, "/proxy/image", handler.handleProxyImage},
	}

	mux := http.NewServeMux()
	for _, ep := range endpoints {
		mux.Handle(ep.method+" "+ep.path, ep.handler)
		// Without this the UI fallback would answer API paths hit with the
		// wrong method.
		mux.Handle(ep.path, http.HandlerFunc(handler.handleMethodNotAllowed))
	}
	if cfg.metrics != nil {
		mux.Handle("GET /metrics", cfg.metrics)
	}
	if cfg.fallback != nil {
		mux.Handle("/", uiRoute(cfg.fallback))
	}

	var root http.Handler = mux
	root = corsMiddleware(root)
	root = recoveryMiddleware(cfg.logger, root)
	if cfg.enableLogging {
		root = loggingMiddleware(cfg.logger, root)
	}
	root = metricsMiddleware(root)
	root = rateLimitMiddleware(cfg.rateLimiter, root)
	root = requestIDMiddleware(root)

	return root
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Requested-With")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		// The UI shell and its assets are noise next to API calls.
		level := zap.InfoLevel
		if route(r) == "/" && rec.status < http.StatusInternalServerError {
			level = zap.DebugLevel
		}
		logger.Log(level, "request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route(r)),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(route(r), r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

// uiRoute keeps the "/" pattern on requests served by the UI. The UI
// routes through its own ServeMux, which overwrites r.Pattern in place.
func uiRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pattern := r.Pattern
		defer func() { r.Pattern = pattern }()
		next.ServeHTTP(w, r)
	})
}

// route reports the mux pattern that served r. ServeMux fills it in place,
// so it is only meaningful after the request has been dispatched.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

func recoveryMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "unexpected server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := r.Context()
		ctx = contextWithRequestID(ctx, requestID)

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	return uuid.NewString()
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
