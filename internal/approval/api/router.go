package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// ReadyFunc reports whether the dependencies of the daemon are reachable.
type ReadyFunc func(ctx context.Context) error

// NewRouter wires the API routes together with /health, /ready and
// /metrics.
func NewRouter(h *Handlers, ready ReadyFunc, log logger.Logger) *mux.Router {
	log = logger.Component(log, "http")
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	router.Use(LoggingMiddleware(log))

	router.HandleFunc("/health", health).Methods(http.MethodGet)
	router.HandleFunc("/ready", readiness(ready, log)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/notifications/{kind}", h.GetNotifications).Methods(http.MethodGet)
	apiRouter.HandleFunc("/notifications/{kind}/focus", h.FocusNotifications).Methods(http.MethodPost)
	apiRouter.HandleFunc("/views/{kind}", h.GetView).Methods(http.MethodGet)
	apiRouter.HandleFunc("/views/{kind}/focus", h.FocusView).Methods(http.MethodPost)
	apiRouter.HandleFunc("/owners/{ownerId}/views/{kind}", h.GetOwnerView).Methods(http.MethodGet)
	apiRouter.HandleFunc("/owners/{ownerId}/views/{kind}/focus", h.FocusOwnerView).Methods(http.MethodPost)
	apiRouter.HandleFunc("/{kind}", h.Submit).Methods(http.MethodPost)
	apiRouter.HandleFunc("/{kind}/{id}/approve", h.Approve).Methods(http.MethodPost)
	apiRouter.HandleFunc("/{kind}/{id}/reject", h.Reject).Methods(http.MethodPost)

	return router
}

func health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func readiness(ready ReadyFunc, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				log.Warn("readiness check failed", map[string]interface{}{"error": err})
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

// RequestIDMiddleware propagates X-Request-ID, generating one when absent.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID stored by RequestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggingMiddleware logs every request and records its metrics under the
// route template.
func LoggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

			log.Debug("request served", map[string]interface{}{
				"method":     r.Method,
				"route":      route,
				"status":     wrapped.statusCode,
				"durationMs": duration.Milliseconds(),
				"requestId":  GetRequestID(r.Context()),
			})
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
