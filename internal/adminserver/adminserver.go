// Package adminserver exposes the query surface (C7) over HTTP: health,
// Prometheus metrics, and thin JSON wrappers around task listing,
// report retrieval, and overlap queries. Routing follows the teacher's
// gorilla/mux + metrics-middleware pattern; overlap queries (the most
// expensive operation C7 offers) are throttled through a worker pool
// rather than run inline on the request goroutine.
package adminserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/xtrace/reportstore/internal/config"
	"github.com/xtrace/reportstore/internal/metrics"
	"github.com/xtrace/reportstore/internal/query"
	"github.com/xtrace/reportstore/internal/workerpool"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server wraps an http.Server whose handlers delegate to a
// query.Surface.
type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
}

func New(cfg config.AdminConfig, surface *query.Surface, pool *workerpool.Pool, logger *logrus.Logger) *Server {
	router := mux.NewRouter()
	h := &handlers{surface: surface, pool: pool, logger: logger}

	router.Handle("/healthz", metricsMiddleware(http.HandlerFunc(h.health))).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.Handle("/tasks", metricsMiddleware(http.HandlerFunc(h.listTasks))).Methods("GET")
	router.Handle("/tasks/{taskId}", metricsMiddleware(http.HandlerFunc(h.taskSummary))).Methods("GET")
	router.Handle("/tasks/{taskId}/reports", metricsMiddleware(http.HandlerFunc(h.reportsByTask))).Methods("GET")
	router.Handle("/tasks/{taskId}/tags", metricsMiddleware(http.HandlerFunc(h.tagsForTask))).Methods("GET")
	router.Handle("/tasks/{taskId}/overlap", metricsMiddleware(http.HandlerFunc(h.overlap))).Methods("GET")
	router.Handle("/tasks/{taskId}/overlap/transitive", metricsMiddleware(http.HandlerFunc(h.allOverlap))).Methods("GET")

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.Host + ":" + strconv.Itoa(cfg.Port),
			Handler: router,
		},
		logger: logger,
	}
}

// ListenAndServe starts serving and blocks until the listener fails or
// is closed by Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// metricsMiddleware wraps a handler with a request-duration
// observation against AdminRequestDuration, labeled by the route's
// path template (not the raw path, which would put one series per
// task-id) and method, mirroring the teacher's innermost metrics
// middleware.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := "unknown"
		if tpl, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil {
			route = tpl
		}
		metrics.AdminRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
