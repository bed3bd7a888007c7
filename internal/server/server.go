// Package server exposes stored decisions, learned history, and the decision
// pipeline itself over HTTP. The decision surface is read-only: records are
// created by processing invoices, approved through the CLI, and never mutated
// here.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/stackbirds/invoiceguard/internal/pipeline"
	"github.com/stackbirds/invoiceguard/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	store     store.Store
	processor *pipeline.Processor
}

func New(st store.Store, processor *pipeline.Processor) *Server {
	return &Server{store: st, processor: processor}
}

// Router wires all routes and middleware.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/decisions", func(r chi.Router) {
			r.Get("/", s.handleListDecisions)
			r.Get("/{id}", s.handleGetDecision)
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/stats", s.handleHistoryStats)
			r.Get("/{vendor}/{item}", s.handleObservations)
		})
		r.Post("/invoices", s.handleProcessInvoice)
	})

	return r
}

// requestLogger emits one structured line per request, matching the log
// stream the rest of the system writes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
