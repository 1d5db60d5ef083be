// Package api is the orchestrator's HTTP surface: the REST API used by
// operators, agents and the auth sidecar.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/api/handler"
	mw "github.com/ponyhq/pony/internal/api/middleware"
	"github.com/ponyhq/pony/internal/core"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	token    string
}

func NewServer(logger zerolog.Logger, services *core.Services, pool *pgxpool.Pool, token string) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
		token:    token,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/health-check", s.handleHealthCheck)

	s.router.Group(func(r chi.Router) {
		r.Use(mw.Auth(s.token))

		node := handler.NewNode(s.services.Nodes)
		r.Post("/node", node.Register)
		r.Get("/node", node.Get)
		r.Get("/nodes", node.List)
		r.Get("/node/score", node.Score)

		conn := handler.NewConnection(s.services.Connections)
		r.Post("/connection", conn.Create)
		r.Put("/connection/{id}", conn.Update)
		r.Delete("/connection/{id}", conn.Delete)
		r.Get("/connection/{id}", conn.Get)
		r.Get("/connections", conn.List)

		sub := handler.NewSubscription(s.services.Subscriptions, s.services.Connections)
		r.Post("/sub", sub.Upsert)
		r.Get("/sub/info", sub.Info)
		r.Get("/sub/stat", sub.Stat)
	})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "db": err.Error()})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
