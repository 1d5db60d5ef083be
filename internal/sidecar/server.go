package sidecar

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/cache"
)

var authDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sidecar_auth_decisions_total",
		Help: "Auth lookups answered, by decision",
	},
	[]string{"decision"},
)

// Server answers the Hysteria2 proxy's auth callbacks. The lookup path is
// pure memory; nothing here may touch the network.
type Server struct {
	router *chi.Mux
	cache  *cache.Cache
	logger zerolog.Logger
}

func NewServer(c *cache.Cache, logger zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cache:  c,
		logger: logger.With().Str("component", "auth-server").Logger(),
	}
	s.router.Post("/auth", s.handleAuth)
	s.router.Get("/health-check", s.handleHealthCheck)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type authRequest struct {
	Auth string `json:"auth"`
	Addr string `json:"addr"`
	Tx   uint64 `json:"tx"`
}

type authResponse struct {
	Ok bool   `json:"ok"`
	ID string `json:"id,omitempty"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authDecisions.WithLabelValues("malformed").Inc()
		writeJSON(w, http.StatusBadRequest, authResponse{Ok: false})
		return
	}

	id, ok := s.cache.LookupToken(req.Auth)
	if !ok {
		authDecisions.WithLabelValues("denied").Inc()
		s.logger.Debug().Str("addr", req.Addr).Msg("token denied")
		writeJSON(w, http.StatusOK, authResponse{Ok: false})
		return
	}
	authDecisions.WithLabelValues("allowed").Inc()
	writeJSON(w, http.StatusOK, authResponse{Ok: true, ID: id.String()})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
