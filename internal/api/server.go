// Package api exposes the read-only introspection HTTP surface: lifecycle
// snapshots, the global readiness gate, per-component slot state and a live
// event stream.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/PaesslerAG/jsonpath"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/soloplane/soloplane/engine"
	"github.com/soloplane/soloplane/internal/logging"
	"github.com/soloplane/soloplane/internal/middleware"
	"github.com/soloplane/soloplane/internal/telemetry"
	"github.com/soloplane/soloplane/lifecycle"
)

// Config configures the API server.
type Config struct {
	RateLimit int
	RateBurst int
}

// Server serves the introspection API.
type Server struct {
	router *mux.Router
	eng    *engine.Engine
	coord  *lifecycle.Coordinator
	hub    *Hub
	log    *logging.Logger
}

// New builds the API server and its middleware chain.
func New(cfg Config, eng *engine.Engine, coord *lifecycle.Coordinator, hub *Hub, metrics *telemetry.Metrics, accessLog zerolog.Logger, log *logging.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		eng:    eng,
		coord:  coord,
		hub:    hub,
		log:    log,
	}

	s.router.Use(middleware.AccessLog(accessLog))
	s.router.Use(middleware.Metrics(metrics))
	s.router.Use(middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, log).Handler())

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	v1.HandleFunc("/components", s.handleComponents).Methods(http.MethodGet)
	v1.HandleFunc("/components/{kind}", s.handleComponent).Methods(http.MethodGet)
	v1.HandleFunc("/events/ws", s.hub.handleWS).Methods(http.MethodGet)

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

type statusResponse struct {
	Engine     engine.Stats        `json:"engine"`
	AllReady   bool                `json:"all_ready"`
	Components []componentResponse `json:"components"`
}

type componentResponse struct {
	Kind       lifecycle.Kind  `json:"kind"`
	Exists     bool            `json:"exists"`
	InstanceID string          `json:"instance_id,omitempty"`
	Phase      lifecycle.Phase `json:"phase,omitempty"`
	Started    bool            `json:"started"`
	Generation uint64          `json:"generation,omitempty"`
}

func (s *Server) componentState(kind lifecycle.Kind) componentResponse {
	resp := componentResponse{Kind: kind, Exists: s.coord.Exists(kind)}
	if h, ok := s.coord.Handle(kind); ok {
		resp.InstanceID = h.ID().String()
		resp.Phase = h.Phase()
		resp.Started = h.Started()
		resp.Generation = h.Generation()
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Engine:   s.eng.Stats(),
		AllReady: s.coord.AllReady(),
	}
	for _, kind := range s.eng.Components() {
		resp.Components = append(resp.Components, s.componentState(kind))
	}

	if path := r.URL.Query().Get("path"); path != "" {
		// Project the response through a JSONPath expression; go through a
		// plain-interface document first since jsonpath walks maps.
		raw, err := json.Marshal(resp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		projected, err := jsonpath.Get(path, doc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid path: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, projected)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReady is the global readiness gate: 200 only when the engine is
// running and every singleton in the cohort has settled behind the barrier.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.eng.Ready() {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
}

func (s *Server) handleComponents(w http.ResponseWriter, _ *http.Request) {
	components := make([]componentResponse, 0)
	for _, kind := range s.eng.Components() {
		components = append(components, s.componentState(kind))
	}
	writeJSON(w, http.StatusOK, components)
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	kind := lifecycle.Kind(mux.Vars(r)["kind"])
	if _, ok := s.eng.Lookup(kind); !ok {
		writeError(w, http.StatusNotFound, "no such component: "+string(kind))
		return
	}
	writeJSON(w, http.StatusOK, s.componentState(kind))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
