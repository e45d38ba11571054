// Package api provides the node fabric's HTTP surface: the five
// inter-node endpoints named in spec §6 plus Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mabou7agar/nodefabric/internal/app/credit"
	"github.com/mabou7agar/nodefabric/internal/discovery"
	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/federated"
	"github.com/mabou7agar/nodefabric/internal/health"
)

// ChatHandler answers a chat turn locally, implemented by whatever
// backend this node wraps (an LLM, a scripted agent, etc).
type ChatHandler interface {
	Chat(ctx context.Context, message, sessionID, userID string) (reply string, metadata map[string]interface{}, err error)
}

// ActionHandler executes a local side-effectful action.
type ActionHandler interface {
	Handle(ctx context.Context, actionType string, data map[string]interface{}) (json.RawMessage, error)
}

// Validator verifies an X-Node-Token minted by internal/auth.Service,
// returning nil claims for anything invalid, expired, or malformed.
type Validator interface {
	ValidateToken(token string) *domain.TokenClaims
}

// Server is the node fabric's HTTP API server.
type Server struct {
	nodeSlug    string
	local       *discovery.LocalDiscovery
	search      *federated.Service
	credits     *credit.Service
	checker     *health.Checker
	chat        ChatHandler
	action      ActionHandler
	auth        Validator
	corsOrigins []string
}

// Config wires every collaborator the server's handlers dispatch to.
// Chat and Action may be nil, in which case those endpoints return 501.
// Routing decisions (internal/router) happen upstream of this server —
// a caller resolves local vs. remote before hitting a peer's HTTP
// surface, so the Router itself is not part of this wiring.
type Config struct {
	NodeSlug    string
	Local       *discovery.LocalDiscovery
	Search      *federated.Service
	Credits     *credit.Service
	Checker     *health.Checker
	Chat        ChatHandler
	Action      ActionHandler
	Auth        Validator
	CORSOrigins []string
}

// NewServer constructs a Server from cfg. A nil Auth falls back to
// checking only that X-Node-Token is present, without verifying it —
// callers that care about real inter-node auth must supply one.
func NewServer(cfg Config) *Server {
	return &Server{
		nodeSlug: cfg.NodeSlug, local: cfg.Local,
		search: cfg.Search, credits: cfg.Credits, checker: cfg.Checker,
		chat: cfg.Chat, action: cfg.Action, auth: cfg.Auth, corsOrigins: cfg.CORSOrigins,
	}
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(s.corsMiddleware)

	r.Route("/api/ai-engine", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.With(s.requireNodeToken).Post("/search", s.handleSearch)
		r.With(s.requireNodeToken).Post("/chat", s.handleChat)
		r.With(s.requireNodeToken).Post("/actions", s.handleAction)
		r.With(s.requireNodeToken).Post("/aggregate", s.handleAggregate)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// handleHealth never requires auth: it is the health GET every peer's
// ping loop polls before a token has been established.
type healthResponse struct {
	domain.AdvertisedMetadata
	NodeSlug string `json:"nodeSlug,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	meta := domain.AdvertisedMetadata{Status: "active"}
	if s.local != nil {
		meta = s.local.Metadata()
		meta.Status = "active"
	}
	if s.checker != nil && !s.checker.IsHealthy() {
		meta.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{AdvertisedMetadata: meta, NodeSlug: s.nodeSlug})
}

type searchRequest struct {
	Query   string               `json:"query"`
	Limit   int                  `json:"limit"`
	NodeIDs []string             `json:"nodeIds,omitempty"`
	Options domain.SearchOptions `json:"options"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if s.search == nil {
		writeError(w, http.StatusNotImplemented, "federated search not configured")
		return
	}
	resp := s.search.Search(r.Context(), req.Query, req.NodeIDs, req.Limit, req.Options)
	writeJSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"sessionId"`
	UserID      string   `json:"userId,omitempty"`
	Collections []string `json:"collections,omitempty"`
}

type chatResponse struct {
	Response    string                 `json:"response"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreditsUsed int64                  `json:"creditsUsed"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.chat == nil {
		writeError(w, http.StatusNotImplemented, "chat handler not configured")
		return
	}

	reply, metadata, err := s.chat.Chat(r.Context(), req.Message, req.SessionID, req.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	cost := credit.EstimateChatCost(len(req.Message), len(reply))
	if s.credits != nil {
		if err := s.credits.ChargeChat(cost, req.SessionID); err != nil {
			cost = 0 // insufficient pool balance: serve the reply anyway, report zero cost
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{Response: reply, Metadata: metadata, CreditsUsed: cost})
}

type actionRequest struct {
	ActionType string                 `json:"actionType"`
	Data       map[string]interface{} `json:"data"`
	SessionID  string                 `json:"sessionId,omitempty"`
	UserID     string                 `json:"userId,omitempty"`
	Atomic     bool                   `json:"atomic,omitempty"`
	NodeSlugs  []string               `json:"nodeSlugs,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Atomic {
		if s.search == nil {
			writeError(w, http.StatusNotImplemented, "action transactions not configured")
			return
		}
		tx := s.search.ActionTransaction(r.Context(), req.ActionType, req.Data, req.NodeSlugs)
		writeJSON(w, http.StatusOK, tx)
		return
	}

	if s.action == nil {
		writeError(w, http.StatusNotImplemented, "action handler not configured")
		return
	}

	payload, err := s.action.Handle(r.Context(), req.ActionType, req.Data)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

type aggregateRequest struct {
	Collections []string `json:"collections"`
	UserID      string   `json:"userId,omitempty"`
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.search == nil {
		writeError(w, http.StatusNotImplemented, "federated search not configured")
		return
	}
	resp := s.search.Aggregate(r.Context(), req.Collections, req.UserID)
	writeJSON(w, http.StatusOK, resp)
}

// requireNodeToken enforces the X-Node-Token header is present and, if
// an auth Validator is configured, that it verifies.
func (s *Server) requireNodeToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Node-Token")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Node-Token")
			return
		}
		if s.auth != nil && s.auth.ValidateToken(token) == nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired X-Node-Token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.corsOrigins) > 0 {
			origin = s.corsOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Node-Token, X-Trace-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}
