// Package gateway exposes the reward core over HTTP. It resolves the acting
// user and target entities, then delegates every money-moving operation to
// the rewards service; no settlement logic lives here.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"socialcoin/ledger"
	"socialcoin/proofs"
	"socialcoin/rewards"
	"socialcoin/storage"
)

// Server wires the HTTP surface.
type Server struct {
	store   *storage.Store
	rewards *rewards.Service
	proofs  *proofs.Client
	tokens  *TokenIssuer
	log     *slog.Logger

	router http.Handler
}

func New(store *storage.Store, svc *rewards.Service, proofClient *proofs.Client, tokens *TokenIssuer) *Server {
	s := &Server{
		store:   store,
		rewards: svc,
		proofs:  proofClient,
		tokens:  tokens,
		log:     slog.Default().With("component", "gateway"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(2 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/users", s.handleListUsers)
			r.Get("/users/me", s.handleCurrentUser)
			r.Get("/users/me/balance", s.handleBalance)

			r.Get("/campaigns", s.handleListCampaigns)
			r.Post("/campaigns", s.handleCreateCampaign)
			r.Get("/campaigns/{campaignID}", s.handleGetCampaign)
			r.Delete("/campaigns/{campaignID}", s.handleDeleteCampaign)

			r.Get("/actions", s.handleListActions)
			r.Post("/actions", s.handleCreateAction)
			r.Get("/actions/{actionID}", s.handleGetAction)
			r.Put("/actions/{actionID}", s.handleEditAction)
			r.Delete("/actions/{actionID}", s.handleDeleteAction)
			r.Post("/actions/{actionID}/register", s.handleRegisterAction)
			r.Get("/actions/{actionID}/kpis", s.handleActionKPIs)

			r.Get("/offers", s.handleListOffers)
			r.Post("/offers", s.handleCreateOffer)
			r.Get("/offers/{offerID}", s.handleGetOffer)
			r.Delete("/offers/{offerID}", s.handleDeleteOffer)
			r.Post("/offers/{offerID}/redeem", s.handleRedeemOffer)

			r.Post("/transfers", s.handleTransfer)
			r.Get("/transactions", s.handleListTransactions)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeWorkflowError maps core error kinds onto response codes. ErrAuditRecord
// is not handled here: it is a degraded success the handlers surface inline.
func (s *Server) writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rewards.ErrNotFound), errors.Is(err, rewards.ErrRecipientNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rewards.ErrInvalidKPI), errors.Is(err, rewards.ErrInvalidTarget), errors.Is(err, rewards.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rewards.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "settlement backend unavailable")
	default:
		s.log.Error("workflow failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
