package rpc

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dropmarket/core"
)

// Config captures the dependencies of the HTTP API.
type Config struct {
	Operator    *core.Operator
	Auth        AuthConfig
	RateLimit   RateLimit
	ServiceName string
	Logger      *slog.Logger
}

// Server exposes the market operator over HTTP.
type Server struct {
	operator *core.Operator
	auth     *Authenticator
	limiter  *RateLimiter
	obs      *Observability
	logger   *slog.Logger

	router http.Handler
}

// New constructs the HTTP API around cfg.Operator.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		operator: cfg.Operator,
		auth:     NewAuthenticator(cfg.Auth, logger),
		limiter:  NewRateLimiter(cfg.RateLimit),
		obs:      NewObservability(cfg.ServiceName, logger),
		logger:   logger,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Use(s.limiter.Middleware)

		api.Get("/admin", s.handleAdmin)
		api.Put("/admin/fee", s.handleSetFee)
		api.Put("/admin/heartbeat", s.handleSetHeartbeat)
		api.Put("/admin/treasury", s.handleSetTreasury)
		api.Put("/admin/owner", s.handleTransferOwnership)
		api.Post("/admin/fund", s.handleFund)
		api.Post("/rounds", s.handlePublishRound)
		api.Get("/state/root", s.handleStateRoot)

		api.Get("/tokens", s.handleTokenID)
		api.Post("/products", s.handleMint)
		api.Route("/products/{tokenId}", func(pr chi.Router) {
			pr.Get("/", s.handleProduct)
			pr.Get("/issuer", s.handleIssuer)
			pr.Put("/listing", s.handleSetMetadataAfterPurchase)
			pr.Delete("/listing", s.handleRemoveMetadata)
			pr.Get("/listings/{owner}", s.handleMetadata)
			pr.Get("/listings/{owner}/beneficiaries", s.handleBeneficiaries)
			pr.Get("/listings/{owner}/beneficiaries/{index}", s.handleBeneficiary)
			pr.Get("/units/{owner}", s.handleUnitBalance)
			pr.Post("/transfers", s.handleTransferUnits)
		})

		api.Post("/coupons", s.handleAddCoupon)
		api.Get("/coupons/{hash}", s.handleCoupon)
		api.Delete("/coupons/{hash}", s.handleRemoveCoupon)

		api.Post("/requests", s.handlePublishRequest)
		api.Get("/requests/{id}", s.handleRequest)
		api.Delete("/requests/{id}", s.handleCancelRequest)
		api.Post("/requests/{id}/approve", s.handleApproveRequest)
		api.Post("/requests/{id}/disapprove", s.handleDisapprove)

		api.Get("/accounts/{address}/requests/incoming", s.handleIncomingRequests)
		api.Get("/accounts/{address}/requests/incoming/{id}", s.handleIsProducerRequested)
		api.Get("/accounts/{address}/requests/outgoing", s.handleOutgoingRequests)
		api.Get("/accounts/{address}/requests/outgoing/{id}", s.handleIsPublisherRequested)
		api.Get("/accounts/{address}/balances/{asset}", s.handleBalance)

		api.Get("/assets", s.handleAssets)
		api.Post("/assets", s.handleAddAsset)
		api.Delete("/assets/{address}", s.handleRemoveAsset)

		api.Post("/quotes", s.handleQuote)
		api.Post("/purchases", s.handlePurchase)
		api.Get("/receipts/{id}", s.handleReceipt)
	})
	return r
}

// fail writes the envelope for err and logs internal failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, codeOf(status), err.Error())
}

// caller returns the authenticated caller or writes a 401.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := CallerFromContext(r.Context())
	if !ok {
		s.fail(w, r, errNoCaller)
		return common.Address{}, false
	}
	return addr, true
}
