// Package api exposes the ledger over HTTP with fiber.
//
// The adapter performs no authentication. An upstream gateway validates the
// caller and forwards its identity in the X-Actor-ID, X-Actor-Role and
// X-Tenant-ID headers. Requests without an actor are rejected with 401.
//
// Mutating endpoints accept the idempotency key either in the JSON body or
// in the Idempotency-Key header; the body wins when both are set.
package api

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/xraph/betledger"
)

// Identity headers set by the gateway.
const (
	HeaderActorID        = "X-Actor-ID"
	HeaderActorRole      = "X-Actor-Role"
	HeaderTenantID       = "X-Tenant-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// DefaultBasePath is the prefix routes are mounted under.
const DefaultBasePath = "/betledger"

// Server serves the ledger's operations.
type Server struct {
	ledger   *betledger.Ledger
	logger   *slog.Logger
	basePath string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for failed requests.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBasePath sets the route prefix. An empty path mounts at the root.
func WithBasePath(path string) Option {
	return func(s *Server) { s.basePath = strings.TrimRight(path, "/") }
}

// New creates a Server for l.
func New(l *betledger.Ledger, opts ...Option) *Server {
	s := &Server{
		ledger:   l,
		logger:   slog.Default(),
		basePath: DefaultBasePath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BasePath returns the prefix routes are mounted under.
func (s *Server) BasePath() string { return s.basePath }

// App returns a fiber app with every route mounted.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "betledger",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.Register(app)
	return app
}

// Register mounts the routes on r under the base path.
func (s *Server) Register(r fiber.Router) {
	r.Get(s.basePath+"/health", s.health)

	g := r.Group(s.basePath, s.identify)

	g.Post("/accounts", s.ensureAccount)
	g.Get("/accounts", s.listAccounts)
	g.Get("/accounts/lookup", s.lookupAccount)
	g.Get("/accounts/:id", s.getAccount)
	g.Get("/accounts/:id/balance", s.getBalance)
	g.Patch("/accounts/:id/status", s.setAccountStatus)
	g.Post("/accounts/:id/rebuild", s.rebuildBalance)
	g.Post("/reconcile", s.reconcileAll)

	g.Post("/transactions", s.postTransaction)
	g.Get("/transactions/:id", s.getTransaction)
	g.Post("/transactions/:id/reverse", s.reverseTransaction)
	g.Get("/entries", s.queryLedger)

	g.Post("/agents", s.registerAgent)
	g.Get("/agents/:agent/float", s.getFloatLine)
	g.Put("/agents/:agent/credit-limit", s.setCreditLimit)
	g.Get("/agents/:agent/commission-balance", s.getCommissionBalance)
	g.Post("/float/topup", s.topupFloat)
	g.Post("/float/allocate", s.allocateFloat)
	g.Post("/float/return", s.returnFloat)
	g.Post("/players/topup", s.topupPlayer)
	g.Post("/players/withdraw", s.withdrawFromAgent)

	g.Post("/bets", s.placeBet)
	g.Get("/bets", s.listBets)
	g.Post("/bets/validate", s.validateMaxWin)
	g.Get("/bets/:id", s.getBet)
	g.Post("/bets/:id/settle", s.settleBet)
	g.Post("/bets/:id/manual-settle", s.manualSettleBet)
	g.Post("/bets/:id/cancel", s.cancelBet)

	g.Post("/policies", s.savePolicy)
	g.Get("/policies/current", s.currentPolicy)
	g.Get("/policies/:version", s.getPolicy)

	g.Post("/commissions/run", s.runCommission)
	g.Get("/commissions", s.listCommissions)
	g.Post("/commissions/withdraw", s.withdrawCommission)
	g.Post("/commissions/:id/approve", s.approveCommission)
	g.Post("/commissions/:id/pay", s.payCommission)
	g.Post("/commissions/:id/reverse", s.reverseCommission)
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.ledger.Store().Ping(c.UserContext()); err != nil {
		return err
	}
	return ok(c, fiber.Map{"status": "ok"})
}
