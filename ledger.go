package betledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/guard"
	"github.com/xraph/betledger/plugin"
	"github.com/xraph/betledger/store"
)

// Ledger is the financial ledger and settlement engine.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	authorizer authz.Authorizer
	players    PlayerDirectory
	verifier   Verifier

	locks *guard.Locker
	retry guard.RetryPolicy
	clock func() time.Time

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	externalTimeout    time.Duration
	reconcileInterval  time.Duration
	reconcileTolerance int64
	commissionInterval time.Duration
	commissionWeekday  time.Weekday
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:              s,
		plugins:            plugin.NewRegistry(),
		logger:             slog.Default(),
		authorizer:         authz.NewRoleAuthorizer(nil),
		locks:              guard.NewLocker(),
		retry:              guard.DefaultRetryPolicy(IsRetryable),
		clock:              time.Now,
		stopChan:           make(chan struct{}),
		externalTimeout:    5 * time.Second,
		reconcileInterval:  15 * time.Minute,
		commissionInterval: 6 * time.Hour,
		commissionWeekday:  time.Monday,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.players == nil {
		l.players = &accountDirectory{store: s}
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithAuthorizer replaces the default role-based authorizer.
func WithAuthorizer(a authz.Authorizer) Option {
	return func(l *Ledger) {
		l.authorizer = a
	}
}

// WithPlayerDirectory sets the collaborator used to resolve players by
// phone, email or username.
func WithPlayerDirectory(d PlayerDirectory) Option {
	return func(l *Ledger) {
		l.players = d
	}
}

// WithVerifier sets the collaborator that checks withdrawal OTPs.
func WithVerifier(v Verifier) Option {
	return func(l *Ledger) {
		l.verifier = v
	}
}

// WithRetry sets how conflicting writes are retried. The policy's
// Retryable predicate defaults to IsRetryable.
func WithRetry(p guard.RetryPolicy) Option {
	return func(l *Ledger) {
		if p.Retryable == nil {
			p.Retryable = IsRetryable
		}
		l.retry = p
	}
}

// WithReconcileInterval sets how often every active account is rebuilt.
// Zero disables the worker.
func WithReconcileInterval(d time.Duration) Option {
	return func(l *Ledger) {
		l.reconcileInterval = d
	}
}

// WithReconcileTolerance sets the divergence, in minor units, accepted
// before an account is frozen.
func WithReconcileTolerance(minorUnits int64) Option {
	return func(l *Ledger) {
		l.reconcileTolerance = minorUnits
	}
}

// WithCommissionSchedule sets how often the commission worker runs and
// the weekday settlement weeks start on. A zero interval disables it.
func WithCommissionSchedule(interval time.Duration, weekStart time.Weekday) Option {
	return func(l *Ledger) {
		l.commissionInterval = interval
		l.commissionWeekday = weekStart
	}
}

// WithExternalTimeout bounds calls to the player directory and verifier.
func WithExternalTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.externalTimeout = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = now
	}
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Start migrates the store and begins background workers.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	if l.reconcileInterval > 0 {
		l.wg.Add(1)
		go l.reconcileWorker(ctx)
	}
	if l.commissionInterval > 0 {
		l.wg.Add(1)
		go l.commissionWorker(ctx)
	}

	l.logger.Info("betledger started",
		"reconcile_interval", l.reconcileInterval,
		"reconcile_tolerance", l.reconcileTolerance,
		"commission_interval", l.commissionInterval,
		"commission_week_start", l.commissionWeekday,
	)

	return nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// ──────────────────────────────────────────────────
// Unit of work
// ──────────────────────────────────────────────────

// unit collects work to run once a store transaction has committed.
type unit struct {
	after []func(ctx context.Context)
}

func (u *unit) onCommit(fn func(ctx context.Context)) { u.after = append(u.after, fn) }

// write runs fn in a store transaction, retrying lost races. Hooks queued
// on the unit run after commit and ignore caller cancellation.
func (l *Ledger) write(ctx context.Context, fn func(ctx context.Context, tx store.Tx, u *unit) error) error {
	return guard.Do(ctx, l.retry, func(ctx context.Context) error {
		u := &unit{}
		err := l.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return fn(ctx, tx, u)
		})
		if err != nil {
			return err
		}
		hookCtx := context.WithoutCancel(ctx)
		for _, fn := range u.after {
			fn(hookCtx)
		}
		return nil
	})
}

func (l *Ledger) now() time.Time { return l.clock().UTC() }

func (l *Ledger) authorize(ctx context.Context, actor authz.Actor, c authz.Capability, tenantID string) error {
	return l.authorizer.Authorize(ctx, actor, c, tenantID)
}
