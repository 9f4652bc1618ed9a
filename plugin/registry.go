package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/betledger/account"
	"github.com/xraph/betledger/bet"
	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/entry"
	"github.com/xraph/betledger/policy"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                    []OnInit
	onShutdown                []OnShutdown
	onAccountCreated          []OnAccountCreated
	onAccountStatusChanged    []OnAccountStatusChanged
	onReconciliationAlert     []OnReconciliationAlert
	onTransactionPosted       []OnTransactionPosted
	onTransactionReversed     []OnTransactionReversed
	onFloatMoved              []OnFloatMoved
	onBetPlaced               []OnBetPlaced
	onBetSettled              []OnBetSettled
	onMaxWinApplied           []OnMaxWinApplied
	onCommissionComputed      []OnCommissionComputed
	onCommissionStatusChanged []OnCommissionStatusChanged
	onPolicySaved             []OnPolicySaved
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
	}
	if v, ok := p.(OnAccountStatusChanged); ok {
		r.onAccountStatusChanged = append(r.onAccountStatusChanged, v)
	}
	if v, ok := p.(OnReconciliationAlert); ok {
		r.onReconciliationAlert = append(r.onReconciliationAlert, v)
	}
	if v, ok := p.(OnTransactionPosted); ok {
		r.onTransactionPosted = append(r.onTransactionPosted, v)
	}
	if v, ok := p.(OnTransactionReversed); ok {
		r.onTransactionReversed = append(r.onTransactionReversed, v)
	}
	if v, ok := p.(OnFloatMoved); ok {
		r.onFloatMoved = append(r.onFloatMoved, v)
	}
	if v, ok := p.(OnBetPlaced); ok {
		r.onBetPlaced = append(r.onBetPlaced, v)
	}
	if v, ok := p.(OnBetSettled); ok {
		r.onBetSettled = append(r.onBetSettled, v)
	}
	if v, ok := p.(OnMaxWinApplied); ok {
		r.onMaxWinApplied = append(r.onMaxWinApplied, v)
	}
	if v, ok := p.(OnCommissionComputed); ok {
		r.onCommissionComputed = append(r.onCommissionComputed, v)
	}
	if v, ok := p.(OnCommissionStatusChanged); ok {
		r.onCommissionStatusChanged = append(r.onCommissionStatusChanged, v)
	}
	if v, ok := p.(OnPolicySaved); ok {
		r.onPolicySaved = append(r.onPolicySaved, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnAccountCreated", reflect.TypeFor[OnAccountCreated]()},
	{"OnAccountStatusChanged", reflect.TypeFor[OnAccountStatusChanged]()},
	{"OnReconciliationAlert", reflect.TypeFor[OnReconciliationAlert]()},
	{"OnTransactionPosted", reflect.TypeFor[OnTransactionPosted]()},
	{"OnTransactionReversed", reflect.TypeFor[OnTransactionReversed]()},
	{"OnFloatMoved", reflect.TypeFor[OnFloatMoved]()},
	{"OnBetPlaced", reflect.TypeFor[OnBetPlaced]()},
	{"OnBetSettled", reflect.TypeFor[OnBetSettled]()},
	{"OnMaxWinApplied", reflect.TypeFor[OnMaxWinApplied]()},
	{"OnCommissionComputed", reflect.TypeFor[OnCommissionComputed]()},
	{"OnCommissionStatusChanged", reflect.TypeFor[OnCommissionStatusChanged]()},
	{"OnPolicySaved", reflect.TypeFor[OnPolicySaved]()},
}

// implementedInterfaces returns the hook names implemented by the plugin.
func implementedInterfaces(p Plugin) []string {
	var out []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			out = append(out, h.name)
		}
	}
	return out
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every hook in list, logging failures.
func emit[H Plugin](ctx context.Context, r *Registry, hook string, list []H, fn func(H) error) {
	for _, p := range list {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[H any](r *Registry, list *[]H) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, l)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

func (r *Registry) EmitAccountCreated(ctx context.Context, a *account.Account) {
	emit(ctx, r, "OnAccountCreated", snapshot(r, &r.onAccountCreated), func(p OnAccountCreated) error {
		return p.OnAccountCreated(ctx, a)
	})
}

func (r *Registry) EmitAccountStatusChanged(ctx context.Context, a *account.Account, from account.Status) {
	emit(ctx, r, "OnAccountStatusChanged", snapshot(r, &r.onAccountStatusChanged), func(p OnAccountStatusChanged) error {
		return p.OnAccountStatusChanged(ctx, a, from)
	})
}

func (r *Registry) EmitReconciliationAlert(ctx context.Context, rec *account.Reconciliation) {
	emit(ctx, r, "OnReconciliationAlert", snapshot(r, &r.onReconciliationAlert), func(p OnReconciliationAlert) error {
		return p.OnReconciliationAlert(ctx, rec)
	})
}

func (r *Registry) EmitTransactionPosted(ctx context.Context, t *entry.Transaction) {
	emit(ctx, r, "OnTransactionPosted", snapshot(r, &r.onTransactionPosted), func(p OnTransactionPosted) error {
		return p.OnTransactionPosted(ctx, t)
	})
}

func (r *Registry) EmitTransactionReversed(ctx context.Context, original, reversal *entry.Transaction) {
	emit(ctx, r, "OnTransactionReversed", snapshot(r, &r.onTransactionReversed), func(p OnTransactionReversed) error {
		return p.OnTransactionReversed(ctx, original, reversal)
	})
}

func (r *Registry) EmitFloatMoved(ctx context.Context, line *account.FloatLine, t *entry.Transaction) {
	emit(ctx, r, "OnFloatMoved", snapshot(r, &r.onFloatMoved), func(p OnFloatMoved) error {
		return p.OnFloatMoved(ctx, line, t)
	})
}

func (r *Registry) EmitBetPlaced(ctx context.Context, b *bet.Bet) {
	emit(ctx, r, "OnBetPlaced", snapshot(r, &r.onBetPlaced), func(p OnBetPlaced) error {
		return p.OnBetPlaced(ctx, b)
	})
}

func (r *Registry) EmitBetSettled(ctx context.Context, b *bet.Bet) {
	emit(ctx, r, "OnBetSettled", snapshot(r, &r.onBetSettled), func(p OnBetSettled) error {
		return p.OnBetSettled(ctx, b)
	})
}

func (r *Registry) EmitMaxWinApplied(ctx context.Context, b *bet.Bet) {
	emit(ctx, r, "OnMaxWinApplied", snapshot(r, &r.onMaxWinApplied), func(p OnMaxWinApplied) error {
		return p.OnMaxWinApplied(ctx, b)
	})
}

func (r *Registry) EmitCommissionComputed(ctx context.Context, c *commission.Settlement) {
	emit(ctx, r, "OnCommissionComputed", snapshot(r, &r.onCommissionComputed), func(p OnCommissionComputed) error {
		return p.OnCommissionComputed(ctx, c)
	})
}

func (r *Registry) EmitCommissionStatusChanged(ctx context.Context, c *commission.Settlement, from commission.Status) {
	emit(ctx, r, "OnCommissionStatusChanged", snapshot(r, &r.onCommissionStatusChanged), func(p OnCommissionStatusChanged) error {
		return p.OnCommissionStatusChanged(ctx, c, from)
	})
}

func (r *Registry) EmitPolicySaved(ctx context.Context, pol *policy.Policy) {
	emit(ctx, r, "OnPolicySaved", snapshot(r, &r.onPolicySaved), func(p OnPolicySaved) error {
		return p.OnPolicySaved(ctx, pol)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the settlement pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
