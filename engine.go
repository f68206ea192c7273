package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/pricing"
	"github.com/xraph/escrow/store"
)

// Engine is the marketplace order and wallet ledger. It is safe for
// concurrent use; per-entity ordering is enforced by the store's
// version checks rather than by locks held in the engine.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	now     func() time.Time

	wallet     *Wallet
	recorder   *Recorder
	settlement *Settlement

	// Configuration
	currency         string
	policy           pricing.Policy
	walletRetries    int
	walletBackoff    time.Duration
	orderRetries     int
	autoRefundWindow time.Duration
	sweepBatchSize   int
	stallAfter       time.Duration
	platformAccount  id.AccountID
	numbers          func(now time.Time) string
}

// New creates an engine over s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		now:              time.Now,
		currency:         "usd",
		walletRetries:    5,
		walletBackoff:    5 * time.Millisecond,
		orderRetries:     3,
		autoRefundWindow: order.AutoRefundWindow,
		sweepBatchSize:   100,
		stallAfter:       5 * time.Minute,
		numbers:          OrderNumber,
	}
	e.policy = pricing.DefaultPolicy(e.currency)

	for _, opt := range opts {
		opt(e)
	}

	e.wallet = &Wallet{
		accounts: s,
		currency: e.currency,
		retries:  e.walletRetries,
		backoff:  e.walletBackoff,
		plugins:  e.plugins,
		now:      e.now,
	}
	e.recorder = &Recorder{records: s, now: e.now}
	e.settlement = &Settlement{
		orders:   s,
		wallet:   e.wallet,
		recorder: e.recorder,
		plugins:  e.plugins,
		logger:   e.logger,
		now:      e.now,
		retries:  e.orderRetries,
		platform: e.platformAccount,
	}
	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		if err := e.plugins.Register(p); err != nil {
			e.logger.Warn("plugin registration skipped", "plugin", p.Name(), "error", err)
		}
	}
}

// WithCurrency sets the single currency every account and order uses.
// It also resets the pricing policy to the default for that currency
// unless WithPricing is applied after it.
func WithCurrency(currency string) Option {
	return func(e *Engine) {
		e.currency = strings.ToLower(currency)
		e.policy = pricing.DefaultPolicy(e.currency)
	}
}

// WithPricing sets the fee policy used by Checkout.
func WithPricing(p pricing.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithWalletRetries bounds the optimistic-concurrency retries of a single
// credit or debit before ErrWalletBusy is returned.
func WithWalletRetries(n int, backoff time.Duration) Option {
	return func(e *Engine) {
		if n > 0 {
			e.walletRetries = n
		}
		e.walletBackoff = backoff
	}
}

// WithAutoRefundWindow overrides the seven-day content deadline.
func WithAutoRefundWindow(d time.Duration) Option {
	return func(e *Engine) { e.autoRefundWindow = d }
}

// WithSweepBatchSize sets how many expired orders are loaded per page.
func WithSweepBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sweepBatchSize = n
		}
	}
}

// WithStallThreshold sets how long an order may sit in payment_pending
// before ResumeSettlements picks it up.
func WithStallThreshold(d time.Duration) Option {
	return func(e *Engine) { e.stallAfter = d }
}

// WithPlatformAccount credits retained fees to accountID when an order
// completes. Without it the fees stay unallocated.
func WithPlatformAccount(accountID id.AccountID) Option {
	return func(e *Engine) { e.platformAccount = accountID }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOrderNumbers replaces the order number generator.
func WithOrderNumbers(gen func(now time.Time) string) Option {
	return func(e *Engine) { e.numbers = gen }
}

// OrderNumber is the default order number generator: "LP-<year>-" followed
// by ten random base32 characters. Uniqueness is enforced by the store.
func OrderNumber(now time.Time) string {
	suffix := id.New(id.PrefixOrder).Suffix()
	if len(suffix) > 10 {
		suffix = suffix[len(suffix)-10:]
	}
	return "LP-" + strconv.Itoa(now.UTC().Year()) + "-" + strings.ToUpper(suffix)
}

// Start migrates the store and initialises plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("escrow: migrate: %w", err)
	}
	if err := e.policy.Validate(); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("escrow engine started",
		"currency", e.currency,
		"auto_refund_window", e.autoRefundWindow,
		"wallet_retries", e.walletRetries,
		"plugins", len(e.plugins.Plugins()),
	)
	return nil
}

// Stop shuts plugins down and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Wallet returns the wallet service.
func (e *Engine) Wallet() *Wallet { return e.wallet }

// Recorder returns the transaction recorder.
func (e *Engine) Recorder() *Recorder { return e.recorder }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Currency returns the engine currency.
func (e *Engine) Currency() string { return e.currency }
