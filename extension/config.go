package extension

import "time"

// Store drivers accepted in Config.Driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the escrow extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.escrow" or "escrow" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableSweep prevents the auto-refund scheduler from starting.
	DisableSweep bool `json:"disable_sweep" mapstructure:"disable_sweep" yaml:"disable_sweep"`

	// Driver selects the store backend: memory, postgres, sqlite or mongo.
	// Every driver except memory needs a grove.DB supplied with WithGroveDB.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// Currency is the single currency wallets and orders use (default: "usd").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// AutoRefundWindow is how long a pending order waits for content
	// before the sweep refunds it (default: 7 days).
	AutoRefundWindow time.Duration `json:"auto_refund_window" mapstructure:"auto_refund_window" yaml:"auto_refund_window"`

	// SweepSchedule is a six-field cron spec (default: every minute).
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule" yaml:"sweep_schedule"`

	// SweepTimeout bounds one sweep run (default: 5m).
	SweepTimeout time.Duration `json:"sweep_timeout" mapstructure:"sweep_timeout" yaml:"sweep_timeout"`

	// SweepBatchSize is the page size used when listing expired orders
	// (default: 100).
	SweepBatchSize int `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// StallThreshold is how long an approval may sit in payment_pending
	// before the sweep resumes it (default: 5m).
	StallThreshold time.Duration `json:"stall_threshold" mapstructure:"stall_threshold" yaml:"stall_threshold"`

	// WalletRetries bounds optimistic-lock retries on balance updates
	// (default: 5).
	WalletRetries int `json:"wallet_retries" mapstructure:"wallet_retries" yaml:"wallet_retries"`

	// WalletBackoff is the base delay between those retries (default: 5ms).
	WalletBackoff time.Duration `json:"wallet_backoff" mapstructure:"wallet_backoff" yaml:"wallet_backoff"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:           DriverMemory,
		Currency:         "usd",
		AutoRefundWindow: 7 * 24 * time.Hour,
		SweepSchedule:    "0 * * * * *",
		SweepTimeout:     5 * time.Minute,
		SweepBatchSize:   100,
		StallThreshold:   5 * time.Minute,
		WalletRetries:    5,
		WalletBackoff:    5 * time.Millisecond,
	}
}
