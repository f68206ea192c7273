package extension

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/escrow/store/memory"
)

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{Currency: "eur", SweepSchedule: "0 */5 * * * *"}
	prog := Config{Currency: "usd", DisableSweep: true, WalletRetries: 9}

	got := mergeConfigurations(yaml, prog)

	if got.Currency != "eur" {
		t.Errorf("currency = %q, want eur", got.Currency)
	}
	if got.SweepSchedule != "0 */5 * * * *" {
		t.Errorf("schedule = %q", got.SweepSchedule)
	}
	if !got.DisableSweep {
		t.Error("programmatic DisableSweep lost")
	}
	if got.WalletRetries != 9 {
		t.Errorf("wallet retries = %d, want 9", got.WalletRetries)
	}
	if got.Driver != DriverMemory || got.AutoRefundWindow != 7*24*time.Hour {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestMergeWithDefaults(t *testing.T) {
	got := mergeWithDefaults(Config{SweepBatchSize: 10})
	want := DefaultConfig()
	want.SweepBatchSize = 10
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestBuildStore(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{"", false},
		{DriverMemory, false},
		{DriverPostgres, true},
		{DriverSQLite, true},
		{DriverMongo, true},
		{"redis", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			s, err := buildStore(tt.driver, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("got err %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s == nil {
				t.Fatal("nil store")
			}
		})
	}
}

func TestBuildEngineOpts(t *testing.T) {
	e := New(WithCurrency("eur"), WithEngineOption(nil))
	e.config = mergeWithDefaults(e.config)

	// currency, window, batch, stall, wallet retries, then the pass-through.
	if got := len(e.buildEngineOpts()); got != 6 {
		t.Errorf("got %d options, want 6", got)
	}
}

func TestPremigratedSkipsMigrate(t *testing.T) {
	s := premigrated{memory.New()}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
