package extension

import (
	"testing"
	"time"
)

func TestMergeWithDefaults(t *testing.T) {
	got := mergeWithDefaults(Config{ReconcileInterval: -1, DatabaseDriver: "sqlite"})

	if got.BasePath != "/betledger" {
		t.Errorf("BasePath = %q", got.BasePath)
	}
	if got.ReconcileInterval != -1 {
		t.Errorf("ReconcileInterval = %v, want explicit -1 kept", got.ReconcileInterval)
	}
	if got.CommissionInterval != 6*time.Hour {
		t.Errorf("CommissionInterval = %v", got.CommissionInterval)
	}
	if got.ExternalTimeout != 5*time.Second {
		t.Errorf("ExternalTimeout = %v", got.ExternalTimeout)
	}
	if got.DatabaseDriver != "sqlite" {
		t.Errorf("DatabaseDriver = %q", got.DatabaseDriver)
	}
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{
		BasePath:          "/ledger",
		ReconcileInterval: time.Minute,
	}
	prog := Config{
		DisableRoutes:       true,
		BasePath:            "/ignored",
		DatabaseDriver:      "postgres",
		DatabaseURL:         "postgres://localhost/bets",
		ReconcileInterval:   time.Hour,
		ReconcileTolerance:  5,
		CommissionWeekStart: "sunday",
	}

	got := mergeConfigurations(yaml, prog)

	if !got.DisableRoutes {
		t.Error("DisableRoutes should be carried from options")
	}
	if got.BasePath != "/ledger" {
		t.Errorf("BasePath = %q, want file value", got.BasePath)
	}
	if got.ReconcileInterval != time.Minute {
		t.Errorf("ReconcileInterval = %v, want file value", got.ReconcileInterval)
	}
	if got.DatabaseDriver != "postgres" || got.DatabaseURL != "postgres://localhost/bets" {
		t.Errorf("database = %q %q", got.DatabaseDriver, got.DatabaseURL)
	}
	if got.ReconcileTolerance != 5 {
		t.Errorf("ReconcileTolerance = %d", got.ReconcileTolerance)
	}
	if got.WeekStart() != time.Sunday {
		t.Errorf("WeekStart = %v", got.WeekStart())
	}
	if got.CommissionInterval != 6*time.Hour {
		t.Errorf("CommissionInterval = %v, want default", got.CommissionInterval)
	}
}

func TestMergeConfigurationsKeepsFileDatabase(t *testing.T) {
	got := mergeConfigurations(
		Config{DatabaseURL: "file.db"},
		Config{DatabaseDriver: "mongo", DatabaseURL: "mongodb://x"},
	)
	if got.DatabaseDriver != "" || got.DatabaseURL != "file.db" {
		t.Errorf("database = %q %q", got.DatabaseDriver, got.DatabaseURL)
	}
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		in   string
		want time.Weekday
	}{
		{"", time.Monday},
		{"monday", time.Monday},
		{" Sunday ", time.Sunday},
		{"SATURDAY", time.Saturday},
		{"someday", time.Monday},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := (Config{CommissionWeekStart: tt.in}).WeekStart(); got != tt.want {
				t.Errorf("WeekStart(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	if enabled(-time.Second) != 0 {
		t.Error("negative interval should disable")
	}
	if enabled(time.Minute) != time.Minute {
		t.Error("positive interval should pass through")
	}
}

func TestOptions(t *testing.T) {
	e := &Extension{}
	for _, opt := range []Option{
		WithDatabase("sqlite", "x.db"),
		WithBasePath("/b"),
		WithDisableMigrate(),
		WithReconcileInterval(time.Minute),
		WithCommissionInterval(-1),
		WithRequireConfig(true),
	} {
		opt(e)
	}
	c := e.config
	if c.DatabaseDriver != "sqlite" || c.DatabaseURL != "x.db" || c.BasePath != "/b" {
		t.Errorf("config = %+v", c)
	}
	if !c.DisableMigrate || !c.RequireConfig {
		t.Errorf("flags = %+v", c)
	}
	if c.ReconcileInterval != time.Minute || c.CommissionInterval != -1 {
		t.Errorf("intervals = %v %v", c.ReconcileInterval, c.CommissionInterval)
	}
	// No external timeout set, so only the three schedule options.
	if n := len(e.buildLedgerOpts()); n != 3 {
		t.Errorf("buildLedgerOpts len = %d, want 3", n)
	}
}
