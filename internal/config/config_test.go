package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

var ledgerEnvKeys = []string{
	"INTERNAL_API_KEY",
	"LEDGER_SERVICE_INTERNAL_API_KEY",
	"LEDGER_STORE",
	"MIN_WITHDRAWAL",
	"REFERRAL_PERCENT",
	"LEASE_TTL",
	"SWEEP_SCHEDULE",
	"SWEEP_BATCH_SIZE",
	"OPERATION_START_HOUR",
	"OPERATION_END_HOUR",
	"CORS_ALLOWED_ORIGINS",
	"PORT",
	"SERVER_PORT",
}

func resetLedgerEnv(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, key := range ledgerEnvKeys {
		unsetEnvWithCleanup(t, key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetLedgerEnv(t)

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("expected postgres store by default, got %q", cfg.StoreDriver)
	}
	if cfg.MinWithdrawal != 20000 {
		t.Fatalf("expected default MinWithdrawal 20000, got %d", cfg.MinWithdrawal)
	}
	if cfg.ReferralPercent != 10 {
		t.Fatalf("expected default ReferralPercent 10, got %f", cfg.ReferralPercent)
	}
	if cfg.LeaseTTL != 15*time.Minute {
		t.Fatalf("expected default LeaseTTL 15m, got %s", cfg.LeaseTTL)
	}
	if cfg.SweepSchedule != "@every 1m" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.SweepSchedule)
	}
	if cfg.OperationStartHour != 7 || cfg.OperationEndHour != 20 {
		t.Fatalf("expected default operation window 7-20, got %d-%d", cfg.OperationStartHour, cfg.OperationEndHour)
	}
}

func TestLoadConfig_UsesLedgerServiceInternalAPIKeyAlias(t *testing.T) {
	resetLedgerEnv(t)
	setEnvWithCleanup(t, "LEDGER_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	resetLedgerEnv(t)
	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "LEDGER_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_CoercesInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "referral percent capped at 100",
			env:  map[string]string{"REFERRAL_PERCENT": "250"},
			check: func(t *testing.T, cfg Config) {
				if cfg.ReferralPercent != 100 {
					t.Fatalf("expected ReferralPercent 100, got %f", cfg.ReferralPercent)
				}
			},
		},
		{
			name: "negative referral percent becomes zero",
			env:  map[string]string{"REFERRAL_PERCENT": "-5"},
			check: func(t *testing.T, cfg Config) {
				if cfg.ReferralPercent != 0 {
					t.Fatalf("expected ReferralPercent 0, got %f", cfg.ReferralPercent)
				}
			},
		},
		{
			name: "non-positive minimum withdrawal restored",
			env:  map[string]string{"MIN_WITHDRAWAL": "0"},
			check: func(t *testing.T, cfg Config) {
				if cfg.MinWithdrawal != 20000 {
					t.Fatalf("expected MinWithdrawal 20000, got %d", cfg.MinWithdrawal)
				}
			},
		},
		{
			name: "inverted operation window restored",
			env:  map[string]string{"OPERATION_START_HOUR": "21", "OPERATION_END_HOUR": "9"},
			check: func(t *testing.T, cfg Config) {
				if cfg.OperationStartHour != 7 || cfg.OperationEndHour != 20 {
					t.Fatalf("expected operation window 7-20, got %d-%d", cfg.OperationStartHour, cfg.OperationEndHour)
				}
			},
		},
		{
			name: "unknown store driver falls back to postgres",
			env:  map[string]string{"LEDGER_STORE": "sqlite"},
			check: func(t *testing.T, cfg Config) {
				if cfg.StoreDriver != StoreDriverPostgres {
					t.Fatalf("expected postgres store, got %q", cfg.StoreDriver)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetLedgerEnv(t)
			for key, value := range tt.env {
				setEnvWithCleanup(t, key, value)
			}

			cfg, err := LoadConfig(t.TempDir())
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_ParsesDurationsAndLists(t *testing.T) {
	resetLedgerEnv(t)
	setEnvWithCleanup(t, "LEASE_TTL", "30m")
	setEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS", "https://admin.example.com, https://ops.example.com")
	setEnvWithCleanup(t, "LEDGER_STORE", "Memory")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.LeaseTTL != 30*time.Minute {
		t.Fatalf("expected LeaseTTL 30m, got %s", cfg.LeaseTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://ops.example.com" {
		t.Fatalf("expected two trimmed origins, got %#v", cfg.CORSAllowedOrigins)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("expected memory store, got %q", cfg.StoreDriver)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	resetLedgerEnv(t)

	dir := t.TempDir()
	content := "MIN_WITHDRAWAL=50000\nSWEEP_BATCH_SIZE=25\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MinWithdrawal != 50000 {
		t.Fatalf("expected MinWithdrawal from .env, got %d", cfg.MinWithdrawal)
	}
	if cfg.SweepBatchSize != 25 {
		t.Fatalf("expected SweepBatchSize from .env, got %d", cfg.SweepBatchSize)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	resetLedgerEnv(t)
	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "9100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
