package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != defaultPort || cfg.StoreBackend != BackendMemory || cfg.LedgerBackend != BackendMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RateLimit.MaxPerWindow != 60 || cfg.RateLimit.Window != time.Minute {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Quota.FreeLimit != 5 || cfg.Quota.UnlimitedLimit != 999999 || cfg.Quota.HonorPaidTiers {
		t.Fatalf("unexpected quota defaults: %+v", cfg.Quota)
	}
	if cfg.Limits.StoreMaxBytes != 5*1024*1024 || cfg.Limits.MediaMaxBytes != 10*1024*1024 {
		t.Fatalf("unexpected size limits: %+v", cfg.Limits)
	}
	if cfg.Address() != ":8080" || !cfg.IsDevelopment() {
		t.Fatalf("unexpected address/env: %s %s", cfg.Address(), cfg.AppEnv)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", ":9000")
	t.Setenv("APP_ENV", "production")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("CACHE_LIST_TTL", "30s")
	t.Setenv("RATE_LIMIT_MAX", "10")
	t.Setenv("QUOTA_HONOR_PAID_TIERS", "true")
	t.Setenv("PRIVILEGED_ADDRESSES", " 0xAAA , ,0xBbB")
	t.Setenv("LEDGER_CHAIN_ID", "5611")
	t.Setenv("PRICE_ACTIVATION_WEI", "1000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9000" || cfg.IsDevelopment() {
		t.Fatalf("unexpected address/env: %s %s", cfg.Address(), cfg.AppEnv)
	}
	if cfg.ShutdownPeriod != 3*time.Second || cfg.Cache.ListTTL != 30*time.Second || cfg.RateLimit.MaxPerWindow != 10 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.Quota.HonorPaidTiers {
		t.Fatalf("expected paid tiers to be honoured")
	}
	if got := strings.Join(cfg.Quota.PrivilegedAddresses, ","); got != "0xaaa,0xbbb" {
		t.Fatalf("unexpected privileged addresses %q", got)
	}
	if cfg.Ledger.ChainID != 5611 || cfg.Ledger.ActivationPrice != "1000" {
		t.Fatalf("unexpected ledger config: %+v", cfg.Ledger)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RATE_LIMIT_MAX", "many")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for a non-numeric limit")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	cfg.StoreBackend = BackendPostgres
	cfg.CacheBackend = BackendRedis
	cfg.LedgerBackend = "ethereum"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"DATABASE_URL", "REDIS_URL", "LEDGER_BACKEND"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
