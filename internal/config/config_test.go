package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.BatchMaxOps != 500 || cfg.GrantRetryAttempts != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.GrantRetryBackoff != 200*time.Millisecond {
		t.Fatalf("backoff = %v", cfg.GrantRetryBackoff)
	}
	if cfg.DefaultCurrency != "XOF" || cfg.AlertTopic != "ledger.alerts" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadEnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	body := "STORAGE_DRIVER=memory\nBATCH_MAX_OPS=100\nKAFKA_BROKERS=k1:9092, k2:9092\nDEFAULT_CURRENCY=eur\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BATCH_MAX_OPS", "250")
	t.Cleanup(func() {
		os.Unsetenv("STORAGE_DRIVER")
		os.Unsetenv("KAFKA_BROKERS")
		os.Unsetenv("DEFAULT_CURRENCY")
	})

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchMaxOps != 250 {
		t.Fatalf("environment must win over the file, got %d", cfg.BatchMaxOps)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.DefaultCurrency != "EUR" {
		t.Fatalf("currency = %s", cfg.DefaultCurrency)
	}
}

func TestLoadRejectsBadSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url": {"STORAGE_DRIVER": "postgres", "DATABASE_URL": ""},
		"unknown driver":       {"STORAGE_DRIVER": "mongo"},
		"tiny batches":         {"STORAGE_DRIVER": "memory", "BATCH_MAX_OPS": "1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
