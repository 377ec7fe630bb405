package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LEDGER_RPC_URL", "http://localhost:8000/rpc")
	t.Setenv("LEDGER_CONTRACT_ID", "CCONTRACT")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("store backend = %q", cfg.Store.Backend)
	}
	if cfg.Pipeline.PollInterval != 2*time.Second {
		t.Fatalf("poll interval = %s", cfg.Pipeline.PollInterval)
	}
	if cfg.Pipeline.MaxPollAttempts != 10 {
		t.Fatalf("max poll attempts = %d", cfg.Pipeline.MaxPollAttempts)
	}
	if cfg.ReconcileInterval != 30*time.Second {
		t.Fatalf("reconcile interval = %s", cfg.ReconcileInterval)
	}
}

func TestLoadMissingLedgerEndpoint(t *testing.T) {
	t.Setenv("LEDGER_RPC_URL", "")
	t.Setenv("LEDGER_CONTRACT_ID", "")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "LEDGER_RPC_URL") {
		t.Fatalf("expected missing RPC URL error, got %v", err)
	}
}

func TestLoadBackendValidation(t *testing.T) {
	setBaseEnv(t)

	t.Run("postgres requires dsn", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "postgres")
		t.Setenv("STORE_POSTGRES_DSN", "")
		if _, err := Load(""); err == nil {
			t.Fatal("expected error for postgres without DSN")
		}
	})

	t.Run("redis requires addr", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "redis")
		t.Setenv("STORE_REDIS_ADDR", "")
		if _, err := Load(""); err == nil {
			t.Fatal("expected error for redis without address")
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "etcd")
		if _, err := Load(""); err == nil {
			t.Fatal("expected error for unknown backend")
		}
	})
}

func TestLoadYAMLOverlay(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LISTEN_ADDR", ":8080")

	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	overlay := "listen_addr: \":9090\"\npipeline:\n  max_poll_attempts: 25\n"
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("file overlay should win, got %q", cfg.ListenAddr)
	}
	if cfg.Pipeline.MaxPollAttempts != 25 {
		t.Fatalf("max poll attempts = %d", cfg.Pipeline.MaxPollAttempts)
	}
	// Values absent from the file keep their environment defaults.
	if cfg.Ledger.RPCURL != "http://localhost:8000/rpc" {
		t.Fatalf("rpc url = %q", cfg.Ledger.RPCURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	setBaseEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
