package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestEnsureCreatesDefaultThenLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groupcore.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("expected Ensure to report created=true on first call")
	}
	if cfg.Supervisor.LivenessTimeoutSeconds <= cfg.Supervisor.PingAfterSeconds {
		t.Fatal("default config must satisfy liveness_timeout > ping_after")
	}

	cfg2, created2, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (second call): %v", err)
	}
	if created2 {
		t.Fatal("expected Ensure to report created=false on second call")
	}
	if cfg2 != cfg {
		t.Fatalf("expected identical config on reload, got %+v vs %+v", cfg2, cfg)
	}
}

func TestValidateRejectsBadLivenessOrdering(t *testing.T) {
	cfg := Default()
	cfg.Supervisor.LivenessTimeoutSeconds = cfg.Supervisor.PingAfterSeconds
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject liveness_timeout <= ping_after")
	}
}

func TestWatchFileReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groupcore.json")

	cfg, _, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	reloaded := make(chan Config, 1)
	w, err := WatchFile(path, func(c Config) { reloaded <- c })
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Close()

	cfg.API.HTTPAddr = "127.0.0.1:9999"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case got := <-reloaded:
		if got.API.HTTPAddr != "127.0.0.1:9999" {
			t.Fatalf("expected reloaded http_addr %q, got %q", "127.0.0.1:9999", got.API.HTTPAddr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload notification after writing the config file")
	}
}
