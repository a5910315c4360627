package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q; want 8080", cfg.Port)
	}
	if cfg.DDNSHost != "esp32gb.ddns.net" {
		t.Errorf("ddns_host = %q", cfg.DDNSHost)
	}
	if cfg.OTA.Timeout != 120*time.Second {
		t.Errorf("ota.timeout = %v; want 120s", cfg.OTA.Timeout)
	}
	if cfg.Discover.PortMin != 8201 || cfg.Discover.PortMax != 8299 {
		t.Errorf("discovery range = [%d,%d]", cfg.Discover.PortMin, cfg.Discover.PortMax)
	}
	if cfg.Scan.TCPTimeout >= cfg.OTA.Timeout {
		t.Errorf("probe timeout %v must be below upload timeout %v", cfg.Scan.TCPTimeout, cfg.OTA.Timeout)
	}
}

func TestLoad_FileAndLegacyEnv(t *testing.T) {
	dir := t.TempDir()
	yml := []byte("port: \"9090\"\nscan:\n  concurrency: 4\n  interval: 30s\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), yml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DDNS_HOST", "fleet.example.net")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %q; want 9090", cfg.Port)
	}
	if cfg.Scan.Concurrency != 4 || cfg.Scan.Interval != 30*time.Second {
		t.Errorf("scan = %+v", cfg.Scan)
	}
	if cfg.DDNSHost != "fleet.example.net" {
		t.Errorf("ddns_host = %q; want env override", cfg.DDNSHost)
	}
}

func TestValidate_RejectsInvertedDiscoveryRange(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Discover.PortMin, cfg.Discover.PortMax = 8299, 8201
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}
