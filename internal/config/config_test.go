package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("server port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Engine.ShutdownTimeout != 10*time.Second {
		t.Fatalf("shutdown timeout = %s", cfg.Engine.ShutdownTimeout)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9999
  rate_limit: 5
logging:
  level: debug
  format: json
manifest: /etc/soloplane/manifest.json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 || cfg.Server.RateLimit != 5 {
		t.Fatalf("server config not applied: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging config not applied: %+v", cfg.Logging)
	}
	if cfg.ManifestPath != "/etc/soloplane/manifest.json" {
		t.Fatalf("manifest path = %s", cfg.ManifestPath)
	}
	// Untouched sections keep their defaults.
	if cfg.Admin.Port != 8081 {
		t.Fatalf("admin port = %d, want default", cfg.Admin.Port)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SOLOPLANE_API_PORT", "7070")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("env override ignored, port = %d", cfg.Server.Port)
	}
}

func TestValidateRejectsBadPorts(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative port accepted")
	}

	cfg = Default()
	cfg.Server.RateLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero rate limit accepted")
	}
}
