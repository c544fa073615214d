package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	path := writeConfig(t, "port: \"8080\"\ndatabaseURL: memory://\njwtSecret: "+testSecret+"\n")
	t.Setenv("CATALOG_SESSION_TTL", "2h")
	t.Setenv("CATALOG_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionTTLDuration != 2*time.Hour {
		t.Fatalf("expected env session ttl, got %v", cfg.SessionTTLDuration)
	}
	if cfg.JWTLeewayDuration != 30*time.Second || cfg.ImageURLTTLDuration != 15*time.Minute {
		t.Fatalf("unexpected default durations: %+v", cfg)
	}
	if !cfg.UsesMemoryStore() {
		t.Fatalf("expected memory store")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.DeletionStream != "catalog:deletions" || cfg.MaxImageBytes != 5<<20 {
		t.Fatalf("unexpected defaults: %+v", cfg.FileConfig)
	}
}

func TestLoadUsesCatalogConfigEnv(t *testing.T) {
	path := writeConfig(t, "port: \"9090\"\ndatabaseURL: memory://\njwtSecret: "+testSecret+"\n")
	t.Setenv("CATALOG_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port from CATALOG_CONFIG file, got %q", cfg.Port)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing port", "databaseURL: memory://\njwtSecret: " + testSecret, "port is required"},
		{"short secret", "port: \"1\"\ndatabaseURL: memory://\njwtSecret: short", "jwtSecret"},
		{"partial minio", "port: \"1\"\ndatabaseURL: memory://\njwtSecret: " + testSecret + "\nminioEndpoint: localhost:9000", "must be set together"},
		{"bad duration", "port: \"1\"\ndatabaseURL: memory://\njwtSecret: " + testSecret + "\nsessionTTL: soon", "sessionTTL"},
		{"negative duration", "port: \"1\"\ndatabaseURL: memory://\njwtSecret: " + testSecret + "\nimageURLTTL: -1m", "imageURLTTL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
