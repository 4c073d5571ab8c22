package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SAFEVOICE_ACCESS_TTL_SECONDS", "")
	t.Setenv("API_ADDR", "")
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %s", cfg.AccessTTL)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("SAFEVOICE_ACCESS_TTL_SECONDS", "60")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("SAFEVOICE_SUPERUSER_EMAILS", " Root@Example.com ,ops@example.com,,")
	cfg := Load()
	if cfg.AccessTTL != time.Minute {
		t.Fatalf("expected 1m access ttl, got %s", cfg.AccessTTL)
	}
	if !cfg.S3UseSSL {
		t.Fatal("expected S3UseSSL")
	}
	if len(cfg.SuperuserEmails) != 2 {
		t.Fatalf("expected 2 superusers, got %v", cfg.SuperuserEmails)
	}
	if !cfg.IsSuperuser("root@example.com") || !cfg.IsSuperuser("OPS@example.com ") {
		t.Fatal("expected case-insensitive superuser match")
	}
	if cfg.IsSuperuser("") || cfg.IsSuperuser("user@example.com") {
		t.Fatal("unexpected superuser match")
	}
}

func TestLoadIgnoresMalformedInts(t *testing.T) {
	t.Setenv("SAFEVOICE_POLL_SECONDS", "soon")
	t.Setenv("SAFEVOICE_API_URL", "http://api.test/")
	cfg := LoadClient()
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("expected fallback poll interval, got %s", cfg.PollInterval)
	}
	if cfg.APIURL != "http://api.test" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.APIURL)
	}
}
