package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewDefaults(t *testing.T) {
	path := writeConfig(t, "targets:\n  - url: https://example.test/listings\n")
	c, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxConcurrency != 4 {
		t.Errorf("default max_concurrency = %d, want 4", c.MaxConcurrency)
	}
	if c.BrowserPool.MaxSize != 3 {
		t.Errorf("default pool max_size = %d, want 3", c.BrowserPool.MaxSize)
	}
	if c.TierBudgets.Referral() != 15*time.Second {
		t.Errorf("default referral budget = %v, want 15s", c.TierBudgets.Referral())
	}
	if c.Recovery.CaptchaDelayMS != 30000 {
		t.Errorf("default captcha delay = %dms, want 30000ms", c.Recovery.CaptchaDelayMS)
	}
	if len(c.Targets) != 1 || c.Targets[0].URL != "https://example.test/listings" {
		t.Errorf("unexpected targets: %+v", c.Targets)
	}
}

func TestNewOverrides(t *testing.T) {
	path := writeConfig(t, `
max_concurrency: 8
browser_pool:
  min_size: 2
  max_size: 5
rate_limit:
  base_delay_ms: 2000
  max_delay_ms: 60000
`)
	c, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxConcurrency != 8 {
		t.Errorf("max_concurrency = %d, want 8", c.MaxConcurrency)
	}
	if c.BrowserPool.MinSize != 2 || c.BrowserPool.MaxSize != 5 {
		t.Errorf("pool sizes = %d/%d, want 2/5", c.BrowserPool.MinSize, c.BrowserPool.MaxSize)
	}
	if c.RateLimit.BaseDelay() != 2*time.Second {
		t.Errorf("base delay = %v, want 2s", c.RateLimit.BaseDelay())
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"pool min above max", "browser_pool:\n  min_size: 5\n  max_size: 2\n"},
		{"negative concurrency", "max_concurrency: -1\n"},
		{"rate base above max", "rate_limit:\n  base_delay_ms: 300000\n  max_delay_ms: 60000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := New(path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
