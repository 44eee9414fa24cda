package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"muster/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	mod := func(f func(*config.Config)) config.Config {
		cfg := config.Default()
		f(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{"missing listen", mod(func(c *config.Config) { c.Listen = "" }), "listen"},
		{"zero ttl", mod(func(c *config.Config) { c.DefaultTTLSeconds = 0 }), "defaultTtlSeconds"},
		{"negative reap interval", mod(func(c *config.Config) { c.ReapIntervalSeconds = -1 }), "reapIntervalSeconds"},
		{"zero notify timeout", mod(func(c *config.Config) { c.NotifyTimeoutSeconds = 0 }), "notifyTimeoutSeconds"},
		{"zero max in-flight", mod(func(c *config.Config) { c.NotifyMaxInFlight = 0 }), "notifyMaxInFlight"},
		{"rate limit without rps", mod(func(c *config.Config) {
			c.RateLimit = config.RateLimit{Enabled: true, Burst: 1}
		}), "rateLimit.rps"},
		{"subscription without webhook", mod(func(c *config.Config) {
			c.Subscriptions = []config.Subscription{{Kind: config.SubscribeAll}}
		}), "webhook"},
		{"service subscription without key", mod(func(c *config.Config) {
			c.Subscriptions = []config.Subscription{{Kind: config.SubscribeService, Webhook: "http://l/hook"}}
		}), "requires a key"},
		{"all subscription with key", mod(func(c *config.Config) {
			c.Subscriptions = []config.Subscription{{Kind: config.SubscribeAll, Key: "dns", Webhook: "http://l/hook"}}
		}), "takes no key"},
		{"unknown subscription kind", mod(func(c *config.Config) {
			c.Subscriptions = []config.Subscription{{Kind: "name", Key: "dns", Webhook: "http://l/hook"}}
		}), "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := config.Config{
		DefaultTTLSeconds:    90,
		ReapIntervalSeconds:  30,
		NotifyTimeoutSeconds: 3,
	}
	if got := cfg.DefaultTTL(); got != 90*time.Second {
		t.Errorf("DefaultTTL = %v, want 90s", got)
	}
	if got := cfg.ReapInterval(); got != 30*time.Second {
		t.Errorf("ReapInterval = %v, want 30s", got)
	}
	if got := cfg.NotifyTimeout(); got != 3*time.Second {
		t.Errorf("NotifyTimeout = %v, want 3s", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store := config.NewStore(path)

	want := config.Default()
	want.Listen = ":9999"
	want.Subscriptions = []config.Subscription{
		{Kind: config.SubscribeService, Key: "dns", Webhook: "http://l/hook"},
		{Kind: config.SubscribeAll, Webhook: "http://l/hook"},
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	store := config.NewStore(filepath.Join(t.TempDir(), "absent.json"))

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, config.Default()) {
		t.Errorf("Load on missing file = %+v, want defaults", got)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "not json"},
		{"unversioned", `{"config": {"listen": ":1"}}`},
		{"future version", `{"version": 99, "config": {"listen": ":1"}}`},
		{"invalid config", `{"version": 1, "config": {"listen": ""}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if _, err := config.NewStore(path).Load(); err == nil {
				t.Error("expected load error")
			}
		})
	}
}

func TestSaveRefusesInvalidConfig(t *testing.T) {
	store := config.NewStore(filepath.Join(t.TempDir(), "config.json"))
	if err := store.Save(config.Config{}); err == nil {
		t.Error("expected save error for invalid config")
	}
}
