// Package config holds the muster service configuration and its
// file-based store.
package config

import (
	"fmt"
	"time"
)

// Subscription kinds accepted in static subscription seeds.
const (
	SubscribeService = "service"
	SubscribeTag     = "tag"
	SubscribeAll     = "all"
)

// Subscription seeds one webhook subscription at startup. The listener
// directory is in-memory and additive only, so operators list the
// subscriptions they need restored after a restart here.
type Subscription struct {
	// Kind is one of "service", "tag", or "all".
	Kind string `json:"kind"`

	// Key is the service name or tag; unused (and must be empty) for
	// kind "all".
	Key string `json:"key,omitempty"`

	// Webhook is the base URI deliveries are made to.
	Webhook string `json:"webhook"`
}

// RateLimit configures per-IP rate limiting of shape-changing routes.
type RateLimit struct {
	Enabled bool    `json:"enabled"`
	RPS     float64 `json:"rps"`
	Burst   int     `json:"burst"`
}

// Config is the full service configuration.
type Config struct {
	// Listen is the HTTP listen address (host:port).
	Listen string `json:"listen"`

	// DefaultTTLSeconds is applied to registrations that carry no
	// positive TTL.
	DefaultTTLSeconds int `json:"defaultTtlSeconds"`

	// ReapIntervalSeconds is the period between expiry sweeps.
	ReapIntervalSeconds int `json:"reapIntervalSeconds"`

	// NotifyTimeoutSeconds bounds each webhook delivery attempt.
	NotifyTimeoutSeconds int `json:"notifyTimeoutSeconds"`

	// NotifyMaxInFlight caps concurrent deliveries per notification
	// cycle.
	NotifyMaxInFlight int `json:"notifyMaxInFlight"`

	// RateLimit throttles register/deregister/subscribe per client IP.
	// Heartbeats and lookups are never limited.
	RateLimit RateLimit `json:"rateLimit"`

	// Subscriptions are seeded into the listener directory at startup.
	Subscriptions []Subscription `json:"subscriptions,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		Listen:               ":4610",
		DefaultTTLSeconds:    60,
		ReapIntervalSeconds:  60,
		NotifyTimeoutSeconds: 5,
		NotifyMaxInFlight:    64,
		RateLimit: RateLimit{
			Enabled: false,
			RPS:     10,
			Burst:   20,
		},
	}
}

// Validate reports the first problem with the configuration.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("defaultTtlSeconds must be positive, got %d", c.DefaultTTLSeconds)
	}
	if c.ReapIntervalSeconds <= 0 {
		return fmt.Errorf("reapIntervalSeconds must be positive, got %d", c.ReapIntervalSeconds)
	}
	if c.NotifyTimeoutSeconds <= 0 {
		return fmt.Errorf("notifyTimeoutSeconds must be positive, got %d", c.NotifyTimeoutSeconds)
	}
	if c.NotifyMaxInFlight <= 0 {
		return fmt.Errorf("notifyMaxInFlight must be positive, got %d", c.NotifyMaxInFlight)
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return fmt.Errorf("rateLimit.rps must be positive, got %g", c.RateLimit.RPS)
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rateLimit.burst must be positive, got %d", c.RateLimit.Burst)
		}
	}
	for i, sub := range c.Subscriptions {
		if err := sub.validate(); err != nil {
			return fmt.Errorf("subscription %d: %w", i, err)
		}
	}
	return nil
}

func (s Subscription) validate() error {
	if s.Webhook == "" {
		return fmt.Errorf("webhook is required")
	}
	switch s.Kind {
	case SubscribeService, SubscribeTag:
		if s.Key == "" {
			return fmt.Errorf("%s subscription requires a key", s.Kind)
		}
	case SubscribeAll:
		if s.Key != "" {
			return fmt.Errorf("all subscription takes no key, got %q", s.Key)
		}
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	return nil
}

// DefaultTTL returns DefaultTTLSeconds as a duration.
func (c Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// ReapInterval returns ReapIntervalSeconds as a duration.
func (c Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// NotifyTimeout returns NotifyTimeoutSeconds as a duration.
func (c Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}
