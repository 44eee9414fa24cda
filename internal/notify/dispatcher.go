package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"muster/internal/listener"
	"muster/internal/logging"
	"muster/internal/registry"
)

const (
	// DefaultTimeout bounds a single webhook delivery attempt.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxInFlight caps concurrent deliveries per notification
	// cycle.
	DefaultMaxInFlight = 64
)

// Dispatcher fans out change notifications to webhook subscribers.
// Delivery is best-effort and at-most-once: failures are logged but
// never retried and never surfaced to the caller that mutated the
// registry. Each delivery is a bare HTTP GET — a change signal, not a
// data push; receivers poll the registry for current state.
type Dispatcher struct {
	directory   *listener.Directory
	client      *http.Client
	timeout     time.Duration
	maxInFlight int
	logger      *slog.Logger

	cycles     atomic.Int64
	deliveries atomic.Int64
	failures   atomic.Int64
}

// Config configures a Dispatcher.
type Config struct {
	// Directory resolves the webhooks interested in a change.
	// Required.
	Directory *listener.Directory

	// Client performs the outbound requests. Defaults to a dedicated
	// http.Client. Tests inject an httptest-backed client here.
	Client *http.Client

	// Timeout bounds each delivery attempt, so one unresponsive
	// listener cannot stall a notification cycle. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// MaxInFlight caps concurrent deliveries within one cycle.
	// Defaults to DefaultMaxInFlight.
	MaxInFlight int

	// Logger for structured logging. If nil, logging is disabled.
	// The dispatcher scopes this logger with component="notify".
	Logger *slog.Logger
}

// NewDispatcher creates a Dispatcher backed by the given Directory.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("notify: directory is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	return &Dispatcher{
		directory:   cfg.Directory,
		client:      cfg.Client,
		timeout:     cfg.Timeout,
		maxInFlight: cfg.MaxInFlight,
		logger:      logging.Default(cfg.Logger).With("component", "notify"),
	}, nil
}

// Notify delivers one change signal per matching subscription:
//
//   - name subscribers of p.Service get webhookBase/<service>
//   - tag subscribers get webhookBase/<tag>, once per matching tag
//   - "all" subscribers get webhookBase/all
//
// Listener resolution is a point-in-time read; delivery happens outside
// any lock. Notify returns only after every delivery attempt has
// concluded — that return is the completion signal callers sequence on.
func (d *Dispatcher) Notify(p registry.Provider) {
	ls := d.directory.ListenersFor(p.Service, p.Tags)

	targets := make([]string, 0, ls.Total())
	for _, webhook := range ls.Name {
		targets = append(targets, joinWebhook(webhook, p.Service))
	}
	for _, tl := range ls.Tags {
		for _, webhook := range tl.Webhooks {
			targets = append(targets, joinWebhook(webhook, tl.Tag))
		}
	}
	for _, webhook := range ls.All {
		targets = append(targets, joinWebhook(webhook, "all"))
	}

	d.cycles.Add(1)
	if len(targets) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(d.maxInFlight)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			d.deliver(target, p.ID)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Debug("notification cycle complete",
		"id", p.ID,
		"service", p.Service,
		"deliveries", len(targets),
	)
}

// deliver performs a single fire-and-forget GET. Failures are counted
// and logged, nothing more.
func (d *Dispatcher) deliver(target string, id registry.ProviderID) {
	d.deliveries.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		d.failures.Add(1)
		d.logger.Warn("notify: build request", "target", target, "id", id, "error", err)
		return
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.failures.Add(1)
		d.logger.Warn("notify: deliver", "target", target, "id", id, "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.failures.Add(1)
		d.logger.Warn("notify: deliver", "target", target, "id", id, "status", resp.StatusCode)
	}
}

// Stats summarizes dispatcher activity for metrics.
type Stats struct {
	Cycles     int64
	Deliveries int64
	Failures   int64
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Cycles:     d.cycles.Load(),
		Deliveries: d.deliveries.Load(),
		Failures:   d.failures.Load(),
	}
}

// joinWebhook appends a change-category suffix to a webhook base,
// normalizing the base to end with exactly one slash first.
func joinWebhook(base, suffix string) string {
	return strings.TrimRight(base, "/") + "/" + suffix
}
