// Package reaper removes providers whose heartbeats have gone stale.
package reaper

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"muster/internal/logging"
	"muster/internal/notify"
	"muster/internal/registry"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 60 * time.Second

// Reaper periodically sweeps the registry and deregisters every
// provider whose heartbeat age exceeds its TTL. Expiry goes through
// the store's ordinary deregister path, so reaped providers trigger
// the same change notifications as explicit deregistrations.
type Reaper struct {
	store    *registry.Store
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	scheduler gocron.Scheduler
	swept     *notify.Signal

	sweeps atomic.Int64
	reaped atomic.Int64
}

// Config configures a Reaper.
type Config struct {
	// Store is the registry to sweep. Required.
	Store *registry.Store

	// Interval between sweeps. Defaults to DefaultInterval.
	Interval time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger for structured logging. If nil, logging is disabled.
	// The reaper scopes this logger with component="reaper".
	Logger *slog.Logger
}

// New creates a Reaper. Start begins the periodic sweeps.
func New(cfg Config) (*Reaper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("reaper: store is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Reaper{
		store:    cfg.Store,
		interval: cfg.Interval,
		now:      cfg.Now,
		logger:   logging.Default(cfg.Logger).With("component", "reaper"),
		swept:    notify.NewSignal(),
	}, nil
}

// Start schedules the periodic sweep. The job runs in singleton mode
// with reschedule semantics: a tick that finds the previous sweep (and
// its reap-triggered notifications) still in flight is skipped rather
// than stacked, so the next sweep is only scheduled once the previous
// one has fully completed.
func (r *Reaper) Start() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create reap scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(r.Sweep),
		gocron.WithName("reap"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("create reap job: %w", err)
	}

	r.scheduler = s
	s.Start()
	r.logger.Info("reaper started", "interval", r.interval)
	return nil
}

// Stop shuts the scheduler down and waits for a running sweep to
// finish.
func (r *Reaper) Stop() error {
	if r.scheduler == nil {
		return nil
	}
	r.logger.Info("reaper stopping")
	return r.scheduler.Shutdown()
}

// Sweep runs one sweep synchronously and returns the number of
// providers reaped. Candidates are selected once against a single
// timestamp at the start of the sweep; a provider heartbeated while
// the sweep runs is not re-checked (accepted race — it simply expires
// a tick late next time). A candidate deregistered concurrently is a
// NotFound no-op, and any per-provider failure is logged without
// aborting the rest of the sweep.
func (r *Reaper) Sweep() int {
	now := r.now()

	var candidates []registry.Provider
	for _, p := range r.store.List() {
		if p.Expired(now) {
			candidates = append(candidates, p)
		}
	}

	reaped := 0
	for _, p := range candidates {
		_, err := r.store.Deregister(p.ID)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			r.logger.Debug("reap: provider already gone", "id", p.ID)
		case err != nil:
			r.logger.Warn("reap: deregister", "id", p.ID, "service", p.Service, "error", err)
		default:
			reaped++
			r.logger.Info("reaped expired provider",
				"id", p.ID,
				"service", p.Service,
				"heartbeatAge", p.HeartbeatAge(now),
				"ttl", p.TTL,
			)
		}
	}

	r.sweeps.Add(1)
	r.reaped.Add(int64(reaped))
	r.swept.Notify()
	return reaped
}

// SweepDone returns a channel closed when the next sweep (including
// its reap-triggered notifications) completes. Re-call after each
// wakeup for the following sweep.
func (r *Reaper) SweepDone() <-chan struct{} {
	return r.swept.C()
}

// Stats summarizes reaper activity for metrics.
type Stats struct {
	Sweeps int64
	Reaped int64
}

func (r *Reaper) Stats() Stats {
	return Stats{
		Sweeps: r.sweeps.Load(),
		Reaped: r.reaped.Load(),
	}
}
