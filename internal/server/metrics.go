package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// handleMetrics (GET /metrics) serves Prometheus text exposition.
// Unauthenticated, as is standard for scrape targets.
func (s *Server) handleMetrics(c echo.Context) error {
	var b strings.Builder

	// -- Server info --
	fmt.Fprintf(&b, "# HELP muster_info Server version and metadata.\n")
	fmt.Fprintf(&b, "# TYPE muster_info gauge\n")
	fmt.Fprintf(&b, "muster_info{version=%q} 1\n", Version)

	fmt.Fprintf(&b, "# HELP muster_up Whether the server is accepting traffic.\n")
	fmt.Fprintf(&b, "# TYPE muster_up gauge\n")
	if s.draining.Load() {
		fmt.Fprintf(&b, "muster_up 0\n")
	} else {
		fmt.Fprintf(&b, "muster_up 1\n")
	}

	fmt.Fprintf(&b, "# HELP muster_uptime_seconds Seconds since server start.\n")
	fmt.Fprintf(&b, "# TYPE muster_uptime_seconds gauge\n")
	fmt.Fprintf(&b, "muster_uptime_seconds %.0f\n", time.Since(s.startTime).Seconds())

	// -- Registry --
	rs := s.store.Stats()
	fmt.Fprintf(&b, "# HELP muster_providers Live registered providers.\n")
	fmt.Fprintf(&b, "# TYPE muster_providers gauge\n")
	fmt.Fprintf(&b, "muster_providers %d\n", rs.Providers)
	fmt.Fprintf(&b, "# HELP muster_services Distinct service names with live providers.\n")
	fmt.Fprintf(&b, "# TYPE muster_services gauge\n")
	fmt.Fprintf(&b, "muster_services %d\n", rs.Services)
	fmt.Fprintf(&b, "# HELP muster_tags Distinct tags with live providers.\n")
	fmt.Fprintf(&b, "# TYPE muster_tags gauge\n")
	fmt.Fprintf(&b, "muster_tags %d\n", rs.Tags)

	// -- Subscriptions --
	ds := s.directory.Stats()
	fmt.Fprintf(&b, "# HELP muster_subscriptions Webhook subscriptions by kind.\n")
	fmt.Fprintf(&b, "# TYPE muster_subscriptions gauge\n")
	fmt.Fprintf(&b, "muster_subscriptions{kind=\"service\"} %d\n", ds.Name)
	fmt.Fprintf(&b, "muster_subscriptions{kind=\"tag\"} %d\n", ds.Tag)
	fmt.Fprintf(&b, "muster_subscriptions{kind=\"all\"} %d\n", ds.All)

	// -- Notifications --
	if s.dispatcher != nil {
		ns := s.dispatcher.Stats()
		fmt.Fprintf(&b, "# HELP muster_notify_cycles_total Completed notification cycles.\n")
		fmt.Fprintf(&b, "# TYPE muster_notify_cycles_total counter\n")
		fmt.Fprintf(&b, "muster_notify_cycles_total %d\n", ns.Cycles)
		fmt.Fprintf(&b, "# HELP muster_notify_deliveries_total Webhook delivery attempts.\n")
		fmt.Fprintf(&b, "# TYPE muster_notify_deliveries_total counter\n")
		fmt.Fprintf(&b, "muster_notify_deliveries_total %d\n", ns.Deliveries)
		fmt.Fprintf(&b, "# HELP muster_notify_failures_total Failed webhook deliveries.\n")
		fmt.Fprintf(&b, "# TYPE muster_notify_failures_total counter\n")
		fmt.Fprintf(&b, "muster_notify_failures_total %d\n", ns.Failures)
	}

	// -- Reaper --
	if s.reaper != nil {
		ps := s.reaper.Stats()
		fmt.Fprintf(&b, "# HELP muster_reaper_sweeps_total Completed expiry sweeps.\n")
		fmt.Fprintf(&b, "# TYPE muster_reaper_sweeps_total counter\n")
		fmt.Fprintf(&b, "muster_reaper_sweeps_total %d\n", ps.Sweeps)
		fmt.Fprintf(&b, "# HELP muster_reaper_reaped_total Providers removed by expiry.\n")
		fmt.Fprintf(&b, "# TYPE muster_reaper_reaped_total counter\n")
		fmt.Fprintf(&b, "muster_reaper_reaped_total %d\n", ps.Reaped)
	}

	return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}
