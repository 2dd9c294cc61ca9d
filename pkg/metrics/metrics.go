// Package metrics exposes ingest and supervisor counters over a Prometheus
// /metrics listener.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

// Collector owns the instrument set and the optional HTTP listener.
type Collector struct {
	logger *logx.Logger
	reg    *prometheus.Registry
	srv    *http.Server

	fixesAccepted prometheus.Counter
	fixesRejected *prometheus.CounterVec
	resurrections prometheus.Counter
	heartbeats    prometheus.Counter

	distanceM prometheus.Gauge
	paceSecKm prometheus.Gauge
	elevGainM prometheus.Gauge
	fusedKcal prometheus.Gauge
}

// NewCollector registers the instrument set on a fresh registry.
func NewCollector(logger *logx.Logger) *Collector {
	c := &Collector{
		logger: logger,
		reg:    prometheus.NewRegistry(),

		fixesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruckd_fixes_accepted_total",
			Help: "Position fixes accepted into the track.",
		}),
		fixesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruckd_fixes_rejected_total",
			Help: "Position fixes rejected by the validation pipeline.",
		}, []string{"reason"}),
		resurrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruckd_resurrections_total",
			Help: "Ingest task restarts after silent death.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruckd_heartbeats_total",
			Help: "Supervisor liveness checks fired.",
		}),
		distanceM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ruckd_session_distance_meters",
			Help: "Cumulative session distance.",
		}),
		paceSecKm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ruckd_session_pace_seconds_per_km",
			Help: "Windowed current pace, 0 while warming up.",
		}),
		elevGainM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ruckd_session_elevation_gain_meters",
			Help: "Cumulative elevation gain.",
		}),
		fusedKcal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ruckd_session_calories_kcal",
			Help: "Fused calorie estimate.",
		}),
	}

	c.reg.MustRegister(
		c.fixesAccepted, c.fixesRejected, c.resurrections, c.heartbeats,
		c.distanceM, c.paceSecKm, c.elevGainM, c.fusedKcal,
	)
	return c
}

// ObserveFix records a validation verdict.
func (c *Collector) ObserveFix(fix pkg.ValidatedFix) {
	if fix.Accepted {
		c.fixesAccepted.Inc()
		return
	}
	c.fixesRejected.WithLabelValues(string(fix.Reason)).Inc()
}

// ObserveEvent records supervisor lifecycle events.
func (c *Collector) ObserveEvent(event pkg.SessionEvent) {
	switch event.Type {
	case "resurrected":
		c.resurrections.Inc()
	case "heartbeat":
		c.heartbeats.Inc()
	}
}

// UpdateSession refreshes the per-session gauges from a snapshot.
func (c *Collector) UpdateSession(snap pkg.TrackSnapshot, est pkg.CalorieEstimate) {
	c.distanceM.Set(snap.DistanceM)
	c.paceSecKm.Set(snap.CurrentPaceSecPerKm())
	c.elevGainM.Set(snap.ElevationGainM)
	c.fusedKcal.Set(est.FusedKcal)
}

// Serve starts the /metrics listener. It returns after the listener is
// running; Shutdown stops it.
func (c *Collector) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}))

	c.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := c.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics listener failed", "error", err)
		}
	}()

	c.logger.Info("metrics listener started", "port", port)
	return nil
}

// Shutdown stops the listener if one is running.
func (c *Collector) Shutdown(ctx context.Context) {
	if c.srv == nil {
		return
	}
	if err := c.srv.Shutdown(ctx); err != nil {
		c.logger.Warn("metrics listener shutdown", "error", err)
	}
}
