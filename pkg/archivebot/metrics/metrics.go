// Package metrics exposes loop activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jholhewres/archivebot/pkg/archivebot/triage"
)

// Collector implements triage.Observer on a private registry.
type Collector struct {
	registry *prometheus.Registry

	scans          prometheus.Counter
	lastCandidates prometheus.Gauge
	cycles         *prometheus.CounterVec
	cycleSeconds   prometheus.Histogram
	recoveries     prometheus.Counter
	transitions    *prometheus.CounterVec
	state          *prometheus.GaugeVec
}

// NewCollector creates and registers the loop metrics together with the Go
// runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archivebot_scans_total",
			Help: "Archive scans performed.",
		}),
		lastCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archivebot_last_scan_candidates",
			Help: "Unread archived chats found by the last scan.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archivebot_cycles_total",
			Help: "Completed reply cycles by outcome and reason.",
		}, []string{"outcome", "reason"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archivebot_cycle_duration_seconds",
			Help:    "Reply cycle duration.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archivebot_recoveries_total",
			Help: "Faults handled by error recovery.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archivebot_transitions_total",
			Help: "Scheduler state transitions.",
		}, []string{"from", "to"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archivebot_state",
			Help: "1 for the current scheduler state, 0 otherwise.",
		}, []string{"state"}),
	}

	c.registry.MustRegister(
		c.scans, c.lastCandidates, c.cycles, c.cycleSeconds,
		c.recoveries, c.transitions, c.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) OnTransition(from, to triage.State) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	c.state.WithLabelValues(from.String()).Set(0)
	c.state.WithLabelValues(to.String()).Set(1)
}

func (c *Collector) OnScan(found int) {
	c.scans.Inc()
	c.lastCandidates.Set(float64(found))
}

func (c *Collector) OnCycle(_ context.Context, report triage.CycleReport) {
	c.cycles.WithLabelValues(report.Outcome.Kind.String(), report.Outcome.Reason).Inc()
	c.cycleSeconds.Observe(report.Duration.Seconds())
}

func (c *Collector) OnRecovery(error) {
	c.recoveries.Inc()
}

func (c *Collector) OnStop(triage.State) {}

var _ triage.Observer = (*Collector)(nil)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, c *Collector, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
