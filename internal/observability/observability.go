package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Metrics struct {
	registry *prometheus.Registry

	sweepRuns     prometheus.Counter
	sweepEnforced *prometheus.CounterVec
	sweepErrors   prometheus.Counter
	sweepLastRun  prometheus.Gauge

	refreshRuns      prometheus.Counter
	refreshSuccesses prometheus.Counter
	refreshFailures  *prometheus.CounterVec
	refreshUsers     prometheus.Gauge
	refreshLastRun   prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		sweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "reviewflow_sweep_runs_total",
			Help: "Completed enforcement sweep passes.",
		}),
		sweepEnforced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewflow_sweep_enforced_total",
			Help: "Tenants downgraded by the enforcement sweep, by reason.",
		}, []string{"reason"}),
		sweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "reviewflow_sweep_errors_total",
			Help: "Per-tenant failures during enforcement sweeps.",
		}),
		sweepLastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reviewflow_sweep_last_run_timestamp_seconds",
			Help: "Unix time of the last completed sweep pass.",
		}),
		refreshRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "reviewflow_credential_refresh_runs_total",
			Help: "Completed credential refresh scheduler runs.",
		}),
		refreshSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "reviewflow_credential_refresh_successes_total",
			Help: "Successful credential refreshes.",
		}),
		refreshFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewflow_credential_refresh_failures_total",
			Help: "Failed credential refreshes, by classification.",
		}, []string{"reason"}),
		refreshUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reviewflow_credential_refresh_users",
			Help: "Distinct users processed across all refresh runs.",
		}),
		refreshLastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reviewflow_credential_refresh_last_run_timestamp_seconds",
			Help: "Unix time of the last completed refresh run.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SweepObserver records enforcement sweep outcomes. Nil receivers are no-ops
// so wiring it is optional in tests.
type SweepObserver struct {
	log     zerolog.Logger
	metrics *Metrics
}

func NewSweepObserver(log zerolog.Logger, metrics *Metrics) *SweepObserver {
	return &SweepObserver{log: log, metrics: metrics}
}

func (o *SweepObserver) TenantEnforced(tenantID, reason string) {
	if o == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.sweepEnforced.WithLabelValues(reason).Inc()
	}
	o.log.Info().Str("tenant_id", tenantID).Str("reason", reason).Msg("sweep enforced expiry")
}

func (o *SweepObserver) SweepCompleted(evaluated, denied, enforced, errors int) {
	if o == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.sweepRuns.Inc()
		o.metrics.sweepErrors.Add(float64(errors))
		o.metrics.sweepLastRun.SetToCurrentTime()
	}
	o.log.Info().
		Int("evaluated", evaluated).
		Int("denied", denied).
		Int("enforced", enforced).
		Int("errors", errors).
		Msg("enforcement sweep completed")
}

// RefreshObserver records credential refresh outcomes.
type RefreshObserver struct {
	log     zerolog.Logger
	metrics *Metrics
}

func NewRefreshObserver(log zerolog.Logger, metrics *Metrics) *RefreshObserver {
	return &RefreshObserver{log: log, metrics: metrics}
}

func (o *RefreshObserver) RefreshSucceeded(userID string, expiresAt time.Time) {
	if o == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.refreshSuccesses.Inc()
	}
	o.log.Info().Str("user_id", userID).Time("expires_at", expiresAt).Msg("credential refreshed")
}

func (o *RefreshObserver) RefreshFailed(userID, reason string, fatal bool, err error) {
	if o == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.refreshFailures.WithLabelValues(reason).Inc()
	}
	event := o.log.Warn()
	if fatal {
		event = o.log.Error()
	}
	event.Err(err).Str("user_id", userID).Str("reason", reason).Bool("fatal", fatal).Msg("credential refresh failed")
}

func (o *RefreshObserver) RunCompleted(processed, refreshed, failed int, distinctUsers int) {
	if o == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.refreshRuns.Inc()
		o.metrics.refreshUsers.Set(float64(distinctUsers))
		o.metrics.refreshLastRun.SetToCurrentTime()
	}
	o.log.Info().
		Int("processed", processed).
		Int("refreshed", refreshed).
		Int("failed", failed).
		Int("distinct_users", distinctUsers).
		Msg("credential refresh run completed")
}
