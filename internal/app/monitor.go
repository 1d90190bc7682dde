package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"analytics-hub-backend/internal/infrastructure/observability"
	"analytics-hub-backend/internal/infrastructure/persistence"
	cloudexport "analytics-hub-backend/pkg/observability"
)

// MetricAlertsFiring is the gauge of alerts that held on the last
// evaluation, labelled by severity.
const MetricAlertsFiring = "alerts_firing"

// Exporter ships snapshot points to an external backend.
type Exporter interface {
	Export(ctx context.Context, points []cloudexport.Point) error
}

// MonitorConfig configures NewMonitor.
type MonitorConfig struct {
	Interval  time.Duration
	Collector *observability.Collector
	Alerts    *observability.AlertManager
	// Pool is optional.
	Pool persistence.StatsSource
	// Exporter is optional.
	Exporter Exporter
	Logger   *zap.Logger
}

// Monitor periodically samples runtime and pool gauges, evaluates alert
// rules and exports the snapshot.
type Monitor struct {
	cfg    MonitorConfig
	logger *observability.ContextLogger
}

// NewMonitor creates a Monitor. A non-positive interval defaults to a minute.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Monitor{cfg: cfg, logger: observability.NewContextLogger(cfg.Logger.Named("monitor"))}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info(ctx, "Monitor started", zap.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "Monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one evaluation cycle under its own correlation id and returns
// the alerts that fired.
func (m *Monitor) Tick(ctx context.Context) []observability.FiredAlert {
	ctx = observability.WithCorrelationID(ctx, observability.NewCorrelationID())
	ctx, span := observability.StartSpan(ctx, "monitor.tick")
	defer span.End()

	c := m.cfg.Collector
	observability.SampleRuntime(c)
	if m.cfg.Pool != nil {
		persistence.RecordPoolStats(m.cfg.Pool, c)
	}

	var fired []observability.FiredAlert
	if m.cfg.Alerts != nil {
		fired = m.cfg.Alerts.CheckAlerts(ctx, c.Snapshot())
		counts := map[observability.Severity]int{
			observability.SeverityInfo:     0,
			observability.SeverityWarning:  0,
			observability.SeverityCritical: 0,
		}
		for _, a := range fired {
			counts[a.Severity]++
		}
		for sev, n := range counts {
			c.SetGauge(MetricAlertsFiring, float64(n), observability.Labels{"severity": string(sev)})
		}
	}

	if m.cfg.Exporter != nil {
		if err := m.cfg.Exporter.Export(ctx, Points(c.Snapshot())); err != nil {
			observability.RecordSpanError(span, err)
			m.logger.Warn(ctx, "Metric export failed", zap.Error(err))
		}
	}
	return fired
}

// Points converts a snapshot into exporter points.
func Points(snap *observability.Snapshot) []cloudexport.Point {
	points := make([]cloudexport.Point, 0, len(snap.Counters)+len(snap.Gauges)+len(snap.Histograms))
	for _, s := range snap.Counters {
		points = append(points, cloudexport.Point{
			Kind:       cloudexport.PointCounter,
			Name:       s.Name,
			Dimensions: dimensions(s.Labels),
			Value:      s.Value,
		})
	}
	for _, s := range snap.Gauges {
		points = append(points, cloudexport.Point{
			Kind:       cloudexport.PointGauge,
			Name:       s.Name,
			Dimensions: dimensions(s.Labels),
			Value:      s.Value,
		})
	}
	for _, h := range snap.Histograms {
		if h.Observed == 0 {
			continue
		}
		points = append(points, cloudexport.Point{
			Kind:       cloudexport.PointDistribution,
			Name:       h.Name,
			Dimensions: dimensions(h.Labels),
			Count:      h.Observed,
			Sum:        h.ObservedSum,
			Min:        h.Stats.Min,
			Max:        h.Stats.Max,
			Samples:    h.Samples(),
		})
	}
	return points
}

func dimensions(pairs []observability.LabelPair) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Name] = p.Value
	}
	return out
}
