// Package app assembles the observability core from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"analytics-hub-backend/internal/config"
	"analytics-hub-backend/internal/infrastructure/observability"
	"analytics-hub-backend/internal/infrastructure/persistence"
	"analytics-hub-backend/internal/interfaces/http/rest"
	appErrors "analytics-hub-backend/pkg/errors"
	cloudexport "analytics-hub-backend/pkg/observability"
)

// Probe names registered by the container.
const (
	ProbeRuntime  = "runtime"
	ProbeMetrics  = "metrics"
	ProbeDatabase = "database"
)

// Container holds all application dependencies.
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Level     zap.AtomicLevel
	Collector *observability.Collector
	Registry  *prometheus.Registry
	Health    *observability.HealthChecker
	Alerts    *observability.AlertManager
	Database  *persistence.Postgres
	Exporter  *cloudexport.CloudWatchExporter
	Router    http.Handler

	shutdownFunctions []func(context.Context) error
}

// NewContainer builds every component described by cfg.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}
	if err := c.initialize(ctx); err != nil {
		_ = c.Shutdown(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) initialize(ctx context.Context) error {
	if err := c.initializeLogger(); err != nil {
		return err
	}
	c.initializeMetrics()
	if err := c.initializeTracing(ctx); err != nil {
		return err
	}
	if err := c.initializeDatabase(ctx); err != nil {
		return err
	}
	c.initializeHealth()
	c.initializeAlerts()
	if err := c.initializeExporter(ctx); err != nil {
		return err
	}
	c.initializeRouter()
	return nil
}

func (c *Container) initializeLogger() error {
	logger, level, err := observability.NewLogger(LoggerOptions(c.Config))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	c.Logger = logger
	c.Level = level
	c.addShutdownFunction(func(context.Context) error {
		_ = logger.Sync()
		return nil
	})
	return nil
}

func (c *Container) initializeMetrics() {
	opts := []observability.CollectorOption{observability.WithCollectorLogger(c.Logger)}
	if n := c.Config.Metrics.HistogramRetention; n > 0 {
		opts = append(opts, observability.WithHistogramRetention(n))
	}
	c.Collector = observability.NewCollector(opts...)
	c.Registry = observability.NewRegistry(c.Collector)
}

func (c *Container) initializeTracing(ctx context.Context) error {
	shutdown, err := observability.InitTracing(ctx, observability.TracingOptions{
		Enabled:     c.Config.Tracing.Enabled,
		ServiceName: c.Config.ServiceName,
		Version:     c.Config.Version,
		Environment: string(c.Config.Environment),
		Endpoint:    c.Config.Tracing.Endpoint,
		SampleRate:  c.Config.Tracing.SampleRate,
		Insecure:    c.Config.Tracing.Insecure,
	}, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.addShutdownFunction(shutdown)
	return nil
}

func (c *Container) initializeDatabase(ctx context.Context) error {
	if c.Config.Database.URL == "" {
		return nil
	}
	db, err := persistence.Connect(ctx, c.Config.Database.URL, c.Logger)
	if err != nil {
		return appErrors.Wrap(err, "failed to connect database")
	}
	c.Database = db
	c.addShutdownFunction(func(context.Context) error {
		db.Close()
		return nil
	})
	return nil
}

func (c *Container) initializeHealth() {
	hc := c.Config.Health
	c.Health = observability.NewHealthChecker(
		observability.WithDefaultProbeTimeout(hc.ProbeTimeout),
		observability.WithMaxConcurrency(hc.MaxConcurrency),
		observability.WithHealthLogger(c.Logger),
	)

	c.Health.Register(ProbeRuntime, observability.RuntimeProbe(observability.RuntimeLimits{
		MaxGoroutines: hc.MaxGoroutines,
		MaxHeapBytes:  hc.MaxHeapBytes,
	}), observability.NonCritical())
	c.Health.Register(ProbeMetrics, observability.CollectorProbe(c.Collector))

	if c.Database != nil {
		probe := persistence.PingProbe(c.Database, c.Database, c.Config.Database.PingTimeout)
		c.Health.Register(ProbeDatabase, observability.WithCircuitBreaker(ProbeDatabase, probe,
			observability.BreakerSettings{
				MaxRequests:         hc.Breaker.MaxRequests,
				Interval:            hc.Breaker.Interval,
				Timeout:             hc.Breaker.Timeout,
				ConsecutiveFailures: hc.Breaker.ConsecutiveFailures,
			}, c.Logger))
	}
}

func (c *Container) initializeAlerts() {
	c.Alerts = observability.NewAlertManager(AlertThresholds(c.Config.Alerts), c.Logger)
}

func (c *Container) initializeExporter(ctx context.Context) error {
	cw := c.Config.Metrics.CloudWatch
	if !cw.Enabled {
		return nil
	}
	client, err := cloudexport.NewCloudWatchClient(ctx, cw.Region)
	if err != nil {
		return err
	}
	c.Exporter = cloudexport.NewCloudWatchExporter(cw.Namespace, client, c.Logger)
	return nil
}

func (c *Container) initializeRouter() {
	excluded := c.Config.Metrics.ExcludedPaths
	if excluded == nil {
		excluded = observability.DefaultExcludedPaths
	}
	c.Router = rest.NewRouter(rest.RouterConfig{
		ServiceName:    c.Config.ServiceName,
		Version:        c.Config.Version,
		AllowedOrigins: c.Config.Server.AllowedOrigins,
		ExcludedPaths:  excluded,
		RequestTimeout: c.Config.Server.RequestTimeout,
		Logger:         c.Logger,
		Collector:      c.Collector,
		Registry:       c.Registry,
		Health:         c.Health,
		Alerts:         c.Alerts,
	})
}

// Monitor returns the background loop that samples and evaluates metrics.
func (c *Container) Monitor() *Monitor {
	var pool persistence.StatsSource
	if c.Database != nil {
		pool = c.Database
	}
	var exporter Exporter
	if c.Exporter != nil {
		exporter = c.Exporter
	}
	return NewMonitor(MonitorConfig{
		Interval:  c.Config.Alerts.EvaluationInterval,
		Collector: c.Collector,
		Alerts:    c.Alerts,
		Pool:      pool,
		Exporter:  exporter,
		Logger:    c.Logger,
	})
}

// ApplyConfig applies the reloadable subset of cfg: log level and alert
// rules. Everything else needs a restart.
func (c *Container) ApplyConfig(cfg *config.Config) {
	if err := c.Level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		c.Logger.Warn("Ignoring invalid log level", zap.String("level", cfg.Logging.Level))
	}
	c.Alerts.SetThresholds(AlertThresholds(cfg.Alerts))
	c.Logger.Info("Configuration applied",
		zap.String("log_level", cfg.Logging.Level),
		zap.Int("alert_rules", len(c.Alerts.Thresholds())),
	)
}

func (c *Container) addShutdownFunction(fn func(context.Context) error) {
	c.shutdownFunctions = append(c.shutdownFunctions, fn)
}

// Shutdown releases every component in reverse order of creation.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(c.shutdownFunctions) - 1; i >= 0; i-- {
		if err := c.shutdownFunctions[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.shutdownFunctions = nil
	return errors.Join(errs...)
}

// LoggerOptions maps the logging configuration onto the logger factory.
func LoggerOptions(cfg *config.Config) observability.LoggerOptions {
	return observability.LoggerOptions{
		Name:   cfg.ServiceName,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		// caller annotations stay off in production
		Debug: cfg.Logging.Debug && !cfg.IsProduction(),
	}
}

// AlertThresholds returns the configured rules, preceded by the built-in
// ones when IncludeDefaults is set. The result is never nil.
func AlertThresholds(cfg config.Alerts) []observability.AlertThreshold {
	thresholds := make([]observability.AlertThreshold, 0, len(cfg.Rules)+4)
	if cfg.IncludeDefaults {
		thresholds = append(thresholds, observability.DefaultAlertThresholds()...)
	}
	for _, r := range cfg.Rules {
		thresholds = append(thresholds, observability.AlertThreshold{
			Name:            r.Name,
			Metric:          r.Metric,
			Operator:        observability.Operator(r.Operator),
			Threshold:       r.Threshold,
			Severity:        observability.Severity(r.Severity),
			MessageTemplate: r.MessageTemplate,
		})
	}
	return thresholds
}
