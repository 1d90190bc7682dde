package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	appErrors "analytics-hub-backend/pkg/errors"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the complete service configuration.
type Config struct {
	Environment Environment `yaml:"environment" env:"ENVIRONMENT" validate:"required,oneof=development staging production"`
	ServiceName string      `yaml:"service_name" env:"SERVICE_NAME" validate:"required"`
	Version     string      `yaml:"version" env:"SERVICE_VERSION"`

	Server   Server   `yaml:"server" envPrefix:"SERVER_"`
	Logging  Logging  `yaml:"logging" envPrefix:"LOG_"`
	Metrics  Metrics  `yaml:"metrics" envPrefix:"METRICS_"`
	Health   Health   `yaml:"health" envPrefix:"HEALTH_"`
	Alerts   Alerts   `yaml:"alerts" envPrefix:"ALERTS_"`
	Tracing  Tracing  `yaml:"tracing" envPrefix:"TRACING_"`
	Database Database `yaml:"database" envPrefix:"DATABASE_"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-"`
}

// Server holds HTTP server settings.
type Server struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" validate:"gte=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Addr returns host:port for net.Listen.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Logging configures the process logger.
type Logging struct {
	Level  string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=json console"`
	Output string `yaml:"output" env:"OUTPUT" validate:"oneof=stdout stderr"`
	Debug  bool   `yaml:"debug" env:"DEBUG"`
}

// Metrics configures the in-process collector and CloudWatch export.
type Metrics struct {
	// HistogramRetention caps samples kept per histogram series; 0 keeps all.
	HistogramRetention int        `yaml:"histogram_retention" env:"HISTOGRAM_RETENTION" validate:"gte=0"`
	ExcludedPaths      []string   `yaml:"excluded_paths" env:"EXCLUDED_PATHS" envSeparator:","`
	CloudWatch         CloudWatch `yaml:"cloudwatch" envPrefix:"CLOUDWATCH_"`
}

// CloudWatch configures periodic metric export to Amazon CloudWatch.
type CloudWatch struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE" validate:"required_if=Enabled true"`
	Region    string `yaml:"region" env:"REGION"`
}

// Health configures probe execution and the built-in runtime probe.
type Health struct {
	ProbeTimeout   time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT" validate:"gt=0"`
	MaxConcurrency int           `yaml:"max_concurrency" env:"MAX_CONCURRENCY" validate:"gte=0"`
	MaxGoroutines  int           `yaml:"max_goroutines" env:"MAX_GOROUTINES" validate:"gte=0"`
	MaxHeapBytes   uint64        `yaml:"max_heap_bytes" env:"MAX_HEAP_BYTES"`
	Breaker        Breaker       `yaml:"breaker" envPrefix:"BREAKER_"`
}

// Breaker configures the circuit breaker around dependency probes.
type Breaker struct {
	MaxRequests         uint32        `yaml:"max_requests" env:"MAX_REQUESTS"`
	Interval            time.Duration `yaml:"interval" env:"INTERVAL" validate:"gte=0"`
	Timeout             time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" env:"CONSECUTIVE_FAILURES" validate:"gte=1"`
}

// Alerts configures alert evaluation.
type Alerts struct {
	EvaluationInterval time.Duration `yaml:"evaluation_interval" env:"EVALUATION_INTERVAL" validate:"gt=0"`
	// IncludeDefaults prepends the built-in rules to Rules.
	IncludeDefaults bool        `yaml:"include_defaults" env:"INCLUDE_DEFAULTS"`
	Rules           []AlertRule `yaml:"rules" validate:"dive"`
}

// AlertRule is one configured alert threshold.
type AlertRule struct {
	Name            string  `yaml:"name" validate:"required"`
	Metric          string  `yaml:"metric" validate:"required"`
	Operator        string  `yaml:"operator" validate:"required,oneof=gt gte lt lte eq"`
	Threshold       float64 `yaml:"threshold"`
	Severity        string  `yaml:"severity" validate:"required,oneof=info warning critical"`
	MessageTemplate string  `yaml:"message_template"`
}

// Tracing configures OpenTelemetry.
type Tracing struct {
	Enabled    bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint   string  `yaml:"endpoint" env:"ENDPOINT"`
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"gte=0,lte=1"`
	Insecure   bool    `yaml:"insecure" env:"INSECURE"`
}

// Database configures the optional indicator store probe.
type Database struct {
	URL         string        `yaml:"url" env:"URL"`
	PingTimeout time.Duration `yaml:"ping_timeout" env:"PING_TIMEOUT" validate:"gt=0"`
}

// Default returns the configuration used when no file or variable
// overrides a setting.
func Default() *Config {
	return &Config{
		Environment: Development,
		ServiceName: "analytics-hub",
		Version:     "dev",
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: Metrics{
			ExcludedPaths: []string{"/health", "/metrics", "/favicon.ico"},
			CloudWatch: CloudWatch{
				Namespace: "AnalyticsHub",
			},
		},
		Health: Health{
			ProbeTimeout:   5 * time.Second,
			MaxConcurrency: 8,
			MaxGoroutines:  10000,
			MaxHeapBytes:   1 << 30,
			Breaker: Breaker{
				MaxRequests:         1,
				Interval:            time.Minute,
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 3,
			},
		},
		Alerts: Alerts{
			EvaluationInterval: time.Minute,
			IncludeDefaults:    true,
		},
		Tracing: Tracing{
			SampleRate: 1.0,
			Insecure:   true,
		},
		Database: Database{
			PingTimeout: 2 * time.Second,
		},
	}
}

var validate = validator.New()

// Validate checks every field constraint. The error lists each violation.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return appErrors.NewValidation(describe(verrs), err)
		}
		return appErrors.NewValidation("invalid configuration", err)
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

func describe(verrs validator.ValidationErrors) string {
	msg := "invalid configuration:"
	for _, fe := range verrs {
		msg += fmt.Sprintf(" %s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msg += ";"
	}
	return msg
}
