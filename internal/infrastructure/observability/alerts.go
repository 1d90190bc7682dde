package observability

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Operator compares an observed value against a threshold.
type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
)

// Valid reports whether op is one of the supported operators.
func (op Operator) Valid() bool {
	switch op {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpEqual:
		return true
	}
	return false
}

// Severity of a fired alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) level() zapcore.Level {
	switch s {
	case SeverityCritical:
		return zapcore.ErrorLevel
	case SeverityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.WarnLevel
	}
}

// AlertThreshold is a rule that fires when Metric compared to Threshold by
// Operator holds.
type AlertThreshold struct {
	Name            string   `json:"name" yaml:"name"`
	Metric          string   `json:"metric" yaml:"metric"`
	Operator        Operator `json:"operator" yaml:"operator"`
	Threshold       float64  `json:"threshold" yaml:"threshold"`
	Severity        Severity `json:"severity" yaml:"severity"`
	MessageTemplate string   `json:"message_template,omitempty" yaml:"message_template"`
}

// Check evaluates the rule against value. Unknown operators never fire.
func (t AlertThreshold) Check(value float64) bool {
	switch t.Operator {
	case OpGreaterThan:
		return value > t.Threshold
	case OpGreaterOrEqual:
		return value >= t.Threshold
	case OpLessThan:
		return value < t.Threshold
	case OpLessOrEqual:
		return value <= t.Threshold
	case OpEqual:
		return value == t.Threshold
	}
	return false
}

var messageFuncs = template.FuncMap{
	"percent": func(v float64) string { return strconv.FormatFloat(v*100, 'f', 1, 64) + "%" },
	"fixed":   func(prec int, v float64) string { return strconv.FormatFloat(v, 'f', prec, 64) },
}

// FormatMessage renders MessageTemplate with .Name, .Metric, .Operator,
// .Value and .Threshold in scope. An empty or broken template falls back
// to "<name>: <metric> is <value> (<op> <threshold>)".
func (t AlertThreshold) FormatMessage(value float64) string {
	fallback := fmt.Sprintf("%s: %s is %s (%s %s)",
		t.Name, t.Metric, formatValue(value), t.Operator, formatValue(t.Threshold))
	if t.MessageTemplate == "" {
		return fallback
	}
	tmpl, err := template.New(t.Name).Funcs(messageFuncs).Option("missingkey=error").Parse(t.MessageTemplate)
	if err != nil {
		return fallback
	}
	var buf bytes.Buffer
	data := struct {
		Name      string
		Metric    string
		Operator  Operator
		Value     float64
		Threshold float64
	}{t.Name, t.Metric, t.Operator, value, t.Threshold}
	if err := tmpl.Execute(&buf, data); err != nil {
		return fallback
	}
	return buf.String()
}

// DefaultAlertThresholds returns the built-in rule set.
func DefaultAlertThresholds() []AlertThreshold {
	return []AlertThreshold{
		{
			Name:            "High Error Rate",
			Metric:          "http_errors_total",
			Operator:        OpGreaterThan,
			Threshold:       100,
			Severity:        SeverityCritical,
			MessageTemplate: "Error rate exceeded: {{.Value}} errors (threshold: {{.Threshold}})",
		},
		{
			Name:            "High Latency",
			Metric:          "http_request_duration_seconds_p99",
			Operator:        OpGreaterThan,
			Threshold:       2.0,
			Severity:        SeverityWarning,
			MessageTemplate: "P99 latency is {{.Value}}s (threshold: {{.Threshold}}s)",
		},
		{
			Name:            "Cache Miss Rate",
			Metric:          "cache_miss_rate",
			Operator:        OpGreaterThan,
			Threshold:       0.5,
			Severity:        SeverityWarning,
			MessageTemplate: "Cache miss rate is {{percent .Value}} (threshold: {{percent .Threshold}})",
		},
		{
			Name:            "Database Connection Pool",
			Metric:          "db_pool_exhausted",
			Operator:        OpGreaterThan,
			Threshold:       0,
			Severity:        SeverityCritical,
			MessageTemplate: "Database connection pool exhausted {{.Value}} times",
		},
	}
}

// FiredAlert is one rule that held during an evaluation.
type FiredAlert struct {
	Name      string    `json:"name"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricSource resolves a metric reference to a value.
type MetricSource interface {
	MetricValue(name string) (float64, bool)
}

// AlertManager evaluates a set of rules against a metric source. Each
// evaluation is independent: a condition that persists fires every time.
type AlertManager struct {
	mu         sync.RWMutex
	thresholds []AlertThreshold
	logger     *ContextLogger
	now        func() time.Time
}

// NewAlertManager returns a manager over thresholds. A nil slice selects
// DefaultAlertThresholds; an empty non-nil slice means no rules.
func NewAlertManager(thresholds []AlertThreshold, logger *zap.Logger) *AlertManager {
	if thresholds == nil {
		thresholds = DefaultAlertThresholds()
	}
	return &AlertManager{
		thresholds: append([]AlertThreshold{}, thresholds...),
		logger:     NewContextLogger(logger),
		now:        time.Now,
	}
}

// AddThreshold appends a rule.
func (m *AlertManager) AddThreshold(t AlertThreshold) {
	m.mu.Lock()
	m.thresholds = append(m.thresholds, t)
	m.mu.Unlock()
}

// SetThresholds replaces the rule set, as done on configuration reload.
func (m *AlertManager) SetThresholds(thresholds []AlertThreshold) {
	m.mu.Lock()
	m.thresholds = append([]AlertThreshold{}, thresholds...)
	m.mu.Unlock()
}

// Thresholds returns a copy of the current rules.
func (m *AlertManager) Thresholds() []AlertThreshold {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AlertThreshold{}, m.thresholds...)
}

// CheckAlerts evaluates every rule in order and returns those that fire.
// A metric the source does not know evaluates as 0.
func (m *AlertManager) CheckAlerts(ctx context.Context, src MetricSource) []FiredAlert {
	thresholds := m.Thresholds()
	fired := make([]FiredAlert, 0)
	for _, t := range thresholds {
		value, ok := src.MetricValue(t.Metric)
		if !ok {
			value = 0
		}
		if !t.Check(value) {
			continue
		}
		alert := FiredAlert{
			Name:      t.Name,
			Metric:    t.Metric,
			Value:     value,
			Threshold: t.Threshold,
			Severity:  t.Severity,
			Message:   t.FormatMessage(value),
			Timestamp: m.now().UTC(),
		}
		fired = append(fired, alert)

		m.logger.Log(ctx, t.Severity.level(), alert.Message,
			zap.String("alert_name", t.Name),
			zap.String("metric", t.Metric),
			zap.Float64("value", value),
			zap.Float64("threshold", t.Threshold),
			zap.String("severity", string(t.Severity)),
		)
	}
	return fired
}
