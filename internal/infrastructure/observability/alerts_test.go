package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type staticSource map[string]float64

func (s staticSource) MetricValue(name string) (float64, bool) {
	v, ok := s[name]
	return v, ok
}

func TestAlertThresholdCheck(t *testing.T) {
	tests := []struct {
		op    Operator
		value float64
		want  bool
	}{
		{OpGreaterThan, 11, true},
		{OpGreaterThan, 10, false},
		{OpGreaterOrEqual, 10, true},
		{OpGreaterOrEqual, 9.99, false},
		{OpLessThan, 9, true},
		{OpLessThan, 10, false},
		{OpLessOrEqual, 10, true},
		{OpLessOrEqual, 10.01, false},
		{OpEqual, 10, true},
		{OpEqual, 10.5, false},
		{Operator("between"), 10, false},
	}
	for _, tt := range tests {
		th := AlertThreshold{Operator: tt.op, Threshold: 10}
		assert.Equal(t, tt.want, th.Check(tt.value), "%s %v", tt.op, tt.value)
	}

	assert.True(t, OpLessOrEqual.Valid())
	assert.False(t, Operator("ne").Valid())
}

func TestAlertThresholdFormatMessage(t *testing.T) {
	t.Run("Should render the template", func(t *testing.T) {
		th := AlertThreshold{
			Name:            "High Error Rate",
			Metric:          "http_errors_total",
			Operator:        OpGreaterThan,
			Threshold:       100,
			MessageTemplate: "Error rate exceeded: {{.Value}} errors (threshold: {{.Threshold}})",
		}
		assert.Equal(t, "Error rate exceeded: 150 errors (threshold: 100)", th.FormatMessage(150))
	})

	t.Run("Should provide formatting helpers", func(t *testing.T) {
		th := AlertThreshold{MessageTemplate: "miss {{percent .Value}} p99 {{fixed 2 .Threshold}}", Threshold: 0.5}
		assert.Equal(t, "miss 62.5% p99 0.50", th.FormatMessage(0.625))
	})

	t.Run("Should fall back for empty or broken templates", func(t *testing.T) {
		th := AlertThreshold{Name: "Latency", Metric: "lat_p99", Operator: OpGreaterThan, Threshold: 2}
		assert.Equal(t, "Latency: lat_p99 is 2.5 (gt 2)", th.FormatMessage(2.5))

		th.MessageTemplate = "{{.Value"
		assert.Equal(t, "Latency: lat_p99 is 2.5 (gt 2)", th.FormatMessage(2.5))

		th.MessageTemplate = "{{.Missing}}"
		assert.Equal(t, "Latency: lat_p99 is 2.5 (gt 2)", th.FormatMessage(2.5))
	})
}

func TestAlertManager(t *testing.T) {
	t.Run("Should fire matching rules in order", func(t *testing.T) {
		m := NewAlertManager([]AlertThreshold{
			{Name: "errors", Metric: "http_errors_total", Operator: OpGreaterThan, Threshold: 100, Severity: SeverityCritical},
			{Name: "latency", Metric: "lat_p99", Operator: OpGreaterThan, Threshold: 2, Severity: SeverityWarning},
			{Name: "quiet", Metric: "lat_p99", Operator: OpLessThan, Threshold: 0, Severity: SeverityInfo},
		}, nil)
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		m.now = func() time.Time { return fixed }

		fired := m.CheckAlerts(context.Background(), staticSource{"http_errors_total": 150, "lat_p99": 3})
		require.Len(t, fired, 2)
		assert.Equal(t, "errors", fired[0].Name)
		assert.Equal(t, 150.0, fired[0].Value)
		assert.Equal(t, 100.0, fired[0].Threshold)
		assert.Equal(t, SeverityCritical, fired[0].Severity)
		assert.Equal(t, fixed, fired[0].Timestamp)
		assert.Equal(t, "latency", fired[1].Name)
	})

	t.Run("Should evaluate unknown metrics as zero", func(t *testing.T) {
		m := NewAlertManager([]AlertThreshold{
			{Name: "no traffic", Metric: "requests_total", Operator: OpEqual, Threshold: 0, Severity: SeverityInfo},
			{Name: "never", Metric: "requests_total", Operator: OpGreaterThan, Threshold: 0, Severity: SeverityInfo},
		}, nil)

		fired := m.CheckAlerts(context.Background(), staticSource{})
		require.Len(t, fired, 1)
		assert.Equal(t, "no traffic", fired[0].Name)
		assert.Equal(t, 0.0, fired[0].Value)
	})

	t.Run("Should fire again while a condition persists", func(t *testing.T) {
		m := NewAlertManager([]AlertThreshold{
			{Name: "x", Metric: "m", Operator: OpGreaterThan, Threshold: 1, Severity: SeverityWarning},
		}, nil)
		src := staticSource{"m": 5}
		assert.Len(t, m.CheckAlerts(context.Background(), src), 1)
		assert.Len(t, m.CheckAlerts(context.Background(), src), 1)
	})

	t.Run("Should return an empty non-nil list when nothing fires", func(t *testing.T) {
		fired := NewAlertManager([]AlertThreshold{}, nil).CheckAlerts(context.Background(), staticSource{})
		assert.NotNil(t, fired)
		assert.Empty(t, fired)
	})

	t.Run("Should use the built-in rules for nil thresholds", func(t *testing.T) {
		m := NewAlertManager(nil, nil)
		assert.Equal(t, DefaultAlertThresholds(), m.Thresholds())
		assert.Len(t, m.Thresholds(), 4)

		fired := m.CheckAlerts(context.Background(), staticSource{"http_errors_total": 150})
		require.Len(t, fired, 1)
		assert.Equal(t, "High Error Rate", fired[0].Name)
		assert.Equal(t, "Error rate exceeded: 150 errors (threshold: 100)", fired[0].Message)
	})

	t.Run("Should add and replace rules", func(t *testing.T) {
		m := NewAlertManager([]AlertThreshold{}, nil)
		m.AddThreshold(AlertThreshold{Name: "a"})
		m.AddThreshold(AlertThreshold{Name: "b"})
		assert.Len(t, m.Thresholds(), 2)

		m.SetThresholds([]AlertThreshold{{Name: "c"}})
		got := m.Thresholds()
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].Name)

		got[0].Name = "mutated"
		assert.Equal(t, "c", m.Thresholds()[0].Name)
	})

	t.Run("Should log at the level matching severity", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		m := NewAlertManager([]AlertThreshold{
			{Name: "crit", Metric: "m", Operator: OpGreaterThan, Threshold: 0, Severity: SeverityCritical},
			{Name: "warn", Metric: "m", Operator: OpGreaterThan, Threshold: 0, Severity: SeverityWarning},
			{Name: "info", Metric: "m", Operator: OpGreaterThan, Threshold: 0, Severity: SeverityInfo},
		}, zap.New(core))

		ctx := WithCorrelationID(context.Background(), "tick-1")
		m.CheckAlerts(ctx, staticSource{"m": 1})

		entries := logs.All()
		require.Len(t, entries, 3)
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, zapcore.InfoLevel, entries[2].Level)
		assert.Equal(t, "crit", entries[0].ContextMap()["alert_name"])
		assert.Equal(t, "tick-1", entries[0].ContextMap()[CorrelationIDKey])
	})

	t.Run("Should evaluate a collector snapshot", func(t *testing.T) {
		c := NewCollector()
		for i := 0; i < 150; i++ {
			c.Inc("http_errors_total", Labels{"status": "500"})
		}
		c.ObserveHistogram("http_request_duration_seconds", 3, nil)

		fired := NewAlertManager(nil, nil).CheckAlerts(context.Background(), c.Snapshot())
		names := make([]string, 0, len(fired))
		for _, a := range fired {
			names = append(names, a.Name)
		}
		assert.Equal(t, []string{"High Error Rate", "High Latency"}, names)
	})
}
