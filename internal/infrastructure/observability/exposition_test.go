package observability

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportPrometheus(t *testing.T) {
	t.Run("Should render families in order with sorted labels", func(t *testing.T) {
		c := NewCollector()
		c.IncrementCounter("requests", 3, Labels{"path": "/a", "method": "GET"})
		c.IncrementCounter("errors_total", 1, nil)
		c.SetGauge("queue_depth", 7.5, nil)
		for _, v := range []float64{0.25, 0.5, 1, 2} {
			c.ObserveHistogram("latency", v, Labels{"op": "load"})
		}

		want := strings.Join([]string{
			`errors_total 1`,
			`requests_total{method="GET",path="/a"} 3`,
			`queue_depth 7.5`,
			`latency_count{op="load"} 4`,
			`latency_sum{op="load"} 3.75`,
			`latency{op="load",quantile="0.5"} 1`,
			`latency{op="load",quantile="0.9"} 2`,
			`latency{op="load",quantile="0.99"} 2`,
		}, "\n") + "\n"
		assert.Equal(t, want, c.ExportPrometheus())
	})

	t.Run("Should escape label values", func(t *testing.T) {
		c := NewCollector()
		c.Inc("x", Labels{"v": "a\"b\\c\nd"})
		assert.Equal(t, `x_total{v="a\"b\\c\nd"} 1`+"\n", c.ExportPrometheus())
	})

	t.Run("Should render an empty collector as empty text", func(t *testing.T) {
		assert.Equal(t, "", NewCollector().ExportPrometheus())
	})

	t.Run("Should be deterministic", func(t *testing.T) {
		c := NewCollector()
		for _, m := range []string{"b", "a", "c"} {
			c.Inc("hits", Labels{"m": m})
		}
		first := c.ExportPrometheus()
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, c.ExportPrometheus())
		}
		assert.True(t, strings.HasPrefix(first, `hits_total{m="a"} 1`))
	})
}

func TestPrometheusRegistry(t *testing.T) {
	t.Run("Should serve collector series next to runtime collectors", func(t *testing.T) {
		c := NewCollector()
		c.IncrementCounter("indicator_updates", 2, Labels{"source": "csv"})
		c.SetGauge("open_jobs", 4, nil)
		c.ObserveHistogram("compute_seconds", 0.25, nil)

		srv := httptest.NewServer(Handler(NewRegistry(c)))
		defer srv.Close()

		resp, err := srv.Client().Get(srv.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		text := string(body)
		assert.Contains(t, text, `indicator_updates_total{source="csv"} 2`)
		assert.Contains(t, text, "open_jobs 4")
		assert.Contains(t, text, `compute_seconds{quantile="0.5"} 0.25`)
		assert.Contains(t, text, "compute_seconds_count 1")
		assert.Contains(t, text, "go_goroutines")
	})
}

func TestSnapshotMetricValue(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter("http_errors", 2, Labels{"status": "500"})
	c.IncrementCounter("http_errors", 3, Labels{"status": "502"})
	c.SetGauge("memory_usage_percent", 40, Labels{"host": "a"})
	c.SetGauge("memory_usage_percent", 45, Labels{"host": "b"})
	for _, v := range []float64{1, 2, 3, 4} {
		c.ObserveHistogram("latency", v, Labels{"op": "a"})
	}
	c.ObserveHistogram("latency", 10, Labels{"op": "b"})
	snap := c.Snapshot()

	tests := []struct {
		ref   string
		want  float64
		found bool
	}{
		{"http_errors", 5, true},
		{"http_errors_total", 5, true},
		{"memory_usage_percent", 85, true},
		{"latency_count", 5, true},
		{"latency_sum", 20, true},
		{"latency_max", 10, true},
		{"latency_min", 1, true},
		{"latency_avg", 4, true},
		{"latency_p50", 3, true},
		{"latency_p99", 10, true},
		{"unknown", 0, false},
		{"unknown_p99", 0, false},
	}
	for _, tt := range tests {
		t.Run("Should resolve "+tt.ref, func(t *testing.T) {
			got, ok := snap.MetricValue(tt.ref)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("Should resolve through the collector", func(t *testing.T) {
		got, ok := c.MetricValue("http_errors_total")
		assert.True(t, ok)
		assert.Equal(t, 5.0, got)
	})
}

func TestSnapshotJSON(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter("requests", 3, Labels{"method": "GET"})
	c.SetGauge("depth", 1, nil)
	c.ObserveHistogram("lat", 0.5, nil)

	data, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)

	var got struct {
		Timestamp  string                                `json:"timestamp"`
		Counters   map[string]map[string]float64         `json:"counters"`
		Gauges     map[string]map[string]float64         `json:"gauges"`
		Histograms map[string]map[string]json.RawMessage `json:"histograms"`
	}
	require.NoError(t, json.Unmarshal(data, &got))

	assert.NotEmpty(t, got.Timestamp)
	assert.Equal(t, 3.0, got.Counters["requests"]["method=GET"])
	assert.Equal(t, 1.0, got.Gauges["depth"][""])
	assert.JSONEq(t, `{"count":1,"sum":0.5,"min":0.5,"max":0.5,"avg":0.5,"p50":0.5,"p90":0.5,"p99":0.5}`,
		string(got.Histograms["lat"][""]))
}

func TestExportAfterRepeatedIncrements(t *testing.T) {
	c := NewCollector()
	c.Inc("http_requests", Labels{"method": "GET"})
	c.Inc("http_requests", Labels{"method": "GET"})

	assert.Contains(t, c.ExportPrometheus(), "http_requests_total{method=\"GET\"} 2\n")
}

func TestCounterSuffixAliases(t *testing.T) {
	t.Run("Should treat x and x_total as one counter", func(t *testing.T) {
		c := NewCollector()
		c.Inc("http_requests", Labels{"method": "GET"})
		c.Inc("http_requests_total", Labels{"method": "GET"})

		assert.Equal(t, "http_requests_total{method=\"GET\"} 2\n", c.ExportPrometheus())
		assert.Equal(t, 2.0, c.Counter("http_requests", Labels{"method": "GET"}))
		assert.Equal(t, 2.0, c.Counter("http_requests_total", Labels{"method": "GET"}))
		require.Len(t, c.Snapshot().Counters, 1)
	})

	t.Run("Should resolve mixed spellings across label sets", func(t *testing.T) {
		c := NewCollector()
		c.Inc("jobs", Labels{"queue": "a"})
		c.IncrementCounter("jobs_total", 2, Labels{"queue": "b"})

		for _, ref := range []string{"jobs", "jobs_total"} {
			got, ok := c.MetricValue(ref)
			assert.True(t, ok, ref)
			assert.Equal(t, 3.0, got, ref)
		}
	})
}
