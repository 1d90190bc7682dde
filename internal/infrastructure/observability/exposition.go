package observability

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var exportQuantiles = []struct {
	label string
	q     float64
	pick  func(HistogramStats) float64
}{
	{"0.5", 0.5, func(s HistogramStats) float64 { return s.P50 }},
	{"0.9", 0.9, func(s HistogramStats) float64 { return s.P90 }},
	{"0.99", 0.99, func(s HistogramStats) float64 { return s.P99 }},
}

// ExportPrometheus renders every series as Prometheus text exposition lines,
// `name{k="v"} value`, without HELP or TYPE comments. Counters gain a
// `_total` suffix, histograms are rendered as summaries (`_count`, `_sum`
// and quantile lines). The output is deterministic for a given state.
func (c *Collector) ExportPrometheus() string {
	return c.Snapshot().Prometheus()
}

// Prometheus renders the snapshot in text exposition form.
func (s *Snapshot) Prometheus() string {
	var b strings.Builder
	line := func(name string, labels []LabelPair, value float64) {
		b.WriteString(name)
		writeLabels(&b, labels)
		b.WriteByte(' ')
		b.WriteString(formatValue(value))
		b.WriteByte('\n')
	}

	for _, sv := range s.Counters {
		line(counterName(sv.Name), sv.Labels, sv.Value)
	}
	for _, sv := range s.Gauges {
		line(sv.Name, sv.Labels, sv.Value)
	}
	for _, h := range s.Histograms {
		if h.Stats.Count == 0 {
			continue
		}
		line(h.Name+"_count", h.Labels, float64(h.Stats.Count))
		line(h.Name+"_sum", h.Labels, h.Stats.Sum)
		for _, q := range exportQuantiles {
			labels := append(append([]LabelPair(nil), h.Labels...), LabelPair{Name: "quantile", Value: q.label})
			line(h.Name, labels, q.pick(h.Stats))
		}
	}
	return b.String()
}

func counterName(name string) string {
	if strings.HasSuffix(name, "_total") {
		return name
	}
	return name + "_total"
}

func writeLabels(b *strings.Builder, labels []LabelPair) {
	if len(labels) == 0 {
		return
	}
	b.WriteByte('{')
	for i, p := range labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Name)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(p.Value))
		b.WriteByte('"')
	}
	b.WriteByte('}')
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabelValue(v string) string {
	return labelEscaper.Replace(v)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Describe sends nothing, which makes the Collector an unchecked
// prometheus.Collector: its series are only known at scrape time.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.Snapshot()

	emit := func(name string, vt prometheus.ValueType, sv SeriesValue) {
		names, values := splitLabels(sv.Labels)
		desc := prometheus.NewDesc(name, name, names, nil)
		if m, err := prometheus.NewConstMetric(desc, vt, sv.Value, values...); err == nil {
			ch <- m
		}
	}
	for _, sv := range snap.Counters {
		emit(counterName(sv.Name), prometheus.CounterValue, sv)
	}
	for _, sv := range snap.Gauges {
		emit(sv.Name, prometheus.GaugeValue, sv)
	}
	for _, h := range snap.Histograms {
		if h.Stats.Count == 0 {
			continue
		}
		names, values := splitLabels(h.Labels)
		quantiles := make(map[float64]float64, len(exportQuantiles))
		for _, q := range exportQuantiles {
			quantiles[q.q] = q.pick(h.Stats)
		}
		desc := prometheus.NewDesc(h.Name, h.Name, names, nil)
		if m, err := prometheus.NewConstSummary(desc, uint64(h.Stats.Count), h.Stats.Sum, quantiles, values...); err == nil {
			ch <- m
		}
	}
}

func splitLabels(pairs []LabelPair) ([]string, []string) {
	names := make([]string, len(pairs))
	values := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = p.Name
		values[i] = p.Value
	}
	return names, values
}

// NewRegistry returns a registry exposing the collector alongside the Go
// runtime and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format. A
// malformed series is skipped rather than failing the whole scrape.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      reg,
	})
}
