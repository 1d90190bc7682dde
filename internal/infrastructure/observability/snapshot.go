package observability

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// HistogramStats summarises a set of histogram samples.
type HistogramStats struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// MarshalJSON renders empty stats as {"count":0}.
func (s HistogramStats) MarshalJSON() ([]byte, error) {
	if s.Count == 0 {
		return []byte(`{"count":0}`), nil
	}
	type plain HistogramStats
	return json.Marshal(plain(s))
}

// Percentile returns sorted[min(floor(q*n), n-1)] for q in [0,1]. The
// samples must already be sorted and non-empty.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	idx := int(q * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func computeStats(samples []float64) HistogramStats {
	n := len(samples)
	if n == 0 {
		return HistogramStats{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return HistogramStats{
		Count: n,
		Sum:   sum,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   percentile(sorted, 0.5),
		P90:   percentile(sorted, 0.9),
		P99:   percentile(sorted, 0.99),
	}
}

// SeriesValue is a counter or gauge series in a snapshot.
type SeriesValue struct {
	Name   string
	Labels []LabelPair
	Value  float64
}

// HistogramValue is a histogram series in a snapshot. Stats covers the
// retained samples; Observed and ObservedSum count every observation since
// the series was created, so they keep growing when retention trims.
type HistogramValue struct {
	Name        string
	Labels      []LabelPair
	Stats       HistogramStats
	Observed    int
	ObservedSum float64
	samples     []float64
}

// Samples returns the retained samples in observation order.
func (h HistogramValue) Samples() []float64 {
	return append([]float64(nil), h.samples...)
}

// Snapshot is a point-in-time copy of a Collector.
type Snapshot struct {
	Timestamp  time.Time
	Counters   []SeriesValue
	Gauges     []SeriesValue
	Histograms []HistogramValue
}

// histogramSuffixes maps derived metric suffixes to the stat they select.
var histogramSuffixes = []struct {
	suffix string
	pick   func(HistogramStats) float64
}{
	{"_p50", func(s HistogramStats) float64 { return s.P50 }},
	{"_p90", func(s HistogramStats) float64 { return s.P90 }},
	{"_p99", func(s HistogramStats) float64 { return s.P99 }},
	{"_avg", func(s HistogramStats) float64 { return s.Avg }},
	{"_min", func(s HistogramStats) float64 { return s.Min }},
	{"_max", func(s HistogramStats) float64 { return s.Max }},
	{"_count", func(s HistogramStats) float64 { return float64(s.Count) }},
	{"_sum", func(s HistogramStats) float64 { return s.Sum }},
}

// MetricValue resolves a metric reference to a single number, aggregated
// across every label set. Counters match by name with or without the
// `_total` suffix, then gauges by name, then histogram stats addressed as
// `<histogram>_p99`, `<histogram>_avg` and so on.
func (s *Snapshot) MetricValue(name string) (float64, bool) {
	if v, ok := sumCounters(s.Counters, name); ok {
		return v, true
	}
	if v, ok := sumSeries(s.Gauges, name); ok {
		return v, true
	}
	for _, hs := range histogramSuffixes {
		base, ok := strings.CutSuffix(name, hs.suffix)
		if !ok {
			continue
		}
		var merged []float64
		found := false
		for _, h := range s.Histograms {
			if h.Name == base {
				found = true
				merged = append(merged, h.samples...)
			}
		}
		if !found {
			continue
		}
		stats := computeStats(merged)
		if stats.Count == 0 {
			return 0, false
		}
		return hs.pick(stats), true
	}
	return 0, false
}

func sumSeries(series []SeriesValue, name string) (float64, bool) {
	var total float64
	found := false
	for _, sv := range series {
		if sv.Name == name {
			total += sv.Value
			found = true
		}
	}
	return total, found
}

func sumCounters(series []SeriesValue, name string) (float64, bool) {
	want := counterName(name)
	var total float64
	found := false
	for _, sv := range series {
		if counterName(sv.Name) == want {
			total += sv.Value
			found = true
		}
	}
	return total, found
}

// MarshalJSON renders the snapshot grouped by family, name and label key:
//
//	{"timestamp": ..., "counters": {"http_requests_total": {"method=GET": 3}}, ...}
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	group := func(series []SeriesValue) map[string]map[string]float64 {
		out := make(map[string]map[string]float64)
		for _, sv := range series {
			if out[sv.Name] == nil {
				out[sv.Name] = make(map[string]float64)
			}
			out[sv.Name][labelString(sv.Labels)] = sv.Value
		}
		return out
	}
	histograms := make(map[string]map[string]HistogramStats)
	for _, h := range s.Histograms {
		if histograms[h.Name] == nil {
			histograms[h.Name] = make(map[string]HistogramStats)
		}
		histograms[h.Name][labelString(h.Labels)] = h.Stats
	}
	return json.Marshal(struct {
		Timestamp  string                               `json:"timestamp"`
		Counters   map[string]map[string]float64        `json:"counters"`
		Gauges     map[string]map[string]float64        `json:"gauges"`
		Histograms map[string]map[string]HistogramStats `json:"histograms"`
	}{
		Timestamp:  s.Timestamp.Format(time.RFC3339Nano),
		Counters:   group(s.Counters),
		Gauges:     group(s.Gauges),
		Histograms: histograms,
	})
}

func labelString(pairs []LabelPair) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.Name + "=" + p.Value
	}
	return strings.Join(parts, ",")
}
