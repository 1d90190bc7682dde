package observability

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Kind identifies a metric family type.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
)

type seriesKey struct {
	name   string
	labels string
}

type scalarSeries struct {
	name   string
	labels []LabelPair
	value  float64
}

type histogramSeries struct {
	name    string
	labels  []LabelPair
	samples []float64

	// totals over every observation, including trimmed samples
	observed    int
	observedSum float64
}

// Collector is an in-memory store of counters, gauges and histograms keyed
// by metric name and canonical label set. It is safe for concurrent use.
// Construct one per process and pass it to the components that record.
type Collector struct {
	mu         sync.RWMutex
	counters   map[seriesKey]*scalarSeries
	gauges     map[seriesKey]*scalarSeries
	histograms map[seriesKey]*histogramSeries

	retention int
	logger    *zap.Logger
	rejects   *rate.Sometimes
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithHistogramRetention keeps at most n most recent samples per histogram
// series. Zero or a negative n means unbounded.
func WithHistogramRetention(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.retention = n
		}
	}
}

// WithCollectorLogger sets the logger used to report rejected samples.
func WithCollectorLogger(logger *zap.Logger) CollectorOption {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCollector creates an empty collector.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		counters:   make(map[seriesKey]*scalarSeries),
		gauges:     make(map[seriesKey]*scalarSeries),
		histograms: make(map[seriesKey]*histogramSeries),
		logger:     zap.NewNop(),
		rejects:    &rate.Sometimes{First: 5, Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	defaultCollector     *Collector
	defaultCollectorOnce sync.Once
)

// Default returns a process-wide collector for code paths that cannot have
// one injected. Prefer passing a *Collector explicitly.
func Default() *Collector {
	defaultCollectorOnce.Do(func() {
		defaultCollector = NewCollector()
	})
	return defaultCollector
}

// IncrementCounter adds value to the counter identified by name and labels.
// Negative and non-finite values are dropped. `x` and `x_total` name the
// same counter; the series keeps the name it was first recorded under.
func (c *Collector) IncrementCounter(name string, value float64, labels Labels) {
	if !c.accept(KindCounter, name, value, labels) {
		return
	}
	if value < 0 {
		c.reject(KindCounter, name, "negative increment")
		return
	}
	key, pairs := makeKey(counterName(name), labels)

	c.mu.Lock()
	s, ok := c.counters[key]
	if !ok {
		s = &scalarSeries{name: name, labels: pairs}
		c.counters[key] = s
	}
	s.value += value
	c.mu.Unlock()
}

// Inc increments a counter by one.
func (c *Collector) Inc(name string, labels Labels) {
	c.IncrementCounter(name, 1, labels)
}

// SetGauge records value as the current gauge value.
func (c *Collector) SetGauge(name string, value float64, labels Labels) {
	if !c.accept(KindGauge, name, value, labels) {
		return
	}
	key, pairs := makeKey(name, labels)

	c.mu.Lock()
	s, ok := c.gauges[key]
	if !ok {
		s = &scalarSeries{name: name, labels: pairs}
		c.gauges[key] = s
	}
	s.value = value
	c.mu.Unlock()
}

// AddGauge adjusts a gauge by delta, creating it at zero if absent.
func (c *Collector) AddGauge(name string, delta float64, labels Labels) {
	if !c.accept(KindGauge, name, delta, labels) {
		return
	}
	key, pairs := makeKey(name, labels)

	c.mu.Lock()
	s, ok := c.gauges[key]
	if !ok {
		s = &scalarSeries{name: name, labels: pairs}
		c.gauges[key] = s
	}
	s.value += delta
	c.mu.Unlock()
}

// ObserveHistogram appends value to the histogram's retained samples.
func (c *Collector) ObserveHistogram(name string, value float64, labels Labels) {
	if !c.accept(KindHistogram, name, value, labels) {
		return
	}
	key, pairs := makeKey(name, labels)

	c.mu.Lock()
	h, ok := c.histograms[key]
	if !ok {
		h = &histogramSeries{name: name, labels: pairs}
		c.histograms[key] = h
	}
	h.samples = append(h.samples, value)
	h.observed++
	h.observedSum += value
	if c.retention > 0 && len(h.samples) > c.retention {
		h.samples = h.samples[len(h.samples)-c.retention:]
	}
	c.mu.Unlock()
}

// Time starts a timer and returns a function that observes the elapsed
// seconds into the `<name>_duration_seconds` histogram.
//
//	defer collector.Time("compute_index", nil)()
func (c *Collector) Time(name string, labels Labels) func() {
	start := time.Now()
	return func() {
		c.ObserveHistogram(name+"_duration_seconds", time.Since(start).Seconds(), labels)
	}
}

// Counter returns the counter value, or 0 when the series is unknown.
func (c *Collector) Counter(name string, labels Labels) float64 {
	key, _ := makeKey(counterName(name), labels)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.counters[key]; ok {
		return s.value
	}
	return 0
}

// Gauge returns the gauge value and whether the series exists.
func (c *Collector) Gauge(name string, labels Labels) (float64, bool) {
	key, _ := makeKey(name, labels)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.gauges[key]; ok {
		return s.value, true
	}
	return 0, false
}

// HistogramStats summarises the retained samples of one histogram series.
// An unknown or empty series yields stats with Count == 0.
func (c *Collector) HistogramStats(name string, labels Labels) HistogramStats {
	key, _ := makeKey(name, labels)

	c.mu.RLock()
	h, ok := c.histograms[key]
	var samples []float64
	if ok {
		samples = append([]float64(nil), h.samples...)
	}
	c.mu.RUnlock()

	return computeStats(samples)
}

// Reset discards every series.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.counters = make(map[seriesKey]*scalarSeries)
	c.gauges = make(map[seriesKey]*scalarSeries)
	c.histograms = make(map[seriesKey]*histogramSeries)
	c.mu.Unlock()
}

// Snapshot returns a deep copy of every series, taken under a single read
// lock and ordered by name then labels.
func (c *Collector) Snapshot() *Snapshot {
	snap := &Snapshot{Timestamp: time.Now().UTC()}

	c.mu.RLock()
	for _, s := range c.counters {
		snap.Counters = append(snap.Counters, SeriesValue{Name: s.name, Labels: s.labels, Value: s.value})
	}
	for _, s := range c.gauges {
		snap.Gauges = append(snap.Gauges, SeriesValue{Name: s.name, Labels: s.labels, Value: s.value})
	}
	for _, h := range c.histograms {
		snap.Histograms = append(snap.Histograms, HistogramValue{
			Name:        h.name,
			Labels:      h.labels,
			Observed:    h.observed,
			ObservedSum: h.observedSum,
			samples:     append([]float64(nil), h.samples...),
		})
	}
	c.mu.RUnlock()

	sortSeries(snap.Counters)
	sortSeries(snap.Gauges)
	sort.Slice(snap.Histograms, func(i, j int) bool {
		a, b := snap.Histograms[i], snap.Histograms[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return pairsKey(a.Labels) < pairsKey(b.Labels)
	})
	for i := range snap.Histograms {
		snap.Histograms[i].Stats = computeStats(snap.Histograms[i].samples)
	}
	return snap
}

func (c *Collector) accept(kind Kind, name string, value float64, labels Labels) bool {
	switch {
	case !validMetricName(name):
		c.reject(kind, name, "invalid metric name")
		return false
	case !validLabels(labels):
		c.reject(kind, name, "invalid label set")
		return false
	case math.IsNaN(value) || math.IsInf(value, 0):
		c.reject(kind, name, "non-finite value")
		return false
	}
	return true
}

func (c *Collector) reject(kind Kind, name, reason string) {
	c.rejects.Do(func() {
		c.logger.Warn("Metric sample dropped",
			zap.String("kind", string(kind)),
			zap.String("metric", name),
			zap.String("reason", reason),
		)
	})
}

func makeKey(name string, labels Labels) (seriesKey, []LabelPair) {
	pairs := labels.Pairs()
	return seriesKey{name: name, labels: pairsKey(pairs)}, pairs
}

func sortSeries(s []SeriesValue) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Name != s[j].Name {
			return s[i].Name < s[j].Name
		}
		return pairsKey(s[i].Labels) < pairsKey(s[j].Labels)
	})
}

// MetricValue resolves name against a fresh snapshot. When evaluating many
// references, take one Snapshot and query it instead.
func (c *Collector) MetricValue(name string) (float64, bool) {
	return c.Snapshot().MetricValue(name)
}
