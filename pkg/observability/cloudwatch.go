// Package observability ships metric points to Amazon CloudWatch.
package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	appErrors "analytics-hub-backend/pkg/errors"
)

const (
	maxDatumsPerRequest = 500
	maxDimensions       = 30
)

// PointKind tells the exporter how to translate a point.
type PointKind int

const (
	// PointCounter is cumulative; the exporter sends the increase since the
	// previous export.
	PointCounter PointKind = iota
	// PointGauge is sent as is.
	PointGauge
	// PointDistribution carries cumulative Count and Sum. The exporter sends
	// the observations added since the previous export.
	PointDistribution
)

// Point is one metric series at export time.
type Point struct {
	Kind       PointKind
	Name       string
	Dimensions map[string]string
	Value      float64

	// Distribution statistics, used when Kind is PointDistribution. Count
	// and Sum are totals since the series was created. Samples holds the
	// most recent observations in order; when present, Min and Max of the
	// new observations are taken from its tail.
	Count   int
	Sum     float64
	Min     float64
	Max     float64
	Samples []float64
}

// PutMetricDataAPI is the subset of the CloudWatch client used here.
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchExporter publishes points under a namespace.
type CloudWatchExporter struct {
	namespace string
	client    PutMetricDataAPI
	logger    *zap.Logger
	now       func() time.Time
	retry     RetryConfig

	mu            sync.Mutex
	counters      map[string]float64
	distributions map[string]distributionBase
}

type distributionBase struct {
	count int
	sum   float64
}

// baseline is the state a datum was computed from. It is committed only
// after the batch carrying the datum is accepted.
type baseline struct {
	key   string
	kind  PointKind
	value float64
	dist  distributionBase
}

// NewCloudWatchClient builds a client from the default AWS credential chain.
func NewCloudWatchClient(ctx context.Context, region string) (*cloudwatch.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cloudwatch.NewFromConfig(cfg), nil
}

// NewCloudWatchExporter creates an exporter. A nil client makes Export a
// no-op.
func NewCloudWatchExporter(namespace string, client PutMetricDataAPI, logger *zap.Logger) *CloudWatchExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatchExporter{
		namespace: namespace,
		client:    client,
		logger:    logger,
		now:       time.Now,
		retry:     DefaultRetryConfig(),
		counters:      make(map[string]float64),
		distributions: make(map[string]distributionBase),
	}
}

// WithRetry replaces the retry policy for failed batches.
func (e *CloudWatchExporter) WithRetry(cfg RetryConfig) *CloudWatchExporter {
	e.retry = cfg
	return e
}

// Export sends points in batches. Counters and distributions that did not
// grow since the last accepted export are skipped. Every batch is
// attempted; the first error is returned. A failed batch leaves its
// baselines untouched so the next export resends the increase.
func (e *CloudWatchExporter) Export(ctx context.Context, points []Point) error {
	if e.client == nil || len(points) == 0 {
		return nil
	}
	data, bases := e.datums(points)

	var firstErr error
	for start := 0; start < len(data); start += maxDatumsPerRequest {
		end := start + maxDatumsPerRequest
		if end > len(data) {
			end = len(data)
		}
		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(e.namespace),
			MetricData: data[start:end],
		}
		err := withRetry(ctx, e.retry, e.logger, "PutMetricData", func() error {
			_, err := e.client.PutMetricData(ctx, input)
			return err
		})
		if err != nil {
			e.logger.Warn("Failed to send metrics to CloudWatch",
				zap.String("namespace", e.namespace),
				zap.Int("datums", end-start),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = appErrors.Wrap(err, "put metric data")
			}
			continue
		}
		e.commit(bases[start:end])
	}
	return firstErr
}

func (e *CloudWatchExporter) commit(bases []baseline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range bases {
		switch b.kind {
		case PointCounter:
			e.counters[b.key] = b.value
		case PointDistribution:
			e.distributions[b.key] = b.dist
		}
	}
}

func (e *CloudWatchExporter) datums(points []Point) ([]types.MetricDatum, []baseline) {
	ts := aws.Time(e.now())
	data := make([]types.MetricDatum, 0, len(points))
	bases := make([]baseline, 0, len(points))

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range points {
		datum := types.MetricDatum{
			MetricName: aws.String(p.Name),
			Dimensions: dimensions(p.Dimensions),
			Timestamp:  ts,
		}
		b := baseline{key: seriesKey(p.Name, p.Dimensions), kind: p.Kind}
		switch p.Kind {
		case PointCounter:
			delta := p.Value - e.counters[b.key]
			if delta < 0 {
				// the collector was reset
				delta = p.Value
			}
			if delta == 0 {
				continue
			}
			b.value = p.Value
			datum.Value = aws.Float64(delta)
			datum.Unit = types.StandardUnitCount
		case PointGauge:
			datum.Value = aws.Float64(p.Value)
			datum.Unit = unitFor(p.Name)
		case PointDistribution:
			prev := e.distributions[b.key]
			count, sum := p.Count-prev.count, p.Sum-prev.sum
			if count < 0 {
				count, sum = p.Count, p.Sum
			}
			if count <= 0 {
				continue
			}
			lo, hi := newExtremes(p, count)
			b.dist = distributionBase{count: p.Count, sum: p.Sum}
			datum.StatisticValues = &types.StatisticSet{
				SampleCount: aws.Float64(float64(count)),
				Sum:         aws.Float64(sum),
				Minimum:     aws.Float64(lo),
				Maximum:     aws.Float64(hi),
			}
			datum.Unit = unitFor(p.Name)
		}
		data = append(data, datum)
		bases = append(bases, b)
	}
	return data, bases
}

// newExtremes returns min and max over the last n observations, falling
// back to the point's own bounds when the samples do not reach back that far.
func newExtremes(p Point, n int) (float64, float64) {
	if len(p.Samples) == 0 || n > len(p.Samples) {
		return p.Min, p.Max
	}
	tail := p.Samples[len(p.Samples)-n:]
	lo, hi := tail[0], tail[0]
	for _, v := range tail[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

func dimensions(labels map[string]string) []types.Dimension {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	if len(names) > maxDimensions {
		names = names[:maxDimensions]
	}
	dims := make([]types.Dimension, 0, len(names))
	for _, k := range names {
		dims = append(dims, types.Dimension{Name: aws.String(k), Value: aws.String(labels[k])})
	}
	return dims
}

func unitFor(name string) types.StandardUnit {
	switch {
	case strings.HasSuffix(name, "_seconds"):
		return types.StandardUnitSeconds
	case strings.HasSuffix(name, "_bytes"):
		return types.StandardUnitBytes
	}
	return types.StandardUnitNone
}

func seriesKey(name string, labels map[string]string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, d := range dimensions(labels) {
		b.WriteByte('|')
		b.WriteString(*d.Name)
		b.WriteByte('=')
		b.WriteString(*d.Value)
	}
	return b.String()
}
