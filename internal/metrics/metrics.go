// Package metrics publishes job counters. CloudWatchPublisher is used in
// production; NopPublisher when metrics are disabled.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/common"
)

// DefaultNamespace is the CloudWatch namespace for all auditor metrics.
const DefaultNamespace = "CSPM/Auditor"

// maxDataPerRequest is the PutMetricData batch limit.
const maxDataPerRequest = 1000

// Metric names.
const (
	ReconcileStaleKeys  = "ReconcileStaleKeys"
	ReconcileRemoved    = "ReconcileFindingsRemoved"
	ReconcileFailedKeys = "ReconcileFailedKeys"
	DedupRemoved        = "DedupFindingsRemoved"
	DedupFailedKeys     = "DedupFailedKeys"
	EventBatchSucceeded = "EventBatchSucceeded"
	EventBatchFailed    = "EventBatchFailed"
	CleanupTasksDone    = "CleanupTasksCompleted"
	CleanupTasksRetried = "CleanupTasksRescheduled"
)

// Datum is one counter observation.
type Datum struct {
	Name       string
	Value      float64
	Dimensions map[string]string
}

// Count is a shorthand for a counter datum.
func Count(name string, v int, dims map[string]string) Datum {
	return Datum{Name: name, Value: float64(v), Dimensions: dims}
}

// Publisher sends job metrics somewhere. Publishing is best-effort: callers
// log a returned error and carry on.
type Publisher interface {
	Publish(ctx context.Context, data ...Datum) error
}

// NopPublisher discards everything.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, ...Datum) error { return nil }

// CloudWatchPublisher writes counters with PutMetricData.
type CloudWatchPublisher struct {
	client    common.CloudWatchClient
	namespace string
	now       func() time.Time
	logger    *slog.Logger
}

// NewCloudWatchPublisher returns a publisher writing into namespace
// (DefaultNamespace when empty).
func NewCloudWatchPublisher(client common.CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchPublisher {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchPublisher{client: client, namespace: namespace, now: time.Now, logger: logger}
}

// Publish implements Publisher. Data are sent in batches of at most 1000.
func (p *CloudWatchPublisher) Publish(ctx context.Context, data ...Datum) error {
	if len(data) == 0 {
		return nil
	}
	ts := p.now().UTC()
	input := make([]cwtypes.MetricDatum, 0, len(data))
	for _, d := range data {
		input = append(input, cwtypes.MetricDatum{
			MetricName: aws.String(d.Name),
			Value:      aws.Float64(d.Value),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(ts),
			Dimensions: dimensions(d.Dimensions),
		})
	}

	for start := 0; start < len(input); start += maxDataPerRequest {
		end := min(start+maxDataPerRequest, len(input))
		_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: input[start:end],
		})
		if err != nil {
			return fmt.Errorf("put metric data to %s: %w", p.namespace, err)
		}
	}
	p.logger.Debug("metrics published", "namespace", p.namespace, "count", len(input))
	return nil
}

// dimensions converts dims into CloudWatch dimensions sorted by name.
func dimensions(dims map[string]string) []cwtypes.Dimension {
	if len(dims) == 0 {
		return nil
	}
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]cwtypes.Dimension, 0, len(names))
	for _, k := range names {
		out = append(out, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(dims[k])})
	}
	return out
}
