package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

type fakeCloudWatch struct {
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.calls = append(f.calls, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatchPublisher_Publish(t *testing.T) {
	cw := &fakeCloudWatch{}
	p := NewCloudWatchPublisher(cw, "", nil)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	err := p.Publish(context.Background(),
		Count(ReconcileRemoved, 3, map[string]string{"Kind": "bucket", "Job": "reconcile"}),
		Count(ReconcileStaleKeys, 1, nil),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cw.calls) != 1 {
		t.Fatalf("calls = %d; want 1", len(cw.calls))
	}
	in := cw.calls[0]
	if aws.ToString(in.Namespace) != DefaultNamespace {
		t.Errorf("namespace = %q; want %q", aws.ToString(in.Namespace), DefaultNamespace)
	}
	first := in.MetricData[0]
	if aws.ToString(first.MetricName) != ReconcileRemoved || aws.ToFloat64(first.Value) != 3 {
		t.Errorf("datum = %+v", first)
	}
	if len(first.Dimensions) != 2 || aws.ToString(first.Dimensions[0].Name) != "Job" {
		t.Errorf("dimensions = %+v; want sorted Job, Kind", first.Dimensions)
	}
	if !aws.ToTime(first.Timestamp).Equal(fixed) {
		t.Errorf("timestamp = %v", aws.ToTime(first.Timestamp))
	}
	if in.MetricData[1].Dimensions != nil {
		t.Error("datum without dimensions must send none")
	}
}

func TestCloudWatchPublisher_Batches(t *testing.T) {
	cw := &fakeCloudWatch{}
	p := NewCloudWatchPublisher(cw, "Test", nil)

	data := make([]Datum, 2500)
	for i := range data {
		data[i] = Count(EventBatchSucceeded, 1, nil)
	}
	if err := p.Publish(context.Background(), data...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cw.calls) != 3 || len(cw.calls[2].MetricData) != 500 {
		t.Errorf("calls = %d; want 3 with a 500-item tail", len(cw.calls))
	}
}

func TestCloudWatchPublisher_EmptyAndError(t *testing.T) {
	cw := &fakeCloudWatch{err: errors.New("throttled")}
	p := NewCloudWatchPublisher(cw, "Test", nil)

	if err := p.Publish(context.Background()); err != nil || len(cw.calls) != 0 {
		t.Errorf("empty publish: err=%v calls=%d", err, len(cw.calls))
	}
	if err := p.Publish(context.Background(), Count(DedupRemoved, 1, nil)); err == nil {
		t.Error("expected error")
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), Count(DedupRemoved, 1, nil)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
