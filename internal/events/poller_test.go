package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/engine"
)

type fakeSQS struct {
	mu         sync.Mutex
	batches    [][]sqstypes.Message
	receiveErr error
	received   []*sqs.ReceiveMessageInput
	deleted    []string
	queueURL   string
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, in)
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	if len(f.batches) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: next}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	if f.queueURL == "" {
		return nil, errors.New("AWS.SimpleQueueService.NonExistentQueue")
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(f.queueURL + "/" + aws.ToString(in.QueueName))}, nil
}

func sqsMessage(id, body string) sqstypes.Message {
	return sqstypes.Message{MessageId: aws.String(id), Body: aws.String(body), ReceiptHandle: aws.String("rh-" + id)}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollOnce_DeletesAllButRetryable(t *testing.T) {
	client := &fakeSQS{batches: [][]sqstypes.Message{{
		sqsMessage("1", `{"bucket_name":"ok"}`),
		sqsMessage("2", `{"bucket_name":"bad"}`),
		sqsMessage("3", `not json`),
	}}}
	a := &fakeAuditor{outcomes: map[string]engine.Outcome{"bad": engine.OutcomeCollectionFailed}}
	router := NewRouter(a, connectedRepo(t), nil, 4, quietLogger())
	p := NewPoller(client, "https://sqs.local/q", router, quietLogger())

	sum, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Succeeded != 1 || sum.Failed != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if len(client.deleted) != 2 {
		t.Fatalf("deleted = %v; want rh-1 and rh-3", client.deleted)
	}
	for _, rh := range client.deleted {
		if rh == "rh-2" {
			t.Error("retryable message must stay on the queue")
		}
	}
	in := client.received[0]
	if in.WaitTimeSeconds != DefaultWaitSeconds || in.MaxNumberOfMessages != DefaultMaxMessages {
		t.Errorf("receive input = %+v", in)
	}
}

func TestPollOnce_ReceiveError(t *testing.T) {
	client := &fakeSQS{receiveErr: errors.New("throttled")}
	p := NewPoller(client, "q", NewRouter(&fakeAuditor{}, connectedRepo(t), nil, 1, quietLogger()), quietLogger())

	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	client := &fakeSQS{}
	p := NewPoller(client, "q", NewRouter(&fakeAuditor{}, connectedRepo(t), nil, 1, quietLogger()), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v; want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestResolveQueueURL(t *testing.T) {
	client := &fakeSQS{queueURL: "https://sqs.us-east-1.amazonaws.com/123"}

	got, err := ResolveQueueURL(context.Background(), client, "https://already/url")
	if err != nil || got != "https://already/url" {
		t.Errorf("url passthrough = %q, %v", got, err)
	}
	got, err = ResolveQueueURL(context.Background(), client, "cspm-events")
	if err != nil || got != "https://sqs.us-east-1.amazonaws.com/123/cspm-events" {
		t.Errorf("lookup = %q, %v", got, err)
	}
	if _, err := ResolveQueueURL(context.Background(), &fakeSQS{}, "missing"); err == nil {
		t.Error("expected lookup error")
	}
}
