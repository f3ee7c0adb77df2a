package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/common"
)

// Poller defaults.
const (
	DefaultWaitSeconds  = 20
	DefaultMaxMessages  = 10
	DefaultErrorBackoff = 5 * time.Second
)

// Poller long-polls an SQS queue and routes every message. Messages whose
// unit succeeded or was malformed are deleted; messages that failed with a
// retryable error stay on the queue for redelivery.
type Poller struct {
	client       common.SQSClient
	queueURL     string
	router       *Router
	waitSeconds  int32
	maxMessages  int32
	errorBackoff time.Duration
	logger       *slog.Logger
}

// NewPoller returns a Poller on queueURL.
func NewPoller(client common.SQSClient, queueURL string, router *Router, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:       client,
		queueURL:     queueURL,
		router:       router,
		waitSeconds:  DefaultWaitSeconds,
		maxMessages:  DefaultMaxMessages,
		errorBackoff: DefaultErrorBackoff,
		logger:       logger.With("queue", queueURL),
	}
}

// ResolveQueueURL returns nameOrURL unchanged when it is already a URL and
// looks the queue up by name otherwise.
func ResolveQueueURL(ctx context.Context, client common.SQSClient, nameOrURL string) (string, error) {
	if strings.HasPrefix(nameOrURL, "https://") || strings.HasPrefix(nameOrURL, "http://") {
		return nameOrURL, nil
	}
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(nameOrURL)})
	if err != nil {
		return "", fmt.Errorf("get queue url for %q: %w", nameOrURL, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

// Run polls until ctx is cancelled. Receive errors are logged and retried
// after a backoff.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("event poller started")
	for {
		if ctx.Err() != nil {
			p.logger.Info("event poller stopped")
			return nil
		}
		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("receive messages failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.errorBackoff):
			}
		}
	}
}

// PollOnce receives one batch, routes it and deletes the messages that
// should not be redelivered.
func (p *Poller) PollOnce(ctx context.Context) (BatchSummary, error) {
	out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.queueURL),
		MaxNumberOfMessages: p.maxMessages,
		WaitTimeSeconds:     p.waitSeconds,
	})
	if err != nil {
		return BatchSummary{}, fmt.Errorf("receive messages: %w", err)
	}
	if len(out.Messages) == 0 {
		return BatchSummary{Results: []Result{}}, nil
	}

	msgs := make([]Message, len(out.Messages))
	receipts := make(map[string]string, len(out.Messages))
	for i, m := range out.Messages {
		id := aws.ToString(m.MessageId)
		msgs[i] = Message{ID: id, Body: []byte(aws.ToString(m.Body))}
		receipts[id] = aws.ToString(m.ReceiptHandle)
	}

	sum := p.router.HandleBatch(ctx, msgs)
	for _, res := range sum.Results {
		if res.Retryable() {
			p.logger.Warn("message left for redelivery", "message_id", res.MessageID, "status", res.StatusCode)
			continue
		}
		_, err := p.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(p.queueURL),
			ReceiptHandle: aws.String(receipts[res.MessageID]),
		})
		if err != nil {
			p.logger.Warn("delete message failed", "message_id", res.MessageID, "error", err)
		}
	}
	return sum, nil
}
