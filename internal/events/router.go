package events

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/engine"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/metrics"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	awssecurity "github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/security"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

// DefaultConcurrency bounds parallel units in HandleBatch.
const DefaultConcurrency = 8

// Route actions.
const (
	ActionAudit   = "audit"
	ActionDelete  = "delete"
	ActionIgnored = "ignored"
)

// Auditor runs the audit pipeline. *engine.Auditor satisfies it.
type Auditor interface {
	Audit(ctx context.Context, kind models.ResourceKind, name, region, accountID string) engine.AuditResult
}

// ErrorBody is the structured error carried by a failed Result.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Result is the HTTP-shaped outcome of routing one event.
type Result struct {
	MessageID  string              `json:"message_id,omitempty"`
	StatusCode int                 `json:"status_code"`
	Action     string              `json:"action,omitempty"`
	Event      *Event              `json:"event,omitempty"`
	Audit      *engine.AuditResult `json:"audit,omitempty"`
	Deleted    int64               `json:"deleted,omitempty"`
	Error      *ErrorBody          `json:"error,omitempty"`
}

// OK reports a 2xx result.
func (r Result) OK() bool { return r.StatusCode < 300 }

// Retryable reports whether the unit failed in a way redelivery may fix.
// Malformed input is never retryable.
func (r Result) Retryable() bool { return r.StatusCode >= 500 }

func failed(code int, err error) Result {
	return Result{StatusCode: code, Error: &ErrorBody{Code: code, Message: err.Error()}}
}

// BatchSummary counts the results of HandleBatch.
type BatchSummary struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// Router dispatches events: create and modify audit the resource, delete
// removes its findings.
type Router struct {
	auditor     Auditor
	repo        store.Repository
	publisher   metrics.Publisher
	concurrency int
	logger      *slog.Logger
}

// NewRouter returns a Router. concurrency <= 0 uses DefaultConcurrency.
func NewRouter(auditor Auditor, repo store.Repository, publisher metrics.Publisher, concurrency int, logger *slog.Logger) *Router {
	if publisher == nil {
		publisher = metrics.NopPublisher{}
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{auditor: auditor, repo: repo, publisher: publisher, concurrency: concurrency, logger: logger}
}

// Handle routes one parsed event.
func (r *Router) Handle(ctx context.Context, ev Event) Result {
	if err := ev.Validate(); err != nil {
		return failed(http.StatusBadRequest, err)
	}
	res := Result{Event: &ev}

	switch ev.Kind {
	case KindIgnore:
		res.StatusCode = http.StatusOK
		res.Action = ActionIgnored
		return res

	case KindDelete:
		res.Action = ActionDelete
		key := ev.ResourceName
		if ev.ResourceKind == models.ResourceKey {
			key = awssecurity.KeyIDFromReference(key)
		}
		n, err := r.repo.DeleteByResourceKey(ctx, key)
		if err != nil {
			r.logger.Error("delete findings failed", "kind", ev.ResourceKind, "resource", key, "step", "delete", "error", err)
			out := failed(http.StatusInternalServerError, err)
			out.Event, out.Action = res.Event, res.Action
			return out
		}
		res.StatusCode = http.StatusOK
		res.Deleted = n
		r.logger.Info("findings deleted for removed resource", "kind", ev.ResourceKind, "resource", key, "deleted", n)
		return res
	}

	res.Action = ActionAudit
	audit := r.auditor.Audit(ctx, ev.ResourceKind, ev.ResourceName, ev.Region, ev.AccountID)
	res.Audit = &audit
	if audit.Outcome.Failed() {
		err := audit.Err
		if err == nil {
			err = errors.New(string(audit.Outcome))
		}
		out := failed(http.StatusInternalServerError, err)
		out.Event, out.Action, out.Audit = res.Event, res.Action, res.Audit
		return out
	}
	res.StatusCode = http.StatusOK
	return res
}

// HandleMessage parses and routes one message body.
func (r *Router) HandleMessage(ctx context.Context, msg Message) Result {
	ev, err := Parse(msg.Body)
	if err != nil {
		r.logger.Warn("malformed event", "message_id", msg.ID, "error", err)
		res := failed(http.StatusBadRequest, err)
		res.MessageID = msg.ID
		return res
	}
	res := r.Handle(ctx, ev)
	res.MessageID = msg.ID
	return res
}

// HandleBatch routes msgs as independent units with bounded concurrency.
// One failing unit never affects the others. Results keep input order.
func (r *Router) HandleBatch(ctx context.Context, msgs []Message) BatchSummary {
	results := make([]Result, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, m := range msgs {
		g.Go(func() error {
			results[i] = r.HandleMessage(gctx, m)
			return nil
		})
	}
	_ = g.Wait()

	sum := BatchSummary{Results: results}
	for _, res := range results {
		if res.OK() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	if len(msgs) > 0 {
		r.logger.Info("event batch processed", "messages", len(msgs), "succeeded", sum.Succeeded, "failed", sum.Failed)
		if err := r.publisher.Publish(ctx,
			metrics.Count(metrics.EventBatchSucceeded, sum.Succeeded, nil),
			metrics.Count(metrics.EventBatchFailed, sum.Failed, nil),
		); err != nil {
			r.logger.Warn("publish event metrics failed", "error", err)
		}
	}
	return sum
}
