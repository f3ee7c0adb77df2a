package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/findings"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	awssecurity "github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/security"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

// Pipeline steps named in logs and results.
const (
	stepCollect  = "collect"
	stepAccount  = "account"
	stepEvaluate = "evaluate"
	stepPersist  = "persist"
)

// AuditorConfig wires an Auditor. Collector, Policy, Synthesizer and
// Repository are required.
type AuditorConfig struct {
	Collector   awssecurity.ConfigCollector
	Policy      Evaluator
	Synthesizer *findings.Synthesizer
	Repository  store.Repository
	Accounts    AccountSource
	// WriteMode is store.WriteModeUpsert (default) or store.WriteModeAppend.
	WriteMode string
	// DisableKeyLinking skips the nested key audit for key-managed buckets.
	DisableKeyLinking bool
	Logger            *slog.Logger
}

// Auditor runs the audit pipeline. It holds no per-resource state and is
// safe for concurrent use.
type Auditor struct {
	collector awssecurity.ConfigCollector
	policy    Evaluator
	synth     *findings.Synthesizer
	repo      store.Repository
	accounts  AccountSource
	writeMode string
	linkKeys  bool
	logger    *slog.Logger
}

// NewAuditor constructs an Auditor from cfg.
func NewAuditor(cfg AuditorConfig) *Auditor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	synth := cfg.Synthesizer
	if synth == nil {
		synth = findings.NewSynthesizer()
	}
	mode := cfg.WriteMode
	if mode == "" {
		mode = store.WriteModeUpsert
	}
	return &Auditor{
		collector: cfg.Collector,
		policy:    cfg.Policy,
		synth:     synth,
		repo:      cfg.Repository,
		accounts:  cfg.Accounts,
		writeMode: mode,
		linkKeys:  !cfg.DisableKeyLinking,
		logger:    logger,
	}
}

// Audit dispatches on kind.
func (a *Auditor) Audit(ctx context.Context, kind models.ResourceKind, name, region, accountID string) AuditResult {
	if kind == models.ResourceKey {
		return a.AuditKey(ctx, name, region, accountID)
	}
	return a.AuditBucket(ctx, name, region, accountID)
}

// AuditBucket audits one bucket. Collection and evaluation failures abort
// the audit without touching the store.
func (a *Auditor) AuditBucket(ctx context.Context, name, region, accountID string) AuditResult {
	res := AuditResult{Kind: models.ResourceBucket, ResourceKey: name, Region: region, AccountID: accountID}

	cfg, err := a.collector.CollectBucket(ctx, region, name)
	if err != nil {
		return a.fail(res, OutcomeCollectionFailed, stepCollect, err)
	}
	res.Region = cfg.Region

	if res.AccountID == "" {
		id, err := a.resolveAccount(ctx)
		if err != nil {
			return a.fail(res, OutcomeCollectionFailed, stepAccount, err)
		}
		res.AccountID = id
	}

	if a.linkKeys {
		res.Linked = a.linkKey(ctx, cfg, res.AccountID)
	}

	decision, err := a.policy.EvaluateBucket(ctx, cfg)
	if err != nil {
		return a.fail(res, OutcomeEvaluationFailed, stepEvaluate, err)
	}

	identity := models.ResourceIdentity{Kind: models.ResourceBucket, Name: name, AccountID: res.AccountID, Region: res.Region}
	f := a.synth.SynthesizeBucket(decision, cfg, identity)
	if f == nil {
		res.Outcome = decisionOutcome(decision)
		if res.Linked != nil && res.Linked.Finding != nil {
			res.Finding = res.Linked.Finding
		}
		a.logger.Debug("resource compliant", "kind", res.Kind, "resource", name, "outcome", res.Outcome)
		return res
	}
	return a.persist(ctx, res, f)
}

// AuditKey audits one key. keyRef may be a key id, key ARN, alias name or
// alias ARN; the stored resource key is the canonical key id.
func (a *Auditor) AuditKey(ctx context.Context, keyRef, region, accountID string) AuditResult {
	res := AuditResult{Kind: models.ResourceKey, ResourceKey: awssecurity.KeyIDFromReference(keyRef), Region: region, AccountID: accountID}

	cfg, err := a.collector.CollectKey(ctx, region, keyRef)
	if err != nil {
		return a.fail(res, OutcomeCollectionFailed, stepCollect, err)
	}
	res.ResourceKey = cfg.KeyID
	res.Region = cfg.Region

	if res.AccountID == "" {
		res.AccountID = cfg.AccountID
	}
	if res.AccountID == "" {
		id, err := a.resolveAccount(ctx)
		if err != nil {
			return a.fail(res, OutcomeCollectionFailed, stepAccount, err)
		}
		res.AccountID = id
	}

	decision, err := a.policy.EvaluateKey(ctx, cfg)
	if err != nil {
		return a.fail(res, OutcomeEvaluationFailed, stepEvaluate, err)
	}

	identity := models.ResourceIdentity{Kind: models.ResourceKey, Name: cfg.KeyID, AccountID: res.AccountID, Region: res.Region}
	f := a.synth.SynthesizeKey(decision, cfg, identity)
	if f == nil {
		res.Outcome = decisionOutcome(decision)
		a.logger.Debug("resource compliant", "kind", res.Kind, "resource", res.ResourceKey, "outcome", res.Outcome)
		return res
	}
	return a.persist(ctx, res, f)
}

// persist writes f and records the outcome on res. A failed write still
// returns the finding so callers can report it.
func (a *Auditor) persist(ctx context.Context, res AuditResult, f *models.Finding) AuditResult {
	res.Finding = f
	id, err := store.Write(ctx, a.repo, a.writeMode, *f, res.ResourceKey)
	if err != nil {
		return a.fail(res, OutcomeFindingNotPersisted, stepPersist, err)
	}
	res.StoredID = id
	res.Outcome = OutcomeFindingStored
	a.logger.Info("finding stored",
		"kind", res.Kind,
		"resource", res.ResourceKey,
		"finding_id", f.FindingID,
		"severity", f.Severity.Label,
	)
	return res
}

func (a *Auditor) resolveAccount(ctx context.Context) (string, error) {
	if a.accounts == nil {
		return "", errors.New("account id not supplied and no resolver configured")
	}
	id, err := a.accounts.AccountID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve account id: %w", err)
	}
	return id, nil
}

func (a *Auditor) fail(res AuditResult, outcome Outcome, step string, err error) AuditResult {
	res.Outcome = outcome
	res.Step = step
	res.Err = err
	a.logger.Warn("audit failed",
		"kind", res.Kind,
		"resource", res.ResourceKey,
		"step", step,
		"outcome", outcome,
		"error", err,
	)
	return res
}

func decisionOutcome(d models.Decision) Outcome {
	if d.Outcome == models.DecisionSuppressed {
		return OutcomeSuppressed
	}
	return OutcomeCompliant
}
