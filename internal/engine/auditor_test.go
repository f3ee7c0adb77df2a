package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/findings"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	awssecurity "github.com/pankaj-dahiya-devops/cspm-auditor/internal/providers/aws/security"
	bucketpack "github.com/pankaj-dahiya-devops/cspm-auditor/internal/rulepacks/bucket"
	keypack "github.com/pankaj-dahiya-devops/cspm-auditor/internal/rulepacks/key"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/rules"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

const testAccount = "123456789012"

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeCollector struct {
	buckets   map[string]models.BucketConfiguration
	keys      map[string]models.KeyConfiguration
	bucketErr error
	keyErr    error
}

func (f *fakeCollector) CollectBucket(_ context.Context, _, name string) (*models.BucketConfiguration, error) {
	if f.bucketErr != nil {
		return nil, f.bucketErr
	}
	cfg, ok := f.buckets[name]
	if !ok {
		return nil, awssecurity.ErrIdentity
	}
	return &cfg, nil
}

func (f *fakeCollector) CollectKey(_ context.Context, _, keyID string) (*models.KeyConfiguration, error) {
	if f.keyErr != nil {
		return nil, f.keyErr
	}
	cfg, ok := f.keys[awssecurity.KeyIDFromReference(keyID)]
	if !ok {
		return nil, awssecurity.ErrIdentity
	}
	return &cfg, nil
}

type fakePolicy struct {
	mu        sync.Mutex
	bucket    models.Decision
	key       models.Decision
	bucketErr error
	keyErr    error
	// seen records the bucket snapshots that reached the policy.
	seen []models.BucketConfiguration
}

func (f *fakePolicy) EvaluateBucket(_ context.Context, cfg *models.BucketConfiguration) (models.Decision, error) {
	f.mu.Lock()
	f.seen = append(f.seen, *cfg)
	f.mu.Unlock()
	return f.bucket, f.bucketErr
}

func (f *fakePolicy) EvaluateKey(_ context.Context, _ *models.KeyConfiguration) (models.Decision, error) {
	return f.key, f.keyErr
}

type fakeAccounts struct {
	id  string
	err error
}

func (f fakeAccounts) AccountID(context.Context) (string, error) { return f.id, f.err }

// ── helpers ───────────────────────────────────────────────────────────────────

func deny(risk string) models.Decision {
	return models.Decision{
		Outcome: models.DecisionNonCompliant,
		Verdict: &models.PolicyVerdict{RiskLevel: risk, Reason: "policy says no"},
	}
}

func plainBucket(name string) models.BucketConfiguration {
	return models.DefaultBucketConfiguration(name, "us-east-1")
}

func kmsBucket(name, keyID string) models.BucketConfiguration {
	cfg := plainBucket(name)
	cfg.Encryption = models.BucketEncryption{
		SSEAlgorithm:   "aws:kms",
		KMSMasterKeyID: "arn:aws:kms:us-east-1:" + testAccount + ":key/" + keyID,
		Status:         "enabled",
		Configured:     true,
	}
	return cfg
}

func testKey(id string) models.KeyConfiguration {
	cfg := models.DefaultKeyConfiguration(id, "us-east-1")
	cfg.AccountID = testAccount
	cfg.KeyState = "Enabled"
	cfg.Origin = "AWS_KMS"
	return cfg
}

func newSynth() *findings.Synthesizer {
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return findings.NewSynthesizerWith(
		rules.NewRegistryFrom(bucketpack.New()),
		rules.NewRegistryFrom(keypack.New()),
		func() time.Time { return fixed },
	)
}

type harness struct {
	auditor *Auditor
	repo    *store.MemoryRepository
	policy  *fakePolicy
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, c *fakeCollector, p *fakePolicy) *harness {
	t.Helper()
	repo := store.NewMemoryRepository()
	if err := repo.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var logs bytes.Buffer
	a := NewAuditor(AuditorConfig{
		Collector:   c,
		Policy:      p,
		Synthesizer: newSynth(),
		Repository:  repo,
		Accounts:    fakeAccounts{id: testAccount},
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
	})
	return &harness{auditor: a, repo: repo, policy: p, logs: &logs}
}

func connectedRepo() *store.MemoryRepository {
	r := store.NewMemoryRepository()
	r.Connect(context.Background())
	return r
}

func oneBucket(cfg models.BucketConfiguration) *fakeCollector {
	return &fakeCollector{buckets: map[string]models.BucketConfiguration{cfg.BucketName: cfg}}
}

// ── bucket outcomes ───────────────────────────────────────────────────────────

func TestAuditBucket_CompliantWritesNothing(t *testing.T) {
	h := newHarness(t, oneBucket(plainBucket("b")), &fakePolicy{})

	res := h.auditor.AuditBucket(context.Background(), "b", "", "")
	if res.Outcome != OutcomeCompliant {
		t.Errorf("outcome = %q; want compliant", res.Outcome)
	}
	if res.Finding != nil || h.repo.Len() != 0 {
		t.Error("compliant audit must not produce or store a finding")
	}
}

func TestAuditBucket_Suppressed(t *testing.T) {
	p := &fakePolicy{bucket: models.Decision{Outcome: models.DecisionSuppressed}}
	h := newHarness(t, oneBucket(plainBucket("b")), p)

	res := h.auditor.AuditBucket(context.Background(), "b", "", "")
	if res.Outcome != OutcomeSuppressed {
		t.Errorf("outcome = %q; want suppressed", res.Outcome)
	}
	if h.repo.Len() != 0 {
		t.Error("suppressed audit must not store a finding")
	}
}

func TestAuditBucket_NonCompliantStoresFinding(t *testing.T) {
	h := newHarness(t, oneBucket(plainBucket("b")), &fakePolicy{bucket: deny("High")})
	ctx := context.Background()

	res := h.auditor.AuditBucket(ctx, "b", "", "")
	if res.Outcome != OutcomeFindingStored {
		t.Fatalf("outcome = %q (%v); want finding_stored", res.Outcome, res.Err)
	}
	if res.StoredID == "" || res.Finding == nil {
		t.Fatalf("result = %+v; want stored id and finding", res)
	}
	if res.AccountID != testAccount {
		t.Errorf("account = %q; want resolved %q", res.AccountID, testAccount)
	}
	want := findings.FindingID(testAccount, "us-east-1", "b", models.OperationBucketAudit)
	if res.Finding.FindingID != want {
		t.Errorf("finding id = %q; want %q", res.Finding.FindingID, want)
	}
	if !strings.Contains(res.Finding.Description, "Versioning disabled") {
		t.Errorf("description = %q", res.Finding.Description)
	}

	again := h.auditor.AuditBucket(ctx, "b", "", "")
	if again.StoredID != res.StoredID || h.repo.Len() != 1 {
		t.Errorf("re-audit must upsert in place; ids %q/%q, len %d", res.StoredID, again.StoredID, h.repo.Len())
	}
}

func TestAuditBucket_AppendMode(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.Connect(context.Background())
	a := NewAuditor(AuditorConfig{
		Collector:  oneBucket(plainBucket("b")),
		Policy:     &fakePolicy{bucket: deny("Low")},
		Repository: repo,
		WriteMode:  store.WriteModeAppend,
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	a.AuditBucket(context.Background(), "b", "", testAccount)
	a.AuditBucket(context.Background(), "b", "", testAccount)
	if repo.Len() != 2 {
		t.Errorf("Len = %d; want 2 appended entries", repo.Len())
	}
}

func TestAuditBucket_CollectionFailure(t *testing.T) {
	p := &fakePolicy{bucket: deny("High")}
	h := newHarness(t, &fakeCollector{}, p)

	res := h.auditor.AuditBucket(context.Background(), "gone", "", "")
	if res.Outcome != OutcomeCollectionFailed || res.Step != "collect" {
		t.Errorf("result = %+v; want collection_failed at collect", res)
	}
	if !errors.Is(res.Err, awssecurity.ErrIdentity) {
		t.Errorf("err = %v; want ErrIdentity", res.Err)
	}
	if len(p.seen) != 0 {
		t.Error("policy must not be queried after a collection failure")
	}
	if !strings.Contains(h.logs.String(), "resource=gone") || !strings.Contains(h.logs.String(), "step=collect") {
		t.Errorf("log must name resource and step:\n%s", h.logs.String())
	}
}

func TestAuditBucket_EvaluationFailureLeavesStoreUntouched(t *testing.T) {
	p := &fakePolicy{bucket: deny("High")}
	h := newHarness(t, oneBucket(plainBucket("b")), p)
	ctx := context.Background()
	h.auditor.AuditBucket(ctx, "b", "", "")

	p.bucketErr = errors.New("opa down")
	res := h.auditor.AuditBucket(ctx, "b", "", "")
	if res.Outcome != OutcomeEvaluationFailed {
		t.Errorf("outcome = %q; want evaluation_failed", res.Outcome)
	}
	if h.repo.Len() != 1 {
		t.Errorf("Len = %d; previous finding must survive", h.repo.Len())
	}
}

func TestAuditBucket_NotPersisted(t *testing.T) {
	repo := store.NewMemoryRepository()
	a := NewAuditor(AuditorConfig{
		Collector:  oneBucket(plainBucket("b")),
		Policy:     &fakePolicy{bucket: deny("Critical")},
		Repository: repo,
		Accounts:   fakeAccounts{id: testAccount},
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	res := a.AuditBucket(context.Background(), "b", "", "")
	if res.Outcome != OutcomeFindingNotPersisted {
		t.Fatalf("outcome = %q; want finding_not_persisted", res.Outcome)
	}
	if res.Finding == nil || !errors.Is(res.Err, store.ErrNotInitialized) {
		t.Errorf("result = %+v; want the finding and ErrNotInitialized", res)
	}
}

func TestAuditBucket_AccountResolutionFailure(t *testing.T) {
	a := NewAuditor(AuditorConfig{
		Collector:  oneBucket(plainBucket("b")),
		Policy:     &fakePolicy{bucket: deny("High")},
		Repository: store.NewMemoryRepository(),
		Accounts:   fakeAccounts{err: errors.New("sts denied")},
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	res := a.AuditBucket(context.Background(), "b", "", "")
	if res.Outcome != OutcomeCollectionFailed || res.Step != "account" {
		t.Errorf("result = %+v; want collection_failed at account", res)
	}
}

// ── key linking ───────────────────────────────────────────────────────────────

func TestAuditBucket_InsecureLinkedKey(t *testing.T) {
	c := &fakeCollector{
		buckets: map[string]models.BucketConfiguration{"b": kmsBucket("b", "k1")},
		keys:    map[string]models.KeyConfiguration{"k1": testKey("k1")},
	}
	p := &fakePolicy{bucket: deny("High"), key: deny("Critical")}
	h := newHarness(t, c, p)

	res := h.auditor.AuditBucket(context.Background(), "b", "", "")
	if res.Outcome != OutcomeFindingStored {
		t.Fatalf("outcome = %q; want finding_stored", res.Outcome)
	}
	if res.Linked == nil || res.Linked.Outcome != OutcomeFindingStored {
		t.Fatalf("linked = %+v; want stored key finding", res.Linked)
	}
	childID := res.Linked.Finding.FindingID

	if got := p.seen[0].Encryption.KMSSecurityStatus; got != models.KMSStatusInsecure {
		t.Errorf("status sent to policy = %q; want insecure", got)
	}
	if got := res.Finding.UserDefinedFields["LinkedKMSFindingId"]; got != childID {
		t.Errorf("LinkedKMSFindingId = %q; want %q", got, childID)
	}
	if h.repo.Len() != 2 {
		t.Errorf("Len = %d; both findings must be stored", h.repo.Len())
	}
}

func TestAuditBucket_CompliantParentSurfacesChild(t *testing.T) {
	c := &fakeCollector{
		buckets: map[string]models.BucketConfiguration{"b": kmsBucket("b", "k1")},
		keys:    map[string]models.KeyConfiguration{"k1": testKey("k1")},
	}
	h := newHarness(t, c, &fakePolicy{key: deny("High")})

	res := h.auditor.AuditBucket(context.Background(), "b", "", "")
	if res.Outcome != OutcomeCompliant {
		t.Errorf("outcome = %q; want compliant", res.Outcome)
	}
	if res.Finding == nil || res.Finding.Kind() != models.ResourceKey {
		t.Errorf("finding = %+v; want the key finding surfaced", res.Finding)
	}
	if h.repo.Len() != 1 {
		t.Errorf("Len = %d; want only the key finding", h.repo.Len())
	}
}

func TestAuditBucket_SecureLinkedKey(t *testing.T) {
	c := &fakeCollector{
		buckets: map[string]models.BucketConfiguration{"b": kmsBucket("b", "k1")},
		keys:    map[string]models.KeyConfiguration{"k1": testKey("k1")},
	}
	p := &fakePolicy{bucket: deny("Low")}
	h := newHarness(t, c, p)

	res := h.auditor.AuditBucket(context.Background(), "b", "", "")
	if got := p.seen[0].Encryption.KMSSecurityStatus; got != models.KMSStatusSecure {
		t.Errorf("status = %q; want secure", got)
	}
	if _, ok := res.Finding.UserDefinedFields["LinkedKMSFindingId"]; ok {
		t.Error("secure key must not be cross-linked")
	}
}

func TestAuditBucket_LinkedKeyAuditFailure(t *testing.T) {
	c := &fakeCollector{buckets: map[string]models.BucketConfiguration{"b": kmsBucket("b", "missing")}}
	p := &fakePolicy{bucket: deny("High")}
	h := newHarness(t, c, p)

	res := h.auditor.AuditBucket(context.Background(), "b", "", "")
	if res.Outcome != OutcomeFindingStored {
		t.Errorf("outcome = %q; parent audit must continue", res.Outcome)
	}
	if got := p.seen[0].Encryption.KMSSecurityStatus; got != models.KMSStatusAuditFailed {
		t.Errorf("status = %q; want kms audit failed", got)
	}
}

func TestAuditBucket_AlgorithmOnlySkipsLinking(t *testing.T) {
	cfg := plainBucket("b")
	cfg.Encryption = models.BucketEncryption{SSEAlgorithm: "AES256", Status: "enabled"}
	p := &fakePolicy{}
	h := newHarness(t, oneBucket(cfg), p)

	res := h.auditor.AuditBucket(context.Background(), "b", "", "")
	if res.Linked != nil {
		t.Errorf("linked = %+v; want nil", res.Linked)
	}
	if p.seen[0].Encryption.KMSSecurityStatus != "" {
		t.Error("status must be omitted for non key-managed buckets")
	}
}

// ── keys ──────────────────────────────────────────────────────────────────────

func TestAuditKey_UsesCanonicalIDAndSnapshotAccount(t *testing.T) {
	c := &fakeCollector{keys: map[string]models.KeyConfiguration{"k1": testKey("k1")}}
	a := NewAuditor(AuditorConfig{
		Collector:  c,
		Policy:     &fakePolicy{key: deny("Medium")},
		Repository: connectedRepo(),
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	res := a.AuditKey(context.Background(), "arn:aws:kms:us-east-1:"+testAccount+":key/k1", "", "")
	if res.ResourceKey != "k1" || res.AccountID != testAccount {
		t.Errorf("result = %+v; want key k1 in %s", res, testAccount)
	}
	if res.Finding.Severity.Label != models.SeverityMedium {
		t.Errorf("severity = %q; want MEDIUM", res.Finding.Severity.Label)
	}
}

func TestAuditResult_MarshalIncludesError(t *testing.T) {
	res := AuditResult{Kind: models.ResourceBucket, ResourceKey: "b", Outcome: OutcomeEvaluationFailed, Err: errors.New("boom")}
	b, err := res.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"error":"boom"`) || !strings.Contains(string(b), `"outcome":"evaluation_failed"`) {
		t.Errorf("json = %s", b)
	}
}
