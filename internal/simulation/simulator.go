// Package simulation creates deliberately misconfigured demo buckets and
// removes them again through a durable cleanup queue.
package simulation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/engine"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/store"
)

// BucketPrefix marks buckets owned by the simulator. Nothing without it is
// ever modified or deleted.
const BucketPrefix = "cspm-demo-"

// TaskKindCleanupBucket is the task kind for demo bucket removal.
const TaskKindCleanupBucket = "cleanup_bucket"

// Defaults.
const (
	DefaultLifetime         = 900 * time.Second
	DefaultRegion           = "us-east-1"
	DefaultPropagationDelay = 2 * time.Second
	DefaultCallTimeout      = 30 * time.Second
)

// ErrNotDemoResource is returned for any name without BucketPrefix.
var ErrNotDemoResource = errors.New("refusing to modify a non-demo resource")

// S3API is the S3 surface the simulator needs.
type S3API interface {
	s3svc.ListBucketsAPIClient
	s3svc.ListObjectsV2APIClient
	CreateBucket(ctx context.Context, params *s3svc.CreateBucketInput, optFns ...func(*s3svc.Options)) (*s3svc.CreateBucketOutput, error)
	PutPublicAccessBlock(ctx context.Context, params *s3svc.PutPublicAccessBlockInput, optFns ...func(*s3svc.Options)) (*s3svc.PutPublicAccessBlockOutput, error)
	PutBucketPolicy(ctx context.Context, params *s3svc.PutBucketPolicyInput, optFns ...func(*s3svc.Options)) (*s3svc.PutBucketPolicyOutput, error)
	DeleteObjects(ctx context.Context, params *s3svc.DeleteObjectsInput, optFns ...func(*s3svc.Options)) (*s3svc.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, params *s3svc.DeleteBucketInput, optFns ...func(*s3svc.Options)) (*s3svc.DeleteBucketOutput, error)
}

// Auditor audits one resource. *engine.Auditor satisfies it.
type Auditor interface {
	Audit(ctx context.Context, kind models.ResourceKind, name, region, accountID string) engine.AuditResult
}

// Options configures a Simulator.
type Options struct {
	Region   string
	Lifetime time.Duration
	// PropagationDelay separates the public access block change from the
	// policy write, which S3 rejects until the former has propagated.
	PropagationDelay time.Duration
	// CallTimeout bounds each S3 call.
	CallTimeout time.Duration
}

// Simulation describes a created demo bucket.
type Simulation struct {
	ResourceID string              `json:"resource_id"`
	Region     string              `json:"region"`
	CleanupAt  time.Time           `json:"cleanup_at"`
	TaskID     string              `json:"task_id"`
	Message    string              `json:"message"`
	Audit      *engine.AuditResult `json:"audit,omitempty"`
}

// CleanupResult describes one removed demo bucket.
type CleanupResult struct {
	ResourceID      string `json:"resource_id"`
	ObjectsDeleted  int    `json:"objects_deleted"`
	BucketDeleted   bool   `json:"bucket_deleted"`
	FindingsDeleted int64  `json:"findings_deleted"`
}

// Simulator creates and removes demo buckets.
type Simulator struct {
	s3               S3API
	auditor          Auditor
	repo             store.Repository
	tasks            store.TaskQueue
	region           string
	lifetime         time.Duration
	propagationDelay time.Duration
	callTimeout      time.Duration
	now              func() time.Time
	newName          func() string
	logger           *slog.Logger
}

// NewSimulator returns a Simulator. auditor and repo may be nil, in which
// case demo buckets are not audited and cleanup leaves findings alone.
func NewSimulator(s3 S3API, auditor Auditor, repo store.Repository, tasks store.TaskQueue, opts Options, logger *slog.Logger) *Simulator {
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	if opts.PropagationDelay < 0 {
		opts.PropagationDelay = 0
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		s3:               s3,
		auditor:          auditor,
		repo:             repo,
		tasks:            tasks,
		region:           opts.Region,
		lifetime:         opts.Lifetime,
		propagationDelay: opts.PropagationDelay,
		callTimeout:      opts.CallTimeout,
		now:              time.Now,
		newName:          NewBucketName,
		logger:           logger,
	}
}

func (s *Simulator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}

// NewBucketName returns BucketPrefix plus 8 random hex characters.
func NewBucketName() string {
	u := uuid.New()
	return BucketPrefix + hex.EncodeToString(u[:4])
}

// IsDemoBucket reports whether name carries BucketPrefix.
func IsDemoBucket(name string) bool {
	return strings.HasPrefix(name, BucketPrefix) && len(name) > len(BucketPrefix)
}

// CreateVulnerableBucket creates a bucket with the public access block
// disabled and a public-read policy, schedules its cleanup and audits it.
// Cleanup is scheduled before the bucket is made public so a later
// failure never leaves an untracked public bucket behind.
func (s *Simulator) CreateVulnerableBucket(ctx context.Context) (*Simulation, error) {
	name := s.newName()
	logger := s.logger.With("resource", name)
	logger.Info("creating vulnerable demo bucket", "region", s.region)

	in := &s3svc.CreateBucketInput{Bucket: aws.String(name)}
	if s.region != DefaultRegion {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.region),
		}
	}
	cctx, cancel := s.callCtx(ctx)
	_, err := s.s3.CreateBucket(cctx, in)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}

	dueAt := s.now().Add(s.lifetime).UTC()
	taskID, err := s.tasks.Enqueue(ctx, store.Task{
		Kind:   TaskKindCleanupBucket,
		Target: name,
		Region: s.region,
		DueAt:  dueAt,
	})
	if err != nil {
		s.removeNow(ctx, name, logger)
		return nil, fmt.Errorf("schedule cleanup of %s: %w", name, err)
	}

	if err := s.makePublic(ctx, name); err != nil {
		logger.Error("configure demo bucket failed", "step", "configure", "error", err)
		return nil, err
	}

	sim := &Simulation{
		ResourceID: name,
		Region:     s.region,
		CleanupAt:  dueAt,
		TaskID:     taskID,
		Message:    fmt.Sprintf("Vulnerable bucket '%s' created.", name),
	}
	if s.auditor != nil {
		res := s.auditor.Audit(ctx, models.ResourceBucket, name, s.region, "")
		sim.Audit = &res
		if res.Outcome.Failed() {
			logger.Warn("demo bucket audit failed", "outcome", res.Outcome, "error", res.Err)
		}
	}
	logger.Info("vulnerable demo bucket created", "cleanup_at", dueAt, "task_id", taskID)
	return sim, nil
}

// publicReadPolicy allows anonymous GetObject on every object in bucket.
func publicReadPolicy(bucket string) string {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Sid":       "PublicReadGetObject",
			"Effect":    "Allow",
			"Principal": "*",
			"Action":    "s3:GetObject",
			"Resource":  "arn:aws:s3:::" + bucket + "/*",
		}},
	}
	data, _ := json.Marshal(doc)
	return string(data)
}

func (s *Simulator) makePublic(ctx context.Context, name string) error {
	cctx, cancel := s.callCtx(ctx)
	_, err := s.s3.PutPublicAccessBlock(cctx, &s3svc.PutPublicAccessBlockInput{
		Bucket: aws.String(name),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(false),
			IgnorePublicAcls:      aws.Bool(false),
			BlockPublicPolicy:     aws.Bool(false),
			RestrictPublicBuckets: aws.Bool(false),
		},
	})
	cancel()
	if err != nil {
		return fmt.Errorf("disable public access block on %s: %w", name, err)
	}

	if s.propagationDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.propagationDelay):
		}
	}

	cctx, cancel = s.callCtx(ctx)
	_, err = s.s3.PutBucketPolicy(cctx, &s3svc.PutBucketPolicyInput{
		Bucket: aws.String(name),
		Policy: aws.String(publicReadPolicy(name)),
	})
	cancel()
	if err != nil {
		return fmt.Errorf("put public policy on %s: %w", name, err)
	}
	return nil
}

// removeNow is the best-effort rollback when cleanup cannot be scheduled.
func (s *Simulator) removeNow(ctx context.Context, name string, logger *slog.Logger) {
	if _, err := s.Cleanup(ctx, name); err != nil {
		logger.Error("rollback of unscheduled demo bucket failed", "step", "rollback", "error", err)
	}
}

// Cleanup empties and deletes a demo bucket, then removes its findings.
// A bucket that no longer exists counts as deleted, so repeated calls are
// safe.
func (s *Simulator) Cleanup(ctx context.Context, name string) (CleanupResult, error) {
	res := CleanupResult{ResourceID: name}
	if !IsDemoBucket(name) {
		return res, fmt.Errorf("%w: %q", ErrNotDemoResource, name)
	}

	n, err := s.empty(ctx, name)
	res.ObjectsDeleted = n
	if err != nil && !isMissingBucket(err) {
		return res, err
	}

	dctx, cancel := s.callCtx(ctx)
	_, err = s.s3.DeleteBucket(dctx, &s3svc.DeleteBucketInput{Bucket: aws.String(name)})
	cancel()
	if err != nil && !isMissingBucket(err) {
		return res, fmt.Errorf("delete bucket %s: %w", name, err)
	}
	res.BucketDeleted = true

	if s.repo != nil {
		deleted, err := s.repo.DeleteByResourceKey(ctx, name)
		if err != nil {
			return res, fmt.Errorf("delete findings for %s: %w", name, err)
		}
		res.FindingsDeleted = deleted
	}
	s.logger.Info("demo bucket removed", "resource", name, "objects", res.ObjectsDeleted, "findings", res.FindingsDeleted)
	return res, nil
}

// empty deletes every object in name, one page at a time.
func (s *Simulator) empty(ctx context.Context, name string) (int, error) {
	paginator := s3svc.NewListObjectsV2Paginator(s.s3, &s3svc.ListObjectsV2Input{Bucket: aws.String(name)})
	deleted := 0
	for paginator.HasMorePages() {
		lctx, cancel := s.callCtx(ctx)
		page, err := paginator.NextPage(lctx)
		cancel()
		if err != nil {
			return deleted, fmt.Errorf("list objects in %s: %w", name, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, s3types.ObjectIdentifier{Key: obj.Key})
		}
		dctx, cancel := s.callCtx(ctx)
		_, err = s.s3.DeleteObjects(dctx, &s3svc.DeleteObjectsInput{
			Bucket: aws.String(name),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		cancel()
		if err != nil {
			return deleted, fmt.Errorf("delete objects in %s: %w", name, err)
		}
		deleted += len(ids)
	}
	return deleted, nil
}

// CleanupAll removes every demo bucket in the account. Failures are
// collected and do not stop the remaining removals.
func (s *Simulator) CleanupAll(ctx context.Context) ([]CleanupResult, error) {
	names, err := s.listDemoBuckets(ctx)
	if err != nil {
		return nil, err
	}
	var (
		results []CleanupResult
		errs    []error
	)
	for _, name := range names {
		res, err := s.Cleanup(ctx, name)
		if err != nil {
			s.logger.Error("demo bucket cleanup failed", "resource", name, "step", "cleanup", "error", err)
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (s *Simulator) listDemoBuckets(ctx context.Context) ([]string, error) {
	paginator := s3svc.NewListBucketsPaginator(s.s3, &s3svc.ListBucketsInput{Prefix: aws.String(BucketPrefix)})
	var names []string
	for paginator.HasMorePages() {
		lctx, cancel := s.callCtx(ctx)
		page, err := paginator.NextPage(lctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}
		for _, b := range page.Buckets {
			if name := aws.ToString(b.Name); IsDemoBucket(name) {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func isMissingBucket(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchBucket", "NotFound":
		return true
	}
	return false
}
