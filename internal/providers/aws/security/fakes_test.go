package awssecurity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	kmssvc "github.com/aws/aws-sdk-go-v2/service/kms"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// ── S3 fake ───────────────────────────────────────────────────────────────────

// fakeS3 returns canned outputs. A non-nil error field wins over its output.
type fakeS3 struct {
	buckets    []string
	listErr    error
	head       *s3svc.HeadBucketOutput
	headErr    error
	enc        *s3svc.GetBucketEncryptionOutput
	encErr     error
	own        *s3svc.GetBucketOwnershipControlsOutput
	ownErr     error
	pab        *s3svc.GetPublicAccessBlockOutput
	pabErr     error
	ver        *s3svc.GetBucketVersioningOutput
	verErr     error
	pol        *s3svc.GetBucketPolicyOutput
	polErr     error
	logging    *s3svc.GetBucketLoggingOutput
	loggingErr error
	notif      *s3svc.GetBucketNotificationConfigurationOutput
	notifErr   error
	tags       *s3svc.GetBucketTaggingOutput
	tagsErr    error
}

func (f *fakeS3) ListBuckets(_ context.Context, _ *s3svc.ListBucketsInput, _ ...func(*s3svc.Options)) (*s3svc.ListBucketsOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &s3svc.ListBucketsOutput{}
	for _, b := range f.buckets {
		out.Buckets = append(out.Buckets, s3Bucket(b))
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3svc.HeadBucketInput, _ ...func(*s3svc.Options)) (*s3svc.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if f.head == nil {
		return &s3svc.HeadBucketOutput{}, nil
	}
	return f.head, nil
}

func (f *fakeS3) GetBucketEncryption(_ context.Context, _ *s3svc.GetBucketEncryptionInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketEncryptionOutput, error) {
	return f.enc, f.encErr
}

func (f *fakeS3) GetBucketOwnershipControls(_ context.Context, _ *s3svc.GetBucketOwnershipControlsInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketOwnershipControlsOutput, error) {
	return f.own, f.ownErr
}

func (f *fakeS3) GetPublicAccessBlock(_ context.Context, _ *s3svc.GetPublicAccessBlockInput, _ ...func(*s3svc.Options)) (*s3svc.GetPublicAccessBlockOutput, error) {
	return f.pab, f.pabErr
}

func (f *fakeS3) GetBucketVersioning(_ context.Context, _ *s3svc.GetBucketVersioningInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketVersioningOutput, error) {
	return f.ver, f.verErr
}

func (f *fakeS3) GetBucketPolicy(_ context.Context, _ *s3svc.GetBucketPolicyInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketPolicyOutput, error) {
	return f.pol, f.polErr
}

func (f *fakeS3) GetBucketLogging(_ context.Context, _ *s3svc.GetBucketLoggingInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketLoggingOutput, error) {
	return f.logging, f.loggingErr
}

func (f *fakeS3) GetBucketNotificationConfiguration(_ context.Context, _ *s3svc.GetBucketNotificationConfigurationInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketNotificationConfigurationOutput, error) {
	return f.notif, f.notifErr
}

func (f *fakeS3) GetBucketTagging(_ context.Context, _ *s3svc.GetBucketTaggingInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketTaggingOutput, error) {
	return f.tags, f.tagsErr
}

// ── KMS fake ──────────────────────────────────────────────────────────────────

type fakeKMS struct {
	keys        []string
	listErr     error
	describe    *kmssvc.DescribeKeyOutput
	describeErr error
	policy      *kmssvc.GetKeyPolicyOutput
	policyErr   error
	rotation    *kmssvc.GetKeyRotationStatusOutput
	rotationErr error
	aliases     *kmssvc.ListAliasesOutput
	aliasesErr  error
	grants      *kmssvc.ListGrantsOutput
	grantsErr   error
	tags        *kmssvc.ListResourceTagsOutput
	tagsErr     error
}

func (f *fakeKMS) ListKeys(_ context.Context, _ *kmssvc.ListKeysInput, _ ...func(*kmssvc.Options)) (*kmssvc.ListKeysOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &kmssvc.ListKeysOutput{}
	for _, k := range f.keys {
		out.Keys = append(out.Keys, kmsKeyEntry(k))
	}
	return out, nil
}

func (f *fakeKMS) DescribeKey(_ context.Context, _ *kmssvc.DescribeKeyInput, _ ...func(*kmssvc.Options)) (*kmssvc.DescribeKeyOutput, error) {
	return f.describe, f.describeErr
}

func (f *fakeKMS) GetKeyPolicy(_ context.Context, _ *kmssvc.GetKeyPolicyInput, _ ...func(*kmssvc.Options)) (*kmssvc.GetKeyPolicyOutput, error) {
	return f.policy, f.policyErr
}

func (f *fakeKMS) GetKeyRotationStatus(_ context.Context, _ *kmssvc.GetKeyRotationStatusInput, _ ...func(*kmssvc.Options)) (*kmssvc.GetKeyRotationStatusOutput, error) {
	return f.rotation, f.rotationErr
}

func (f *fakeKMS) ListAliases(_ context.Context, _ *kmssvc.ListAliasesInput, _ ...func(*kmssvc.Options)) (*kmssvc.ListAliasesOutput, error) {
	if f.aliasesErr != nil {
		return nil, f.aliasesErr
	}
	if f.aliases == nil {
		return &kmssvc.ListAliasesOutput{}, nil
	}
	return f.aliases, nil
}

func (f *fakeKMS) ListGrants(_ context.Context, _ *kmssvc.ListGrantsInput, _ ...func(*kmssvc.Options)) (*kmssvc.ListGrantsOutput, error) {
	if f.grantsErr != nil {
		return nil, f.grantsErr
	}
	if f.grants == nil {
		return &kmssvc.ListGrantsOutput{}, nil
	}
	return f.grants, nil
}

func (f *fakeKMS) ListResourceTags(_ context.Context, _ *kmssvc.ListResourceTagsInput, _ ...func(*kmssvc.Options)) (*kmssvc.ListResourceTagsOutput, error) {
	if f.tagsErr != nil {
		return nil, f.tagsErr
	}
	if f.tags == nil {
		return &kmssvc.ListResourceTagsOutput{}, nil
	}
	return f.tags, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func apiErr(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

// wrongRegionErr mimics the response S3 gives a HeadBucket sent to the wrong
// regional endpoint.
func wrongRegionErr(status int, region string) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{
				StatusCode: status,
				Header:     http.Header{"X-Amz-Bucket-Region": []string{region}},
			}},
			Err: errors.New("http response error"),
		},
	}
}

// regionFactory hands out per-region fakes and records which regions were
// requested.
type regionFactory struct {
	mu      sync.Mutex
	s3      map[string]*fakeS3
	kms     map[string]*fakeKMS
	regions []string
}

func (r *regionFactory) build(cfg aws.Config) *secClients {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions = append(r.regions, cfg.Region)
	cl := &secClients{}
	if s, ok := r.s3[cfg.Region]; ok {
		cl.S3 = s
	} else {
		cl.S3 = &fakeS3{}
	}
	if k, ok := r.kms[cfg.Region]; ok {
		cl.KMS = k
	} else {
		cl.KMS = &fakeKMS{}
	}
	return cl
}

// newTestCollector returns a collector rooted in us-east-1 that logs into
// the returned buffer.
func newTestCollector(f *regionFactory) (*DefaultConfigCollector, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewDefaultConfigCollectorWithFactory(aws.Config{Region: "us-east-1"}, logger, f.build), &buf
}
