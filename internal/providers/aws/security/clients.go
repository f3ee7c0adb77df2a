package awssecurity

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	kmssvc "github.com/aws/aws-sdk-go-v2/service/kms"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3APIClient is the narrow S3 interface used by the bucket collector.
// HeadBucket establishes identity; every other call reads one security
// sub-setting. It embeds ListBucketsAPIClient so the SDK paginator can be
// used for inventory listing.
type s3APIClient interface {
	s3svc.ListBucketsAPIClient
	HeadBucket(ctx context.Context, params *s3svc.HeadBucketInput, optFns ...func(*s3svc.Options)) (*s3svc.HeadBucketOutput, error)
	GetBucketEncryption(ctx context.Context, params *s3svc.GetBucketEncryptionInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketEncryptionOutput, error)
	GetBucketOwnershipControls(ctx context.Context, params *s3svc.GetBucketOwnershipControlsInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketOwnershipControlsOutput, error)
	GetPublicAccessBlock(ctx context.Context, params *s3svc.GetPublicAccessBlockInput, optFns ...func(*s3svc.Options)) (*s3svc.GetPublicAccessBlockOutput, error)
	GetBucketVersioning(ctx context.Context, params *s3svc.GetBucketVersioningInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketVersioningOutput, error)
	GetBucketPolicy(ctx context.Context, params *s3svc.GetBucketPolicyInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketPolicyOutput, error)
	GetBucketLogging(ctx context.Context, params *s3svc.GetBucketLoggingInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketLoggingOutput, error)
	GetBucketNotificationConfiguration(ctx context.Context, params *s3svc.GetBucketNotificationConfigurationInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketNotificationConfigurationOutput, error)
	GetBucketTagging(ctx context.Context, params *s3svc.GetBucketTaggingInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketTaggingOutput, error)
}

// kmsAPIClient is the narrow KMS interface used by the key collector.
// DescribeKey establishes identity; the list calls are paged manually so
// fakes only need to return a single page.
type kmsAPIClient interface {
	kmssvc.ListKeysAPIClient
	DescribeKey(ctx context.Context, params *kmssvc.DescribeKeyInput, optFns ...func(*kmssvc.Options)) (*kmssvc.DescribeKeyOutput, error)
	GetKeyPolicy(ctx context.Context, params *kmssvc.GetKeyPolicyInput, optFns ...func(*kmssvc.Options)) (*kmssvc.GetKeyPolicyOutput, error)
	GetKeyRotationStatus(ctx context.Context, params *kmssvc.GetKeyRotationStatusInput, optFns ...func(*kmssvc.Options)) (*kmssvc.GetKeyRotationStatusOutput, error)
	ListAliases(ctx context.Context, params *kmssvc.ListAliasesInput, optFns ...func(*kmssvc.Options)) (*kmssvc.ListAliasesOutput, error)
	ListGrants(ctx context.Context, params *kmssvc.ListGrantsInput, optFns ...func(*kmssvc.Options)) (*kmssvc.ListGrantsOutput, error)
	ListResourceTags(ctx context.Context, params *kmssvc.ListResourceTagsInput, optFns ...func(*kmssvc.Options)) (*kmssvc.ListResourceTagsOutput, error)
}

// secClients bundles the AWS service clients used by the configuration
// collector for one region.
type secClients struct {
	S3  s3APIClient
	KMS kmsAPIClient
}

// secClientFactory creates secClients from an AWS config.
// Injection point: tests replace this with a function returning fake clients.
type secClientFactory func(cfg aws.Config) *secClients

// newDefaultSecClients creates production AWS SDK clients from the given config.
func newDefaultSecClients(cfg aws.Config) *secClients {
	return &secClients{
		S3:  s3svc.NewFromConfig(cfg),
		KMS: kmssvc.NewFromConfig(cfg),
	}
}
