package awssecurity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// CollectBucket implements ConfigCollector. HeadBucket is the only fatal
// call; when it reports a different bucket region the sub-setting calls are
// issued against that region's client.
func (c *DefaultConfigCollector) CollectBucket(ctx context.Context, region, name string) (*models.BucketConfiguration, error) {
	clients, used := c.clientsFor(region)

	head, err := c.headBucket(ctx, clients.S3, name)
	if err != nil {
		// S3 rejects HeadBucket sent to the wrong region but still names
		// the bucket's region in the response header.
		actual := bucketRegionFromError(err)
		if actual == "" || actual == used {
			return nil, fmt.Errorf("%w: head bucket %q: %v", ErrIdentity, name, err)
		}
		clients, used = c.clientsFor(actual)
		if head, err = c.headBucket(ctx, clients.S3, name); err != nil {
			return nil, fmt.Errorf("%w: head bucket %q in %s: %v", ErrIdentity, name, used, err)
		}
	}
	if actual := aws.ToString(head.BucketRegion); actual != "" && actual != used {
		clients, used = c.clientsFor(actual)
	}

	cfg := models.DefaultBucketConfiguration(name, used)
	client := clients.S3

	c.fetch(ctx, "bucket", name, "encryption", func(ctx context.Context) error {
		enc, err := collectBucketEncryption(ctx, client, name)
		if err == nil {
			cfg.Encryption = enc
		}
		return err
	})
	c.fetch(ctx, "bucket", name, "ownership", func(ctx context.Context) error {
		own, err := collectBucketOwnership(ctx, client, name)
		if err == nil {
			cfg.Ownership = own
			cfg.ACLsEnabled = aclsEnabled(own.ObjectOwnership)
		}
		return err
	})
	c.fetch(ctx, "bucket", name, "public_access_block", func(ctx context.Context) error {
		pab, err := collectPublicAccessBlock(ctx, client, name)
		if err == nil {
			cfg.PublicAccessBlock = pab
		}
		return err
	})
	c.fetch(ctx, "bucket", name, "versioning", func(ctx context.Context) error {
		v, err := collectBucketVersioning(ctx, client, name)
		if err == nil {
			cfg.Versioning = v
		}
		return err
	})
	c.fetch(ctx, "bucket", name, "policy", func(ctx context.Context) error {
		doc, err := collectBucketPolicy(ctx, client, name)
		if err == nil {
			cfg.Policy = doc
			cfg.PolicyConfigured = doc != nil
		}
		return err
	})
	c.fetch(ctx, "bucket", name, "logging", func(ctx context.Context) error {
		l, err := collectBucketLogging(ctx, client, name)
		if err == nil {
			cfg.Logging = l
		}
		return err
	})
	c.fetch(ctx, "bucket", name, "notification", func(ctx context.Context) error {
		n, err := collectBucketNotification(ctx, client, name)
		if err == nil {
			cfg.Notification = n
		}
		return err
	})
	c.fetch(ctx, "bucket", name, "tagging", func(ctx context.Context) error {
		tags, err := collectBucketTags(ctx, client, name)
		if err == nil {
			cfg.TagSet = tags
			cfg.TagsConfigured = true
		}
		return err
	})

	return &cfg, nil
}

// fetch runs one sub-setting query under the per-call timeout and routes
// its error to subSettingFailed. It never returns an error.
func (c *DefaultConfigCollector) fetch(ctx context.Context, kind, resource, step string, fn func(context.Context) error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := fn(cctx); err != nil {
		c.subSettingFailed(kind, resource, step, err)
	}
}

// collectBucketEncryption reads the first default encryption rule.
// ServerSideEncryptionConfigurationNotFoundError means no default
// encryption and leaves status "none".
func collectBucketEncryption(ctx context.Context, client s3APIClient, name string) (models.BucketEncryption, error) {
	out, err := client.GetBucketEncryption(ctx, &s3svc.GetBucketEncryptionInput{Bucket: aws.String(name)})
	if err != nil {
		return models.BucketEncryption{}, err
	}
	enc := models.BucketEncryption{Status: "none", Configured: true}
	if out.ServerSideEncryptionConfiguration == nil || len(out.ServerSideEncryptionConfiguration.Rules) == 0 {
		return enc, nil
	}
	rule := out.ServerSideEncryptionConfiguration.Rules[0]
	if rule.ApplyServerSideEncryptionByDefault != nil {
		enc.SSEAlgorithm = string(rule.ApplyServerSideEncryptionByDefault.SSEAlgorithm)
		enc.KMSMasterKeyID = aws.ToString(rule.ApplyServerSideEncryptionByDefault.KMSMasterKeyID)
	}
	enc.BucketKeyEnabled = aws.ToBool(rule.BucketKeyEnabled)
	if enc.SSEAlgorithm != "" {
		enc.Status = "enabled"
	}
	return enc, nil
}

// collectBucketOwnership reads the object ownership control.
func collectBucketOwnership(ctx context.Context, client s3APIClient, name string) (models.BucketOwnership, error) {
	out, err := client.GetBucketOwnershipControls(ctx, &s3svc.GetBucketOwnershipControlsInput{Bucket: aws.String(name)})
	if err != nil {
		return models.BucketOwnership{}, err
	}
	own := models.BucketOwnership{ObjectOwnership: "unknown", Configured: true}
	if out.OwnershipControls != nil && len(out.OwnershipControls.Rules) > 0 {
		own.ObjectOwnership = string(out.OwnershipControls.Rules[0].ObjectOwnership)
	}
	return own, nil
}

// aclsEnabled reports whether object ownership still honours ACLs.
func aclsEnabled(ownership string) bool {
	return ownership == string(s3types.ObjectOwnershipBucketOwnerPreferred) ||
		ownership == string(s3types.ObjectOwnershipObjectWriter)
}

// collectPublicAccessBlock reads the bucket-level public access block.
func collectPublicAccessBlock(ctx context.Context, client s3APIClient, name string) (models.PublicAccessBlock, error) {
	out, err := client.GetPublicAccessBlock(ctx, &s3svc.GetPublicAccessBlockInput{Bucket: aws.String(name)})
	if err != nil {
		return models.PublicAccessBlock{}, err
	}
	pab := models.PublicAccessBlock{Configured: true}
	if c := out.PublicAccessBlockConfiguration; c != nil {
		pab.BlockPublicACLs = aws.ToBool(c.BlockPublicAcls)
		pab.IgnorePublicACLs = aws.ToBool(c.IgnorePublicAcls)
		pab.BlockPublicPolicy = aws.ToBool(c.BlockPublicPolicy)
		pab.RestrictPublicBuckets = aws.ToBool(c.RestrictPublicBuckets)
	}
	pab.Status = "enabled"
	if pab.AllBlocked() {
		pab.Status = "blocked"
	}
	return pab, nil
}

// collectBucketVersioning reads versioning and MFA-delete, lower-cased.
// A bucket that never had versioning returns empty statuses, which map to
// "disabled".
func collectBucketVersioning(ctx context.Context, client s3APIClient, name string) (models.BucketVersioning, error) {
	out, err := client.GetBucketVersioning(ctx, &s3svc.GetBucketVersioningInput{Bucket: aws.String(name)})
	if err != nil {
		return models.BucketVersioning{}, err
	}
	return models.BucketVersioning{
		Status:     lowerOr(string(out.Status), "disabled"),
		MFADelete:  lowerOr(string(out.MFADelete), "disabled"),
		Configured: true,
	}, nil
}

// collectBucketPolicy reads and compacts the bucket policy document.
// NoSuchBucketPolicy surfaces as an error and leaves the policy nil.
func collectBucketPolicy(ctx context.Context, client s3APIClient, name string) (json.RawMessage, error) {
	out, err := client.GetBucketPolicy(ctx, &s3svc.GetBucketPolicyInput{Bucket: aws.String(name)})
	if err != nil {
		return nil, err
	}
	return compactDocument(aws.ToString(out.Policy))
}

// collectBucketLogging reads the server access logging target.
func collectBucketLogging(ctx context.Context, client s3APIClient, name string) (models.BucketLogging, error) {
	out, err := client.GetBucketLogging(ctx, &s3svc.GetBucketLoggingInput{Bucket: aws.String(name)})
	if err != nil {
		return models.BucketLogging{}, err
	}
	l := models.BucketLogging{Status: "disabled", Configured: true}
	if out.LoggingEnabled != nil {
		l.Status = "enabled"
		l.TargetBucket = aws.ToString(out.LoggingEnabled.TargetBucket)
		l.TargetPrefix = aws.ToString(out.LoggingEnabled.TargetPrefix)
	}
	return l, nil
}

// collectBucketNotification flattens topic, queue and Lambda notifications
// in that order.
func collectBucketNotification(ctx context.Context, client s3APIClient, name string) (models.BucketNotification, error) {
	out, err := client.GetBucketNotificationConfiguration(ctx, &s3svc.GetBucketNotificationConfigurationInput{Bucket: aws.String(name)})
	if err != nil {
		return models.BucketNotification{}, err
	}
	n := models.BucketNotification{Configurations: []models.NotificationTarget{}, Configured: true}
	for _, t := range out.TopicConfigurations {
		n.Configurations = append(n.Configurations, models.NotificationTarget{
			Type: "topic", ID: aws.ToString(t.Id), ARN: aws.ToString(t.TopicArn), Events: eventNames(t.Events),
		})
	}
	for _, q := range out.QueueConfigurations {
		n.Configurations = append(n.Configurations, models.NotificationTarget{
			Type: "queue", ID: aws.ToString(q.Id), ARN: aws.ToString(q.QueueArn), Events: eventNames(q.Events),
		})
	}
	for _, l := range out.LambdaFunctionConfigurations {
		n.Configurations = append(n.Configurations, models.NotificationTarget{
			Type: "lambda", ID: aws.ToString(l.Id), ARN: aws.ToString(l.LambdaFunctionArn), Events: eventNames(l.Events),
		})
	}
	n.Status = "disabled"
	if len(n.Configurations) > 0 {
		n.Status = "enabled"
	}
	return n, nil
}

// collectBucketTags reads the bucket tag set. NoSuchTagSet leaves it empty.
func collectBucketTags(ctx context.Context, client s3APIClient, name string) ([]models.Tag, error) {
	out, err := client.GetBucketTagging(ctx, &s3svc.GetBucketTaggingInput{Bucket: aws.String(name)})
	if err != nil {
		return nil, err
	}
	tags := make([]models.Tag, 0, len(out.TagSet))
	for _, t := range out.TagSet {
		tags = append(tags, models.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return tags, nil
}

func eventNames(events []s3types.Event) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, string(e))
	}
	return names
}

func lowerOr(s, def string) string {
	if s == "" {
		return def
	}
	return strings.ToLower(s)
}

// compactDocument parses a JSON policy document and returns it in compact
// form so identical documents serialise identically. An empty document
// yields nil.
func compactDocument(doc string) (json.RawMessage, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(doc)); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

func (c *DefaultConfigCollector) headBucket(ctx context.Context, client s3APIClient, name string) (*s3svc.HeadBucketOutput, error) {
	hctx, cancel := c.callCtx(ctx)
	defer cancel()
	return client.HeadBucket(hctx, &s3svc.HeadBucketInput{Bucket: aws.String(name)})
}

// bucketRegionFromError returns the x-amz-bucket-region header of a failed
// S3 response, or "" when err carries no HTTP response.
func bucketRegionFromError(err error) string {
	var respErr *awshttp.ResponseError
	if !errors.As(err, &respErr) || respErr.ResponseError == nil {
		return ""
	}
	resp := respErr.HTTPResponse()
	if resp == nil || resp.Response == nil {
		return ""
	}
	return resp.Header.Get("X-Amz-Bucket-Region")
}
