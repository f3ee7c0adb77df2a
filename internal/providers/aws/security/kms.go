package awssecurity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	kmssvc "github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// defaultKeyPolicyName is the only policy name KMS supports.
const defaultKeyPolicyName = "default"

// CollectKey implements ConfigCollector. DescribeKey is the only fatal
// call. Every later call uses the canonical key id returned by DescribeKey,
// so alias inputs work.
func (c *DefaultConfigCollector) CollectKey(ctx context.Context, region, keyID string) (*models.KeyConfiguration, error) {
	clients, used := c.clientsFor(regionFromARN(keyID, region))
	client := clients.KMS

	dctx, cancel := c.callCtx(ctx)
	out, err := client.DescribeKey(dctx, &kmssvc.DescribeKeyInput{KeyId: aws.String(keyID)})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: describe key %q: %v", ErrIdentity, keyID, err)
	}
	if out.KeyMetadata == nil {
		return nil, fmt.Errorf("%w: describe key %q: empty metadata", ErrIdentity, keyID)
	}

	meta := out.KeyMetadata
	id := aws.ToString(meta.KeyId)
	cfg := models.DefaultKeyConfiguration(id, used)
	applyKeyMetadata(&cfg, meta)

	c.fetch(ctx, "key", id, "policy", func(ctx context.Context) error {
		doc, err := collectKeyPolicy(ctx, client, id)
		if err == nil {
			cfg.KeyPolicy = doc
		}
		return err
	})
	c.fetch(ctx, "key", id, "rotation", func(ctx context.Context) error {
		enabled, err := collectKeyRotation(ctx, client, id)
		if err == nil {
			cfg.KeyRotationEnabled = enabled
			cfg.RotationKnown = true
		}
		return err
	})
	c.fetch(ctx, "key", id, "aliases", func(ctx context.Context) error {
		aliases, err := collectKeyAliases(ctx, client, id)
		if err == nil {
			cfg.Aliases = aliases
		}
		return err
	})
	c.fetch(ctx, "key", id, "grants", func(ctx context.Context) error {
		grants, err := collectKeyGrants(ctx, client, id)
		if err == nil {
			cfg.Grants = grants
		}
		return err
	})
	c.fetch(ctx, "key", id, "tags", func(ctx context.Context) error {
		tags, err := collectKeyTags(ctx, client, id)
		if err == nil {
			cfg.Tags = tags
		}
		return err
	})

	return &cfg, nil
}

// applyKeyMetadata copies DescribeKey metadata, including replicas of a
// multi-Region key, into cfg.
func applyKeyMetadata(cfg *models.KeyConfiguration, meta *kmstypes.KeyMetadata) {
	cfg.ARN = aws.ToString(meta.Arn)
	cfg.AccountID = aws.ToString(meta.AWSAccountId)
	cfg.Description = aws.ToString(meta.Description)
	cfg.KeyState = string(meta.KeyState)
	cfg.Enabled = meta.Enabled
	cfg.KeyUsage = string(meta.KeyUsage)
	cfg.KeySpec = string(meta.KeySpec)
	cfg.Origin = string(meta.Origin)
	cfg.KeyManager = string(meta.KeyManager)
	cfg.CreationDate = meta.CreationDate
	cfg.DeletionDate = meta.DeletionDate
	cfg.MultiRegion = aws.ToBool(meta.MultiRegion)

	if cfg.MultiRegion && meta.MultiRegionConfiguration != nil {
		for _, r := range meta.MultiRegionConfiguration.ReplicaKeys {
			cfg.Replicas = append(cfg.Replicas, models.KeyReplica{
				ARN:    aws.ToString(r.Arn),
				Region: aws.ToString(r.Region),
			})
		}
	}
}

// collectKeyPolicy reads and compacts the default key policy.
func collectKeyPolicy(ctx context.Context, client kmsAPIClient, keyID string) (json.RawMessage, error) {
	out, err := client.GetKeyPolicy(ctx, &kmssvc.GetKeyPolicyInput{
		KeyId:      aws.String(keyID),
		PolicyName: aws.String(defaultKeyPolicyName),
	})
	if err != nil {
		return nil, err
	}
	return compactDocument(aws.ToString(out.Policy))
}

// collectKeyRotation reads automatic rotation status. Asymmetric and
// imported keys report UnsupportedOperationException, which is treated as
// rotation disabled.
func collectKeyRotation(ctx context.Context, client kmsAPIClient, keyID string) (bool, error) {
	out, err := client.GetKeyRotationStatus(ctx, &kmssvc.GetKeyRotationStatusInput{KeyId: aws.String(keyID)})
	if err != nil {
		return false, err
	}
	return out.KeyRotationEnabled, nil
}

// collectKeyAliases lists aliases that target keyID, sorted by name.
func collectKeyAliases(ctx context.Context, client kmsAPIClient, keyID string) ([]models.KeyAlias, error) {
	aliases := []models.KeyAlias{}
	var marker *string
	for {
		out, err := client.ListAliases(ctx, &kmssvc.ListAliasesInput{KeyId: aws.String(keyID), Marker: marker})
		if err != nil {
			return nil, err
		}
		for _, a := range out.Aliases {
			if target := aws.ToString(a.TargetKeyId); target != "" && target != keyID {
				continue
			}
			aliases = append(aliases, models.KeyAlias{Name: aws.ToString(a.AliasName), ARN: aws.ToString(a.AliasArn)})
		}
		if !out.Truncated || out.NextMarker == nil {
			break
		}
		marker = out.NextMarker
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Name < aliases[j].Name })
	return aliases, nil
}

// collectKeyGrants lists all grants on keyID.
func collectKeyGrants(ctx context.Context, client kmsAPIClient, keyID string) ([]models.KeyGrant, error) {
	grants := []models.KeyGrant{}
	var marker *string
	for {
		out, err := client.ListGrants(ctx, &kmssvc.ListGrantsInput{KeyId: aws.String(keyID), Marker: marker})
		if err != nil {
			return nil, err
		}
		for _, g := range out.Grants {
			ops := make([]string, 0, len(g.Operations))
			for _, op := range g.Operations {
				ops = append(ops, string(op))
			}
			grants = append(grants, models.KeyGrant{
				GrantID:          aws.ToString(g.GrantId),
				Name:             aws.ToString(g.Name),
				GranteePrincipal: aws.ToString(g.GranteePrincipal),
				Operations:       ops,
			})
		}
		if !out.Truncated || out.NextMarker == nil {
			break
		}
		marker = out.NextMarker
	}
	return grants, nil
}

// collectKeyTags lists resource tags on keyID.
func collectKeyTags(ctx context.Context, client kmsAPIClient, keyID string) ([]models.Tag, error) {
	tags := []models.Tag{}
	var marker *string
	for {
		out, err := client.ListResourceTags(ctx, &kmssvc.ListResourceTagsInput{KeyId: aws.String(keyID), Marker: marker})
		if err != nil {
			return nil, err
		}
		for _, t := range out.Tags {
			tags = append(tags, models.Tag{Key: aws.ToString(t.TagKey), Value: aws.ToString(t.TagValue)})
		}
		if !out.Truncated || out.NextMarker == nil {
			break
		}
		marker = out.NextMarker
	}
	return tags, nil
}
