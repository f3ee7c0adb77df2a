package awssecurity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	kmssvc "github.com/aws/aws-sdk-go-v2/service/kms"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
)

// ListBuckets returns the names of every bucket owned by the account,
// sorted. Any page failure fails the whole listing so a partial inventory
// is never mistaken for the live state.
func (c *DefaultConfigCollector) ListBuckets(ctx context.Context) ([]string, error) {
	clients, _ := c.clientsFor("")
	paginator := s3svc.NewListBucketsPaginator(clients.S3, &s3svc.ListBucketsInput{})

	var names []string
	for paginator.HasMorePages() {
		pctx, cancel := c.callCtx(ctx)
		page, err := paginator.NextPage(pctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("list S3 buckets: %w", err)
		}
		for _, b := range page.Buckets {
			names = append(names, aws.ToString(b.Name))
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListKeys returns the ids of every key in regions, sorted. A failure in
// any region fails the whole listing.
func (c *DefaultConfigCollector) ListKeys(ctx context.Context, regions []string) ([]string, error) {
	if len(regions) == 0 {
		regions = []string{c.base.Region}
	}

	var ids []string
	for _, region := range regions {
		clients, _ := c.clientsFor(region)
		paginator := kmssvc.NewListKeysPaginator(clients.KMS, &kmssvc.ListKeysInput{})
		for paginator.HasMorePages() {
			pctx, cancel := c.callCtx(ctx)
			page, err := paginator.NextPage(pctx)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("list KMS keys in %s: %w", region, err)
			}
			for _, k := range page.Keys {
				ids = append(ids, aws.ToString(k.KeyId))
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// BucketInventory adapts a DefaultConfigCollector to InventoryLister for
// buckets.
type BucketInventory struct {
	Collector *DefaultConfigCollector
}

// ListResourceKeys implements InventoryLister.
func (b BucketInventory) ListResourceKeys(ctx context.Context) ([]string, error) {
	return b.Collector.ListBuckets(ctx)
}

// KeyInventory adapts a DefaultConfigCollector to InventoryLister for keys
// across the regions returned by Regions.
type KeyInventory struct {
	Collector *DefaultConfigCollector
	Regions   func(ctx context.Context) ([]string, error)
}

// ListResourceKeys implements InventoryLister. A region discovery failure
// is a listing failure.
func (k KeyInventory) ListResourceKeys(ctx context.Context) ([]string, error) {
	var regions []string
	if k.Regions != nil {
		r, err := k.Regions(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve key regions: %w", err)
		}
		regions = r
	}
	return k.Collector.ListKeys(ctx, regions)
}

// KeyIDFromReference extracts the bare key id from a key ARN
// ("arn:aws:kms:<region>:<account>:key/<id>"). Alias ARNs, alias names and
// bare ids are returned unchanged.
func KeyIDFromReference(ref string) string {
	if !strings.HasPrefix(ref, "arn:") {
		return ref
	}
	parts := strings.SplitN(ref, ":", 6)
	if len(parts) != 6 {
		return ref
	}
	if id, ok := strings.CutPrefix(parts[5], "key/"); ok {
		return id
	}
	return ref
}

// regionFromARN returns the region embedded in a KMS ARN, or fallback for
// anything that is not an ARN.
func regionFromARN(ref, fallback string) string {
	if !strings.HasPrefix(ref, "arn:") {
		return fallback
	}
	parts := strings.SplitN(ref, ":", 6)
	if len(parts) != 6 || parts[3] == "" {
		return fallback
	}
	return parts[3]
}
