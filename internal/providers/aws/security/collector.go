package awssecurity

import (
	"context"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// ConfigCollector builds security configuration snapshots for single
// resources.
//
// Implementations must never apply business logic or produce findings.
// A failing sub-setting query leaves that setting at its documented default
// and never fails the call; only a failing identity call returns an error,
// which wraps ErrIdentity.
type ConfigCollector interface {
	// CollectBucket snapshots the bucket. An empty region uses the
	// collector's home region and follows the bucket's actual region.
	CollectBucket(ctx context.Context, region, name string) (*models.BucketConfiguration, error)

	// CollectKey snapshots the key. keyID may be a key id, key ARN, alias
	// name or alias ARN.
	CollectKey(ctx context.Context, region, keyID string) (*models.KeyConfiguration, error)
}

// InventoryLister lists the live identifiers of one resource kind. It is
// consumed by the inventory reconciler.
type InventoryLister interface {
	ListResourceKeys(ctx context.Context) ([]string, error)
}
