package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// findingDocument is the persisted layout of a stored finding.
type findingDocument struct {
	ID               primitive.ObjectID   `bson:"_id,omitempty"`
	ResourceKey      string               `bson:"resource_key"`
	ResourceKind     models.ResourceKind  `bson:"resource_kind"`
	Service          string               `bson:"service"`
	ResourceID       string               `bson:"resource_id"`
	Timestamp        time.Time            `bson:"timestamp"`
	Source           string               `bson:"source"`
	FindingID        string               `bson:"finding_id"`
	Severity         models.Severity      `bson:"severity"`
	Title            string               `bson:"title"`
	Description      string               `bson:"description"`
	AccountID        string               `bson:"aws_account_id"`
	Region           string               `bson:"region"`
	ComplianceStatus string               `bson:"compliance_status"`
	WorkflowState    string               `bson:"workflow_state"`
	RecordState      string               `bson:"record_state"`
	Status           models.FindingStatus `bson:"status"`
	FirstSeen        time.Time            `bson:"first_seen"`
	UpdatedAt        time.Time            `bson:"updated_at"`
	Finding          models.Finding       `bson:"finding_data"`
}

func newFindingDocument(sf models.StoredFinding) findingDocument {
	return findingDocument{
		ResourceKey:      sf.ResourceKey,
		ResourceKind:     sf.ResourceKind,
		Service:          sf.Service,
		ResourceID:       sf.ResourceID,
		Timestamp:        sf.Timestamp,
		Source:           sf.Source,
		FindingID:        sf.FindingID,
		Severity:         sf.Severity,
		Title:            sf.Title,
		Description:      sf.Description,
		AccountID:        sf.AccountID,
		Region:           sf.Region,
		ComplianceStatus: sf.ComplianceStatus,
		WorkflowState:    sf.WorkflowState,
		RecordState:      sf.RecordState,
		Status:           sf.Status,
		FirstSeen:        sf.FirstSeen,
		UpdatedAt:        sf.UpdatedAt,
		Finding:          sf.Finding,
	}
}

func (d findingDocument) model() models.StoredFinding {
	return models.StoredFinding{
		ID:               d.ID.Hex(),
		ResourceKey:      d.ResourceKey,
		ResourceKind:     d.ResourceKind,
		Service:          d.Service,
		ResourceID:       d.ResourceID,
		Timestamp:        d.Timestamp.UTC(),
		Source:           d.Source,
		FindingID:        d.FindingID,
		Severity:         d.Severity,
		Title:            d.Title,
		Description:      d.Description,
		AccountID:        d.AccountID,
		Region:           d.Region,
		ComplianceStatus: d.ComplianceStatus,
		WorkflowState:    d.WorkflowState,
		RecordState:      d.RecordState,
		Status:           d.Status,
		FirstSeen:        d.FirstSeen.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
		Finding:          d.Finding,
	}
}
