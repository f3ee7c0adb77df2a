package models

import "time"

// Severity is the normalized severity label of a finding.
type Severity string

const (
	SeverityCritical      Severity = "CRITICAL"
	SeverityHigh          Severity = "HIGH"
	SeverityMedium        Severity = "MEDIUM"
	SeverityLow           Severity = "LOW"
	SeverityInformational Severity = "INFORMATIONAL"
)

// Finding lifecycle constants.
const (
	RecordStateActive    = "ACTIVE"
	WorkflowStateNew     = "NEW"
	ComplianceFailed     = "FAILED"
	FindingSchemaVersion = "2018-10-08"
)

// FindingSeverity is the label plus normalized 0-100 score.
type FindingSeverity struct {
	Label      Severity `json:"Label" bson:"Label"`
	Normalized int      `json:"Normalized" bson:"Normalized"`
}

// FindingResource identifies the audited resource inside a finding.
type FindingResource struct {
	Type      string         `json:"Type" bson:"Type"`
	ID        string         `json:"Id" bson:"Id"`
	Partition string         `json:"Partition" bson:"Partition"`
	Region    string         `json:"Region" bson:"Region"`
	Details   map[string]any `json:"Details,omitempty" bson:"Details,omitempty"`
}

// FindingCompliance records the failed control.
type FindingCompliance struct {
	Status              string               `json:"Status" bson:"Status"`
	SecurityControlID   string               `json:"SecurityControlId" bson:"SecurityControlId"`
	AssociatedStandards []AssociatedStandard `json:"AssociatedStandards" bson:"AssociatedStandards"`
}

// AssociatedStandard names a standard the control belongs to.
type AssociatedStandard struct {
	StandardsID string `json:"StandardsId" bson:"StandardsId"`
}

// Finding is one detected non-compliant condition for one resource at one
// point in time. The layout follows the AWS Security Finding Format so the
// dashboard can read it without translation.
//
// FindingID is a pure function of (account, region, resource name,
// operation kind); re-auditing the same resource always yields the same id.
type Finding struct {
	SchemaVersion     string            `json:"SchemaVersion" bson:"SchemaVersion"`
	ID                string            `json:"Id" bson:"Id"`
	FindingID         string            `json:"FindingId" bson:"FindingId"`
	ProductARN        string            `json:"ProductArn" bson:"ProductArn"`
	GeneratorID       string            `json:"GeneratorId" bson:"GeneratorId"`
	AccountID         string            `json:"AwsAccountId" bson:"AwsAccountId"`
	Types             []string          `json:"Types" bson:"Types"`
	CreatedAt         time.Time         `json:"CreatedAt" bson:"CreatedAt"`
	UpdatedAt         time.Time         `json:"UpdatedAt" bson:"UpdatedAt"`
	Severity          FindingSeverity   `json:"Severity" bson:"Severity"`
	Title             string            `json:"Title" bson:"Title"`
	Description       string            `json:"Description" bson:"Description"`
	Issues            []string          `json:"Issues" bson:"Issues"`
	Resources         []FindingResource `json:"Resources" bson:"Resources"`
	RecordState       string            `json:"RecordState" bson:"RecordState"`
	WorkflowState     string            `json:"WorkflowState" bson:"WorkflowState"`
	Compliance        FindingCompliance `json:"Compliance" bson:"Compliance"`
	UserDefinedFields map[string]string `json:"UserDefinedFields" bson:"UserDefinedFields"`
}

// Kind returns the resource kind the finding was produced for, derived from
// its resource type.
func (f *Finding) Kind() ResourceKind {
	if len(f.Resources) > 0 && f.Resources[0].Type == "AwsKmsKey" {
		return ResourceKey
	}
	return ResourceBucket
}

// ResourceID returns the primary resource ARN of the finding.
func (f *Finding) ResourceID() string {
	if len(f.Resources) == 0 {
		return ""
	}
	return f.Resources[0].ID
}

// Region returns the region of the primary resource.
func (f *Finding) Region() string {
	if len(f.Resources) == 0 {
		return ""
	}
	return f.Resources[0].Region
}

// FindingStatus is the dashboard workflow status of a stored finding.
type FindingStatus string

const (
	StatusOpen       FindingStatus = "Open"
	StatusInProgress FindingStatus = "In Progress"
	StatusResolved   FindingStatus = "Resolved"
)

// Valid reports whether s is one of the accepted dashboard statuses.
func (s FindingStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// StoredFinding is a Finding as persisted in the findings store: the
// finding itself plus a store-assigned id, the grouping resource key, the
// ingestion timestamp and denormalized projection fields used for listing.
type StoredFinding struct {
	ID               string        `json:"_id"`
	ResourceKey      string        `json:"resource_key"`
	ResourceKind     ResourceKind  `json:"resource_kind"`
	Service          string        `json:"service"`
	ResourceID       string        `json:"resource_id"`
	Timestamp        time.Time     `json:"timestamp"`
	Source           string        `json:"source"`
	FindingID        string        `json:"finding_id"`
	Severity         Severity      `json:"severity"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	AccountID        string        `json:"aws_account_id"`
	Region           string        `json:"region"`
	ComplianceStatus string        `json:"compliance_status"`
	WorkflowState    string        `json:"workflow_state"`
	RecordState      string        `json:"record_state"`
	Status           FindingStatus `json:"status"`
	FirstSeen        time.Time     `json:"first_seen"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Finding          Finding       `json:"finding_data"`
}

// NewStoredFinding builds the stored projection of f for resourceKey. The
// store assigns ID; ingestedAt becomes the ingestion timestamp.
func NewStoredFinding(f Finding, resourceKey string, ingestedAt time.Time) StoredFinding {
	kind := f.Kind()
	return StoredFinding{
		ResourceKey:      resourceKey,
		ResourceKind:     kind,
		Service:          kind.Service(),
		ResourceID:       f.ResourceID(),
		Timestamp:        ingestedAt,
		Source:           "cspm-auditor",
		FindingID:        f.FindingID,
		Severity:         f.Severity.Label,
		Title:            f.Title,
		Description:      f.Description,
		AccountID:        f.AccountID,
		Region:           f.Region(),
		ComplianceStatus: f.Compliance.Status,
		WorkflowState:    f.WorkflowState,
		RecordState:      f.RecordState,
		Status:           StatusOpen,
		FirstSeen:        ingestedAt,
		UpdatedAt:        ingestedAt,
		Finding:          f,
	}
}
