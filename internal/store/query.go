package store

import (
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// newestFirst orders findings by ingestion time, then by id, descending.
var newestFirst = bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}

// filterDocument translates f into a query document.
func filterDocument(f Filter) bson.M {
	q := bson.M{}
	if f.Severity != "" {
		q["severity"] = f.Severity
	}
	if f.Service != "" {
		q["service"] = f.Service
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.Kind != "" {
		q["resource_kind"] = string(f.Kind)
	}
	if f.ResourceKey != "" {
		q["resource_key"] = f.ResourceKey
	}
	if !f.Since.IsZero() {
		q["timestamp"] = bson.M{"$gte": f.Since.UTC()}
	}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		q["$or"] = bson.A{
			bson.M{"title": re},
			bson.M{"description": re},
			bson.M{"resource_id": re},
		}
	}
	return q
}

// upsertUpdate builds the update for an upsert of doc. Mutable projections
// and the finding body are overwritten; id, source, first-seen time and
// dashboard status are only written when the entry is created.
func upsertUpdate(doc findingDocument, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"resource_kind":     doc.ResourceKind,
			"service":           doc.Service,
			"resource_id":       doc.ResourceID,
			"timestamp":         now,
			"severity":          doc.Severity,
			"title":             doc.Title,
			"description":       doc.Description,
			"aws_account_id":    doc.AccountID,
			"region":            doc.Region,
			"compliance_status": doc.ComplianceStatus,
			"workflow_state":    doc.WorkflowState,
			"record_state":      doc.RecordState,
			"updated_at":        now,
			"finding_data":      doc.Finding,
		},
		"$setOnInsert": bson.M{
			"source":     doc.Source,
			"status":     doc.Status,
			"first_seen": now,
		},
	}
}

// upsertFilter identifies the entry a finding upserts into.
func upsertFilter(resourceKey, findingID string) bson.M {
	return bson.M{"resource_key": resourceKey, "finding_id": findingID}
}

// countByPipeline groups matching findings by field, largest groups first.
func countByPipeline(field string, f Filter) (mongo.Pipeline, error) {
	if _, ok := groupableFields[field]; !ok {
		return nil, fmt.Errorf("count by %q: unsupported field", field)
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: filterDocument(f)}},
		{{Key: "$group", Value: bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}, nil
}

func severityCount(label string) bson.M {
	return bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$severity", label}}, 1, 0}}}
}

// timelinePipeline counts findings per UTC day since since, oldest first.
func timelinePipeline(since time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": since.UTC()}}}},
		{{Key: "$group", Value: bson.M{
			"_id":      bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$timestamp"}},
			"total":    bson.M{"$sum": 1},
			"critical": severityCount("CRITICAL"),
			"high":     severityCount("HIGH"),
			"medium":   severityCount("MEDIUM"),
			"low":      severityCount("LOW"),
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}

// idFilter matches a stored finding by ObjectID hex, falling back to the
// content-hash finding id for anything else.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": oid}
	}
	return bson.M{"finding_id": id}
}

// objectIDs parses hex ids.
func objectIDs(ids []string) ([]primitive.ObjectID, error) {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, fmt.Errorf("parse finding id %q: %w", id, err)
		}
		out = append(out, oid)
	}
	return out, nil
}
