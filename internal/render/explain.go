// Package render provides presentation-layer helpers for detailed finding
// output. It does no collection, evaluation or storage.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// LinkedKeyFindingID returns the id of the key finding a bucket finding
// references, or "" when none is recorded.
func LinkedKeyFindingID(sf models.StoredFinding) string {
	return sf.Finding.UserDefinedFields["LinkedKMSFindingId"]
}

// RenderFindingExplanation writes a structured breakdown of a stored finding
// to w. When linked is non-nil it is rendered as the key finding the bucket
// depends on.
//
// Example output:
//
//	FINDING 65f1c0ffee0000000000abcd (HIGH)
//	Title: S3 Bucket Security Configuration Issues Detected
//	Resource: arn:aws:s3:::customer-data (bucket, us-east-1, 123456789012)
//	Status: Open
//
//	Issues (2):
//	  ✗ Server-side encryption is not enabled
//	  ✗ Versioning is not enabled
func RenderFindingExplanation(w io.Writer, sf models.StoredFinding, linked *models.StoredFinding) {
	fmt.Fprintf(w, "FINDING %s (%s)\n", sf.ID, sf.Severity)
	fmt.Fprintf(w, "Title: %s\n", sf.Title)
	fmt.Fprintf(w, "Resource: %s (%s, %s, %s)\n", sf.ResourceID, sf.ResourceKind, sf.Region, sf.AccountID)
	fmt.Fprintf(w, "Status: %s\n", sf.Status)
	if !sf.FirstSeen.IsZero() {
		fmt.Fprintf(w, "First seen: %s  Last seen: %s\n",
			sf.FirstSeen.UTC().Format("2006-01-02 15:04:05"),
			sf.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(w)

	issues := sf.Finding.Issues
	fmt.Fprintf(w, "Issues (%d):\n", len(issues))
	for _, issue := range issues {
		fmt.Fprintf(w, "  ✗ %s\n", issue)
	}

	if control := sf.Finding.Compliance.SecurityControlID; control != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Control: %s\n", control)
	}

	if id := LinkedKeyFindingID(sf); id != "" {
		fmt.Fprintln(w)
		status := sf.Finding.UserDefinedFields["KMSSecurityStatus"]
		fmt.Fprintf(w, "Linked key finding: %s (%s)\n", id, status)
		if linked != nil {
			for _, issue := range linked.Finding.Issues {
				fmt.Fprintf(w, "  ✗ %s\n", issue)
			}
		}
	}

	if extra := userFields(sf.Finding.UserDefinedFields); len(extra) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fields:")
		for _, k := range extra {
			fmt.Fprintf(w, "  %s: %s\n", k, sf.Finding.UserDefinedFields[k])
		}
	}
}

// userFields returns the sorted user-defined field names worth printing.
// Configuration snapshots and link fields are rendered elsewhere or omitted.
func userFields(fields map[string]string) []string {
	var keys []string
	for k := range fields {
		switch {
		case strings.HasSuffix(k, "Configuration"), k == "LinkedKMSFindingId", k == "KMSSecurityStatus", k == "FindingId":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteExplainJSON writes the explanation as indented JSON to w.
//
// When sf is non-nil, the output is:
//
//	{"finding": {...}, "linked_key_finding": {...}}
//
// When sf is nil (id not found), the output is:
//
//	{"error": "No finding found with id X"}
func WriteExplainJSON(w io.Writer, sf *models.StoredFinding, linked *models.StoredFinding, id string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if sf == nil {
		return enc.Encode(map[string]string{
			"error": fmt.Sprintf("No finding found with id %s", id),
		})
	}
	out := map[string]any{"finding": sf}
	if linked != nil {
		out["linked_key_finding"] = linked
	}
	return enc.Encode(out)
}
