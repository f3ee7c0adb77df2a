package output_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/engine"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/output"
)

// ── helpers ───────────────────────────────────────────────────────────────────

func renderToString(findings []models.StoredFinding, opts output.TableOptions) string {
	var buf bytes.Buffer
	output.RenderTable(&buf, findings, opts)
	return buf.String()
}

func oneFinding(overrides ...func(*models.StoredFinding)) models.StoredFinding {
	f := models.StoredFinding{
		ID:          "65f1c0ffee0000000000abcd",
		ResourceKey: "customer-data",
		AccountID:   "123456789012",
		Region:      "us-east-1",
		Severity:    models.SeverityHigh,
		Status:      models.StatusOpen,
		Title:       "S3 Bucket Security Configuration Issues Detected",
	}
	for _, fn := range overrides {
		fn(&f)
	}
	return f
}

// ── columns ───────────────────────────────────────────────────────────────────

func TestRenderTable_DefaultColumns(t *testing.T) {
	out := renderToString([]models.StoredFinding{oneFinding()}, output.TableOptions{})
	for _, want := range []string{"ID", "RESOURCE", "REGION", "SEVERITY", "TITLE", "customer-data", "HIGH"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output\ngot:\n%s", want, out)
		}
	}
	for _, absent := range []string{"STATUS", "ACCOUNT"} {
		if strings.Contains(out, absent) {
			t.Errorf("%s column must not appear by default\ngot:\n%s", absent, out)
		}
	}
}

func TestRenderTable_OptionalColumns(t *testing.T) {
	out := renderToString([]models.StoredFinding{oneFinding()}, output.TableOptions{IncludeStatus: true, IncludeAccount: true})
	for _, want := range []string{"STATUS", "Open", "ACCOUNT", "123456789012"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output\ngot:\n%s", want, out)
		}
	}
}

func TestRenderTable_Empty(t *testing.T) {
	if out := renderToString(nil, output.TableOptions{}); strings.TrimSpace(out) != "No findings." {
		t.Errorf("got %q; want No findings.", out)
	}
}

func TestRenderTable_SeparatorMatchesHeader(t *testing.T) {
	out := renderToString([]models.StoredFinding{oneFinding()}, output.TableOptions{IncludeStatus: true})
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if len(lines[1]) != len(lines[0]) {
		t.Errorf("separator length %d; header length %d", len(lines[1]), len(lines[0]))
	}
}

func TestRenderTable_LongResourceTruncated(t *testing.T) {
	long := strings.Repeat("b", 80)
	out := renderToString([]models.StoredFinding{oneFinding(func(f *models.StoredFinding) { f.ResourceKey = long })}, output.TableOptions{})
	if strings.Contains(out, long) {
		t.Error("long resource key should be truncated")
	}
	if !strings.Contains(out, "…") {
		t.Error("truncated field should end with an ellipsis")
	}
}

// ── colour ────────────────────────────────────────────────────────────────────

func TestColorSeverity(t *testing.T) {
	if got := output.ColorSeverity(models.SeverityCritical, false); got != "CRITICAL" {
		t.Errorf("uncoloured = %q", got)
	}
	got := output.ColorSeverity(models.SeverityCritical, true)
	if !strings.Contains(got, "\x1b[") || !strings.Contains(got, "CRITICAL") {
		t.Errorf("coloured = %q; want ANSI codes", got)
	}
	if got := output.ColorSeverity(models.SeverityInformational, true); got != "INFORMATIONAL" {
		t.Errorf("informational = %q; want plain", got)
	}
}

func TestRenderTable_ColoredKeepsAlignment(t *testing.T) {
	plain := renderToString([]models.StoredFinding{oneFinding()}, output.TableOptions{})
	colored := renderToString([]models.StoredFinding{oneFinding()}, output.TableOptions{Colored: true})
	strip := func(s string) string {
		for _, code := range []string{"\x1b[31m", "\x1b[0m"} {
			s = strings.ReplaceAll(s, code, "")
		}
		return s
	}
	if strip(colored) != plain {
		t.Errorf("coloured output differs beyond ANSI codes:\n%q\n%q", strip(colored), plain)
	}
}

func TestShortenMessage(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 2, "a..."},
	}
	for _, tt := range tests {
		if got := output.ShortenMessage(tt.in, tt.max); got != tt.want {
			t.Errorf("ShortenMessage(%q, %d) = %q; want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

// ── audit results ─────────────────────────────────────────────────────────────

func TestRenderAuditResult_WithLinkedKey(t *testing.T) {
	res := engine.AuditResult{
		Kind:        models.ResourceBucket,
		ResourceKey: "customer-data",
		Region:      "us-east-1",
		AccountID:   "123456789012",
		Outcome:     engine.OutcomeFindingStored,
		StoredID:    "abc",
		Finding: &models.Finding{
			Severity: models.FindingSeverity{Label: models.SeverityHigh},
			Issues:   []string{"Versioning is not enabled"},
		},
		Linked: &engine.AuditResult{
			Kind:        models.ResourceKey,
			ResourceKey: "k-1",
			Outcome:     engine.OutcomeCollectionFailed,
			Step:        "collect",
			Err:         errors.New("access denied"),
		},
	}
	var buf bytes.Buffer
	output.RenderAuditResult(&buf, res, false)
	out := buf.String()

	for _, want := range []string{
		"bucket customer-data: finding_stored",
		"severity: HIGH",
		"- Versioning is not enabled",
		"stored as: abc",
		"linked key:",
		"key k-1: collection_failed",
		"error (collect): access denied",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output\ngot:\n%s", want, out)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := output.WriteJSON(&buf, map[string]int{"removed": 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil || got["removed"] != 2 {
		t.Errorf("got %s", buf.String())
	}
}
