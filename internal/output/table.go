// Package output renders findings and audit results for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/engine"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// TableOptions controls which columns RenderTable renders and how severity is coloured.
type TableOptions struct {
	// Colored wraps severity labels with ANSI codes. Default false (CI-safe).
	Colored bool

	// IncludeStatus adds a STATUS column with the dashboard workflow status.
	IncludeStatus bool

	// IncludeAccount adds an ACCOUNT column.
	IncludeAccount bool
}

// severityColor returns the colorizer for sev, or nil for uncoloured labels.
func severityColor(sev models.Severity) *color.Color {
	switch sev {
	case models.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case models.SeverityHigh:
		return color.New(color.FgRed)
	case models.SeverityMedium:
		return color.New(color.FgYellow)
	case models.SeverityLow:
		return color.New(color.FgCyan)
	}
	return nil
}

// ColorSeverity wraps a severity string with ANSI codes when colored is true.
// When colored is false the string is returned unchanged (CI-safe default).
func ColorSeverity(sev models.Severity, colored bool) string {
	s := string(sev)
	c := severityColor(sev)
	if !colored || c == nil {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

// ShortenMessage truncates msg to at most max runes, appending "..." when truncated.
// max is treated as at least 4 to guarantee space for the ellipsis.
func ShortenMessage(msg string, max int) string {
	if max < 4 {
		max = 4
	}
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	return string(runes[:max-3]) + "..."
}

// severityCell returns the severity padded to width characters.
// When colored, ANSI codes wrap only the text; trailing padding spaces are plain
// so subsequent columns stay visually aligned regardless of terminal ANSI support.
func severityCell(sev models.Severity, width int, colored bool) string {
	text := string(sev)
	return ColorSeverity(sev, colored) + strings.Repeat(" ", max(width-len(text), 0))
}

// truncateField shortens s to at most max runes for ID/label columns.
func truncateField(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// RenderTable writes a formatted findings table to w.
// Columns are dynamically selected based on opts; the separator line width is
// derived from the header row so all rows align correctly.
//
// Column order:
//
//	ID  RESOURCE  [ACCOUNT]  REGION  SEVERITY  [STATUS]  TITLE
func RenderTable(w io.Writer, findings []models.StoredFinding, opts TableOptions) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return
	}

	const (
		wID       = 24
		wResource = 36
		wAccount  = 12
		wRegion   = 14
		wSeverity = 10
		wStatus   = 11
		wTitle    = 50
	)

	var hb strings.Builder
	hb.WriteString(fmt.Sprintf("%-*s", wID, "ID"))
	hb.WriteString(fmt.Sprintf("  %-*s", wResource, "RESOURCE"))
	if opts.IncludeAccount {
		hb.WriteString(fmt.Sprintf("  %-*s", wAccount, "ACCOUNT"))
	}
	hb.WriteString(fmt.Sprintf("  %-*s", wRegion, "REGION"))
	hb.WriteString(fmt.Sprintf("  %-*s", wSeverity, "SEVERITY"))
	if opts.IncludeStatus {
		hb.WriteString(fmt.Sprintf("  %-*s", wStatus, "STATUS"))
	}
	hb.WriteString(fmt.Sprintf("  %-*s", wTitle, "TITLE"))
	header := strings.TrimRight(hb.String(), " ")

	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))

	for _, f := range findings {
		var rb strings.Builder
		rb.WriteString(fmt.Sprintf("%-*s", wID, truncateField(f.ID, wID)))
		rb.WriteString(fmt.Sprintf("  %-*s", wResource, truncateField(f.ResourceKey, wResource)))
		if opts.IncludeAccount {
			rb.WriteString(fmt.Sprintf("  %-*s", wAccount, truncateField(f.AccountID, wAccount)))
		}
		rb.WriteString(fmt.Sprintf("  %-*s", wRegion, truncateField(f.Region, wRegion)))
		rb.WriteString("  " + severityCell(f.Severity, wSeverity, opts.Colored))
		if opts.IncludeStatus {
			rb.WriteString(fmt.Sprintf("  %-*s", wStatus, truncateField(string(f.Status), wStatus)))
		}
		rb.WriteString("  " + ShortenMessage(f.Title, wTitle))
		fmt.Fprintln(w, rb.String())
	}
}

// outcomeColor colours audit outcomes: failures red, findings yellow,
// everything else green.
func outcomeColor(o engine.Outcome) *color.Color {
	switch {
	case o.Failed():
		return color.New(color.FgRed, color.Bold)
	case o.NonCompliant():
		return color.New(color.FgYellow)
	}
	return color.New(color.FgGreen)
}

// RenderAuditResult writes a short human-readable summary of res, followed
// by its linked key audit when present.
func RenderAuditResult(w io.Writer, res engine.AuditResult, colored bool) {
	renderAudit(w, res, colored, "")
}

func renderAudit(w io.Writer, res engine.AuditResult, colored bool, indent string) {
	outcome := string(res.Outcome)
	if colored {
		c := outcomeColor(res.Outcome)
		c.EnableColor()
		outcome = c.Sprint(outcome)
	}
	fmt.Fprintf(w, "%s%s %s: %s\n", indent, res.Kind, res.ResourceKey, outcome)
	if res.Region != "" || res.AccountID != "" {
		fmt.Fprintf(w, "%s  region: %s  account: %s\n", indent, res.Region, res.AccountID)
	}
	if res.Finding != nil {
		fmt.Fprintf(w, "%s  severity: %s\n", indent, ColorSeverity(res.Finding.Severity.Label, colored))
		for _, issue := range res.Finding.Issues {
			fmt.Fprintf(w, "%s  - %s\n", indent, issue)
		}
	}
	if res.StoredID != "" {
		fmt.Fprintf(w, "%s  stored as: %s\n", indent, res.StoredID)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "%s  error (%s): %v\n", indent, res.Step, res.Err)
	}
	if res.Linked != nil {
		fmt.Fprintf(w, "%s  linked key:\n", indent)
		renderAudit(w, *res.Linked, colored, indent+"    ")
	}
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
