package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/linnemanlabs/aitriage/internal/triage"
)

// Format is a report output format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat parses a format name. Empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatMarkdown, nil
	case FormatText, FormatMarkdown, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("invalid report format %q (want text, markdown or json)", s)
	}
}

// ContentType returns the HTTP media type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Render encodes r in format f.
func Render(r *Report, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		return append(b, '\n'), nil
	case FormatText:
		return []byte(renderText(r)), nil
	case FormatMarkdown:
		return []byte(renderMarkdown(r)), nil
	default:
		return nil, fmt.Errorf("invalid report format %q", f)
	}
}

func value(v *float64, unit string) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + unit
}

func renderText(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "aiTriage Situation Report: %s (%s)\n\n", r.Service, r.Env)
	fmt.Fprintf(&b, "Incident: %s\n", r.IncidentID)
	fmt.Fprintf(&b, "Status:   %s\n", r.Status)
	fmt.Fprintf(&b, "Impact:   %s (confidence %s)\n", r.Impact.Impact, strconv.FormatFloat(r.Impact.Confidence, 'f', -1, 64))
	fmt.Fprintf(&b, "Class:    %s\n", r.Impact.Classification)
	if r.ResolutionStatus != "" && r.ResolutionStatus != triage.ResolutionNone {
		fmt.Fprintf(&b, "Resolved: %s", r.ResolutionStatus)
		if r.ResolutionNote != "" {
			fmt.Fprintf(&b, " (%s)", r.ResolutionNote)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nSummary\n-------\n")
	b.WriteString(strings.TrimSpace(r.Summary) + "\n")
	for _, reason := range r.Impact.Reasons {
		fmt.Fprintf(&b, "  * %s\n", reason)
	}

	if r.Narrative != nil {
		b.WriteString("\nNarrative\n---------\n")
		b.WriteString(strings.TrimSpace(r.Narrative.Text) + "\n")
		fmt.Fprintf(&b, "(%s, %s)\n", r.Narrative.Provider, r.Narrative.Model)
	}

	b.WriteString("\nSignals\n-------\n")
	for _, s := range r.Signals {
		fmt.Fprintf(&b, "- %s: %s (trend %s) [%s / %s]\n",
			s.SignalType, s.State, s.Trend, value(s.Observed, s.Unit), value(s.Threshold, s.Unit))
	}

	b.WriteString("\nSuggested runbook steps\n-----------------------\n")
	for i, step := range r.Runbook {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step.Title)
		writeItems(&b, "verify", step.Verify, "%s")
		writeItems(&b, "mitigate", step.Mitigate, "%s")
		writeItems(&b, "confirm", step.Confirm, "%s")
		writeItems(&b, "exampleCommands", step.ExampleCommands, "%s")
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderMarkdown(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## aiTriage Situation Report: `%s` (`%s`)\n\n", r.Service, r.Env)
	fmt.Fprintf(&b, "- **Incident**: `%s`\n", r.IncidentID)
	fmt.Fprintf(&b, "- **Status**: `%s`\n", r.Status)
	fmt.Fprintf(&b, "- **Impact**: **%s** (confidence %s)\n", r.Impact.Impact, strconv.FormatFloat(r.Impact.Confidence, 'f', -1, 64))
	fmt.Fprintf(&b, "- **Classification**: `%s`\n", r.Impact.Classification)
	if r.ResolutionStatus != "" && r.ResolutionStatus != triage.ResolutionNone {
		fmt.Fprintf(&b, "- **Resolution**: `%s`", r.ResolutionStatus)
		if r.ResolutionNote != "" {
			fmt.Fprintf(&b, " %s", r.ResolutionNote)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n### Summary\n\n")
	if s := strings.TrimSpace(r.Summary); s != "" {
		b.WriteString(s + "\n")
	} else {
		b.WriteString("_No summary_\n")
	}
	if len(r.Impact.Reasons) > 0 {
		b.WriteString("\n")
		for _, reason := range r.Impact.Reasons {
			fmt.Fprintf(&b, "- %s\n", reason)
		}
	}

	if r.Narrative != nil {
		b.WriteString("\n### Narrative\n\n")
		b.WriteString(strings.TrimSpace(r.Narrative.Text) + "\n\n")
		fmt.Fprintf(&b, "_Generated by %s (`%s`)._\n", r.Narrative.Provider, r.Narrative.Model)
	}

	b.WriteString("\n### Signals\n\n")
	for _, s := range r.Signals {
		fmt.Fprintf(&b, "- **%s**: `%s` (trend `%s`) `%s` / `%s`\n",
			s.SignalType, s.State, s.Trend, value(s.Observed, s.Unit), value(s.Threshold, s.Unit))
	}

	b.WriteString("\n### Suggested runbook steps\n\n")
	for i, step := range r.Runbook {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, step.Title)
		writeItems(&b, "**verify**", step.Verify, "%s")
		writeItems(&b, "**mitigate**", step.Mitigate, "%s")
		writeItems(&b, "**confirm**", step.Confirm, "%s")
		writeItems(&b, "**exampleCommands**", step.ExampleCommands, "`%s`")
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeItems(b *strings.Builder, label string, items []string, itemFmt string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "   - %s:\n", label)
	for _, it := range items {
		fmt.Fprintf(b, "     - "+itemFmt+"\n", it)
	}
}
