// Package render produces output from a fully assembled schema.PreviewResult.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/baggagecheck/internal/schema"
)

// RenderJSON produces a pretty-printed JSON representation of the preview
// result. The output round-trips through json.Unmarshal back to an equal
// PreviewResult.
func RenderJSON(result *schema.PreviewResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("render: nil result")
	}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a short Markdown summary of the preview result,
// suitable for terminal output. It never introduces a verdict or numeric
// value not already present in result — it only formats what the pipeline
// already decided.
func RenderMarkdown(result *schema.PreviewResult) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("## Baggage Preview\n\n")
	fmt.Fprintf(&sb, "**State:** %s  \n", result.State)
	fmt.Fprintf(&sb, "**Canonical:** %s\n\n", result.Engine.Canonical)

	sb.WriteString("| Bag | Status | Badges |\n")
	sb.WriteString("|---|---|---|\n")
	fmt.Fprintf(&sb, "| carry_on | %s | %s |\n", result.Resolved.CarryOn.Status, mdEscape(strings.Join(result.Resolved.CarryOn.Badges, ", ")))
	fmt.Fprintf(&sb, "| checked | %s | %s |\n\n", result.Resolved.Checked.Status, mdEscape(strings.Join(result.Resolved.Checked.Badges, ", ")))

	if len(result.Engine.AppliedRules) > 0 {
		sb.WriteString("**Applied rules:** ")
		sb.WriteString(strings.Join(result.Engine.AppliedRules, ", "))
		sb.WriteString("\n\n")
	}

	if flags := renderFlags(result.Flags); flags != "" {
		sb.WriteString("**Flags:** ")
		sb.WriteString(flags)
		sb.WriteString("\n\n")
	}

	if result.Narration.Title != "" || len(result.Narration.Bullets) > 0 {
		sb.WriteString("### Narration\n\n")
		if result.Narration.Title != "" {
			fmt.Fprintf(&sb, "**%s**\n\n", mdEscape(result.Narration.Title))
		}
		if result.Narration.CarryOnBlurb != "" {
			fmt.Fprintf(&sb, "- Carry-on: %s\n", mdEscape(result.Narration.CarryOnBlurb))
		}
		if result.Narration.CheckedBlurb != "" {
			fmt.Fprintf(&sb, "- Checked: %s\n", mdEscape(result.Narration.CheckedBlurb))
		}
		for _, b := range result.Narration.Bullets {
			fmt.Fprintf(&sb, "- %s\n", mdEscape(b))
		}
		if result.Narration.Footnote != "" {
			fmt.Fprintf(&sb, "\n_%s_\n", mdEscape(result.Narration.Footnote))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderFlags renders the set of raised flags as a comma-separated list,
// including the detail any flag carries (e.g. missing_params names).
func renderFlags(f schema.Flags) string {
	var parts []string
	if f.ValidationError {
		parts = append(parts, "validation_error")
	}
	if len(f.MissingParams) > 0 {
		parts = append(parts, fmt.Sprintf("missing_params(%s)", strings.Join(f.MissingParams, ",")))
	}
	if f.LowConfidence {
		parts = append(parts, "low_confidence")
	}
	if f.Conflict {
		parts = append(parts, "conflict")
	}
	if f.LLMError {
		parts = append(parts, "llm_error")
	}
	if f.Override {
		parts = append(parts, "override")
	}
	return strings.Join(parts, ", ")
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
