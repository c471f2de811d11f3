// Package narration implements the narration adapter (C9): a second,
// optional LLM call that rewrites an already-resolved verdict into
// user-facing copy. It is read-only with respect to the decision — on any
// failure it degrades to an empty Narration rather than blocking or
// altering the resolved verdict.
package narration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/baggagecheck/internal/classifier"
	"github.com/dshills/baggagecheck/internal/schema"
)

// Options configures a Narrate call.
type Options struct {
	Provider    string
	MaxTokens   int
	Temperature float64
	Model       string
}

// Narrate asks the LLM to rewrite resolved into user-facing copy. Any
// error — provider construction, the call itself, or an unparsable
// response — results in a zero-value Narration and a non-nil error; callers
// should log the error and proceed with the zero value, never surface it as
// a pipeline failure.
func Narrate(ctx context.Context, label string, resolved schema.Resolved, engine schema.EngineTrace, opts Options) (schema.Narration, error) {
	provider, err := classifier.NewProvider(opts.Provider, opts.Model)
	if err != nil {
		return schema.Narration{}, fmt.Errorf("narration: create provider: %w", err)
	}

	sysPrompt := "You rewrite an already-decided baggage screening verdict into short, friendly traveler-facing copy. " +
		"You do not change the decision. Output ONLY JSON: " +
		`{"title":"...","carry_on_blurb":"...","checked_blurb":"...","bullets":["..."],"badges":["..."],"footnote":"..."}`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Item: %q\n", label)
	fmt.Fprintf(&sb, "Canonical: %s\n", engine.Canonical)
	fmt.Fprintf(&sb, "Carry-on: %s\n", resolved.CarryOn.Status)
	fmt.Fprintf(&sb, "Checked: %s\n", resolved.Checked.Status)
	sb.WriteString("Write the JSON now.")

	raw, err := provider.Complete(ctx, sysPrompt, sb.String(), opts.MaxTokens, opts.Temperature)
	if err != nil {
		return schema.Narration{}, fmt.Errorf("narration: complete: %w", err)
	}

	var n schema.Narration
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &n); err != nil {
		return schema.Narration{}, fmt.Errorf("narration: parse response: %w", err)
	}
	return n, nil
}
