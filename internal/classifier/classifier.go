// Package classifier implements the LLM-assisted classifier (C3) and the
// schema guard (C4) that validates its structural output. It builds the
// canonical-key prompt from the taxonomy catalog, calls one of three LLM
// backends, validates the JSON response, and performs a single repair
// attempt before giving up.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/baggagecheck/internal/schema"
	"github.com/dshills/baggagecheck/internal/taxonomy"
)

// ErrClassifierUnavailable is the sentinel a post-repair schema-validation
// failure satisfies via errors.Is (through *SchemaValidationError).
// Transport, timeout and provider-construction errors are returned wrapped
// with context and do not match it. Callers that need to pick between
// Flags.LLMError and Flags.ValidationError use errors.As against
// *SchemaValidationError: present means the
// model responded but its output never passed the schema guard even after
// repair, so Flags.ValidationError is the correct flag; absent means a
// transport/timeout error occurred, so Flags.LLMError is the correct flag.
var ErrClassifierUnavailable = errors.New("classifier: invalid model output after repair attempt")

// SchemaValidationError is returned when both the initial and the repaired
// LLM response fail schema validation. It carries the field-level errors
// from the final (repair) attempt so the caller can record what was wrong.
type SchemaValidationError struct {
	Errs []ValidationError
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("classifier: invalid model output after repair attempt: %d error(s): %v", len(e.Errs), e.Errs)
}

// Is lets errors.Is(err, ErrClassifierUnavailable) keep matching a
// *SchemaValidationError, so existing callers that only check "was the
// classifier unavailable" need no change.
func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrClassifierUnavailable
}

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// NewProvider is the factory for creating LLM providers. It is a
// package-level variable so tests can replace it with a mock without
// modifying the call site. Tests must restore the original value; use
// t.Cleanup to do so safely.
var NewProvider func(providerName, model string) (Provider, error) = defaultNewProvider

// Options configures a Classify call.
type Options struct {
	Provider    string
	MaxTokens   int
	Temperature float64
	Model       string
	Debug       bool
}

// ValidationError records a single structural validation failure on an LLM
// response.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Classify builds a prompt from the item label and taxonomy catalog, calls
// the LLM, validates the structural shape of the response, and performs one
// repair attempt if the response cannot be parsed, lacks a canonical key, or
// names a key outside the taxonomy. Non-fatal validation errors (status
// enums, confidence range, matched terms) trigger no repair and are not
// returned to the caller.
func Classify(ctx context.Context, label string, tax *taxonomy.Taxonomy, opts Options) (*schema.ClassificationDraft, error) {
	provider, err := NewProvider(opts.Provider, opts.Model)
	if err != nil {
		return nil, fmt.Errorf("classifier: create provider: %w", err)
	}

	sysPrompt := buildSystemPrompt(tax)
	userPrompt := buildUserPrompt(label)

	if opts.Debug {
		fmt.Fprintf(os.Stderr, "=== DEBUG: system prompt ===\n%s\n", sysPrompt)
		fmt.Fprintf(os.Stderr, "=== DEBUG: user prompt ===\n%s\n", userPrompt)
	}

	raw, err := provider.Complete(ctx, sysPrompt, userPrompt, opts.MaxTokens, opts.Temperature)
	if err != nil {
		return nil, fmt.Errorf("classifier: complete: %w", err)
	}

	draft, validationErrs := ValidateResponse(raw, label, tax)
	if draft != nil && !needsRepair(validationErrs) {
		draft.ModelInfo = schema.ModelInfo{Name: opts.Model, Temperature: opts.Temperature}
		return draft, nil
	}

	repairPrompt := buildRepairPrompt(userPrompt, raw, validationErrs)
	raw2, err := provider.Complete(ctx, sysPrompt, repairPrompt, opts.MaxTokens, opts.Temperature)
	if err != nil {
		return nil, fmt.Errorf("classifier: repair complete: %w", err)
	}

	draft2, validationErrs2 := ValidateResponse(raw2, label, tax)
	if draft2 != nil && !needsRepair(validationErrs2) {
		draft2.ModelInfo = schema.ModelInfo{Name: opts.Model, Temperature: opts.Temperature}
		return draft2, nil
	}

	return nil, &SchemaValidationError{Errs: validationErrs2}
}

// needsRepair returns true when validation errors include a parse or
// required-field failure that requires a retry.
func needsRepair(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Field == "json_parse" || e.Field == "required_field" {
			return true
		}
	}
	return false
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences. Both backtick
// and tilde fence styles are supported.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence
// required), used to strip orphaned opening fences from truncated
// responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences that
// LLMs sometimes wrap around JSON output.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape character. LLMs sometimes emit regex-like
// fragments unescaped inside JSON strings; this sanitizer double-escapes
// them so the parser accepts the response.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// ValidateResponse parses and structurally validates the raw LLM response
// against label, the item label the model was asked to classify. Leading/
// trailing markdown fences are stripped before parsing. Returns a nil draft
// only on parse failure, missing required fields, or an unknown canonical
// key.
func ValidateResponse(raw, label string, tax *taxonomy.Taxonomy) (*schema.ClassificationDraft, []ValidationError) {
	var errs []ValidationError

	raw = stripMarkdownFences(raw)

	var draft schema.ClassificationDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		fixed := fixInvalidJSONEscapes(raw)
		if err2 := json.Unmarshal([]byte(fixed), &draft); err2 != nil {
			errs = append(errs, ValidationError{Field: "json_parse", Message: err.Error()})
			return nil, errs
		}
		raw = fixed
	}

	if draft.Canonical == "" {
		errs = append(errs, ValidationError{Field: "required_field", Message: "canonical is missing"})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if tax != nil && !tax.IsKnown(draft.Canonical) {
		errs = append(errs, ValidationError{
			Field:   "canonical",
			Message: fmt.Sprintf("canonical key %q is not in the taxonomy", draft.Canonical),
		})
		return nil, errs
	}

	errs = append(errs, validateEnums(&draft)...)
	errs = append(errs, validateConfidence(&draft)...)
	errs = append(errs, validateMatchedTerms(&draft, label)...)

	return &draft, errs
}

// validateMatchedTerms enforces spec §4.4(d): matched_terms count (2 to 4
// entries) and substring membership — every matched term must appear
// verbatim in label.
func validateMatchedTerms(d *schema.ClassificationDraft, label string) []ValidationError {
	var errs []ValidationError
	n := len(d.Signals.MatchedTerms)
	if n < 2 || n > 4 {
		errs = append(errs, ValidationError{
			Field:   "signals.matched_terms",
			Message: fmt.Sprintf("matched_terms has %d entries, want 2-4", n),
		})
	}
	for _, term := range d.Signals.MatchedTerms {
		if !strings.Contains(label, term) {
			errs = append(errs, ValidationError{
				Field:   "signals.matched_terms",
				Message: fmt.Sprintf("matched term %q is not a verbatim substring of label %q", term, label),
			})
		}
	}
	return errs
}

func validateEnums(d *schema.ClassificationDraft) []ValidationError {
	var errs []ValidationError
	validStatus := map[schema.Status]bool{
		schema.StatusAllow: true, schema.StatusLimit: true, schema.StatusDeny: true,
	}
	if !validStatus[d.CarryOn.Status] {
		errs = append(errs, ValidationError{Field: "carry_on.status", Message: fmt.Sprintf("invalid status %q", d.CarryOn.Status)})
	}
	if !validStatus[d.Checked.Status] {
		errs = append(errs, ValidationError{Field: "checked.status", Message: fmt.Sprintf("invalid status %q", d.Checked.Status)})
	}
	return errs
}

func validateConfidence(d *schema.ClassificationDraft) []ValidationError {
	if d.Signals.Confidence < 0 || d.Signals.Confidence > 1 {
		return []ValidationError{{
			Field:   "signals.confidence",
			Message: fmt.Sprintf("confidence %v is outside [0,1]", d.Signals.Confidence),
		}}
	}
	return nil
}

// buildSystemPrompt assembles the LLM system prompt from the taxonomy
// catalog so the closed set of canonical keys is the single source of
// truth for what the model is allowed to emit.
func buildSystemPrompt(tax *taxonomy.Taxonomy) string {
	var sb strings.Builder

	sb.WriteString("You are the baggagecheck item classifier.\n\n")
	sb.WriteString("Output ONLY valid JSON conforming to the schema below. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n")
	sb.WriteString("You MUST choose \"canonical\" from the closed list below. " +
		"Never invent a key. If nothing matches, use \"" + taxonomy.Benign + "\".\n\n")

	if tax != nil {
		sb.WriteString("Canonical keys:\n")
		for _, k := range tax.Keys() {
			e, _ := tax.Lookup(k)
			fmt.Fprintf(&sb, "  - %s (item_category=%s)\n", e.Key, e.ItemCategory)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(outputSchema)
	return sb.String()
}

const outputSchema = `Output schema (JSON only):
{
  "canonical": "<one of the canonical keys above>",
  "params": {"volume_ml": null, "wh": null, "count": null, "weight_kg": null, "abv_percent": null, "blade_length_cm": null},
  "carry_on": {"status": "ALLOW|LIMIT|DENY", "badges": []},
  "checked": {"status": "ALLOW|LIMIT|DENY", "badges": []},
  "needs_review": false,
  "signals": {"matched_terms": ["..."], "confidence": 0.9, "notes": "optional"}
}
`

func buildUserPrompt(label string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Item label: %q\n\n", label)
	sb.WriteString("Classify this item and produce the JSON now.")
	return sb.String()
}

func buildRepairPrompt(originalUserPrompt, previousResponse string, errs []ValidationError) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, e := range errs {
		fmt.Fprintf(&sb, "  - %s\n", e.Error())
	}
	sb.WriteString("\nPlease output only the corrected JSON conforming to the schema. Do not repeat the error.")
	return sb.String()
}

// ── Provider dispatch ────────────────────────────────────────────────────

func defaultNewProvider(providerName, model string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case "anthropic", "":
		return newAnthropicProvider(model)
	case "openai":
		return newOpenAIProvider(model)
	case "google":
		return newGoogleProvider(model)
	default:
		return nil, fmt.Errorf("classifier: unknown provider %q", providerName)
	}
}

// ── Anthropic provider ───────────────────────────────────────────────────

type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(model string) (Provider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("classifier: ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicProvider{client: client, model: model}, nil
}

func (p *anthropicProvider) Complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	maxTokens int,
	temperature float64,
) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic: response contained no text content blocks")
	}
	return strings.Join(parts, ""), nil
}
