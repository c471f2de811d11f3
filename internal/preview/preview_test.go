package preview_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/baggagecheck/internal/classifier"
	"github.com/dshills/baggagecheck/internal/preview"
	"github.com/dshills/baggagecheck/internal/regulation"
	"github.com/dshills/baggagecheck/internal/schema"
	"github.com/dshills/baggagecheck/internal/taxonomy"
)

type scriptedProvider struct {
	responses []string
	calls     int
	err       error
}

func (s *scriptedProvider) Complete(_ context.Context, _, _ string, _ int, _ float64) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", fmt.Errorf("scriptedProvider: no responses configured")
	}
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx], nil
}

func installProvider(t *testing.T, p classifier.Provider) {
	t.Helper()
	orig := classifier.NewProvider
	classifier.NewProvider = func(_, _ string) (classifier.Provider, error) { return p, nil }
	t.Cleanup(func() { classifier.NewProvider = orig })
}

func buildTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	dir := t.TempDir()
	entries := []taxonomy.Entry{
		{Key: taxonomy.Benign, ItemCategory: "benign", DefaultCarryOn: schema.StatusAllow, DefaultChecked: schema.StatusAllow},
		{
			Key: "lithium_battery_spare", ItemCategory: "battery",
			AtLeastOneOf:   []taxonomy.ParamGroup{{schema.ParamWh, schema.ParamCount}},
			DefaultCarryOn: schema.StatusLimit, DefaultChecked: schema.StatusDeny,
		},
	}
	b, err := json.Marshal(struct {
		Entries []taxonomy.Entry `json:"entries"`
	}{Entries: entries})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "catalog.json"), b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tax, err := taxonomy.Load(dir)
	if err != nil {
		t.Fatalf("taxonomy.Load: %v", err)
	}
	return tax
}

func buildRegulations(t *testing.T) *regulation.Store {
	t.Helper()
	dir := t.TempDir()
	cap := 100.0
	rf := schema.RegulationFile{
		Scope: schema.ScopeInternational, Code: "IATA",
		Rules: []schema.RegulationRule{
			{ItemCategory: "battery", Severity: schema.SeverityBlock, Constraints: schema.Constraints{MaxWhPerUnit: &cap}},
		},
	}
	b, err := json.Marshal(rf)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "intl.json"), b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := regulation.Load(dir)
	if err != nil {
		t.Fatalf("regulation.Load: %v", err)
	}
	return store
}

func draftResponse(canonical string, wh float64, carryOn, checked schema.Status) string {
	d := schema.ClassificationDraft{
		Canonical: canonical,
		Params:    schema.ItemParams{Wh: &wh},
		CarryOn:   schema.BagVerdict{Status: carryOn},
		Checked:   schema.BagVerdict{Status: checked},
		Signals:   schema.Signals{Confidence: 0.9},
	}
	b, _ := json.Marshal(d)
	return string(b)
}

func TestPreview_ExceededCapEscalatesToDeny(t *testing.T) {
	installProvider(t, &scriptedProvider{responses: []string{
		draftResponse("lithium_battery_spare", 150, schema.StatusLimit, schema.StatusDeny),
	}})

	o := preview.New(preview.Deps{
		Taxonomy:    buildTaxonomy(t),
		Regulations: buildRegulations(t),
	})

	res, err := o.Preview(context.Background(), schema.PreviewRequest{
		Label: "spare battery pack", ReqID: "req-1",
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if res.Resolved.CarryOn.Status != schema.StatusDeny {
		t.Errorf("CarryOn.Status = %q, want DENY (cap exceeded)", res.Resolved.CarryOn.Status)
	}
	if res.ReqID != "req-1" {
		t.Errorf("ReqID = %q, want req-1", res.ReqID)
	}
}

func TestPreview_SchemaGuardExhaustionSetsValidationError(t *testing.T) {
	// Both the initial and repair responses are unparsable, so the classifier
	// exhausts its one repair attempt and returns a *SchemaValidationError,
	// which must be reported as Flags.ValidationError, not Flags.LLMError.
	installProvider(t, &scriptedProvider{responses: []string{"not json", "still not json"}})

	o := preview.New(preview.Deps{Taxonomy: buildTaxonomy(t), Regulations: buildRegulations(t)})
	res, err := o.Preview(context.Background(), schema.PreviewRequest{Label: "mystery item"})
	if err != nil {
		t.Fatalf("Preview should degrade rather than error, got %v", err)
	}
	if res.State != schema.StateNeedsReview {
		t.Errorf("State = %q, want needs_review", res.State)
	}
	if !res.Flags.ValidationError {
		t.Error("expected ValidationError flag set for an exhausted schema guard")
	}
	if res.Flags.LLMError {
		t.Error("LLMError must not be set for a schema-validation failure")
	}
}

func TestPreview_ClassifierFailureDegradesToNeedsReview(t *testing.T) {
	installProvider(t, &scriptedProvider{err: fmt.Errorf("network down")})

	o := preview.New(preview.Deps{Taxonomy: buildTaxonomy(t), Regulations: buildRegulations(t)})
	res, err := o.Preview(context.Background(), schema.PreviewRequest{Label: "mystery item"})
	if err != nil {
		t.Fatalf("Preview should degrade rather than error, got %v", err)
	}
	if res.State != schema.StateNeedsReview {
		t.Errorf("State = %q, want needs_review", res.State)
	}
	if !res.Flags.LLMError {
		t.Error("expected LLMError flag set")
	}
	if res.Resolved.CarryOn.Status == schema.StatusAllow {
		t.Error("a degraded result must never silently allow")
	}
}

func TestPreview_ConflictBetweenDraftAndResolverIsFlagged(t *testing.T) {
	// Draft claims ALLOW for both bags, but the cap-exceeding battery must
	// resolve to DENY; the mismatch must be flagged, never silently dropped.
	installProvider(t, &scriptedProvider{responses: []string{
		draftResponse("lithium_battery_spare", 150, schema.StatusAllow, schema.StatusAllow),
	}})

	o := preview.New(preview.Deps{Taxonomy: buildTaxonomy(t), Regulations: buildRegulations(t)})
	res, err := o.Preview(context.Background(), schema.PreviewRequest{Label: "spare battery"})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !res.Flags.Conflict {
		t.Error("expected Conflict flag when draft disagrees with resolved verdict")
	}
	if res.Resolved.CarryOn.Status != schema.StatusDeny {
		t.Errorf("CarryOn.Status = %q, want DENY despite draft claiming ALLOW", res.Resolved.CarryOn.Status)
	}
	if res.State != schema.StateNeedsReview {
		t.Errorf("State = %q, want needs_review when a conflict is raised", res.State)
	}
}

func TestPreview_IdenticalRequestsAreCached(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		draftResponse(taxonomy.Benign, 0, schema.StatusAllow, schema.StatusAllow),
	}}
	installProvider(t, p)

	o := preview.New(preview.Deps{Taxonomy: buildTaxonomy(t), Regulations: buildRegulations(t)})
	req := schema.PreviewRequest{Label: "a plain book"}

	if _, err := o.Preview(context.Background(), req); err != nil {
		t.Fatalf("first Preview: %v", err)
	}
	if _, err := o.Preview(context.Background(), req); err != nil {
		t.Fatalf("second Preview: %v", err)
	}
	// The first request makes two provider calls (classify, then narration);
	// the cached second request makes none.
	if p.calls != 2 {
		t.Errorf("expected 2 provider calls across two identical requests (classify + narration, once), got %d calls", p.calls)
	}
}
