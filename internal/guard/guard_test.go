package guard_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/baggagecheck/internal/guard"
	"github.com/dshills/baggagecheck/internal/schema"
	"github.com/dshills/baggagecheck/internal/taxonomy"
)

func loadTax(t *testing.T) *taxonomy.Taxonomy {
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

func TestCheckParams_UnknownCanonicalIsValidationError(t *testing.T) {
	tax := loadTax(t)
	flags := guard.CheckParams(tax, schema.ClassificationDraft{Canonical: "not_a_real_key"}, guard.MinConfidence)
	if !flags.ValidationError {
		t.Error("expected ValidationError for unknown canonical key")
	}
}

func TestCheckParams_MissingRequiredParam(t *testing.T) {
	tax := loadTax(t)
	draft := schema.ClassificationDraft{Canonical: "lithium_battery_spare", Signals: schema.Signals{Confidence: 0.9}}
	flags := guard.CheckParams(tax, draft, guard.MinConfidence)
	if len(flags.MissingParams) == 0 {
		t.Error("expected missing_params for unsatisfied at_least_one_of group")
	}
}

func TestCheckParams_ParamsSatisfied(t *testing.T) {
	tax := loadTax(t)
	wh := 95.0
	draft := schema.ClassificationDraft{
		Canonical: "lithium_battery_spare",
		Params:    schema.ItemParams{Wh: &wh},
		Signals:   schema.Signals{Confidence: 0.9},
	}
	flags := guard.CheckParams(tax, draft, guard.MinConfidence)
	if len(flags.MissingParams) != 0 {
		t.Errorf("expected no missing params, got %v", flags.MissingParams)
	}
	if flags.LowConfidence {
		t.Error("expected confidence above floor to not raise LowConfidence")
	}
}

func TestCheckParams_LowConfidenceFlagged(t *testing.T) {
	tax := loadTax(t)
	wh := 95.0
	draft := schema.ClassificationDraft{
		Canonical: "lithium_battery_spare",
		Params:    schema.ItemParams{Wh: &wh},
		Signals:   schema.Signals{Confidence: 0.2},
	}
	flags := guard.CheckParams(tax, draft, guard.MinConfidence)
	if !flags.LowConfidence {
		t.Error("expected LowConfidence flag below the configured floor")
	}
}

func TestCheckParams_NeedsReviewAlwaysFlagsLowConfidence(t *testing.T) {
	tax := loadTax(t)
	draft := schema.ClassificationDraft{
		Canonical:   taxonomy.Benign,
		NeedsReview: true,
		Signals:     schema.Signals{Confidence: 0.99},
	}
	flags := guard.CheckParams(tax, draft, guard.MinConfidence)
	if !flags.LowConfidence {
		t.Error("expected NeedsReview from the classifier to raise LowConfidence regardless of reported confidence")
	}
}
