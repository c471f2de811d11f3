package schema_test

import (
	"encoding/json"
	"testing"

	"github.com/dshills/baggagecheck/internal/schema"
)

func f64(v float64) *float64 { return &v }

func TestPreviewResult_JSONRoundTrip(t *testing.T) {
	original := &schema.PreviewResult{
		ReqID: "req-123",
		State: schema.StateComplete,
		Resolved: schema.Resolved{
			CarryOn: schema.BagVerdict{Status: schema.StatusAllow, Badges: []string{"ok"}},
			Checked: schema.BagVerdict{Status: schema.StatusLimit, ReasonCodes: []string{"country:US:lithium-001"}},
		},
		Engine: schema.EngineTrace{
			Canonical:    "lithium_battery_spare",
			Params:       schema.ItemParams{Wh: f64(95)},
			AppliedRules: []string{"country:US:lithium-001"},
		},
		Narration: schema.Narration{Title: "Spare battery"},
		Flags:     schema.Flags{LowConfidence: true},
	}

	b, err := json.MarshalIndent(original, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got schema.PreviewResult
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ReqID != original.ReqID {
		t.Errorf("ReqID mismatch: %q vs %q", got.ReqID, original.ReqID)
	}
	if got.Resolved.CarryOn.Status != schema.StatusAllow {
		t.Errorf("carry_on status mismatch: %q", got.Resolved.CarryOn.Status)
	}
	if got.Resolved.Checked.Status != schema.StatusLimit {
		t.Errorf("checked status mismatch: %q", got.Resolved.Checked.Status)
	}
	wh, ok := got.Engine.Params.Get(schema.ParamWh)
	if !ok || wh != 95 {
		t.Errorf("Wh mismatch: %v ok=%v", wh, ok)
	}
	if !got.Flags.LowConfidence {
		t.Errorf("LowConfidence flag lost in round trip")
	}
}

func TestStatus_Rank(t *testing.T) {
	if schema.StatusAllow.Rank() >= schema.StatusLimit.Rank() {
		t.Errorf("allow must rank below limit")
	}
	if schema.StatusLimit.Rank() >= schema.StatusDeny.Rank() {
		t.Errorf("limit must rank below deny")
	}
	if schema.Status("bogus").Rank() >= schema.StatusAllow.Rank() {
		t.Errorf("unknown status must rank below allow")
	}
}

func TestMaxStatus_MonotoneLattice(t *testing.T) {
	cases := []struct {
		a, b, want schema.Status
	}{
		{schema.StatusAllow, schema.StatusAllow, schema.StatusAllow},
		{schema.StatusAllow, schema.StatusLimit, schema.StatusLimit},
		{schema.StatusLimit, schema.StatusDeny, schema.StatusDeny},
		{schema.StatusDeny, schema.StatusAllow, schema.StatusDeny},
		{schema.StatusDeny, schema.StatusDeny, schema.StatusDeny},
	}
	for _, tc := range cases {
		if got := schema.MaxStatus(tc.a, tc.b); got != tc.want {
			t.Errorf("MaxStatus(%q, %q) = %q, want %q", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestScope_Priority(t *testing.T) {
	if schema.ScopeCountry.Priority() <= schema.ScopeCarrier.Priority() {
		t.Errorf("country must outrank carrier")
	}
	if schema.ScopeCarrier.Priority() <= schema.ScopeInternational.Priority() {
		t.Errorf("carrier must outrank international")
	}
}

func TestConstraints_Specificity(t *testing.T) {
	route := schema.RouteInternational
	cabin := schema.CabinBusiness
	c := schema.Constraints{RouteType: &route, CabinClass: &cabin}
	if got := c.Specificity(); got != 2 {
		t.Errorf("Specificity() = %d, want 2", got)
	}
	empty := schema.Constraints{}
	if got := empty.Specificity(); got != 0 {
		t.Errorf("Specificity() of empty constraints = %d, want 0", got)
	}
}

func TestFlags_AnyRaised(t *testing.T) {
	if (schema.Flags{}).AnyRaised() {
		t.Errorf("zero-value Flags must not report raised")
	}
	if !(schema.Flags{Conflict: true}).AnyRaised() {
		t.Errorf("Conflict flag must count as raised")
	}
	if !(schema.Flags{MissingParams: []string{"wh"}}).AnyRaised() {
		t.Errorf("MissingParams flag must count as raised")
	}
}

func TestItinerary_Airports(t *testing.T) {
	it := schema.Itinerary{Origin: "JFK", Via: []string{"LHR"}, Destination: "CDG"}
	got := it.Airports()
	want := []string{"JFK", "LHR", "CDG"}
	if len(got) != len(want) {
		t.Fatalf("Airports() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Airports()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestItinerary_Countries(t *testing.T) {
	it := schema.Itinerary{
		Origin: "ICN", Via: []string{"PVG"}, Destination: "LAX",
		CountryCodes: map[string]string{"ICN": "KR", "PVG": "CN", "LAX": "US"},
	}
	got := it.Countries()
	want := []string{"KR", "CN", "US"}
	if len(got) != len(want) {
		t.Fatalf("Countries() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Countries()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestItinerary_Countries_SkipsUnmappedAndDedupes(t *testing.T) {
	it := schema.Itinerary{
		Origin: "JFK", Via: []string{"XXX"}, Destination: "LAX",
		CountryCodes: map[string]string{"JFK": "US", "LAX": "US"},
	}
	got := it.Countries()
	if len(got) != 1 || got[0] != "US" {
		t.Errorf("Countries() = %v, want [US]", got)
	}
}
