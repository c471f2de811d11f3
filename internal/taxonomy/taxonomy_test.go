package taxonomy_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/baggagecheck/internal/schema"
	"github.com/dshills/baggagecheck/internal/taxonomy"
)

func writeCatalog(t *testing.T, dir, name string, entries []taxonomy.Entry) {
	t.Helper()
	b, err := json.Marshal(struct {
		Entries []taxonomy.Entry `json:"entries"`
	}{Entries: entries})
	if err != nil {
		t.Fatalf("marshal catalog: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
}

func benignEntry() taxonomy.Entry {
	return taxonomy.Entry{
		Key:            taxonomy.Benign,
		ItemCategory:   "benign",
		DefaultCarryOn: schema.StatusAllow,
		DefaultChecked: schema.StatusAllow,
	}
}

func TestLoad_MergesMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "00_benign.json", []taxonomy.Entry{benignEntry()})
	writeCatalog(t, dir, "01_batteries.json", []taxonomy.Entry{
		{
			Key:            "lithium_battery_spare",
			ItemCategory:   "battery",
			AtLeastOneOf:   []taxonomy.ParamGroup{{schema.ParamWh, schema.ParamCount}},
			DefaultCarryOn: schema.StatusLimit,
			DefaultChecked: schema.StatusDeny,
		},
	})

	tax, err := taxonomy.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !tax.IsKnown(taxonomy.Benign) {
		t.Error("expected benign_general to be known")
	}
	if !tax.IsKnown("lithium_battery_spare") {
		t.Error("expected lithium_battery_spare to be known")
	}
	if got := len(tax.Keys()); got != 2 {
		t.Errorf("Keys() len = %d, want 2", got)
	}
}

func TestLoad_MissingBenignSentinel(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "catalog.json", []taxonomy.Entry{
		{Key: "knife_fixed_blade", ItemCategory: "blade", DefaultCarryOn: schema.StatusDeny, DefaultChecked: schema.StatusLimit},
	})
	if _, err := taxonomy.Load(dir); err == nil {
		t.Fatal("expected error when benign_general sentinel is absent")
	}
}

func TestLoad_DuplicateKeyIsLoadError(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "00.json", []taxonomy.Entry{benignEntry()})
	writeCatalog(t, dir, "01.json", []taxonomy.Entry{benignEntry()})
	if _, err := taxonomy.Load(dir); err == nil {
		t.Fatal("expected error for duplicate canonical key across files")
	}
}

func TestLoad_InvalidDefaultStatus(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "00.json", []taxonomy.Entry{benignEntry()})
	writeCatalog(t, dir, "01.json", []taxonomy.Entry{
		{Key: "bogus", ItemCategory: "x", DefaultCarryOn: "NOT_A_STATUS", DefaultChecked: schema.StatusAllow},
	})
	if _, err := taxonomy.Load(dir); err == nil {
		t.Fatal("expected error for invalid default_carry_on status")
	}
}

func TestValidateParams_RequiredMissing(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "00.json", []taxonomy.Entry{
		benignEntry(),
		{
			Key:            "power_bank",
			ItemCategory:   "battery",
			RequiredParams: []schema.ParamName{schema.ParamWh},
			DefaultCarryOn: schema.StatusLimit,
			DefaultChecked: schema.StatusDeny,
		},
	})
	tax, err := taxonomy.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	missing := tax.ValidateParams("power_bank", schema.ItemParams{})
	if len(missing) != 1 || missing[0] != string(schema.ParamWh) {
		t.Errorf("ValidateParams = %v, want [wh]", missing)
	}
}

func TestValidateParams_AtLeastOneOfSatisfied(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "00.json", []taxonomy.Entry{
		benignEntry(),
		{
			Key:            "lithium_battery_spare",
			ItemCategory:   "battery",
			AtLeastOneOf:   []taxonomy.ParamGroup{{schema.ParamWh, schema.ParamCount}},
			DefaultCarryOn: schema.StatusLimit,
			DefaultChecked: schema.StatusDeny,
		},
	})
	tax, err := taxonomy.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	count := 4.0
	params := schema.ItemParams{Count: &count}
	if missing := tax.ValidateParams("lithium_battery_spare", params); len(missing) != 0 {
		t.Errorf("ValidateParams = %v, want none (count satisfies at_least_one_of)", missing)
	}
}

func TestValidateParams_AtLeastOneOfUnsatisfied(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "00.json", []taxonomy.Entry{
		benignEntry(),
		{
			Key:            "lithium_battery_spare",
			ItemCategory:   "battery",
			AtLeastOneOf:   []taxonomy.ParamGroup{{schema.ParamWh, schema.ParamCount}},
			DefaultCarryOn: schema.StatusLimit,
			DefaultChecked: schema.StatusDeny,
		},
	})
	tax, err := taxonomy.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if missing := tax.ValidateParams("lithium_battery_spare", schema.ItemParams{}); len(missing) != 1 {
		t.Errorf("ValidateParams = %v, want one at_least_one_of error", missing)
	}
}

func TestLoad_NoFilesInDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := taxonomy.Load(dir); err == nil {
		t.Fatal("expected error for empty catalog directory")
	}
}
