// Package taxonomy is the single source of truth for the closed set of
// canonical risk keys the classifier is allowed to emit, the parameters
// each one requires, and the default verdict template applied before any
// regulation rule is consulted. It never calls an LLM; it is pure data plus
// validation.
package taxonomy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dshills/baggagecheck/internal/schema"
)

// Benign is the sentinel canonical key for items that carry no screening
// risk. Rules filed under its item_category (such as carrier carry-on
// allowances) are still looked up and applied.
const Benign = "benign_general"

// ParamGroup is a set of parameter names where at least one member must be
// present (e.g. a battery reported either by watt-hours or by cell count).
type ParamGroup []schema.ParamName

// Entry is one canonical risk key's contract: which parameters the
// classifier must extract, which are merely helpful, and the verdict a bag
// gets before any regulation layer is applied.
type Entry struct {
	Key            string              `json:"key"`
	ItemCategory   string              `json:"item_category"`
	RequiredParams []schema.ParamName  `json:"required_params,omitempty"`
	OptionalParams []schema.ParamName  `json:"optional_params,omitempty"`
	AtLeastOneOf   []ParamGroup        `json:"at_least_one_of,omitempty"`
	SynonymHints   []string            `json:"synonym_hints,omitempty"`
	DefaultCarryOn schema.Status       `json:"default_carry_on"`
	DefaultChecked schema.Status       `json:"default_checked"`
}

// catalogFile is the on-disk shape: a flat list of entries, one file (or
// several, merged) per taxonomy.Load call.
type catalogFile struct {
	Entries []Entry `json:"entries"`
}

// Taxonomy is the loaded, read-only catalog of canonical risk keys.
type Taxonomy struct {
	entries map[string]Entry
	keys    []string // sorted, for deterministic prompt rendering
}

// LoadError collects one catalog's worth of entry-level problems, mirroring
// the "collect every error, never abort on the first" shape used throughout
// this pipeline's loaders.
type LoadError struct {
	File   string
	Errors []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("taxonomy: %s: %d error(s): %v", e.File, len(e.Errors), e.Errors)
}

// Load reads every *.json file in dir and merges them into one Taxonomy.
// A duplicate key across files is a load error, not a silent overwrite.
func Load(dir string) (*Taxonomy, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("taxonomy: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("taxonomy: no catalog files found in %s", dir)
	}
	sort.Strings(matches)

	t := &Taxonomy{entries: make(map[string]Entry)}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
		}
		var cf catalogFile
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("taxonomy: parse %s: %w", path, err)
		}
		var errs []string
		for i, e := range cf.Entries {
			if ves := validateEntry(e); len(ves) > 0 {
				for _, ve := range ves {
					errs = append(errs, fmt.Sprintf("entries[%d]: %s", i, ve))
				}
				continue
			}
			if _, exists := t.entries[e.Key]; exists {
				errs = append(errs, fmt.Sprintf("entries[%d]: duplicate key %q", i, e.Key))
				continue
			}
			t.entries[e.Key] = e
			t.keys = append(t.keys, e.Key)
		}
		if len(errs) > 0 {
			return nil, &LoadError{File: path, Errors: errs}
		}
	}

	if _, ok := t.entries[Benign]; !ok {
		return nil, fmt.Errorf("taxonomy: catalog in %s is missing the required %q sentinel entry", dir, Benign)
	}

	sort.Strings(t.keys)
	return t, nil
}

// validateEntry returns field-level error messages for one catalog entry,
// accumulating every problem rather than stopping at the first.
func validateEntry(e Entry) []string {
	var errs []string
	if e.Key == "" {
		errs = append(errs, "key is required")
	}
	if e.ItemCategory == "" {
		errs = append(errs, "item_category is required")
	}
	switch e.DefaultCarryOn {
	case schema.StatusAllow, schema.StatusLimit, schema.StatusDeny:
	default:
		errs = append(errs, fmt.Sprintf("default_carry_on %q is not a valid Status", e.DefaultCarryOn))
	}
	switch e.DefaultChecked {
	case schema.StatusAllow, schema.StatusLimit, schema.StatusDeny:
	default:
		errs = append(errs, fmt.Sprintf("default_checked %q is not a valid Status", e.DefaultChecked))
	}
	return errs
}

// IsKnown reports whether key is a member of the closed taxonomy.
func (t *Taxonomy) IsKnown(key string) bool {
	_, ok := t.entries[key]
	return ok
}

// Lookup returns the entry for key.
func (t *Taxonomy) Lookup(key string) (Entry, bool) {
	e, ok := t.entries[key]
	return e, ok
}

// Keys returns every canonical key, sorted, for deterministic prompt
// rendering and test fixtures.
func (t *Taxonomy) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// ValidateParams reports every required or at-least-one-of parameter group
// missing from params for the given canonical key. Unknown keys return a
// single synthetic error rather than panicking — callers should already
// have checked IsKnown, but this keeps the function total.
func (t *Taxonomy) ValidateParams(key string, params schema.ItemParams) []string {
	e, ok := t.entries[key]
	if !ok {
		return []string{fmt.Sprintf("unknown canonical key %q", key)}
	}
	var missing []string
	for _, p := range e.RequiredParams {
		if _, present := params.Get(p); !present {
			missing = append(missing, string(p))
		}
	}
	for _, group := range e.AtLeastOneOf {
		if !anyPresent(params, group) {
			missing = append(missing, groupLabel(group))
		}
	}
	return missing
}

func anyPresent(params schema.ItemParams, group ParamGroup) bool {
	for _, p := range group {
		if _, present := params.Get(p); present {
			return true
		}
	}
	return false
}

func groupLabel(group ParamGroup) string {
	out := "at_least_one_of("
	for i, p := range group {
		if i > 0 {
			out += ","
		}
		out += string(p)
	}
	return out + ")"
}
