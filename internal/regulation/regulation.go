// Package regulation loads and serves the layered regulation rule set (C2):
// country, carrier, and international scopes. The loaded rule set is
// immutable once built; Store swaps in a freshly loaded index atomically so
// concurrent readers never observe a partially-reloaded state.
package regulation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/dshills/baggagecheck/internal/schema"
)

// identity is the full condition-vector key a rule is unique over: two
// rules that agree on scope/code/item_category but differ in route type,
// cabin class, or fare class are distinct rules, not a collision.
type identity struct {
	scope        schema.Scope
	code         string
	itemCategory string
	routeType    string
	cabinClass   string
	fareClass    string
}

func ruleIdentity(r schema.RegulationRule) identity {
	id := identity{scope: r.Scope, code: r.Code, itemCategory: r.ItemCategory}
	if r.Constraints.RouteType != nil {
		id.routeType = string(*r.Constraints.RouteType)
	}
	if r.Constraints.CabinClass != nil {
		id.cabinClass = string(*r.Constraints.CabinClass)
	}
	if r.Constraints.FareClass != nil {
		id.fareClass = *r.Constraints.FareClass
	}
	return id
}

// LoadError collects every problem found while loading one regulation file,
// so a single typo doesn't hide the rest.
type LoadError struct {
	File   string
	Errors []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("regulation: %s: %d error(s): %v", e.File, len(e.Errors), e.Errors)
}

// index is the immutable, read-only snapshot served by Store between reloads.
type index struct {
	byCategory map[string][]schema.RegulationRule // item_category -> every matching rule across all scopes
}

// Store serves the currently loaded regulation index and supports an
// atomic hot-reload.
type Store struct {
	dir string
	cur atomic.Pointer[index]
}

// Load builds a Store from every *.json file in dir.
func Load(dir string) (*Store, error) {
	idx, err := buildIndex(dir)
	if err != nil {
		return nil, err
	}
	s := &Store{dir: dir}
	s.cur.Store(idx)
	return s, nil
}

// Reload rebuilds the index from disk and swaps it in atomically. On error
// the previously loaded index is left in place so callers keep serving a
// known-good rule set.
func (s *Store) Reload() error {
	idx, err := buildIndex(s.dir)
	if err != nil {
		return err
	}
	s.cur.Store(idx)
	return nil
}

// Find returns every rule across every scope whose item_category matches.
// The resolver is responsible for layer priority and specificity ranking
// among the returned rules.
func (s *Store) Find(itemCategory string) []schema.RegulationRule {
	idx := s.cur.Load()
	if idx == nil {
		return nil
	}
	return idx.byCategory[itemCategory]
}

func buildIndex(dir string) (*index, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("regulation: glob %s: %w", dir, err)
	}
	sort.Strings(matches)

	idx := &index{byCategory: make(map[string][]schema.RegulationRule)}
	seen := make(map[identity]schema.RegulationRule)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("regulation: read %s: %w", path, err)
		}
		var rf schema.RegulationFile
		if err := json.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("regulation: parse %s: %w", path, err)
		}

		var errs []string
		for i := range rf.Rules {
			r := rf.Rules[i]
			if r.Scope == "" {
				r.Scope = rf.Scope
			}
			if r.Code == "" {
				r.Code = rf.Code
			}
			r.SourceFile = path
			r.SourceIndex = i

			if ves := validateRule(r); len(ves) > 0 {
				for _, ve := range ves {
					errs = append(errs, fmt.Sprintf("rules[%d]: %s", i, ve))
				}
				continue
			}

			id := ruleIdentity(r)
			if prev, exists := seen[id]; exists {
				errs = append(errs, fmt.Sprintf(
					"rules[%d]: duplicate rule identity (scope=%s code=%s item_category=%s route_type=%s cabin_class=%s fare_class=%s), first defined in %s",
					i, r.Scope, r.Code, r.ItemCategory, id.routeType, id.cabinClass, id.fareClass, prev.SourceFile))
				continue
			}
			r.ID = fmt.Sprintf("%s:%s:%s:%d", r.Scope, r.Code, r.ItemCategory, i)
			seen[id] = r
			idx.byCategory[r.ItemCategory] = append(idx.byCategory[r.ItemCategory], r)
		}
		if len(errs) > 0 {
			return nil, &LoadError{File: path, Errors: errs}
		}
	}

	return idx, nil
}

// validateRule returns field-level error messages for one rule, never
// stopping at the first problem found.
func validateRule(r schema.RegulationRule) []string {
	var errs []string
	switch r.Scope {
	case schema.ScopeCountry, schema.ScopeCarrier, schema.ScopeInternational:
	default:
		errs = append(errs, fmt.Sprintf("scope %q is not a valid Scope", r.Scope))
	}
	if r.Code == "" && r.Scope != schema.ScopeInternational {
		errs = append(errs, "code is required")
	}
	if r.ItemCategory == "" {
		errs = append(errs, "item_category is required")
	}
	switch r.Severity {
	case schema.SeverityInfo, schema.SeverityWarn, schema.SeverityBlock:
	default:
		errs = append(errs, fmt.Sprintf("severity %q is not a valid Severity", r.Severity))
	}
	if rt := r.Constraints.RouteType; rt != nil {
		switch *rt {
		case schema.RouteDomestic, schema.RouteInternational:
		default:
			errs = append(errs, fmt.Sprintf("constraints.route_type %q is not a valid RouteType", *rt))
		}
	}
	if cc := r.Constraints.CabinClass; cc != nil {
		switch *cc {
		case schema.CabinEconomy, schema.CabinBusiness, schema.CabinFirst, schema.CabinPrestige:
		default:
			errs = append(errs, fmt.Sprintf("constraints.cabin_class %q is not a valid CabinClass", *cc))
		}
	}
	return errs
}
