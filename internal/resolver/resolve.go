// Package resolver implements the layered regulation resolver (C6) and the
// conflict detector (C7). It performs no I/O and no LLM calls: given a
// canonical key's default verdicts, extracted parameters, itinerary/segment
// context, and the candidate regulation rules for that item category, it
// deterministically produces a resolved per-bag verdict and an audit trace.
package resolver

import (
	"fmt"
	"sort"

	"github.com/dshills/baggagecheck/internal/schema"
)

// Input is everything the resolver needs to produce a verdict for one item.
type Input struct {
	Canonical      string
	Params         schema.ItemParams
	DefaultCarryOn schema.Status
	DefaultChecked schema.Status
	Route          schema.RouteType
	Segments       []schema.Segment
	Rules          []schema.RegulationRule // pre-filtered to the item's item_category

	// CountryCodes is the itinerary's distinct set of ISO country codes
	// (origin, each via-point, destination), used to scope L1 country-level
	// rules to legs the itinerary actually touches.
	CountryCodes []string

	// HasRescreening is the itinerary's rescreening flag (spec.md §3): a
	// via-point that re-screens liquids/aerosols invalidates any
	// tamper-evident bag sealed at an earlier security point.
	HasRescreening bool
}

// Resolve folds the taxonomy defaults with every applicable regulation rule
// and returns the resolved per-bag verdict, the audit trace of which rules
// contributed, and whether a matched rule's STEB requirement was
// invalidated by itinerary rescreening — the caller (C7) treats that as a
// review-worthy conflict per spec.md §8 scenario 2.
func Resolve(in Input) (schema.Resolved, schema.EngineTrace, bool) {
	carryOn := schema.BagVerdict{Status: in.DefaultCarryOn}
	checked := schema.BagVerdict{Status: in.DefaultChecked}
	var applied []string
	stebInvalidated := false

	relevant := filterRelevantScope(in.Rules, in.CountryCodes, in.Segments)

	for _, group := range groupByScopeCode(relevant) {
		matching := filterApplicable(group.rules, in.Route, in.Segments)
		rule, ok := selectMostSpecific(matching)
		if !ok {
			continue
		}

		triggered, badge := evaluateRule(rule, in.Params)
		if rule.Constraints.RequiresSTEB {
			carryOn.Badges = appendUnique(carryOn.Badges, "requires_steb")
			checked.Badges = appendUnique(checked.Badges, "requires_steb")
			if in.HasRescreening {
				stebInvalidated = true
				carryOn.Badges = appendUnique(carryOn.Badges, "steb_invalidated_by_rescreening")
			}
		}
		if !triggered {
			continue
		}

		applied = append(applied, rule.ID)
		status := statusForSeverity(rule.Severity)
		carryOn.Status = schema.MaxStatus(carryOn.Status, status)
		checked.Status = schema.MaxStatus(checked.Status, status)
		carryOn.ReasonCodes = appendUnique(carryOn.ReasonCodes, rule.ID)
		checked.ReasonCodes = appendUnique(checked.ReasonCodes, rule.ID)
		if badge != "" {
			carryOn.Badges = appendUnique(carryOn.Badges, badge)
			checked.Badges = appendUnique(checked.Badges, badge)
		}
	}

	sort.Strings(applied)
	trace := schema.EngineTrace{
		Canonical:    in.Canonical,
		Params:       in.Params,
		AppliedRules: applied,
	}
	return schema.Resolved{CarryOn: carryOn, Checked: checked}, trace, stebInvalidated
}

// filterRelevantScope keeps only rules whose scope/code actually pertains to
// this itinerary: an international rule always applies (it carries no
// code), a country rule applies only when its code is one of the
// itinerary's countries, and a carrier rule applies only when its code
// matches an operating carrier on one of the itinerary's segments. Without
// this a country:FR rule would fire for an itinerary that never touches
// France, just because both share an item_category.
func filterRelevantScope(rules []schema.RegulationRule, countryCodes []string, segs []schema.Segment) []schema.RegulationRule {
	var out []schema.RegulationRule
	for _, r := range rules {
		switch r.Scope {
		case schema.ScopeCountry:
			if containsCode(countryCodes, r.Code) {
				out = append(out, r)
			}
		case schema.ScopeCarrier:
			if anySegmentCarrier(segs, r.Code) {
				out = append(out, r)
			}
		default: // international rules are code-agnostic and always relevant
			out = append(out, r)
		}
	}
	return out
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func anySegmentCarrier(segs []schema.Segment, carrier string) bool {
	for _, s := range segs {
		if s.Carrier == carrier {
			return true
		}
	}
	return false
}

// filterApplicable keeps only rules whose condition vector matches the
// itinerary route type and at least one segment's cabin/fare class.
func filterApplicable(rules []schema.RegulationRule, route schema.RouteType, segs []schema.Segment) []schema.RegulationRule {
	var out []schema.RegulationRule
	for _, r := range rules {
		if r.Constraints.RouteType != nil && *r.Constraints.RouteType != route {
			continue
		}
		if r.Constraints.CabinClass != nil && !anySegmentCabin(segs, *r.Constraints.CabinClass) {
			continue
		}
		if r.Constraints.FareClass != nil && !anySegmentFare(segs, *r.Constraints.FareClass) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func anySegmentCabin(segs []schema.Segment, cabin schema.CabinClass) bool {
	for _, s := range segs {
		if s.CabinClass == cabin {
			return true
		}
	}
	return false
}

func anySegmentFare(segs []schema.Segment, fare string) bool {
	for _, s := range segs {
		if s.FareClass == fare {
			return true
		}
	}
	return false
}

// evaluateRule reports whether rule's numeric caps are exceeded by params,
// and the badge text (if any) to attach. A rule with no numeric caps at all
// is a pure notice and always triggers once its condition vector matches.
func evaluateRule(rule schema.RegulationRule, params schema.ItemParams) (triggered bool, badge string) {
	c := rule.Constraints
	hasCap := false

	// An info-severity rule is a pure advisory (an allowance entitlement, a
	// routing note) rather than a restriction that can be "exceeded" — it
	// always contributes its badge once its condition vector has matched,
	// per spec.md §4.6 step 2 ("info → allow").
	if rule.Severity == schema.SeverityInfo {
		badge = c.Badge
		if badge == "" && c.MaxPieces != nil {
			badge = fmt.Sprintf("max_pieces=%d", *c.MaxPieces)
		}
		return true, badge
	}

	exceeds := func(cap *float64, name schema.ParamName) bool {
		if cap == nil {
			return false
		}
		hasCap = true
		v, ok := params.Get(name)
		return ok && v > *cap
	}

	if exceeds(c.MaxVolumeMl, schema.ParamVolumeML) {
		triggered = true
	}
	if exceeds(c.MaxTotalVolumeMl, schema.ParamVolumeML) {
		triggered = true
	}
	if exceeds(c.MaxWhPerUnit, schema.ParamWh) {
		triggered = true
	}
	if exceeds(c.MaxCount, schema.ParamCount) {
		triggered = true
	}
	if exceeds(c.MaxWeightKg, schema.ParamWeightKg) {
		triggered = true
	}
	if exceeds(c.MaxBladeLengthCm, schema.ParamBladeLengthCm) {
		triggered = true
	}
	if c.MaxPieces != nil {
		hasCap = true
		if v, ok := params.Get(schema.ParamCount); ok && v > float64(*c.MaxPieces) {
			triggered = true
		}
	}

	if !hasCap {
		triggered = true
	}

	badge = c.Badge
	if badge == "" && triggered && hasCap {
		badge = fmt.Sprintf("%s:%s", rule.Scope, rule.Code)
	}
	return triggered, badge
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
