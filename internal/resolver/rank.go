package resolver

import "github.com/dshills/baggagecheck/internal/schema"

// severityRank orders Severity for deterministic comparison. Mirrors the
// ordinal-ranking shape used throughout this pipeline to avoid ad-hoc
// string comparisons of enum values.
var severityRank = map[schema.Severity]int{
	schema.SeverityInfo:  0,
	schema.SeverityWarn:  1,
	schema.SeverityBlock: 2,
}

// SeverityOrdinal returns severity's numeric rank; unknown severities rank
// below info.
func SeverityOrdinal(s schema.Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// statusForSeverity maps a triggered rule's authority tier onto the bag
// status it imposes when its caps are exceeded.
func statusForSeverity(s schema.Severity) schema.Status {
	switch s {
	case schema.SeverityBlock:
		return schema.StatusDeny
	case schema.SeverityWarn:
		return schema.StatusLimit
	default:
		return schema.StatusAllow
	}
}

// ruleGroup groups rules sharing one (scope, code) pair — distinct
// condition-vector variants of the same regulation — so exactly one
// variant per group is selected as applicable to a given context.
type ruleGroup struct {
	scope schema.Scope
	code  string
	rules []schema.RegulationRule
}

func groupByScopeCode(rules []schema.RegulationRule) []*ruleGroup {
	var groups []*ruleGroup
	index := make(map[string]*ruleGroup)
	for _, r := range rules {
		key := string(r.Scope) + ":" + r.Code
		g, ok := index[key]
		if !ok {
			g = &ruleGroup{scope: r.Scope, code: r.Code}
			index[key] = g
			groups = append(groups, g)
		}
		g.rules = append(g.rules, r)
	}
	return groups
}

// selectMostSpecific picks the matching rule with the highest condition
// specificity within a group, tie-breaking on layer priority
// (country > carrier > international). Returns false if none match.
func selectMostSpecific(candidates []schema.RegulationRule) (schema.RegulationRule, bool) {
	var best schema.RegulationRule
	found := false
	for _, r := range candidates {
		if !found {
			best, found = r, true
			continue
		}
		if r.Constraints.Specificity() > best.Constraints.Specificity() {
			best = r
			continue
		}
		if r.Constraints.Specificity() == best.Constraints.Specificity() &&
			r.Scope.Priority() > best.Scope.Priority() {
			best = r
		}
	}
	return best, found
}
