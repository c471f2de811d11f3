package resolver

import "github.com/dshills/baggagecheck/internal/schema"

// DetectConflict compares the classifier's draft per-bag verdicts against
// the regulation resolver's authoritative output. A disagreement raises
// Flags.Conflict for human review, but by construction never lowers the
// final status below whichever side said deny: the returned Resolved is
// always the lattice-max of draft and resolved, per bag.
func DetectConflict(draft schema.ClassificationDraft, resolved schema.Resolved) (schema.Resolved, bool) {
	conflict := draft.CarryOn.Status != resolved.CarryOn.Status ||
		draft.Checked.Status != resolved.Checked.Status

	final := schema.Resolved{
		CarryOn: mergeBagVerdict(draft.CarryOn, resolved.CarryOn),
		Checked: mergeBagVerdict(draft.Checked, resolved.Checked),
	}
	return final, conflict
}

// mergeBagVerdict folds two BagVerdicts for the same bag into one: the
// status is the lattice-max (never a min, never an average), and badges /
// reason codes are unioned so the trace shows everything that contributed.
func mergeBagVerdict(a, b schema.BagVerdict) schema.BagVerdict {
	out := schema.BagVerdict{Status: schema.MaxStatus(a.Status, b.Status)}
	for _, badge := range a.Badges {
		out.Badges = appendUnique(out.Badges, badge)
	}
	for _, badge := range b.Badges {
		out.Badges = appendUnique(out.Badges, badge)
	}
	for _, rc := range a.ReasonCodes {
		out.ReasonCodes = appendUnique(out.ReasonCodes, rc)
	}
	for _, rc := range b.ReasonCodes {
		out.ReasonCodes = appendUnique(out.ReasonCodes, rc)
	}
	return out
}
