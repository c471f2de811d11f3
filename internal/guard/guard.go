// Package guard implements the parameter guard (C5): once a classification
// draft has passed structural JSON validation, guard checks that every
// parameter the canonical key requires was actually extracted, and that the
// classifier's self-reported confidence clears the configured floor. It
// never calls an LLM and never re-asks; it only raises flags for the
// preview orchestrator to act on.
package guard

import (
	"github.com/dshills/baggagecheck/internal/schema"
	"github.com/dshills/baggagecheck/internal/taxonomy"
)

// MinConfidence is the default floor below which a classification draft is
// flagged for human review even if every required parameter is present.
const MinConfidence = 0.55

// CheckParams validates draft against tax and returns the flags the
// parameter guard raises. It never mutates draft.
func CheckParams(tax *taxonomy.Taxonomy, draft schema.ClassificationDraft, minConfidence float64) schema.Flags {
	var flags schema.Flags

	if !tax.IsKnown(draft.Canonical) {
		flags.ValidationError = true
		return flags
	}

	if missing := tax.ValidateParams(draft.Canonical, draft.Params); len(missing) > 0 {
		flags.MissingParams = missing
	}

	if minConfidence <= 0 {
		minConfidence = MinConfidence
	}
	if draft.Signals.Confidence < minConfidence {
		flags.LowConfidence = true
	}

	if draft.NeedsReview {
		flags.LowConfidence = true
	}

	return flags
}
