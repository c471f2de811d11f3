// Package preview implements the preview orchestrator (C8): it sequences
// the classifier, parameter guard, layered regulation resolver, and
// conflict detector into one per-bag verdict, with the narration adapter
// run last and treated as advisory. In-flight requests for the same
// fingerprint are de-duplicated via singleflight, and completed results are
// served from a short-TTL cache keyed on the same fingerprint.
package preview

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/baggagecheck/internal/classifier"
	"github.com/dshills/baggagecheck/internal/guard"
	"github.com/dshills/baggagecheck/internal/narration"
	"github.com/dshills/baggagecheck/internal/regulation"
	"github.com/dshills/baggagecheck/internal/resolver"
	"github.com/dshills/baggagecheck/internal/schema"
	"github.com/dshills/baggagecheck/internal/taxonomy"
)

// Deps wires the orchestrator's collaborators and tunables.
type Deps struct {
	Taxonomy         *taxonomy.Taxonomy
	Regulations      *regulation.Store
	ClassifierOpts   classifier.Options
	NarrationOpts    narration.Options
	ClassifyTimeout  time.Duration
	NarrationTimeout time.Duration
	MinConfidence    float64
	CacheTTL         time.Duration
	Log              *zap.Logger
}

type cacheEntry struct {
	result  schema.PreviewResult
	expires time.Time
}

// Orchestrator runs the full preview pipeline for one item at a time. It is
// safe for concurrent use.
type Orchestrator struct {
	deps  Deps
	group singleflight.Group

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds an Orchestrator from deps. Zero-value timeouts fall back to
// the pipeline's documented defaults (8s classify, 5s narration).
func New(deps Deps) *Orchestrator {
	if deps.ClassifyTimeout <= 0 {
		deps.ClassifyTimeout = 8 * time.Second
	}
	if deps.NarrationTimeout <= 0 {
		deps.NarrationTimeout = 5 * time.Second
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cache: make(map[string]cacheEntry)}
}

// Preview runs the pipeline for req, or returns a cached result for an
// identical request seen within the cache TTL.
func (o *Orchestrator) Preview(ctx context.Context, req schema.PreviewRequest) (schema.PreviewResult, error) {
	fp := fingerprint(req)

	if cached, ok := o.lookup(fp); ok {
		cached.ReqID = req.ReqID
		o.deps.Log.Debug("preview.cache_hit", zap.String("fingerprint", fp))
		return cached, nil
	}

	v, err, shared := o.group.Do(fp, func() (interface{}, error) {
		return o.compute(ctx, req)
	})
	if err != nil {
		return schema.PreviewResult{}, err
	}
	result := v.(schema.PreviewResult)
	result.ReqID = req.ReqID

	if shared {
		o.deps.Log.Debug("preview.request_coalesced", zap.String("fingerprint", fp))
	}
	o.store(fp, result)
	return result, nil
}

func (o *Orchestrator) lookup(fp string) (schema.PreviewResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.cache[fp]
	if !ok || time.Now().After(e.expires) {
		return schema.PreviewResult{}, false
	}
	return e.result, true
}

func (o *Orchestrator) store(fp string, result schema.PreviewResult) {
	ttl := o.deps.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache[fp] = cacheEntry{result: result, expires: time.Now().Add(ttl)}
}

// compute runs every pipeline step in order. It never calls panic/os.Exit;
// LLM-side failures degrade to a needs_review result rather than an error
// whenever a safe default verdict can still be produced.
func (o *Orchestrator) compute(ctx context.Context, req schema.PreviewRequest) (schema.PreviewResult, error) {
	// Step 1: classify.
	classifyCtx, cancel := context.WithTimeout(ctx, o.deps.ClassifyTimeout)
	draft, err := classifier.Classify(classifyCtx, req.Label, o.deps.Taxonomy, o.deps.ClassifierOpts)
	cancel()
	if err != nil {
		var sve *classifier.SchemaValidationError
		if errors.As(err, &sve) {
			o.deps.Log.Warn("classify.validation_failed", zap.Error(err))
			return degradedResult(schema.Flags{ValidationError: true}), nil
		}
		o.deps.Log.Warn("classify.transport_failed", zap.Error(err))
		return degradedResult(schema.Flags{LLMError: true}), nil
	}
	o.deps.Log.Debug("classify.succeeded", zap.String("canonical", draft.Canonical))

	// Step 2: parameter guard.
	flags := guard.CheckParams(o.deps.Taxonomy, *draft, o.deps.MinConfidence)

	// Step 3: taxonomy lookup for item_category and defaults.
	entry, ok := o.deps.Taxonomy.Lookup(draft.Canonical)
	if !ok {
		// ValidateResponse inside Classify already enforces this; this branch
		// only guards against a Taxonomy swapped out from under a stale draft.
		flags.ValidationError = true
		return schema.PreviewResult{State: schema.StateNeedsReview, Flags: flags}, nil
	}

	// Step 4: candidate regulation rules for this item category.
	var rules []schema.RegulationRule
	if o.deps.Regulations != nil {
		rules = o.deps.Regulations.Find(entry.ItemCategory)
	}

	// Step 5: layered regulation resolution.
	resolved, trace, stebInvalidated := resolver.Resolve(resolver.Input{
		Canonical:      draft.Canonical,
		Params:         draft.Params,
		DefaultCarryOn: entry.DefaultCarryOn,
		DefaultChecked: entry.DefaultChecked,
		Route:          req.Itinerary.RouteType,
		Segments:       req.Segments,
		Rules:          rules,
		CountryCodes:   req.Itinerary.Countries(),
		HasRescreening: req.Itinerary.HasRescreening,
	})
	o.deps.Log.Debug("resolver.layer_merged", zap.Strings("applied_rules", trace.AppliedRules))

	// Step 6: conflict detection between the draft and the resolved verdict.
	final, conflict := resolver.DetectConflict(*draft, resolved)
	if stebInvalidated {
		conflict = true
		o.deps.Log.Warn("conflict.steb_invalidated_by_rescreening", zap.String("canonical", draft.Canonical))
	}
	if conflict {
		flags.Conflict = true
		o.deps.Log.Warn("conflict.raised", zap.String("canonical", draft.Canonical))
	}

	result := schema.PreviewResult{
		State:    stateFor(flags, final),
		Resolved: final,
		Engine:   trace,
		Flags:    flags,
	}

	// Step 7: narration is advisory; any failure is logged and ignored.
	narrationCtx, ncancel := context.WithTimeout(ctx, o.deps.NarrationTimeout)
	n, nerr := narration.Narrate(narrationCtx, req.Label, final, trace, o.deps.NarrationOpts)
	ncancel()
	if nerr != nil {
		o.deps.Log.Warn("narration.failed", zap.Error(nerr))
	} else {
		result.Narration = n
	}

	return result, nil
}

// stateFor returns needs_review when any flag is raised or either bag
// resolves to deny, and complete otherwise.
func stateFor(flags schema.Flags, resolved schema.Resolved) schema.State {
	if flags.AnyRaised() ||
		resolved.CarryOn.Status == schema.StatusDeny || resolved.Checked.Status == schema.StatusDeny {
		return schema.StateNeedsReview
	}
	return schema.StateComplete
}

// degradedResult produces the fail-safe verdict used when the classifier
// step did not produce a usable draft: both bags are marked LIMIT and
// flagged for human review rather than silently allowed or denied. flags
// carries the caller's choice of LLMError (transport/timeout) or
// ValidationError (schema guard exhausted after repair) — never both, since
// the two are distinct failure modes with distinct CLI exit codes.
func degradedResult(flags schema.Flags) schema.PreviewResult {
	return schema.PreviewResult{
		State: schema.StateNeedsReview,
		Resolved: schema.Resolved{
			CarryOn: schema.BagVerdict{Status: schema.StatusLimit},
			Checked: schema.BagVerdict{Status: schema.StatusLimit},
		},
		Flags: flags,
	}
}

// fingerprint derives a stable cache key from the request fields that
// affect the resolved verdict. ReqID is deliberately excluded so that two
// logically identical requests share a cache entry.
func fingerprint(req schema.PreviewRequest) string {
	keyed := struct {
		Label      string             `json:"label"`
		Itinerary  schema.Itinerary   `json:"itinerary"`
		Segments   []schema.Segment   `json:"segments"`
		ItemParams *schema.ItemParams `json:"item_params,omitempty"`
		DutyFree   bool               `json:"duty_free"`
	}{req.Label, req.Itinerary, req.Segments, req.ItemParams, req.DutyFree}

	b, err := json.Marshal(keyed)
	if err != nil {
		// json.Marshal on this struct shape cannot fail; fall back to a
		// request-unique key so caching simply becomes a no-op rather than
		// ever serving a wrong result.
		return fmt.Sprintf("unfingerprintable:%p", &req)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
