// Package schema defines all canonical data types for the baggagecheck
// preview pipeline: the itinerary/segment/item-params request shape, the
// LLM classification draft, regulation records, and the resolved preview
// result.
package schema

// Status is a per-bag resolved verdict status, ordered on the monotone
// lattice deny > limit > allow. Folding two statuses must always pick the
// higher rank; never min/max a heterogeneous field alongside it.
type Status string

const (
	StatusAllow Status = "ALLOW"
	StatusLimit Status = "LIMIT"
	StatusDeny  Status = "DENY"
)

var statusRank = map[Status]int{
	StatusAllow: 0,
	StatusLimit: 1,
	StatusDeny:  2,
}

// Rank returns the lattice position of s. Unknown values rank below allow
// so that folding never silently promotes garbage input to a safe status.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// MaxStatus returns the more restrictive of a and b.
func MaxStatus(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Severity is a regulation rule's authority tier.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityBlock Severity = "BLOCK"
)

// Scope identifies which regulation layer a rule belongs to. Layers rank
// country > carrier > international when breaking specificity ties (see
// Priority).
type Scope string

const (
	ScopeCountry       Scope = "country"
	ScopeCarrier       Scope = "airline"
	ScopeInternational Scope = "international"
)

// layerPriority ranks scopes for tie-breaking when two rules at the same
// specificity apply (spec.md §4.6): country first, then carrier, then
// the international floor.
var layerPriority = map[Scope]int{
	ScopeCountry:       2,
	ScopeCarrier:       1,
	ScopeInternational: 0,
}

// Priority returns s's tie-break rank; unknown scopes always lose.
func (s Scope) Priority() int {
	if p, ok := layerPriority[s]; ok {
		return p
	}
	return -1
}

// RouteType classifies an itinerary as domestic or international.
type RouteType string

const (
	RouteDomestic      RouteType = "domestic"
	RouteInternational RouteType = "international"
)

// CabinClass enumerates the cabin classes a segment may carry.
type CabinClass string

const (
	CabinEconomy  CabinClass = "economy"
	CabinBusiness CabinClass = "business"
	CabinFirst    CabinClass = "first"
	CabinPrestige CabinClass = "prestige"
)

// BagKey is the closed set of bag identifiers used throughout the pipeline.
type BagKey string

const (
	BagCarryOn BagKey = "carry_on"
	BagChecked BagKey = "checked"
)

// State is the top-level preview outcome.
type State string

const (
	StateComplete    State = "complete"
	StateNeedsReview State = "needs_review"
)

// ParamName is the closed set of numeric item attributes the taxonomy and
// the LLM contract both recognize.
type ParamName string

const (
	ParamVolumeML      ParamName = "volume_ml"
	ParamWh            ParamName = "wh"
	ParamCount         ParamName = "count"
	ParamWeightKg      ParamName = "weight_kg"
	ParamABVPercent    ParamName = "abv_percent"
	ParamBladeLengthCm ParamName = "blade_length_cm"
)

// AllParamNames lists every recognized ItemParams field, in wire order.
var AllParamNames = []ParamName{
	ParamVolumeML, ParamWh, ParamCount, ParamWeightKg, ParamABVPercent, ParamBladeLengthCm,
}

// ItemParams holds the optional numeric attributes extracted from an item
// label. A nil pointer means the value is absent; it is never represented
// with a sentinel zero.
type ItemParams struct {
	VolumeML      *float64 `json:"volume_ml,omitempty"`
	Wh            *float64 `json:"wh,omitempty"`
	Count         *float64 `json:"count,omitempty"`
	WeightKg      *float64 `json:"weight_kg,omitempty"`
	ABVPercent    *float64 `json:"abv_percent,omitempty"`
	BladeLengthCm *float64 `json:"blade_length_cm,omitempty"`
}

// Get returns the value for name, and whether it is present.
func (p ItemParams) Get(name ParamName) (float64, bool) {
	var v *float64
	switch name {
	case ParamVolumeML:
		v = p.VolumeML
	case ParamWh:
		v = p.Wh
	case ParamCount:
		v = p.Count
	case ParamWeightKg:
		v = p.WeightKg
	case ParamABVPercent:
		v = p.ABVPercent
	case ParamBladeLengthCm:
		v = p.BladeLengthCm
	default:
		return 0, false
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Segment is one leg of the itinerary: operating carrier, cabin class, and
// an optional fare class.
type Segment struct {
	Carrier    string     `json:"carrier"`
	CabinClass CabinClass `json:"cabin_class"`
	FareClass  string     `json:"fare_class,omitempty"`
}

// Itinerary describes the ordered origin/via/destination airports, the
// domestic/international route classification, and whether a connection
// re-screens liquids and aerosols.
type Itinerary struct {
	Origin      string   `json:"origin"`
	Via         []string `json:"via,omitempty"`
	Destination string   `json:"destination"`

	// CountryCodes maps each airport in Origin/Via/Destination to its ISO
	// country code. Resolving an airport to a country is an airport-directory
	// lookup, an external collaborator out of scope for this module; the
	// caller populates this map before the request reaches the resolver, which
	// uses it to scope country-level regulation rules to the legs the
	// itinerary actually touches.
	CountryCodes map[string]string `json:"country_codes,omitempty"`

	RouteType      RouteType `json:"route_type"`
	HasRescreening bool      `json:"has_rescreening"`
}

// Airports returns origin, all via-points, and destination in order.
func (it Itinerary) Airports() []string {
	out := make([]string, 0, len(it.Via)+2)
	out = append(out, it.Origin)
	out = append(out, it.Via...)
	out = append(out, it.Destination)
	return out
}

// Countries returns the distinct ISO country codes touched by the
// itinerary, in airport order, using CountryCodes to resolve each airport.
// An airport missing from CountryCodes is silently skipped.
func (it Itinerary) Countries() []string {
	var out []string
	seen := make(map[string]bool)
	for _, apt := range it.Airports() {
		cc, ok := it.CountryCodes[apt]
		if !ok || seen[cc] {
			continue
		}
		seen[cc] = true
		out = append(out, cc)
	}
	return out
}

// BagVerdict is a per-bag resolved status with supporting badge text and
// stable reason-code references into the applied regulation rules.
type BagVerdict struct {
	Status      Status   `json:"status"`
	Badges      []string `json:"badges,omitempty"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
}

// Signals carries the LLM's self-reported extraction confidence.
type Signals struct {
	MatchedTerms []string `json:"matched_terms,omitempty"`
	Confidence   float64  `json:"confidence"`
	Notes        string   `json:"notes,omitempty"`
}

// ModelInfo records which model produced a classification draft.
type ModelInfo struct {
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
}

// ClassificationDraft is the validated output of the LLM classifier: a
// canonical risk key, extracted parameters, draft per-bag verdicts, and
// extraction signals.
type ClassificationDraft struct {
	Canonical   string     `json:"canonical"`
	Params      ItemParams `json:"params"`
	CarryOn     BagVerdict `json:"carry_on"`
	Checked     BagVerdict `json:"checked"`
	NeedsReview bool       `json:"needs_review"`
	Signals     Signals    `json:"signals"`
	ModelInfo   ModelInfo  `json:"model_info"`
}

// Constraints is the condition+cap object attached to a regulation rule.
// RouteType, CabinClass, and FareClass are the recognized condition
// fields used for specificity ranking; all other fields are caps
// interpreted by the resolver.
type Constraints struct {
	RouteType  *RouteType  `json:"route_type,omitempty"`
	CabinClass *CabinClass `json:"cabin_class,omitempty"`
	FareClass  *string     `json:"fare_class,omitempty"`

	MaxVolumeMl      *float64 `json:"max_volume_ml,omitempty"`
	MaxTotalVolumeMl *float64 `json:"max_total_volume_ml,omitempty"`
	MaxWhPerUnit     *float64 `json:"max_wh_per_unit,omitempty"`
	MaxCount         *float64 `json:"max_count,omitempty"`
	MaxWeightKg      *float64 `json:"max_weight_kg,omitempty"`
	MaxBladeLengthCm *float64 `json:"max_blade_length_cm,omitempty"`
	MaxPieces        *int     `json:"max_pieces,omitempty"`
	RequiresSTEB     bool     `json:"requires_steb,omitempty"`
	Badge            string   `json:"badge,omitempty"`
}

// Specificity counts the non-null condition fields on the constraints,
// used to rank rule applicability (spec.md §4.6).
func (c Constraints) Specificity() int {
	n := 0
	if c.RouteType != nil {
		n++
	}
	if c.CabinClass != nil {
		n++
	}
	if c.FareClass != nil {
		n++
	}
	return n
}

// RegulationRule is one immutable regulation record as loaded from a
// regulation file (wire format in spec.md §6). Identity is the full tuple
// (Scope, Code, ItemCategory, condition vector) — two rules that agree on
// scope/code/item_category but differ in route_type/cabin_class/fare_class
// are distinct, not a collision.
type RegulationRule struct {
	Scope        Scope       `json:"scope"`
	Code         string      `json:"code"`
	ItemCategory string      `json:"item_category"`
	Constraints  Constraints `json:"constraints"`
	Severity     Severity    `json:"severity"`
	Notes        string      `json:"notes,omitempty"`

	// ID is a stable, derived identifier used in engine traces and
	// reason_codes; it is not part of the on-disk file format.
	ID string `json:"-"`
	// SourceFile and SourceIndex record load provenance for load errors.
	SourceFile  string `json:"-"`
	SourceIndex int    `json:"-"`
}

// RegulationFile is the top-level on-disk document: one file per scope+code.
type RegulationFile struct {
	Scope Scope            `json:"scope"`
	Code  string           `json:"code"`
	Name  string           `json:"name,omitempty"`
	Rules []RegulationRule `json:"rules"`
}

// Flags records every failure or review signal raised across the pipeline.
// No flag is ever allowed to downgrade a deny verdict (spec.md §7).
type Flags struct {
	ValidationError bool     `json:"validation_error,omitempty"`
	MissingParams   []string `json:"missing_params,omitempty"`
	LowConfidence   bool     `json:"low_confidence,omitempty"`
	Conflict        bool     `json:"conflict,omitempty"`
	LLMError        bool     `json:"llm_error,omitempty"`
	Override        bool     `json:"override,omitempty"`
}

// AnyRaised reports whether any review-triggering flag is set.
func (f Flags) AnyRaised() bool {
	return f.ValidationError || len(f.MissingParams) > 0 || f.LowConfidence ||
		f.Conflict || f.LLMError || f.Override
}

// EngineTrace records which canonical key, params, and rules contributed to
// the resolved verdict, supporting the idempotence property in spec.md §8.
type EngineTrace struct {
	Canonical    string     `json:"canonical"`
	Params       ItemParams `json:"params"`
	AppliedRules []string   `json:"applied_rules"`
}

// Narration is the non-authoritative, user-facing rewrite of the resolved
// decision produced by the narration adapter. A zero-value Narration means
// the adapter did not run or failed; the resolved decision remains
// authoritative either way.
type Narration struct {
	Title        string   `json:"title,omitempty"`
	CarryOnBlurb string   `json:"carry_on_blurb,omitempty"`
	CheckedBlurb string   `json:"checked_blurb,omitempty"`
	Bullets      []string `json:"bullets,omitempty"`
	Badges       []string `json:"badges,omitempty"`
	Footnote     string   `json:"footnote,omitempty"`
}

// PreviewRequest is the external request shape (spec.md §6).
type PreviewRequest struct {
	Label      string      `json:"label"`
	Locale     string      `json:"locale,omitempty"`
	ReqID      string      `json:"req_id,omitempty"`
	Itinerary  Itinerary   `json:"itinerary"`
	Segments   []Segment   `json:"segments"`
	ItemParams *ItemParams `json:"item_params,omitempty"`
	DutyFree   bool        `json:"duty_free,omitempty"`
}

// Resolved holds the final per-bag verdicts.
type Resolved struct {
	CarryOn BagVerdict `json:"carry_on"`
	Checked BagVerdict `json:"checked"`
}

// PreviewResult is the final response shape (spec.md §6).
type PreviewResult struct {
	ReqID     string      `json:"req_id"`
	State     State       `json:"state"`
	Resolved  Resolved    `json:"resolved"`
	Engine    EngineTrace `json:"engine"`
	Narration Narration   `json:"narration,omitempty"`
	Flags     Flags       `json:"flags"`
}
