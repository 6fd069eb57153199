package rules

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	knownRestorations = []string{"crown", "bridge", "veneer", "inlay", "onlay"}
	knownCategories   = []string{"pfm", "metal-free", "full-cast"}
)

// Rules evaluates bridge and material rules against an injected Config.
// It is stateless after construction and safe for concurrent use.
type Rules struct {
	cfg          Config
	restorations []string
	categories   []string
}

// New validates the config and builds a rule engine.
func New(cfg Config) (*Rules, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules config: %w", err)
	}
	r := &Rules{cfg: cfg}

	r.restorations = ordered(knownRestorations, keys(cfg.Compatibility))
	seen := map[string]bool{}
	var cats []string
	for _, byCat := range cfg.Compatibility {
		for c := range byCat {
			if !seen[c] {
				seen[c] = true
				cats = append(cats, c)
			}
		}
	}
	r.categories = ordered(knownCategories, cats)
	return r, nil
}

// Default returns the rule engine for DefaultConfig.
func Default() *Rules {
	r, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return r
}

// Bridge returns the bridge thresholds in use.
func (r *Rules) Bridge() BridgeRules { return r.cfg.Bridge }

// RestorationTypes lists the supported restoration types.
func (r *Rules) RestorationTypes() []string { return slices.Clone(r.restorations) }

// Categories lists the supported material categories.
func (r *Rules) Categories() []string { return slices.Clone(r.categories) }

// CanonicalRestoration maps user wording such as "牙橋" to a restoration type.
func (r *Rules) CanonicalRestoration(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := r.cfg.Compatibility[key]; ok {
		return key, true
	}
	v, ok := r.cfg.RestorationAliases[key]
	return v, ok
}

// CanonicalCategory maps user wording such as "全瓷" to a material category.
func (r *Rules) CanonicalCategory(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if slices.Contains(r.categories, key) {
		return key, true
	}
	if v, ok := r.cfg.CategoryAliases[key]; ok {
		return v, true
	}
	v, ok := r.cfg.CategoryAliases[strings.ReplaceAll(key, "_", "-")]
	return v, ok
}

// Subtypes returns every subtype named for a category, allowed or forbidden,
// in table order. It is the canonical vocabulary for normalization.
func (r *Rules) Subtypes(category string) []string {
	var out []string
	for _, rt := range r.restorations {
		rule, ok := r.cfg.Compatibility[rt][category]
		if !ok {
			continue
		}
		for _, s := range append(slices.Clone(rule.Allowed), rule.Forbidden...) {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

// BridgeReport is the verdict of ValidateBridge.
type BridgeReport struct {
	Valid        bool     `json:"valid"`
	Message      string   `json:"message"`
	ErrorKind    string   `json:"error_type,omitempty"`
	Positions    []string `json:"positions,omitempty"` // Sorted along the arch
	Span         int      `json:"bridge_span,omitempty"`
	PositionType string   `json:"position_type,omitempty"`
}

// Bridge error kinds.
const (
	ErrKindMissingPositions = "missing_positions"
	ErrKindInvalidTooth     = "invalid_tooth"
	ErrKindDuplicate        = "duplicate"
	ErrKindCrossArch        = "cross_arch"
	ErrKindDiscontinuous    = "discontinuous"
	ErrKindTooShort         = "too_short"
	ErrKindTooLong          = "too_long"
)

// ValidateBridge checks that positions form a legal bridge: valid FDI teeth,
// no duplicates, one arch, contiguous along the arch (crossing the midline
// between 11/21 or 31/41 is allowed), and a span within the configured bounds.
// The verdict depends only on the set of positions, not on their order.
func (r *Rules) ValidateBridge(positions string) BridgeReport {
	teeth := ValidateTeeth(positions)
	if !teeth.Valid {
		kind := ErrKindInvalidTooth
		if len(teeth.Invalid) == 0 {
			kind = ErrKindMissingPositions
		}
		return BridgeReport{Message: teeth.Message, ErrorKind: kind}
	}

	seen := map[int]bool{}
	for _, t := range teeth.Teeth {
		if seen[t.Number()] {
			return BridgeReport{Message: fmt.Sprintf("tooth %d is listed more than once", t.Number()), ErrorKind: ErrKindDuplicate}
		}
		seen[t.Number()] = true
	}

	sorted := slices.Clone(teeth.Teeth)
	upper := sorted[0].Upper()
	for _, t := range sorted {
		if t.Upper() != upper {
			return BridgeReport{Message: "a bridge cannot join upper and lower teeth", ErrorKind: ErrKindCrossArch}
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].archIndex() < sorted[j].archIndex() })

	codes := make([]string, len(sorted))
	for i, t := range sorted {
		codes[i] = t.String()
	}

	for i := 1; i < len(sorted); i++ {
		if sorted[i].archIndex()-sorted[i-1].archIndex() != 1 {
			missing := toothAt(upper, sorted[i-1].archIndex()+1)
			return BridgeReport{
				Message:   fmt.Sprintf("positions are not contiguous: tooth %s is missing between %s and %s", missing, sorted[i-1], sorted[i]),
				ErrorKind: ErrKindDiscontinuous,
				Positions: codes,
			}
		}
	}

	span := len(sorted)
	if span < r.cfg.Bridge.MinUnits {
		return BridgeReport{
			Message:   fmt.Sprintf("a bridge needs at least %d units (got %d)", r.cfg.Bridge.MinUnits, span),
			ErrorKind: ErrKindTooShort,
			Positions: codes,
		}
	}
	if span > r.cfg.Bridge.MaxUnits {
		return BridgeReport{
			Message:   fmt.Sprintf("a bridge supports at most %d units (got %d)", r.cfg.Bridge.MaxUnits, span),
			ErrorKind: ErrKindTooLong,
			Positions: codes,
		}
	}

	return BridgeReport{
		Valid:        true,
		Message:      fmt.Sprintf("bridge %s is valid (%d units)", strings.Join(codes, "-"), span),
		Positions:    codes,
		Span:         span,
		PositionType: PositionType(sorted),
	}
}

// MaterialReport is the verdict of ValidateMaterial.
// CompatibleSubtypes is authoritative; callers never hardcode subtype lists.
type MaterialReport struct {
	Valid              bool     `json:"valid"`
	Message            string   `json:"message"`
	ErrorKind          string   `json:"error_type,omitempty"`
	Category           string   `json:"material_category,omitempty"`
	Subtype            string   `json:"material_subtype,omitempty"`
	CompatibleSubtypes []string `json:"compatible_subtypes,omitempty"`
	AllowedCategories  []string `json:"allowed_categories,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// Material error kinds.
const (
	ErrKindMissingParameter    = "missing_parameter"
	ErrKindUnsupportedType     = "unsupported_restoration_type"
	ErrKindUnsupportedCategory = "unsupported_category"
	ErrKindForbiddenCategory   = "forbidden_category"
	ErrKindForbiddenSubtype    = "forbidden_subtype"
	ErrKindIncompatibleSubtype = "incompatible_subtype"
)

// ValidateMaterial checks a category and optional subtype against the
// compatibility table for the restoration type. The subtype must already be
// canonical. span is only used for bridge warnings.
func (r *Rules) ValidateMaterial(category, subtype, restorationType string, span int) MaterialReport {
	if strings.TrimSpace(restorationType) == "" {
		return MaterialReport{Message: "restoration type is required", ErrorKind: ErrKindMissingParameter}
	}
	if strings.TrimSpace(category) == "" {
		return MaterialReport{Message: "material category is required", ErrorKind: ErrKindMissingParameter}
	}

	rt, ok := r.CanonicalRestoration(restorationType)
	if !ok {
		return MaterialReport{
			Message:   fmt.Sprintf("unsupported restoration type %q; supported: %s", restorationType, strings.Join(r.restorations, ", ")),
			ErrorKind: ErrKindUnsupportedType,
		}
	}
	byCat := r.cfg.Compatibility[rt]
	allowedCats := r.allowedCategories(rt)

	cat, ok := r.CanonicalCategory(category)
	if !ok {
		return MaterialReport{
			Message:           fmt.Sprintf("unknown material category %q; choose one of: %s", category, strings.Join(allowedCats, ", ")),
			ErrorKind:         ErrKindUnsupportedCategory,
			AllowedCategories: allowedCats,
		}
	}
	rule, ok := byCat[cat]
	if !ok {
		return MaterialReport{
			Message:           fmt.Sprintf("%s does not support %s", rt, cat),
			ErrorKind:         ErrKindUnsupportedCategory,
			AllowedCategories: allowedCats,
		}
	}
	if len(rule.Allowed) == 0 {
		msg := fmt.Sprintf("%s cannot be made in %s", rt, cat)
		if rule.Reason != "" {
			msg += ": " + rule.Reason
		}
		return MaterialReport{Message: msg, ErrorKind: ErrKindForbiddenCategory, Category: cat, AllowedCategories: allowedCats}
	}

	rep := MaterialReport{Category: cat, CompatibleSubtypes: slices.Clone(rule.Allowed)}
	sub := strings.ToLower(strings.TrimSpace(subtype))
	if sub != "" {
		if slices.Contains(rule.Forbidden, sub) {
			rep.Message = fmt.Sprintf("%s cannot use %s; choose one of: %s", rt, sub, strings.Join(rule.Allowed, ", "))
			rep.ErrorKind = ErrKindForbiddenSubtype
			return rep
		}
		if !slices.Contains(rule.Allowed, sub) {
			rep.Message = fmt.Sprintf("%s in %s does not support %s; choose one of: %s", rt, cat, sub, strings.Join(rule.Allowed, ", "))
			rep.ErrorKind = ErrKindIncompatibleSubtype
			return rep
		}
		rep.Subtype = sub
	}

	if rt == "bridge" && cat == "metal-free" && sub != "" && span > r.cfg.LongSpan.Units && !slices.Contains(r.cfg.LongSpan.Recommended, sub) {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("a %d-unit bridge in %s is weaker; %s are recommended for spans over %d units",
			span, sub, strings.Join(r.cfg.LongSpan.Recommended, " or "), r.cfg.LongSpan.Units))
	}

	rep.Valid = true
	if sub != "" {
		rep.Message = fmt.Sprintf("%s in %s (%s) is compatible", rt, cat, sub)
	} else {
		rep.Message = fmt.Sprintf("%s in %s is compatible; choose a subtype: %s", rt, cat, strings.Join(rule.Allowed, ", "))
	}
	return rep
}

func (r *Rules) allowedCategories(rt string) []string {
	var out []string
	for _, c := range r.categories {
		if rule, ok := r.cfg.Compatibility[rt][c]; ok && len(rule.Allowed) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// ordered puts known names first in their usual order, then the rest sorted.
func ordered(known, present []string) []string {
	var out, rest []string
	for _, k := range known {
		if slices.Contains(present, k) {
			out = append(out, k)
		}
	}
	for _, p := range present {
		if !slices.Contains(known, p) {
			rest = append(rest, p)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
