package normalizer

import (
	"slices"
	"strings"

	"github.com/labwire/orderdesk/pkg/rules"
)

// MetalGroup is the pseudo-category covering every alloy subtype (pfm and full-cast).
const MetalGroup = "metal"

// Vocabulary holds the canonical subtype names and known synonyms per category.
type Vocabulary struct {
	terms   map[string][]string
	aliases map[string]map[string]string // category -> squashed alias -> canonical
}

// defaultAliases are common lab abbreviations. Entries whose canonical name
// is not in a category's vocabulary are ignored for that category.
var defaultAliases = map[string]string{
	"emax":     "ips-emax",
	"e.max":    "ips-emax",
	"emx":      "ips-emax",
	"ips":      "ips-emax",
	"ipsemax":  "ips-emax",
	"np":       "non-precious",
	"nonprec":  "non-precious",
	"pd":       "palladium",
	"ti":       "titanium",
	"cpst":     "composite",
	"comp":     "composite",
	"zirconia": "fmz",
	"zr":       "fmz",
	"hn":       "high-noble",
	"sp":       "semi-precious",
	"purti":    "pure-titanium",
	"wg":       "white-gold",
}

// NewVocabulary derives the vocabulary from the rule engine's compatibility
// table so both agree on canonical names. extra aliases are merged over the
// built-in abbreviations.
func NewVocabulary(r *rules.Rules, extra map[string]string) *Vocabulary {
	v := &Vocabulary{terms: map[string][]string{}, aliases: map[string]map[string]string{}}

	var metal []string
	for _, cat := range r.Categories() {
		subs := r.Subtypes(cat)
		v.terms[cat] = subs
		if cat != "metal-free" {
			for _, s := range subs {
				if !slices.Contains(metal, s) {
					metal = append(metal, s)
				}
			}
		}
	}
	v.terms[MetalGroup] = metal

	merged := make(map[string]string, len(defaultAliases)+len(extra))
	for k, val := range defaultAliases {
		merged[k] = val
	}
	for k, val := range extra {
		merged[k] = val
	}

	for cat, subs := range v.terms {
		table := map[string]string{}
		for _, s := range subs {
			table[squash(s)] = s
		}
		for alias, canonical := range merged {
			if slices.Contains(subs, canonical) {
				table[squash(alias)] = canonical
			}
		}
		v.aliases[cat] = table
	}
	return v
}

// Terms returns the canonical names for a category, in table order.
func (v *Vocabulary) Terms(category string) []string {
	return v.terms[category]
}

// Categories lists the categories the vocabulary knows, including MetalGroup.
func (v *Vocabulary) Categories() []string {
	out := make([]string, 0, len(v.terms))
	for c := range v.terms {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Contains reports whether name is canonical for the category.
func (v *Vocabulary) Contains(category, name string) bool {
	return slices.Contains(v.terms[category], name)
}

// Lookup returns the canonical name for an exact alias or canonical match.
func (v *Vocabulary) Lookup(category, raw string) (string, bool) {
	c, ok := v.aliases[category][squash(raw)]
	return c, ok
}

// squash lowercases and drops spaces, dots, hyphens and underscores.
func squash(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '_', '\t':
			return -1
		}
		return r
	}, s)
}
