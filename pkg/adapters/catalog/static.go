package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultLimit caps results when the query does not.
const DefaultLimit = 5

type entry struct {
	domain.Product `yaml:",inline"`
	Keywords       []string `yaml:"keywords"`

	tokens map[string]struct{}
}

type catalogFile struct {
	Products []entry `yaml:"products"`
}

// StaticSearcher ranks a fixed product list by token overlap with the query.
// It stands in for the vector index in development and tests.
type StaticSearcher struct {
	entries []entry
}

// NewStaticSearcher parses a YAML catalog.
func NewStaticSearcher(data []byte) (*StaticSearcher, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(file.Products))
	for i := range file.Products {
		e := &file.Products[i]
		if e.Code == "" {
			return nil, fmt.Errorf("catalog entry %d has no code", i)
		}
		if seen[e.Code] {
			return nil, fmt.Errorf("duplicate product code %q", e.Code)
		}
		seen[e.Code] = true

		e.tokens = make(map[string]struct{})
		text := []string{e.Code, e.Name}
		text = append(text, e.Keywords...)
		for _, v := range e.Attributes {
			text = append(text, v)
		}
		for _, t := range tokenize(strings.Join(text, " ")) {
			e.tokens[t] = struct{}{}
		}
	}
	return &StaticSearcher{entries: file.Products}, nil
}

// LoadStaticSearcher reads a catalog file, or the built-in catalog when path is empty.
func LoadStaticSearcher(path string) (*StaticSearcher, error) {
	if path == "" {
		return NewStaticSearcher(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return NewStaticSearcher(data)
}

// Len returns the number of products.
func (s *StaticSearcher) Len() int {
	return len(s.entries)
}

// Search implements ports.CatalogSearcher.
func (s *StaticSearcher) Search(ctx context.Context, q ports.CatalogQuery) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := make(map[string]struct{})
	for _, t := range tokenize(q.Text) {
		query[t] = struct{}{}
	}
	if len(query) == 0 {
		return []domain.Product{}, nil
	}

	out := make([]domain.Product, 0)
	for _, e := range s.entries {
		if q.Category != "" && e.Attributes["category"] != "" && e.Attributes["category"] != q.Category {
			continue
		}
		overlap := 0
		for t := range query {
			if _, ok := e.tokens[t]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		p := e.Product
		p.Attributes = copyAttrs(e.Attributes)
		p.Score = float64(overlap) / math.Sqrt(float64(len(query)*len(e.tokens)))
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Code < out[j].Code
	})
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyAttrs(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// tokenize lowercases and splits on anything but letters, digits, '-' and '.'.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '.'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-.")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
