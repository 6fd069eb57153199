package middleware

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
)

const mask = "***"

// DefaultPIIKeys matches the JSON keys whose values are masked in tool
// arguments and tool results.
var DefaultPIIKeys = []string{`(?i)patient`, `(?i)phone`, `(?i)hkid`}

// DefaultPIIPatterns matches identifiers masked in free text: Hong Kong
// identity card numbers and phone numbers written with a country code or a
// separator.
var DefaultPIIPatterns = []string{
	`\b[A-Z]{1,2}[0-9]{6}\s?\(?[0-9A]\)?`,
	`\+852[\s-]?\d{4}[\s-]?\d{4}\b`,
	`\b[5-9]\d{3}[\s-]\d{4}\b`,
}

type piiMiddleware struct {
	ports.TranscriptStore
	keys     []*regexp.Regexp
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks transcript messages before
// they are written. Values of JSON keys matching keyPatterns are replaced in
// tool arguments and JSON content; text matching textPatterns is replaced
// anywhere in the content. Drafts and orders are written unchanged.
func NewPIIMiddleware(keyPatterns []string, textPatterns ...string) Middleware {
	keys := compileAll(keyPatterns)
	patterns := compileAll(textPatterns)
	return func(next ports.TranscriptStore) ports.TranscriptStore {
		return &piiMiddleware{TranscriptStore: next, keys: keys, patterns: patterns}
	}
}

func compileAll(ps []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(ps))
	for i, p := range ps {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func (m *piiMiddleware) AppendMessage(ctx context.Context, msg domain.Message) error {
	// Clone to avoid side effects on the live transcript.
	masked := msg.Clone()
	masked.Content = m.maskText(masked.Content)
	for i, tc := range masked.ToolCalls {
		masked.ToolCalls[i].Arguments = m.maskText(tc.Arguments)
	}
	return m.TranscriptStore.AppendMessage(ctx, masked)
}

// maskText masks a JSON object by key, or free text by pattern.
func (m *piiMiddleware) maskText(s string) string {
	if s == "" {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
		if m.maskMap(obj) {
			if b, err := json.Marshal(obj); err == nil {
				return string(b)
			}
		}
		return s
	}
	return m.maskFree(s)
}

// maskMap masks in place and reports whether anything changed.
func (m *piiMiddleware) maskMap(obj map[string]any) bool {
	changed := false
	for k, v := range obj {
		if m.matchKey(k) {
			obj[k] = mask
			changed = true
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			if m.maskMap(val) {
				changed = true
			}
		case []any:
			for _, item := range val {
				if sub, ok := item.(map[string]any); ok && m.maskMap(sub) {
					changed = true
				}
			}
		case string:
			if masked := m.maskFree(val); masked != val {
				obj[k] = masked
				changed = true
			}
		}
	}
	return changed
}

func (m *piiMiddleware) maskFree(s string) string {
	for _, p := range m.patterns {
		s = p.ReplaceAllString(s, mask)
	}
	return s
}

func (m *piiMiddleware) matchKey(k string) bool {
	for _, p := range m.keys {
		if p.MatchString(k) {
			return true
		}
	}
	return false
}
