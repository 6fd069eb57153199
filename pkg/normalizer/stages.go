package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/labwire/orderdesk/internal/retry"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Stage names recorded in resolutions and cache entries.
const (
	StageAlias = "alias"
	StageFuzzy = "fuzzy"
	StageModel = "model"
)

// Outcome is the tagged result of one stage: resolved with a canonical name, or next.
type Outcome struct {
	Canonical string
	Resolved  bool
}

// Next is the outcome of a stage that could not decide.
var Next = Outcome{}

// Resolved builds a resolved outcome.
func Resolved(canonical string) Outcome { return Outcome{Canonical: canonical, Resolved: true} }

// Stage is one strategy of the escalating pipeline.
type Stage interface {
	Name() string
	Resolve(ctx context.Context, raw, category string, vocab *Vocabulary) (Outcome, error)
}

// AliasStage looks the input up in the alias table after squashing
// case, spaces, dots and hyphens.
type AliasStage struct{}

func (AliasStage) Name() string { return StageAlias }

func (AliasStage) Resolve(_ context.Context, raw, category string, vocab *Vocabulary) (Outcome, error) {
	if c, ok := vocab.Lookup(category, raw); ok {
		return Resolved(c), nil
	}
	return Next, nil
}

// DefaultThreshold is the minimum normalized edit similarity accepted by FuzzyStage.
const DefaultThreshold = 0.7

// FuzzyStage picks the vocabulary term with the highest edit similarity,
// provided it reaches Threshold. Ties go to the earlier term.
type FuzzyStage struct {
	Threshold float64
}

func (FuzzyStage) Name() string { return StageFuzzy }

func (s FuzzyStage) Resolve(_ context.Context, raw, category string, vocab *Vocabulary) (Outcome, error) {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	input := squash(raw)
	if input == "" {
		return Next, nil
	}

	best, bestScore := "", 0.0
	for _, term := range vocab.Terms(category) {
		score := Similarity(input, squash(term))
		if score > bestScore {
			best, bestScore = term, score
		}
	}
	if best != "" && bestScore >= threshold {
		return Resolved(best), nil
	}
	return Next, nil
}

var dmp = diffmatchpatch.New()

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)) measured in runes.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	diffs := dmp.DiffMain(a, b, false)
	return 1 - float64(dmp.DiffLevenshtein(diffs))/float64(longest)
}

// ModelStage asks the reasoning engine to pick one vocabulary term.
// Answers outside the vocabulary are treated as unresolved.
type ModelStage struct {
	Engine ports.ReasoningEngine
	Retry  retry.Policy
}

func (ModelStage) Name() string { return StageModel }

const modelSystem = "You are a dental material name normalizer. Return only valid JSON, no explanations."

func (s ModelStage) Resolve(ctx context.Context, raw, category string, vocab *Vocabulary) (Outcome, error) {
	terms := vocab.Terms(category)
	if s.Engine == nil || len(terms) == 0 {
		return Next, nil
	}

	req := ports.ChatRequest{
		System: modelSystem,
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: modelPrompt(raw, category, terms),
		}},
		ToolChoice:  ports.ToolChoiceNone,
		Temperature: 0,
		MaxTokens:   50,
	}

	var resp ports.ChatResponse
	err := retry.Do(ctx, s.Retry, func(ctx context.Context) error {
		var err error
		resp, err = s.Engine.Complete(ctx, req)
		if errors.Is(err, domain.ErrContentFiltered) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return Next, fmt.Errorf("model normalization failed: %w", err)
	}

	matched, ok := parseMatch(resp.Content)
	if !ok || !vocab.Contains(category, matched) {
		return Next, nil
	}
	return Resolved(matched), nil
}

func modelPrompt(raw, category string, terms []string) string {
	list, _ := json.Marshal(terms)
	var b strings.Builder
	b.WriteString("Task: match the user's input to the closest standard material name.\n\n")
	fmt.Fprintf(&b, "User input: %q\n", raw)
	fmt.Fprintf(&b, "Material category: %s\n", category)
	fmt.Fprintf(&b, "Standard materials: %s\n\n", list)
	b.WriteString("Rules:\n")
	b.WriteString("1. Ignore case, spaces, dots and hyphens.\n")
	b.WriteString("2. Handle typos, abbreviations and other languages (English, Chinese).\n")
	b.WriteString("3. Only answer with a name from the list.\n\n")
	b.WriteString(`Return JSON {"matched": "standard_name"} or {"matched": null} if nothing fits.`)
	return b.String()
}

// parseMatch extracts "matched" from a JSON answer, tolerating markdown fences.
func parseMatch(content string) (string, bool) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var answer struct {
		Matched *string `json:"matched"`
	}
	if err := json.Unmarshal([]byte(content), &answer); err != nil || answer.Matched == nil {
		return "", false
	}
	m := strings.ToLower(strings.TrimSpace(*answer.Matched))
	return m, m != ""
}
