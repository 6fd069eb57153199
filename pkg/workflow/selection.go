package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/labwire/orderdesk/pkg/domain"
)

var (
	// ErrNoCandidates is returned when there is nothing to choose from.
	ErrNoCandidates = errors.New("no candidate products to choose from")
	// ErrNoMatch is returned when the reply names none of the candidates.
	ErrNoMatch = errors.New("reply does not name a candidate")
	// ErrAmbiguous is returned when the reply matches more than one candidate.
	ErrAmbiguous = errors.New("reply matches more than one candidate")
	// ErrOutOfRange is returned for an ordinal past the end of the list.
	ErrOutOfRange = errors.New("choice is out of range")
)

var (
	numericChoice = regexp.MustCompile(`^(?:#|no\.?|number|option|item)?\s*(\d{1,2})(?:st|nd|rd|th)?$`)
	chineseChoice = regexp.MustCompile(`第\s*([一二三四五六七八九十]|\d{1,2})`)
)

var englishOrdinals = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

var chineseDigits = map[string]int{
	"一": 1, "二": 2, "三": 3, "四": 4, "五": 5, "六": 6, "七": 7, "八": 8, "九": 9, "十": 10,
}

var fillerWords = map[string]bool{
	"the": true, "a": true, "please": true, "i": true, "want": true, "take": true,
	"choose": true, "pick": true, "select": true, "go": true, "with": true,
	"product": true, "that": true, "id": true, "like": true, "ll": true, "d": true,
	"would": true, "use": true, "let's": true, "lets": true,
}

// ResolveSelection maps a free-text reply to one of the draft's candidates in
// the order they were presented. Accepted forms are ordinals ("2", "#2",
// "no. 2", "second", "the second one", "第二個", "last"), an exact product
// code, or a product-name fragment matching exactly one candidate.
func (m *Machine) ResolveSelection(d domain.OrderDraft, reply string) (domain.Product, error) {
	return ResolveSelection(d.Candidates, reply)
}

// ResolveSelection resolves reply against candidates. See Machine.ResolveSelection.
func ResolveSelection(candidates []domain.Product, reply string) (domain.Product, error) {
	if len(candidates) == 0 {
		return domain.Product{}, ErrNoCandidates
	}
	raw := strings.TrimSpace(reply)
	if raw == "" {
		return domain.Product{}, ErrNoMatch
	}
	lower := strings.ToLower(raw)

	for _, p := range candidates {
		if strings.EqualFold(p.Code, raw) {
			return p, nil
		}
	}

	if idx, ok := ordinal(lower); ok {
		if idx == -1 {
			return candidates[len(candidates)-1], nil
		}
		if idx < 1 || idx > len(candidates) {
			return domain.Product{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, idx, len(candidates))
		}
		return candidates[idx-1], nil
	}

	return byName(candidates, lower)
}

// ordinal returns a 1-based index, -1 for "last", or false.
func ordinal(lower string) (int, bool) {
	if m := chineseChoice.FindStringSubmatch(lower); m != nil {
		if n, ok := chineseDigits[m[1]]; ok {
			return n, true
		}
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	if strings.Contains(lower, "最後") || strings.Contains(lower, "最后") {
		return -1, true
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '!' || r == '?' || r == '，' || r == '。'
	})
	var kept []string
	for _, w := range words {
		w = strings.TrimRight(w, ".")
		if w == "" || fillerWords[w] {
			continue
		}
		kept = append(kept, w)
	}
	// "the second one" reduces to "second one"; drop a trailing "one" after an ordinal word.
	if len(kept) == 2 && kept[1] == "one" {
		kept = kept[:1]
	}
	phrase := strings.Join(kept, " ")

	if phrase == "last" || phrase == "last one" {
		return -1, true
	}
	if m := numericChoice.FindStringSubmatch(phrase); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	if n, ok := englishOrdinals[phrase]; ok {
		return n, true
	}
	return 0, false
}

func byName(candidates []domain.Product, lower string) (domain.Product, error) {
	if len([]rune(lower)) < 2 {
		return domain.Product{}, ErrNoMatch
	}
	var matches []domain.Product
	for _, p := range candidates {
		name := strings.ToLower(p.Name)
		if name == "" {
			continue
		}
		if name == lower {
			return p, nil
		}
		if strings.Contains(name, lower) || strings.Contains(lower, name) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return domain.Product{}, ErrNoMatch
	case 1:
		return matches[0], nil
	default:
		return domain.Product{}, fmt.Errorf("%w: %d products match %q", ErrAmbiguous, len(matches), lower)
	}
}
