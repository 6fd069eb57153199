package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tooth is a permanent tooth in FDI two-digit notation.
type Tooth struct {
	Quadrant int `json:"quadrant"` // 1 UR, 2 UL, 3 LL, 4 LR
	Position int `json:"position"` // 1 central incisor .. 8 third molar
}

var quadrantNames = map[int]string{
	1: "Upper Right (右上)",
	2: "Upper Left (左上)",
	3: "Lower Left (左下)",
	4: "Lower Right (右下)",
}

var toothTypes = map[int]string{
	1: "Central Incisor (中門牙)",
	2: "Lateral Incisor (側門牙)",
	3: "Canine (犬齒)",
	4: "First Premolar (第一小臼齒)",
	5: "Second Premolar (第二小臼齒)",
	6: "First Molar (第一大臼齒)",
	7: "Second Molar (第二大臼齒)",
	8: "Third Molar (第三大臼齒/智慧齒)",
}

// ParseTooth validates a single FDI number such as "26".
func ParseTooth(s string) (Tooth, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return Tooth{}, fmt.Errorf("%q is not a tooth number", s)
	}
	if n < 11 || n > 48 {
		return Tooth{}, fmt.Errorf("tooth %d is out of range; valid ranges are 11-18, 21-28, 31-38, 41-48", n)
	}
	q, p := n/10, n%10
	if p < 1 || p > 8 {
		return Tooth{}, fmt.Errorf("tooth %d has invalid position %d; positions run 1-8", n, p)
	}
	return Tooth{Quadrant: q, Position: p}, nil
}

// Number returns the FDI number.
func (t Tooth) Number() int { return t.Quadrant*10 + t.Position }

func (t Tooth) String() string { return strconv.Itoa(t.Number()) }

// Upper reports whether the tooth is in the maxilla.
func (t Tooth) Upper() bool { return t.Quadrant == 1 || t.Quadrant == 2 }

// Anterior reports whether the tooth is an incisor or canine.
func (t Tooth) Anterior() bool { return t.Position <= 3 }

// Describe returns a bilingual description, e.g. "Upper Right (右上) Central Incisor (中門牙)".
func (t Tooth) Describe() string {
	return quadrantNames[t.Quadrant] + " " + toothTypes[t.Position]
}

// archIndex orders teeth along the arch from the patient's right to left:
// 18..11 then 21..28 on the upper arch, 48..41 then 31..38 on the lower.
func (t Tooth) archIndex() int {
	switch t.Quadrant {
	case 1, 4:
		return 8 - t.Position
	default:
		return 7 + t.Position
	}
}

func toothAt(upper bool, index int) Tooth {
	right, left := 1, 2
	if !upper {
		right, left = 4, 3
	}
	if index < 8 {
		return Tooth{Quadrant: right, Position: 8 - index}
	}
	return Tooth{Quadrant: left, Position: index - 7}
}

// InvalidTooth is an input token that failed validation.
type InvalidTooth struct {
	Input  string `json:"input"`
	Reason string `json:"reason"`
}

// TeethReport is the outcome of validating a tooth position list.
type TeethReport struct {
	Valid        bool           `json:"valid"`
	Message      string         `json:"message"`
	Teeth        []Tooth        `json:"-"`
	Positions    []string       `json:"positions,omitempty"`
	Descriptions []string       `json:"descriptions,omitempty"`
	Invalid      []InvalidTooth `json:"invalid,omitempty"`
	PositionType string         `json:"position_type,omitempty"`
}

var (
	separators = regexp.MustCompile(`[,\s、，;；/]+`)
	rangeToken = regexp.MustCompile(`^(\d{2})\s*[-~–]\s*(\d{2})$`)
	rangeJoin  = regexp.MustCompile(`(\d{2})\s*([-~–])\s*(\d{2})`)
)

// ValidateTeeth validates a comma or space separated list of FDI numbers.
// Ranges on one arch such as "14-16" or "12-22" are expanded along the arch.
// Input order is kept; duplicates are reported by ValidateBridge, not here.
func ValidateTeeth(input string) TeethReport {
	input = strings.TrimSpace(input)
	if input == "" {
		return TeethReport{Message: "no tooth positions provided"}
	}

	var rep TeethReport
	for _, tok := range tokenize(input) {
		if m := rangeToken.FindStringSubmatch(tok); m != nil {
			expanded, err := expandRange(m[1], m[2])
			if err != nil {
				rep.Invalid = append(rep.Invalid, InvalidTooth{Input: tok, Reason: err.Error()})
				continue
			}
			rep.Teeth = append(rep.Teeth, expanded...)
			continue
		}
		tooth, err := ParseTooth(tok)
		if err != nil {
			rep.Invalid = append(rep.Invalid, InvalidTooth{Input: tok, Reason: err.Error()})
			continue
		}
		rep.Teeth = append(rep.Teeth, tooth)
	}

	if len(rep.Invalid) > 0 {
		reasons := make([]string, len(rep.Invalid))
		for i, inv := range rep.Invalid {
			reasons[i] = inv.Reason
		}
		rep.Message = "invalid tooth positions: " + strings.Join(reasons, "; ")
		return rep
	}
	if len(rep.Teeth) == 0 {
		rep.Message = "no tooth positions provided"
		return rep
	}

	rep.Valid = true
	for _, t := range rep.Teeth {
		rep.Positions = append(rep.Positions, t.String())
		rep.Descriptions = append(rep.Descriptions, t.String()+": "+t.Describe())
	}
	rep.PositionType = PositionType(rep.Teeth)
	rep.Message = fmt.Sprintf("tooth positions %s are valid", strings.Join(rep.Positions, ", "))
	return rep
}

// PositionType is "anterior" if any tooth is an incisor or canine, otherwise "posterior".
func PositionType(teeth []Tooth) string {
	for _, t := range teeth {
		if t.Anterior() {
			return "anterior"
		}
	}
	return "posterior"
}

// PositionTypeOf parses FDI codes and returns their position type.
func PositionTypeOf(codes []string) string {
	teeth := make([]Tooth, 0, len(codes))
	for _, c := range codes {
		if t, err := ParseTooth(c); err == nil {
			teeth = append(teeth, t)
		}
	}
	return PositionType(teeth)
}

func tokenize(input string) []string {
	// Keep "14 - 16" together before splitting on separators.
	input = rangeJoin.ReplaceAllString(input, "$1$2$3")
	var out []string
	for _, tok := range separators.Split(input, -1) {
		tok = strings.TrimSpace(tok)
		tok = strings.TrimPrefix(tok, "#")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func expandRange(from, to string) ([]Tooth, error) {
	a, err := ParseTooth(from)
	if err != nil {
		return nil, err
	}
	b, err := ParseTooth(to)
	if err != nil {
		return nil, err
	}
	if a.Upper() != b.Upper() {
		return nil, fmt.Errorf("range %s-%s crosses between arches", from, to)
	}
	i, j := a.archIndex(), b.archIndex()
	step := 1
	if j < i {
		step = -1
	}
	var out []Tooth
	for k := i; ; k += step {
		out = append(out, toothAt(a.Upper(), k))
		if k == j {
			break
		}
	}
	return out, nil
}
