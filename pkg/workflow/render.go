package workflow

import (
	"fmt"
	"strings"

	"github.com/labwire/orderdesk/pkg/domain"
)

// Render describes the draft against the workflow: one line per step with
// its recorded value, followed by what to ask next. It is embedded in the
// system instruction on every engine call.
func (m *Machine) Render(d domain.OrderDraft) string {
	current := m.Step(d)
	var b strings.Builder
	b.WriteString("Order progress:\n")

	n := 0
	for _, info := range steps {
		if info.Step == StepDone {
			continue
		}
		if info.Step == StepBridgeValidation && !d.IsBridge {
			continue
		}
		if info.Step == StepProductSelection && len(d.Candidates) <= 1 {
			continue
		}
		n++
		mark := "[ ]"
		switch {
		case info.Step == current:
			mark = "[>]"
		case done(d, info):
			mark = "[x]"
		}
		fmt.Fprintf(&b, "%s %d. %s", mark, n, info.Step)
		if v := value(d, info.Step); v != "" {
			fmt.Fprintf(&b, ": %s", v)
		}
		b.WriteByte('\n')
	}

	if len(d.Candidates) > 1 && d.ProductCode == "" {
		b.WriteString("\nCandidate products (in presentation order):\n")
		for i, p := range d.Candidates {
			fmt.Fprintf(&b, "  %d. %s (%s)\n", i+1, p.Name, p.Code)
		}
	}

	info, _ := Info(current)
	fmt.Fprintf(&b, "\nCurrent step: %s\nNext action: %s\n", current, info.Prompt)
	return b.String()
}

func done(d domain.OrderDraft, info StepInfo) bool {
	if info.Step == StepProductSearch && len(d.Candidates) > 1 {
		return true
	}
	if info.Step == StepBridgeValidation {
		return d.BridgeValidated
	}
	return d.Has(info.Field)
}

func value(d domain.OrderDraft, s Step) string {
	switch s {
	case StepRestorationType:
		return d.RestorationType
	case StepToothPositions:
		if len(d.ToothPositions) == 0 {
			return ""
		}
		v := strings.Join(d.ToothPositions, ", ")
		if d.PositionType != "" {
			v += " (" + d.PositionType + ")"
		}
		return v
	case StepBridgeValidation:
		if d.BridgeValidated {
			return fmt.Sprintf("%d units", d.BridgeSpan)
		}
	case StepMaterialCategory:
		return d.MaterialCategory
	case StepMaterialSubtype:
		return d.MaterialSubtype
	case StepProductSearch:
		if len(d.Candidates) > 1 {
			return fmt.Sprintf("%d matches", len(d.Candidates))
		}
		if d.ProductCode != "" {
			return fmt.Sprintf("%s (%s)", d.ProductName, d.ProductCode)
		}
	case StepProductSelection:
		if d.ProductCode != "" {
			return fmt.Sprintf("%s (%s)", d.ProductName, d.ProductCode)
		}
	case StepShade:
		return d.Shade
	case StepPatientName:
		return d.PatientName
	case StepConfirm:
		if d.Confirmed {
			return "confirmed"
		}
	}
	return ""
}
