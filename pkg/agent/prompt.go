package agent

import (
	"fmt"
	"strings"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/workflow"
)

const preamble = `You are a professional dental order assistant. You help dentists place orders with the dental laboratory.

Rules:
- Collect the order strictly in the workflow order below. Ask for one thing at a time.
- Every value must be recorded through a tool. Never claim something is recorded unless a tool returned valid=true.
- Tooth positions use FDI notation (11-18, 21-28, 31-38, 41-48).
- Bridge rules and material compatibility are decided by the tools. Never decide them yourself.
- When a tool returns redirect=true, ask the user for the expected step instead.
- When the user wants to change an earlier choice, call correct_order first, then record the new value.
- Never ask for or record the patient name before the product and shade are settled.
- When several products match, list them exactly in the given order and let the user choose.
- Before confirming, show a summary and ask the user to reply "confirm".
- Answer in the language the user writes in (English, Cantonese or Mandarin).`

// SystemPrompt builds the fixed instruction for one engine call: the
// workflow order, the tools available now and the rendered draft.
func SystemPrompt(m *workflow.Machine, d domain.OrderDraft, specs []domain.ToolSpec) string {
	var b strings.Builder
	b.WriteString(preamble)

	b.WriteString("\n\nWorkflow order:\n")
	n := 0
	for _, info := range workflow.Steps() {
		if info.Step == workflow.StepDone {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s", n, info.Step)
		if info.Conditional {
			b.WriteString(" (only when applicable)")
		}
		b.WriteByte('\n')
	}

	if len(specs) > 0 {
		b.WriteString("\nTools available at this step:\n")
		for _, s := range specs {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		}
	} else {
		b.WriteString("\nNo tools are available at this step. Answer the user directly.\n")
	}

	b.WriteString("\nCurrent state:\n")
	b.WriteString(m.Render(d))
	return b.String()
}
