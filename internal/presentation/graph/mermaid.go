package graph

import (
	"fmt"
	"strings"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/workflow"
)

// GraphOverlay contains session progress to visualize on the graph.
type GraphOverlay struct {
	VisitedSteps []workflow.Step
	CurrentStep  workflow.Step
}

// ProgressOverlay marks the steps a draft has already answered and the step
// it is waiting on. Conditional steps the order skipped are not marked.
func ProgressOverlay(d domain.OrderDraft) *GraphOverlay {
	current := workflow.New().Step(d)
	overlay := &GraphOverlay{CurrentStep: current}
	for _, info := range workflow.Steps() {
		if info.Step == current || info.Field == "" || !d.Has(info.Field) {
			continue
		}
		switch info.Step {
		case workflow.StepBridgeValidation:
			if !d.IsBridge {
				continue
			}
		case workflow.StepProductSelection:
			if len(d.Candidates) < 2 {
				continue
			}
		}
		overlay.VisitedSteps = append(overlay.VisitedSteps, info.Step)
	}
	return overlay
}

// GenerateMermaid produces a Mermaid flowchart of the order workflow.
// It applies semantic styling:
// - First step: ((Circle))
// - Tool step: [[Subroutine]]
// - Input step: [/Parallelogram/]
// - Terminal: (((Double circle)))
// Conditional steps get a dashed border. Overlay styles are applied if provided.
func GenerateMermaid(steps []workflow.StepInfo, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	var conditional []string
	for i, info := range steps {
		id := sanitizeMermaidID(string(info.Step))

		opener, closer := "[", "]"
		switch {
		case i == 0:
			opener, closer = "((", "))"
		case info.Kind == workflow.KindTerminal:
			opener, closer = "(((", ")))"
		case info.Kind == workflow.KindTool:
			opener, closer = "[[", "]]"
		case info.Kind == workflow.KindInput:
			opener, closer = "[/", "/]"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, info.Step, closer)
		if info.Conditional {
			conditional = append(conditional, id)
		}

		for _, t := range info.Transitions {
			to := sanitizeMermaidID(string(t.To))
			arrow := "-->"
			if t.Condition != "" {
				arrow = fmt.Sprintf("-- \"%s\" -->", strings.ReplaceAll(t.Condition, "\"", "'"))
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", id, arrow, to)
		}
	}

	if len(conditional) > 0 {
		sb.WriteString("\n    classDef conditional stroke-dasharray: 5 5;\n")
		fmt.Fprintf(&sb, "    class %s conditional;\n", strings.Join(conditional, ","))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, s := range overlay.VisitedSteps {
			id := sanitizeMermaidID(string(s))
			if id != "" && !seen[id] {
				seen[id] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", id)
			}
		}
		if overlay.CurrentStep != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(string(overlay.CurrentStep)))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
