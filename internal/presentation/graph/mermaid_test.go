package graph_test

import (
	"strings"
	"testing"

	"github.com/labwire/orderdesk/internal/presentation/graph"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/workflow"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		steps    []workflow.StepInfo
		overlay  *graph.GraphOverlay
		contains []string
		absent   []string
	}{
		{
			name:  "Workflow Shapes",
			steps: workflow.Steps(),
			contains: []string{
				`restoration_type(("restoration_type"))`,
				`bridge_validation[["bridge_validation"]]`,
				`shade[/"shade"/]`,
				`done((("done")))`,
				`tooth_positions -- "bridge" --> bridge_validation`,
				"class bridge_validation,product_selection conditional;",
			},
			absent: []string{"Overlay Styles"},
		},
		{
			name: "ID Sanitization",
			steps: []workflow.StepInfo{
				{Step: "first"},
				{Step: "metal-free/check", Kind: workflow.KindInput},
			},
			contains: []string{`metal_free_check[/"metal-free/check"/]`},
		},
		{
			name: "Condition Escaping",
			steps: []workflow.StepInfo{
				{Step: "a", Transitions: []workflow.Transition{{To: "b", Condition: `answer == "yes"`}}},
			},
			contains: []string{`-- "answer == 'yes'" -->`},
		},
		{
			name:  "Overlay",
			steps: workflow.Steps(),
			overlay: &graph.GraphOverlay{
				VisitedSteps: []workflow.Step{workflow.StepRestorationType, workflow.StepRestorationType},
				CurrentStep:  workflow.StepToothPositions,
			},
			contains: []string{"class restoration_type visited;", "class tooth_positions current;"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.steps, tt.overlay)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
			for _, unwanted := range tt.absent {
				if strings.Contains(got, unwanted) {
					t.Errorf("GenerateMermaid() should not contain %q", unwanted)
				}
			}
			if strings.Count(got, "class restoration_type visited;") > 1 {
				t.Error("Visited steps should be deduplicated")
			}
		})
	}
}

func TestProgressOverlay(t *testing.T) {
	crown := domain.OrderDraft{
		RestorationType:  "crown",
		ToothPositions:   []string{"36"},
		MaterialCategory: "pfm",
	}
	o := graph.ProgressOverlay(crown)
	if o.CurrentStep != workflow.StepMaterialSubtype {
		t.Errorf("CurrentStep = %s, want %s", o.CurrentStep, workflow.StepMaterialSubtype)
	}
	want := []workflow.Step{workflow.StepRestorationType, workflow.StepToothPositions, workflow.StepMaterialCategory}
	if len(o.VisitedSteps) != len(want) {
		t.Fatalf("VisitedSteps = %v, want %v", o.VisitedSteps, want)
	}
	for i := range want {
		if o.VisitedSteps[i] != want[i] {
			t.Errorf("VisitedSteps[%d] = %s, want %s", i, o.VisitedSteps[i], want[i])
		}
	}

	bridge := domain.OrderDraft{
		RestorationType: "bridge",
		ToothPositions:  []string{"14", "15", "16"},
		IsBridge:        true,
		BridgeValidated: true,
	}
	o = graph.ProgressOverlay(bridge)
	if len(o.VisitedSteps) != 3 || o.VisitedSteps[2] != workflow.StepBridgeValidation {
		t.Errorf("Expected validated bridge to be visited, got %v", o.VisitedSteps)
	}
}
