package workflow

import "github.com/labwire/orderdesk/pkg/domain"

// Step is a stage of order collection. It is always derived from the draft.
type Step string

const (
	StepRestorationType  Step = "restoration_type"
	StepToothPositions   Step = "tooth_positions"
	StepBridgeValidation Step = "bridge_validation"
	StepMaterialCategory Step = "material_category"
	StepMaterialSubtype  Step = "material_subtype"
	StepProductSearch    Step = "product_search"
	StepProductSelection Step = "product_selection"
	StepShade            Step = "shade"
	StepPatientName      Step = "patient_name"
	StepConfirm          Step = "confirm"
	StepDone             Step = "done"
)

// Kind classifies a step for rendering.
type Kind string

const (
	KindInput    Kind = "input"    // Answered by the user
	KindTool     Kind = "tool"     // Resolved by a collaborator call
	KindTerminal Kind = "terminal" // No further writes
)

// Transition is an edge between two steps.
type Transition struct {
	To        Step
	Condition string
}

// StepInfo describes one step of the workflow.
type StepInfo struct {
	Step        Step
	Field       domain.Field // Field written at this step, empty for done
	Kind        Kind
	Prompt      string // What the assistant should ask for
	Conditional bool   // Skipped for some orders
	Transitions []Transition
}

var steps = []StepInfo{
	{
		Step: StepRestorationType, Field: domain.FieldRestorationType, Kind: KindInput,
		Prompt:      "Ask what kind of restoration is needed (crown, bridge, veneer, inlay, onlay).",
		Transitions: []Transition{{To: StepToothPositions}},
	},
	{
		Step: StepToothPositions, Field: domain.FieldToothPositions, Kind: KindInput,
		Prompt: "Ask for the tooth positions in FDI notation (e.g. 14, 15, 16).",
		Transitions: []Transition{
			{To: StepBridgeValidation, Condition: "bridge"},
			{To: StepMaterialCategory, Condition: "single units"},
		},
	},
	{
		Step: StepBridgeValidation, Field: domain.FieldBridge, Kind: KindTool, Conditional: true,
		Prompt:      "Validate the bridge span with validate_bridge before asking about material.",
		Transitions: []Transition{{To: StepMaterialCategory, Condition: "valid span"}},
	},
	{
		Step: StepMaterialCategory, Field: domain.FieldMaterialCategory, Kind: KindInput,
		Prompt:      "Ask for the material category (pfm, metal-free, full-cast) and check it with validate_material.",
		Transitions: []Transition{{To: StepMaterialSubtype}},
	},
	{
		Step: StepMaterialSubtype, Field: domain.FieldMaterialSubtype, Kind: KindInput,
		Prompt:      "Ask for the material subtype, offering only the compatible subtypes, and record it with validate_material.",
		Transitions: []Transition{{To: StepProductSearch}},
	},
	{
		Step: StepProductSearch, Field: domain.FieldProduct, Kind: KindTool,
		Prompt: "Search the catalog with search_products.",
		Transitions: []Transition{
			{To: StepShade, Condition: "one match"},
			{To: StepProductSelection, Condition: "several matches"},
		},
	},
	{
		Step: StepProductSelection, Field: domain.FieldProduct, Kind: KindInput, Conditional: true,
		Prompt:      "List the candidate products in order and ask the user to choose one; record it with select_product.",
		Transitions: []Transition{{To: StepShade}},
	},
	{
		Step: StepShade, Field: domain.FieldShade, Kind: KindInput,
		Prompt:      "Ask for the VITA shade (e.g. A2, B1).",
		Transitions: []Transition{{To: StepPatientName}},
	},
	{
		Step: StepPatientName, Field: domain.FieldPatientName, Kind: KindInput,
		Prompt:      "Ask for the patient name and store it with store_patient_name.",
		Transitions: []Transition{{To: StepConfirm}},
	},
	{
		Step: StepConfirm, Field: domain.FieldConfirmation, Kind: KindInput,
		Prompt:      "Summarize the order and ask the user to confirm it.",
		Transitions: []Transition{{To: StepDone, Condition: "confirmed"}},
	},
	{
		Step: StepDone, Kind: KindTerminal,
		Prompt: "The order is submitted. Answer questions but do not change it.",
	},
}

// Steps returns the workflow definition in collection order.
func Steps() []StepInfo {
	out := make([]StepInfo, len(steps))
	copy(out, steps)
	return out
}

// Info returns the definition of a step.
func Info(s Step) (StepInfo, bool) {
	for _, info := range steps {
		if info.Step == s {
			return info, true
		}
	}
	return StepInfo{}, false
}
