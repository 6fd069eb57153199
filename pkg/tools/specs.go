package tools

import "github.com/labwire/orderdesk/pkg/domain"

// Tool names.
const (
	ToolRecordRestoration = "record_restoration"
	ToolValidateBridge    = "validate_bridge"
	ToolValidateMaterial  = "validate_material"
	ToolSearchProducts    = "search_products"
	ToolSelectProduct     = "select_product"
	ToolRecordShade       = "record_shade"
	ToolStorePatientName  = "store_patient_name"
	ToolCorrectOrder      = "correct_order"
	ToolConfirmOrder      = "confirm_order"
)

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

var (
	specRecordRestoration = domain.ToolSpec{
		Name:        ToolRecordRestoration,
		Description: "Record the restoration type and, when known, the FDI tooth positions. Tooth numbers are validated (11-18, 21-28, 31-38, 41-48).",
		Parameters: object([]string{"restoration_type"}, map[string]any{
			"restoration_type": map[string]any{
				"type":        "string",
				"description": "Restoration type, e.g. crown, bridge, veneer, inlay, onlay (牙冠, 牙橋, 貼片, 嵌體, 高嵌體).",
			},
			"tooth_positions": str("FDI tooth numbers separated by commas or spaces, e.g. \"14,15,16\". Ranges like \"14-16\" are accepted."),
		}),
	}

	specValidateBridge = domain.ToolSpec{
		Name:        ToolValidateBridge,
		Description: "Validate a bridge span: valid FDI teeth on one arch, contiguous, within the allowed number of units. Records the span when the order is a bridge.",
		Parameters: object(nil, map[string]any{
			"tooth_positions": str("FDI tooth numbers of the bridge. Defaults to the recorded tooth positions."),
		}),
	}

	specValidateMaterial = domain.ToolSpec{
		Name:        ToolValidateMaterial,
		Description: "Check a material category, and optionally a subtype, against the restoration type. Returns the compatible subtypes; offer only those. Records the material when valid.",
		Parameters: object([]string{"material_category"}, map[string]any{
			"material_category": str("pfm, metal-free or full-cast (烤瓷, 全瓷, 全金屬)."),
			"material_subtype":  str("Subtype as the user said it, e.g. \"e.max\", \"NP\", \"半貴金屬\". Omit to list the options."),
		}),
	}

	specSearchProducts = domain.ToolSpec{
		Name:        ToolSearchProducts,
		Description: "Search the lab catalog for products matching the recorded order. One match is selected automatically; several matches must be listed for the user to choose.",
		Parameters: object(nil, map[string]any{
			"notes": str("Extra clinical wishes mentioned by the user, e.g. \"high aesthetics\", \"bruxism\"."),
		}),
	}

	specSelectProduct = domain.ToolSpec{
		Name:        ToolSelectProduct,
		Description: "Record the product the user chose from the listed candidates, by number (\"2\", \"the second one\"), product code or name.",
		Parameters: object([]string{"choice"}, map[string]any{
			"choice": str("The user's choice as they said it."),
		}),
	}

	specRecordShade = domain.ToolSpec{
		Name:        ToolRecordShade,
		Description: "Record the VITA classical shade (A1-A4, B1-B4, C1-C4, D2-D4, A3.5).",
		Parameters: object([]string{"shade"}, map[string]any{
			"shade": str("Shade code, e.g. A2."),
		}),
	}

	specStorePatientName = domain.ToolSpec{
		Name:        ToolStorePatientName,
		Description: "Store the patient's name. Only after product and shade are recorded, and only when the user answered the question about the patient's name.",
		Parameters: object([]string{"patient_name"}, map[string]any{
			"patient_name": str("Full name of the patient."),
		}),
	}

	specCorrectOrder = domain.ToolSpec{
		Name:        ToolCorrectOrder,
		Description: "Clear a field the user wants to change, together with everything that depends on it. Record the new value afterwards with the usual tool.",
		Parameters: object([]string{"field"}, map[string]any{
			"field": map[string]any{
				"type": "string",
				"enum": []string{
					string(domain.FieldRestorationType), string(domain.FieldToothPositions), string(domain.FieldMaterialCategory),
					string(domain.FieldMaterialSubtype), string(domain.FieldProduct), string(domain.FieldShade), string(domain.FieldPatientName),
				},
			},
		}),
	}

	specConfirmOrder = domain.ToolSpec{
		Name:        ToolConfirmOrder,
		Description: "Submit the order after the user explicitly confirmed the summary.",
		Parameters:  object(nil, map[string]any{}),
	}
)
