package domain

import (
	"errors"
	"fmt"
)

// Field names an attribute of the OrderDraft that a tool can write.
type Field string

const (
	FieldRestorationType  Field = "restoration_type"
	FieldToothPositions   Field = "tooth_positions"
	FieldBridge           Field = "bridge_validation"
	FieldMaterialCategory Field = "material_category"
	FieldMaterialSubtype  Field = "material_subtype"
	FieldProduct          Field = "product"
	FieldShade            Field = "shade"
	FieldPatientName      Field = "patient_name"
	FieldConfirmation     Field = "confirmation"
)

// Fields lists every writable field in collection order.
var Fields = []Field{
	FieldRestorationType,
	FieldToothPositions,
	FieldBridge,
	FieldMaterialCategory,
	FieldMaterialSubtype,
	FieldProduct,
	FieldShade,
	FieldPatientName,
	FieldConfirmation,
}

// ParseField resolves a field name, accepting a few common spellings.
func ParseField(name string) (Field, bool) {
	switch name {
	case "restoration", "type":
		return FieldRestorationType, true
	case "teeth", "tooth", "positions":
		return FieldToothPositions, true
	case "bridge":
		return FieldBridge, true
	case "material", "category":
		return FieldMaterialCategory, true
	case "subtype":
		return FieldMaterialSubtype, true
	case "product_code", "product_name":
		return FieldProduct, true
	case "name", "patient":
		return FieldPatientName, true
	}
	for _, f := range Fields {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}

// OrderDraft is the mutable, in-progress record of order attributes for one session.
type OrderDraft struct {
	RestorationType  string    `json:"restoration_type,omitempty"`
	ToothPositions   []string  `json:"tooth_positions,omitempty"`
	IsBridge         bool      `json:"is_bridge"`
	BridgeValidated  bool      `json:"bridge_validated,omitempty"`
	BridgeSpan       int       `json:"bridge_span,omitempty"`
	PositionType     string    `json:"position_type,omitempty"` // anterior or posterior
	MaterialCategory string    `json:"material_category,omitempty"`
	MaterialSubtype  string    `json:"material_subtype,omitempty"`
	Candidates       []Product `json:"candidates,omitempty"`
	ProductCode      string    `json:"product_code,omitempty"`
	ProductName      string    `json:"product_name,omitempty"`
	Shade            string    `json:"shade,omitempty"`
	PatientName      string    `json:"patient_name,omitempty"`
	Confirmed        bool      `json:"confirmed,omitempty"`
}

// Clone returns a deep copy of the draft.
func (d OrderDraft) Clone() OrderDraft {
	if d.ToothPositions != nil {
		d.ToothPositions = append([]string(nil), d.ToothPositions...)
	}
	if d.Candidates != nil {
		d.Candidates = append([]Product(nil), d.Candidates...)
	}
	return d
}

// Has reports whether the given field carries a value.
func (d OrderDraft) Has(f Field) bool {
	switch f {
	case FieldRestorationType:
		return d.RestorationType != ""
	case FieldToothPositions:
		return len(d.ToothPositions) > 0
	case FieldBridge:
		return !d.IsBridge || d.BridgeValidated
	case FieldMaterialCategory:
		return d.MaterialCategory != ""
	case FieldMaterialSubtype:
		return d.MaterialSubtype != ""
	case FieldProduct:
		return d.ProductCode != ""
	case FieldShade:
		return d.Shade != ""
	case FieldPatientName:
		return d.PatientName != ""
	case FieldConfirmation:
		return d.Confirmed
	}
	return false
}

// Missing lists the required fields that are still empty, in collection order.
// Confirmation is not part of the list.
func (d OrderDraft) Missing() []Field {
	var out []Field
	for _, f := range Fields {
		if f == FieldConfirmation {
			continue
		}
		if !d.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Complete reports whether every required field is set.
func (d OrderDraft) Complete() bool {
	return len(d.Missing()) == 0
}

// Validate checks the structural invariants of the draft.
func (d OrderDraft) Validate() error {
	if d.PatientName != "" {
		for _, f := range []Field{FieldRestorationType, FieldToothPositions, FieldMaterialCategory, FieldMaterialSubtype, FieldProduct} {
			if !d.Has(f) {
				return fmt.Errorf("patient name recorded before %s", f)
			}
		}
	}
	if d.Confirmed && !d.Complete() {
		return errors.New("draft confirmed while incomplete")
	}
	if d.MaterialSubtype != "" && d.MaterialCategory == "" {
		return errors.New("material subtype recorded without category")
	}
	return nil
}

// Material formats the material for display, e.g. "pfm (non-precious)".
func (d OrderDraft) Material() string {
	if d.MaterialSubtype == "" {
		return d.MaterialCategory
	}
	return fmt.Sprintf("%s (%s)", d.MaterialCategory, d.MaterialSubtype)
}
