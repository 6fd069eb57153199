package workflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/labwire/orderdesk/pkg/domain"
)

var (
	// ErrFieldLocked is returned when a field already holds a value.
	// Only Correct may clear it.
	ErrFieldLocked = errors.New("field already recorded")
	// ErrOutOfOrder is returned when a field is written before its step.
	ErrOutOfOrder = errors.New("field not expected at this step")
	// ErrNotApplicable is returned for fields that do not apply to this order.
	ErrNotApplicable = errors.New("field does not apply to this order")
	// ErrFinalized is returned once the order is confirmed.
	ErrFinalized = errors.New("order already finalized")
)

// Violation explains why a write was refused and what the machine expects instead.
type Violation struct {
	Field    domain.Field
	Expected Step
	Err      error
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %v (expected step %s)", v.Field, v.Err, v.Expected)
}

func (v *Violation) Unwrap() error { return v.Err }

// Machine derives the current step of a draft and gates every write to it.
// It holds no per-session state and is safe for concurrent use.
type Machine struct{}

// New returns a workflow machine.
func New() *Machine { return &Machine{} }

// Step derives the current step from the draft.
func (m *Machine) Step(d domain.OrderDraft) Step {
	switch {
	case d.RestorationType == "":
		return StepRestorationType
	case len(d.ToothPositions) == 0:
		return StepToothPositions
	case d.IsBridge && !d.BridgeValidated:
		return StepBridgeValidation
	case d.MaterialCategory == "":
		return StepMaterialCategory
	case d.MaterialSubtype == "":
		return StepMaterialSubtype
	case d.ProductCode == "" && len(d.Candidates) > 1:
		return StepProductSelection
	case d.ProductCode == "":
		return StepProductSearch
	case d.Shade == "":
		return StepShade
	case d.PatientName == "":
		return StepPatientName
	case !d.Confirmed:
		return StepConfirm
	default:
		return StepDone
	}
}

// Expected returns the field the current step accepts, or "" when done.
func (m *Machine) Expected(d domain.OrderDraft) domain.Field {
	info, _ := Info(m.Step(d))
	return info.Field
}

// Accept reports whether field may be written now. Writes that skip ahead
// or overwrite a recorded value are refused with a *Violation.
func (m *Machine) Accept(d domain.OrderDraft, f domain.Field) error {
	step := m.Step(d)
	if step == StepDone {
		return &Violation{Field: f, Expected: step, Err: ErrFinalized}
	}
	if f == domain.FieldBridge && d.RestorationType != "" && !d.IsBridge {
		return &Violation{Field: f, Expected: step, Err: ErrNotApplicable}
	}
	if m.Expected(d) == f {
		return nil
	}
	recorded := d.Has(f)
	if f == domain.FieldBridge {
		recorded = d.BridgeValidated
	}
	if recorded {
		return &Violation{Field: f, Expected: step, Err: ErrFieldLocked}
	}
	return &Violation{Field: f, Expected: step, Err: ErrOutOfOrder}
}

// dependents lists what each field invalidates when it changes.
// patient_name and confirmation are always included so the patient name
// is never left standing ahead of the fields it depends on.
var dependents = map[domain.Field][]domain.Field{
	domain.FieldRestorationType:  {domain.FieldBridge, domain.FieldMaterialCategory, domain.FieldMaterialSubtype, domain.FieldProduct},
	domain.FieldToothPositions:   {domain.FieldBridge, domain.FieldProduct},
	domain.FieldBridge:           {},
	domain.FieldMaterialCategory: {domain.FieldMaterialSubtype, domain.FieldProduct},
	domain.FieldMaterialSubtype:  {domain.FieldProduct},
	domain.FieldProduct:          {},
	domain.FieldShade:            {},
	domain.FieldPatientName:      {},
	domain.FieldConfirmation:     {},
}

// Dependents returns the fields cleared together with f, including f itself.
func Dependents(f domain.Field) []domain.Field {
	deps, ok := dependents[f]
	if !ok {
		return nil
	}
	out := append([]domain.Field{f}, deps...)
	for _, always := range []domain.Field{domain.FieldPatientName, domain.FieldConfirmation} {
		if !slices.Contains(out, always) {
			out = append(out, always)
		}
	}
	return out
}

// Correct clears f and everything that depends on it, returning the fields
// that actually held a value. Finalized orders cannot be corrected.
func (m *Machine) Correct(d *domain.OrderDraft, f domain.Field) ([]domain.Field, error) {
	if m.Step(*d) == StepDone {
		return nil, &Violation{Field: f, Expected: StepDone, Err: ErrFinalized}
	}
	deps := Dependents(f)
	if deps == nil {
		return nil, fmt.Errorf("unknown field %q", f)
	}

	var cleared []domain.Field
	for _, dep := range deps {
		if clearField(d, dep) {
			cleared = append(cleared, dep)
		}
	}
	return cleared, nil
}

func clearField(d *domain.OrderDraft, f domain.Field) bool {
	switch f {
	case domain.FieldRestorationType:
		had := d.RestorationType != ""
		d.RestorationType, d.IsBridge = "", false
		return had
	case domain.FieldToothPositions:
		had := len(d.ToothPositions) > 0
		d.ToothPositions = nil
		d.PositionType = ""
		return had
	case domain.FieldBridge:
		had := d.BridgeValidated
		d.BridgeValidated, d.BridgeSpan = false, 0
		return had
	case domain.FieldMaterialCategory:
		had := d.MaterialCategory != ""
		d.MaterialCategory = ""
		return had
	case domain.FieldMaterialSubtype:
		had := d.MaterialSubtype != ""
		d.MaterialSubtype = ""
		return had
	case domain.FieldProduct:
		had := d.ProductCode != "" || len(d.Candidates) > 0
		d.ProductCode, d.ProductName, d.Candidates = "", "", nil
		return had
	case domain.FieldShade:
		had := d.Shade != ""
		d.Shade = ""
		return had
	case domain.FieldPatientName:
		had := d.PatientName != ""
		d.PatientName = ""
		return had
	case domain.FieldConfirmation:
		had := d.Confirmed
		d.Confirmed = false
		return had
	}
	return false
}
