package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/labwire/orderdesk/internal/retry"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/rules"
	"github.com/labwire/orderdesk/pkg/workflow"
)

type restorationArgs struct {
	RestorationType string `mapstructure:"restoration_type"`
	ToothPositions  string `mapstructure:"tooth_positions"`
}

func (d *Dispatcher) recordRestoration(_ context.Context, turn *Turn, raw map[string]any) domain.ToolResult {
	var args restorationArgs
	if err := decode(raw, &args); err != nil {
		return domain.Invalid("invalid arguments: "+err.Error(), nil)
	}
	next := turn.Draft.Clone()

	rt, ok := d.rules.CanonicalRestoration(args.RestorationType)
	if !ok {
		return domain.Invalid(fmt.Sprintf("unsupported restoration type %q; supported: %s",
			args.RestorationType, strings.Join(d.rules.RestorationTypes(), ", ")), nil)
	}
	switch {
	case next.RestorationType == "":
		if err := d.machine.Accept(next, domain.FieldRestorationType); err != nil {
			return d.redirect(err, next)
		}
		next.RestorationType = rt
		next.IsBridge = rt == "bridge"
	case next.RestorationType != rt:
		return d.redirect(&workflow.Violation{Field: domain.FieldRestorationType, Expected: d.machine.Step(next), Err: workflow.ErrFieldLocked}, next)
	}

	data := map[string]any{"restoration_type": rt}
	if strings.TrimSpace(args.ToothPositions) != "" {
		rep := rules.ValidateTeeth(args.ToothPositions)
		if !rep.Valid {
			return domain.Invalid(rep.Message, rep)
		}
		switch {
		case len(next.ToothPositions) == 0:
			if err := d.machine.Accept(next, domain.FieldToothPositions); err != nil {
				return d.redirect(err, next)
			}
			next.ToothPositions = rep.Positions
			next.PositionType = rep.PositionType
		case !sameSet(next.ToothPositions, rep.Positions):
			return d.redirect(&workflow.Violation{Field: domain.FieldToothPositions, Expected: d.machine.Step(next), Err: workflow.ErrFieldLocked}, next)
		}
		data["tooth_positions"] = next.ToothPositions
		data["descriptions"] = rep.Descriptions
		data["position_type"] = next.PositionType
	}

	*turn.Draft = next
	data["next_step"] = d.nextStep(next)

	msg := fmt.Sprintf("recorded %s", rt)
	if len(next.ToothPositions) > 0 {
		msg += " on " + strings.Join(next.ToothPositions, ", ")
	}
	if next.IsBridge && len(next.ToothPositions) > 0 && !next.BridgeValidated {
		msg += "; validate the span with validate_bridge next"
	}
	return domain.Valid(msg, data)
}

type bridgeArgs struct {
	ToothPositions string `mapstructure:"tooth_positions"`
}

func (d *Dispatcher) validateBridge(_ context.Context, turn *Turn, raw map[string]any) domain.ToolResult {
	var args bridgeArgs
	if err := decode(raw, &args); err != nil {
		return domain.Invalid("invalid arguments: "+err.Error(), nil)
	}
	next := turn.Draft.Clone()

	positions := args.ToothPositions
	if strings.TrimSpace(positions) == "" {
		positions = strings.Join(next.ToothPositions, ",")
	}
	rep := d.rules.ValidateBridge(positions)
	if !rep.Valid {
		return domain.Invalid(rep.Message, rep)
	}

	data := map[string]any{
		"positions":     rep.Positions,
		"bridge_span":   rep.Span,
		"position_type": rep.PositionType,
		"recorded":      false,
	}
	if err := d.machine.Accept(next, domain.FieldBridge); err != nil {
		if errors.Is(err, workflow.ErrOutOfOrder) && next.RestorationType == "" {
			return d.redirect(err, next)
		}
		data["next_step"] = d.nextStep(next)
		return domain.Valid(rep.Message+" (not recorded: "+err.Error()+")", data)
	}
	if !sameSet(next.ToothPositions, rep.Positions) {
		data["next_step"] = d.nextStep(next)
		return domain.Valid(rep.Message+"; these differ from the recorded tooth positions, call correct_order to change them", data)
	}

	next.ToothPositions = rep.Positions
	next.BridgeValidated = true
	next.BridgeSpan = rep.Span
	next.PositionType = rep.PositionType
	*turn.Draft = next

	data["recorded"] = true
	data["next_step"] = d.nextStep(next)
	return domain.Valid(rep.Message, data)
}

type materialArgs struct {
	Category string `mapstructure:"material_category"`
	Subtype  string `mapstructure:"material_subtype"`
}

func (d *Dispatcher) validateMaterial(ctx context.Context, turn *Turn, raw map[string]any) domain.ToolResult {
	var args materialArgs
	if err := decode(raw, &args); err != nil {
		return domain.Invalid("invalid arguments: "+err.Error(), nil)
	}
	next := turn.Draft.Clone()

	if next.RestorationType == "" || !next.Has(domain.FieldToothPositions) || !next.Has(domain.FieldBridge) {
		return d.redirect(d.machine.Accept(next, domain.FieldMaterialCategory), next)
	}

	category := args.Category
	if category == "" {
		category = next.MaterialCategory
	}
	cat, known := d.rules.CanonicalCategory(category)

	var norm map[string]any
	subtype := strings.TrimSpace(args.Subtype)
	if subtype != "" && known {
		res, err := d.normalizer.Normalize(ctx, subtype, cat)
		if err != nil {
			d.logger.Warn("tools.normalize_failed", "session_id", turn.SessionID, "input", subtype, "err", err)
			return domain.Invalid(fmt.Sprintf("could not check %q right now; ask the user to pick one of: %s",
				subtype, strings.Join(d.rules.Subtypes(cat), ", ")), nil)
		}
		if !res.Resolved {
			check := d.rules.ValidateMaterial(cat, "", next.RestorationType, next.BridgeSpan)
			return domain.Invalid(fmt.Sprintf("%q is not a known %s subtype; ask the user which one they mean", subtype, cat), map[string]any{
				"compatible_subtypes": check.CompatibleSubtypes,
			})
		}
		norm = map[string]any{"input": subtype, "canonical": res.Canonical, "stage": res.Stage, "cached": res.Cached}
		subtype = res.Canonical
	}

	rep := d.rules.ValidateMaterial(category, subtype, next.RestorationType, next.BridgeSpan)
	if !rep.Valid {
		return domain.Invalid(rep.Message, rep)
	}

	switch {
	case next.MaterialCategory == "":
		if err := d.machine.Accept(next, domain.FieldMaterialCategory); err != nil {
			return d.redirect(err, next)
		}
		next.MaterialCategory = rep.Category
	case next.MaterialCategory != rep.Category:
		return d.redirect(&workflow.Violation{Field: domain.FieldMaterialCategory, Expected: d.machine.Step(next), Err: workflow.ErrFieldLocked}, next)
	}

	if rep.Subtype != "" {
		switch {
		case next.MaterialSubtype == "":
			if err := d.machine.Accept(next, domain.FieldMaterialSubtype); err != nil {
				return d.redirect(err, next)
			}
			next.MaterialSubtype = rep.Subtype
		case next.MaterialSubtype != rep.Subtype:
			return d.redirect(&workflow.Violation{Field: domain.FieldMaterialSubtype, Expected: d.machine.Step(next), Err: workflow.ErrFieldLocked}, next)
		}
	}

	*turn.Draft = next
	data := map[string]any{
		"material_category":   rep.Category,
		"compatible_subtypes": rep.CompatibleSubtypes,
		"next_step":           d.nextStep(next),
	}
	if rep.Subtype != "" {
		data["material_subtype"] = rep.Subtype
	}
	if len(rep.Warnings) > 0 {
		data["warnings"] = rep.Warnings
	}
	if norm != nil {
		data["normalization"] = norm
	}
	return domain.Valid(rep.Message, data)
}

type searchArgs struct {
	Notes string `mapstructure:"notes"`
}

func (d *Dispatcher) searchProducts(ctx context.Context, turn *Turn, raw map[string]any) domain.ToolResult {
	var args searchArgs
	if err := decode(raw, &args); err != nil {
		return domain.Invalid("invalid arguments: "+err.Error(), nil)
	}
	next := turn.Draft.Clone()
	if err := d.machine.Accept(next, domain.FieldProduct); err != nil {
		return d.redirect(err, next)
	}
	if d.catalog == nil {
		return domain.Invalid("the product catalog is not available", nil)
	}

	q := ports.CatalogQuery{Text: BuildQuery(next, args.Notes), Category: next.MaterialCategory, Limit: d.searchLimit}
	var products []domain.Product
	err := retry.Do(ctx, d.retry, func(ctx context.Context) error {
		var err error
		products, err = d.catalog.Search(ctx, q)
		return err
	})
	if err != nil {
		d.logger.Warn("tools.search_failed", "session_id", turn.SessionID, "err", err)
		return domain.Invalid("the product catalog is not responding; please try again in a moment", nil)
	}
	if len(products) > d.searchLimit {
		products = products[:d.searchLimit]
	}

	switch len(products) {
	case 0:
		return domain.Invalid("no catalog products match this order; ask whether another material would work", map[string]any{"query": q.Text})
	case 1:
		p := products[0]
		next.Candidates = products
		next.ProductCode, next.ProductName = p.Code, p.Name
		*turn.Draft = next
		return domain.Valid(fmt.Sprintf("one product matched and was selected: %s (%s)", p.Name, p.Code), map[string]any{
			"product":   p,
			"next_step": d.nextStep(next),
		})
	default:
		next.Candidates = products
		*turn.Draft = next
		return domain.Valid(fmt.Sprintf("%d products found; list them with their numbers and wait for the user to choose", len(products)), map[string]any{
			"candidates": numbered(products),
			"next_step":  d.nextStep(next),
		})
	}
}

func numbered(products []domain.Product) []map[string]any {
	out := make([]map[string]any, len(products))
	for i, p := range products {
		out[i] = map[string]any{"number": i + 1, "product_code": p.Code, "product_name": p.Name}
		for k, v := range p.Attributes {
			out[i][k] = v
		}
	}
	return out
}

type selectArgs struct {
	Choice string `mapstructure:"choice"`
}

func (d *Dispatcher) selectProduct(_ context.Context, turn *Turn, raw map[string]any) domain.ToolResult {
	var args selectArgs
	if err := decode(raw, &args); err != nil {
		return domain.Invalid("invalid arguments: "+err.Error(), nil)
	}
	next := turn.Draft.Clone()
	if err := d.machine.Accept(next, domain.FieldProduct); err != nil {
		return d.redirect(err, next)
	}
	if len(next.Candidates) < 2 {
		return domain.Invalid("there is no candidate list to choose from; call search_products first", nil)
	}

	p, err := d.machine.ResolveSelection(next, args.Choice)
	if err != nil && turn.UserMessage != "" && turn.UserMessage != args.Choice {
		p, err = d.machine.ResolveSelection(next, turn.UserMessage)
	}
	if err != nil {
		msg := "could not tell which product the user means; ask them to reply with the number"
		if errors.Is(err, workflow.ErrOutOfRange) {
			msg = fmt.Sprintf("there are only %d products; ask the user to pick a number from the list", len(next.Candidates))
		}
		return domain.Invalid(msg, map[string]any{"candidates": numbered(next.Candidates)})
	}
	return d.commitProduct(turn, next, p, "")
}

func (d *Dispatcher) commitProduct(turn *Turn, next domain.OrderDraft, p domain.Product, note string) domain.ToolResult {
	next.ProductCode, next.ProductName = p.Code, p.Name
	*turn.Draft = next
	data := map[string]any{"product": p, "next_step": d.nextStep(next)}
	if note != "" {
		data["reinterpreted_as"] = note
	}
	return domain.Valid(fmt.Sprintf("selected %s (%s)", p.Name, p.Code), data)
}

type shadeArgs struct {
	Shade string `mapstructure:"shade"`
}

var (
	shadePattern = regexp.MustCompile(`(?i)\b([A-D])\s*([1-4](?:\.5)?)\b`)
	vitaShades   = []string{"A1", "A2", "A3", "A3.5", "A4", "B1", "B2", "B3", "B4", "C1", "C2", "C3", "C4", "D2", "D3", "D4"}
)

// ParseShade extracts a VITA classical shade such as "A3.5" from free text.
func ParseShade(s string) (string, bool) {
	m := shadePattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	shade := strings.ToUpper(m[1]) + m[2]
	return shade, slices.Contains(vitaShades, shade)
}

func (d *Dispatcher) recordShade(_ context.Context, turn *Turn, raw map[string]any) domain.ToolResult {
	var args shadeArgs
	if err := decode(raw, &args); err != nil {
		return domain.Invalid("invalid arguments: "+err.Error(), nil)
	}
	next := turn.Draft.Clone()
	if err := d.machine.Accept(next, domain.FieldShade); err != nil {
		return d.redirect(err, next)
	}
	shade, ok := ParseShade(args.Shade)
	if !ok {
		return domain.Invalid(fmt.Sprintf("%q is not a VITA classical shade; valid shades: %s", args.Shade, strings.Join(vitaShades, ", ")), nil)
	}
	next.Shade = shade
	*turn.Draft = next
	return domain.Valid("recorded shade "+shade, map[string]any{"shade": shade, "next_step": d.nextStep(next)})
}

type patientArgs struct {
	PatientName string `mapstructure:"patient_name"`
}

func (d *Dispatcher) storePatientName(ctx context.Context, turn *Turn, raw map[string]any) domain.ToolResult {
	var args patientArgs
	if err := decode(raw, &args); err != nil {
		return domain.Invalid("invalid arguments: "+err.Error(), nil)
	}
	name := strings.TrimSpace(args.PatientName)
	next := turn.Draft.Clone()

	switch d.machine.Step(next) {
	case workflow.StepProductSelection:
		// Replies like "2" or a product code often arrive here while a list is open.
		if p, err := d.machine.ResolveSelection(next, name); err == nil {
			return d.commitProduct(turn, next, p, string(domain.FieldProduct))
		}
	case workflow.StepMaterialSubtype:
		res, err := d.normalizer.Normalize(ctx, name, next.MaterialCategory)
		if err == nil && res.Resolved {
			rep := d.rules.ValidateMaterial(next.MaterialCategory, res.Canonical, next.RestorationType, next.BridgeSpan)
			if rep.Valid {
				next.MaterialSubtype = rep.Subtype
				*turn.Draft = next
				return domain.Valid(fmt.Sprintf("%q is a material, recorded as subtype %s", name, rep.Subtype), map[string]any{
					"reinterpreted_as": string(domain.FieldMaterialSubtype),
					"material_subtype": rep.Subtype,
					"next_step":        d.nextStep(next),
				})
			}
		}
	}

	if err := d.machine.Accept(next, domain.FieldPatientName); err != nil {
		return d.redirect(err, next)
	}
	if reason := d.notAName(name); reason != "" {
		return domain.Invalid(fmt.Sprintf("%q does not look like a patient name (%s); ask for the patient's full name", name, reason), nil)
	}
	next.PatientName = name
	*turn.Draft = next
	return domain.Valid("stored patient name", map[string]any{"next_step": d.nextStep(next)})
}

// notAName returns why s cannot be a patient name, or "".
func (d *Dispatcher) notAName(s string) string {
	if s == "" {
		return "empty"
	}
	if len([]rune(s)) > 100 {
		return "too long"
	}
	if strings.IndexFunc(s, unicode.IsDigit) >= 0 {
		return "contains digits"
	}
	if _, ok := d.rules.CanonicalCategory(s); ok {
		return "it is a material category"
	}
	vocab := d.normalizer.Vocabulary()
	for _, cat := range vocab.Categories() {
		if _, ok := vocab.Lookup(cat, s); ok {
			return "it is a material name"
		}
	}
	return ""
}

type correctArgs struct {
	Field string `mapstructure:"field"`
}

func (d *Dispatcher) correctOrder(_ context.Context, turn *Turn, raw map[string]any) domain.ToolResult {
	var args correctArgs
	if err := decode(raw, &args); err != nil {
		return domain.Invalid("invalid arguments: "+err.Error(), nil)
	}
	f, ok := domain.ParseField(strings.ToLower(strings.TrimSpace(args.Field)))
	if !ok {
		return domain.Invalid(fmt.Sprintf("unknown field %q", args.Field), nil)
	}

	next := turn.Draft.Clone()
	cleared, err := d.machine.Correct(&next, f)
	if err != nil {
		return d.redirect(err, next)
	}
	*turn.Draft = next

	names := make([]string, len(cleared))
	for i, c := range cleared {
		names[i] = string(c)
	}
	msg := fmt.Sprintf("cleared %s; ask for the new value", f)
	if len(names) > 1 {
		msg = fmt.Sprintf("cleared %s and its dependents (%s); collect them again in order", f, strings.Join(names[1:], ", "))
	}
	return domain.Valid(msg, map[string]any{"cleared": names, "next_step": d.nextStep(next)})
}

func (d *Dispatcher) confirmOrder(_ context.Context, turn *Turn, _ map[string]any) domain.ToolResult {
	next := turn.Draft.Clone()
	if err := d.machine.Accept(next, domain.FieldConfirmation); err != nil {
		if errors.Is(err, workflow.ErrOutOfOrder) {
			return domain.Invalid("the order is incomplete, missing: "+missingList(next), map[string]any{
				"redirect":      true,
				"expected_step": d.nextStep(next),
			})
		}
		return d.redirect(err, next)
	}
	if !workflow.Affirmative(turn.UserMessage) {
		return domain.Invalid("the user has not confirmed yet; show the summary and ask them to reply \"confirm\"", nil)
	}
	next.Confirmed = true
	*turn.Draft = next
	return domain.Valid("order confirmed", map[string]any{"next_step": d.nextStep(next)})
}

func missingList(d domain.OrderDraft) string {
	missing := d.Missing()
	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
