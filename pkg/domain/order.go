package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the status of a created order.
type OrderStatus string

const OrderConfirmed OrderStatus = "confirmed"

// Order is the final, immutable lab order.
type Order struct {
	Number           string      `json:"order_number"`
	SessionID        string      `json:"session_id"`
	OwnerID          string      `json:"owner_id"`
	RestorationType  string      `json:"restoration_type"`
	ToothPositions   []string    `json:"tooth_positions"`
	IsBridge         bool        `json:"is_bridge"`
	BridgeSpan       int         `json:"bridge_span,omitempty"`
	PositionType     string      `json:"position_type,omitempty"`
	MaterialCategory string      `json:"material_category"`
	MaterialSubtype  string      `json:"material_subtype"`
	Material         string      `json:"material"`
	ProductCode      string      `json:"product_code"`
	ProductName      string      `json:"product_name"`
	Shade            string      `json:"shade"`
	PatientName      string      `json:"patient_name"`
	Status           OrderStatus `json:"status"`
	ConfirmedAt      time.Time   `json:"confirmed_at"`
}

// OrderNumber builds an order number of the form ORD-YYYYMMDD-HHMMSS-xxx,
// where xxx is the tail of the session ID.
func OrderNumber(sessionID string, at time.Time) string {
	suffix := "001"
	if id := strings.ReplaceAll(sessionID, "-", ""); len(id) >= 3 {
		suffix = id[len(id)-3:]
	}
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102-150405"), suffix)
}

// NewOrder freezes a complete, confirmed draft into an Order.
func NewOrder(s Session, d OrderDraft, at time.Time) (Order, error) {
	if !d.Complete() {
		return Order{}, fmt.Errorf("draft incomplete: missing %v", d.Missing())
	}
	if !d.Confirmed {
		return Order{}, errors.New("draft not confirmed by the user")
	}
	return Order{
		Number:           OrderNumber(s.ID, at),
		SessionID:        s.ID,
		OwnerID:          s.OwnerID,
		RestorationType:  d.RestorationType,
		ToothPositions:   append([]string(nil), d.ToothPositions...),
		IsBridge:         d.IsBridge,
		BridgeSpan:       d.BridgeSpan,
		PositionType:     d.PositionType,
		MaterialCategory: d.MaterialCategory,
		MaterialSubtype:  d.MaterialSubtype,
		Material:         d.Material(),
		ProductCode:      d.ProductCode,
		ProductName:      d.ProductName,
		Shade:            d.Shade,
		PatientName:      d.PatientName,
		Status:           OrderConfirmed,
		ConfirmedAt:      at,
	}, nil
}
