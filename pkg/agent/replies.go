package agent

import (
	"fmt"
	"strings"

	"github.com/labwire/orderdesk/pkg/domain"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeReply       Outcome = "reply"       // The engine produced a final answer
	OutcomeFallback    Outcome = "fallback"    // Iteration cap reached
	OutcomeUnavailable Outcome = "unavailable" // Engine failed or timed out
	OutcomeFiltered    Outcome = "filtered"    // Provider content filter
	OutcomeClosed      Outcome = "closed"      // Session already completed or cancelled
	OutcomeConfirmed   Outcome = "confirmed"   // Order created
	OutcomeIncomplete  Outcome = "incomplete"  // Confirmation requested too early
	OutcomeRejected    Outcome = "rejected"    // Session could not be opened
)

const (
	replyFallback    = "Sorry, I couldn't finish processing that request. Could you rephrase it, or give me the missing detail directly?"
	replyUnavailable = "Sorry, the assistant is temporarily unavailable. Please try again in a moment."
	replyFiltered    = "Sorry, system detected possible sensitive content. Please describe in another way, or directly provide specific product code and patient information."
	replyNotOwner    = "This session belongs to another user. Please start a new session."
	replyError       = "Sorry, encountered an issue during processing. Please try again."
	replyEmpty       = "Please type a message to continue your order."
)

func closedReply(s domain.Session) string {
	if s.Status == domain.SessionCompleted && s.OrderNumber != "" {
		return fmt.Sprintf("This session is complete (order %s). Please start a new session for a new order.", s.OrderNumber)
	}
	return "This session has ended. Please start a new session for a new order."
}

func incompleteReply(d domain.OrderDraft) string {
	missing := d.Missing()
	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = string(f)
	}
	return fmt.Sprintf("The order is incomplete, missing: %s. Please provide complete information before confirming.",
		strings.Join(names, ", "))
}

func confirmationReply(o domain.Order) string {
	var b strings.Builder
	b.WriteString("Order confirmed and submitted!\n\n")
	fmt.Fprintf(&b, "**Order Number**: %s\n\n", o.Number)
	b.WriteString("Order Details:\n")
	fmt.Fprintf(&b, "- Restoration Type: %s\n", o.RestorationType)
	fmt.Fprintf(&b, "- Tooth Position: %s\n", strings.Join(o.ToothPositions, ", "))
	fmt.Fprintf(&b, "- Material: %s\n", o.Material)
	fmt.Fprintf(&b, "- Product: %s (Code: %s)\n", o.ProductName, o.ProductCode)
	fmt.Fprintf(&b, "- Shade: %s\n", o.Shade)
	fmt.Fprintf(&b, "- Patient: %s\n\n", o.PatientName)
	b.WriteString("The laboratory will be notified and start production.\n\n")
	b.WriteString("For a new order, please start a new session.")
	return b.String()
}
