package runner

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/labwire/orderdesk/pkg/agent"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/workflow"
)

func TestTextHandler_Input(t *testing.T) {
	out := &bytes.Buffer{}
	big := strings.Repeat("a", DefaultMaxInputSize+1)
	h := NewTextHandler(strings.NewReader(big+"\r\n  crown on 36 \r\n"), out, WithPrompt("you> "))

	got, err := h.Input(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "crown on 36" {
		t.Errorf("Expected trimmed line, got %q", got)
	}
	if !strings.Contains(out.String(), "Please try again") {
		t.Errorf("Expected retry notice for oversized line, got %q", out.String())
	}
	if strings.Count(out.String(), "you> ") != 2 {
		t.Errorf("Expected prompt twice, got %q", out.String())
	}

	if _, err := h.Input(context.Background()); err != io.EOF {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestTextHandler_Output(t *testing.T) {
	reply := agent.Reply{
		Text:       "**Noted.** Which shade?",
		Step:       workflow.StepShade,
		Outcome:    agent.OutcomeReply,
		Iterations: 2,
		ToolCalls: []agent.ToolInvocation{
			{Name: "validate_material", Arguments: `{"material_category":"pfm"}`, Result: domain.ToolResult{Valid: true}},
		},
	}

	out := &bytes.Buffer{}
	h := NewTextHandler(strings.NewReader(""), out, WithTextHandlerRenderer(func(s string) (string, error) {
		return strings.ReplaceAll(s, "**", ""), nil
	}))
	if err := h.Output(context.Background(), reply); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "Noted. Which shade?" {
		t.Errorf("Expected rendered text only, got %q", out.String())
	}

	out.Reset()
	h = NewTextHandler(strings.NewReader(""), out, WithVerbose(true))
	_ = h.Output(context.Background(), reply)
	if !strings.Contains(out.String(), "[tool] validate_material") || !strings.Contains(out.String(), "[step] shade") {
		t.Errorf("Expected verbose trace, got %q", out.String())
	}
}

func TestTextHandler_SystemOutput(t *testing.T) {
	out := &bytes.Buffer{}
	h := NewTextHandler(strings.NewReader(""), out)
	_ = h.SystemOutput(context.Background(), "Started a new order.")
	if !strings.Contains(out.String(), "[System] Started a new order.") {
		t.Errorf("got %q", out.String())
	}
}
