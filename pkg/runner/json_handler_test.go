package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/labwire/orderdesk/pkg/agent"
	"github.com/labwire/orderdesk/pkg/workflow"
)

func TestJSONHandler_Input(t *testing.T) {
	big, _ := json.Marshal(strings.Repeat("a", DefaultMaxInputSize+1))
	input := strings.Join([]string{
		`"crown on 36"`,
		`{"message": "pfm, non precious"}`,
		`plain text`,
		string(big),
		`{"message": "A2"}`,
	}, "\n")

	out := &bytes.Buffer{}
	h := NewJSONHandler(strings.NewReader(input), out)
	ctx := context.Background()

	for _, want := range []string{"crown on 36", "pfm, non precious", "plain text", "A2"} {
		got, err := h.Input(ctx)
		if err != nil {
			t.Fatalf("Unexpected error before %q: %v", want, err)
		}
		if got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
	if _, err := h.Input(ctx); err != io.EOF {
		t.Errorf("Expected EOF, got %v", err)
	}

	var sys map[string]string
	if err := json.Unmarshal(out.Bytes(), &sys); err != nil {
		t.Fatalf("Expected one system line, got %q", out.String())
	}
	if !strings.Contains(sys["system"], "maximum allowed size") {
		t.Errorf("Expected size error, got %v", sys)
	}
}

func TestJSONHandler_Output(t *testing.T) {
	out := &bytes.Buffer{}
	h := NewJSONHandler(strings.NewReader(""), out)

	err := h.Output(context.Background(), agent.Reply{
		SessionID: "s1",
		Text:      "Which shade?",
		Step:      workflow.StepShade,
		Outcome:   agent.OutcomeReply,
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = h.SystemOutput(context.Background(), "Session: s1")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 JSON lines, got %q", out.String())
	}
	var reply map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &reply); err != nil {
		t.Fatal(err)
	}
	if reply["reply"] != "Which shade?" || reply["session_id"] != "s1" || reply["step"] != "shade" {
		t.Errorf("Unexpected reply JSON: %v", reply)
	}
	if lines[1] != `{"system":"Session: s1"}` {
		t.Errorf("Unexpected system line: %s", lines[1])
	}
}
