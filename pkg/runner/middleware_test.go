package runner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/labwire/orderdesk/pkg/agent"
)

// MockIOHandler captures system output and scripts input.
type MockIOHandler struct {
	System  []string
	Replies []agent.Reply
	Inputs  []string
}

func (m *MockIOHandler) Output(ctx context.Context, reply agent.Reply) error {
	m.Replies = append(m.Replies, reply)
	return nil
}

func (m *MockIOHandler) Input(ctx context.Context) (string, error) {
	if len(m.Inputs) == 0 {
		return "", errors.New("no input")
	}
	in := m.Inputs[0]
	m.Inputs = m.Inputs[1:]
	return in, nil
}

func (m *MockIOHandler) SystemOutput(ctx context.Context, msg string) error {
	m.System = append(m.System, msg)
	return nil
}

func TestCommandMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		session     string
		inputs      []string
		wantHandled bool
		wantSystem  string
		wantSession string
		wantCancel  bool
	}{
		{"plain text passes", "crown on 36", "s1", nil, false, "", "s1", false},
		{"help", "/help", "s1", nil, true, "/cancel", "s1", false},
		{"session", "/session", "s1", nil, true, "Session: s1", "s1", false},
		{"session none", "/session", "", nil, true, "(none yet)", "", false},
		{"new", "/NEW", "s1", nil, true, "new order", "", false},
		{"unknown", "/teleport now", "s1", nil, true, "Unknown command /teleport", "s1", false},
		{"cancel confirmed", "/cancel", "s1", []string{"yes"}, true, "Order cancelled.", "", true},
		{"cancel declined", "/cancel", "s1", []string{"n"}, true, "(y/n)", "s1", false},
		{"cancel without session", "/cancel", "", nil, true, "no order", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &MockIOHandler{Inputs: tt.inputs}
			conv := &stubConversation{}
			r := NewRunner(WithInputHandler(h), WithSessionID(tt.session))

			handled, err := CommandMiddleware(r, conv)(context.Background(), tt.line)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if handled != tt.wantHandled {
				t.Errorf("handled = %v, want %v", handled, tt.wantHandled)
			}
			if tt.wantSystem != "" && !strings.Contains(strings.Join(h.System, "\n"), tt.wantSystem) {
				t.Errorf("Expected system output containing %q, got %v", tt.wantSystem, h.System)
			}
			if r.SessionID != tt.wantSession {
				t.Errorf("session = %q, want %q", r.SessionID, tt.wantSession)
			}
			if got := len(conv.cancelled) == 1; got != tt.wantCancel {
				t.Errorf("cancelled = %v, want %v", conv.cancelled, tt.wantCancel)
			}
		})
	}
}

func TestMultiInterceptor(t *testing.T) {
	var order []string
	record := func(name string, handled bool) Interceptor {
		return func(ctx context.Context, line string) (bool, error) {
			order = append(order, name)
			return handled, nil
		}
	}

	handled, err := MultiInterceptor(record("a", false), record("b", true), record("c", true))(context.Background(), "x")
	if err != nil || !handled {
		t.Fatalf("Expected handled without error, got %v %v", handled, err)
	}
	if strings.Join(order, ",") != "a,b" {
		t.Errorf("Expected chain to stop at b, got %v", order)
	}

	boom := func(ctx context.Context, line string) (bool, error) { return false, errors.New("boom") }
	if _, err := MultiInterceptor(PassThrough(), boom)(context.Background(), "x"); err == nil {
		t.Error("Expected error to propagate")
	}
}

func TestRunner_Run_InterceptorConsumesLine(t *testing.T) {
	h := &MockIOHandler{Inputs: []string{"/help", "quit"}}
	conv := &stubConversation{}
	r := NewRunner(WithInputHandler(h))

	if err := r.Run(context.Background(), conv); err != nil {
		t.Fatalf("Runner failed: %v", err)
	}
	if len(conv.messages) != 0 {
		t.Errorf("Expected no turns, got %v", conv.messages)
	}
	if len(h.System) != 1 {
		t.Errorf("Expected help output, got %v", h.System)
	}
}
