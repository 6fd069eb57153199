package domain

import "encoding/json"

// ToolCall represents a request from the reasoning engine to run one named tool.
// Compatible with OpenAI/MCP tool call schemas.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // Raw JSON object
}

// ToolResult is the envelope every tool returns, success or failure.
// Its shape is deterministic so it can be replayed into the history unchanged.
type ToolResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON serializes the result for the transcript.
func (r ToolResult) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(ToolResult{Valid: false, Message: "tool result could not be serialized"})
	}
	return string(b)
}

// Invalid builds a failed result with a message.
func Invalid(message string, data any) ToolResult {
	return ToolResult{Valid: false, Message: message, Data: data}
}

// Valid builds a successful result with a message.
func Valid(message string, data any) ToolResult {
	return ToolResult{Valid: true, Message: message, Data: data}
}

// ToolSpec describes a tool offered to the reasoning engine.
type ToolSpec struct {
	Name        string         `json:"name" yaml:"name" mapstructure:"name"`
	Description string         `json:"description" yaml:"description" mapstructure:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty" mapstructure:"parameters"`
}
