package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTurnStart     EventType = "turn_start"
	EventTurnEnd       EventType = "turn_end"
	EventToolCall      EventType = "tool_call"
	EventToolReturn    EventType = "tool_return"
	EventLoopExhausted EventType = "loop_exhausted"
	EventNormalized    EventType = "normalized"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// TurnEvent marks the start or end of one user turn.
type TurnEvent struct {
	EventBase
	Step       string        `json:"step"`
	Iterations int           `json:"iterations,omitempty"`
	Outcome    string        `json:"outcome,omitempty"` // reply, fallback, unavailable, filtered, closed, confirmed
	Duration   time.Duration `json:"duration,omitempty"`
}

// ToolEvent represents a tool execution.
type ToolEvent struct {
	EventBase
	ToolName string        `json:"tool_name"`
	Input    string        `json:"input,omitempty"`
	Output   *ToolResult   `json:"output,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// NormalizationEvent reports how a raw material name was resolved.
type NormalizationEvent struct {
	EventBase
	Input     string `json:"input"`
	Category  string `json:"category"`
	Canonical string `json:"canonical,omitempty"`
	Stage     string `json:"stage,omitempty"` // empty when unresolved
	Cached    bool   `json:"cached"`
}

// LifecycleHooks defines callbacks for observability.
type LifecycleHooks struct {
	OnTurnStart     func(context.Context, *TurnEvent)
	OnTurnEnd       func(context.Context, *TurnEvent)
	OnToolCall      func(context.Context, *ToolEvent)
	OnToolReturn    func(context.Context, *ToolEvent)
	OnLoopExhausted func(context.Context, *TurnEvent)
	OnNormalized    func(context.Context, *NormalizationEvent)
}
