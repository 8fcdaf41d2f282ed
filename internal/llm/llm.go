package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// JSONSchema requests structured output. Strict schemas must list every property as required.
type JSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type Request struct {
	Operation   string
	System      string
	Messages    []Message
	Temperature float64
	Schema      *JSONSchema
}

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolRequest struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature float64
}

type ToolResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// Generator produces one completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ToolCaller runs one turn of a function-calling conversation.
type ToolCaller interface {
	ChatWithTools(ctx context.Context, req ToolRequest) (ToolResponse, error)
}

// Streamer is implemented by generators that can deliver text incrementally. onToken is
// called for every content delta; the full text is returned at the end.
type Streamer interface {
	Stream(ctx context.Context, req Request, onToken func(string)) (string, error)
}
