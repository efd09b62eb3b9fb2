package domain

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is the provider-agnostic chat message shape used by the
// orchestrator and LLM integrations. ToolCalls is set on assistant messages
// that requested a tool; ToolCallID links a tool result back to that request.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a function invocation requested by the model.
// Arguments holds the raw JSON object emitted by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition declares a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *ParamSchema
}

// ParamSchema describes tool parameters using JSON Schema conventions.
type ParamSchema struct {
	Type        string                  `json:"type"`
	Description string                  `json:"description,omitempty"`
	Properties  map[string]*ParamSchema `json:"properties,omitempty"`
	Required    []string                `json:"required,omitempty"`
}

// CompletionRequest is a single chat completion call.
// Tools and ToolChoice are left empty for follow-up calls.
type CompletionRequest struct {
	Model       string
	Temperature float64
	Messages    []ChatMessage
	Tools       []ToolDefinition
	ToolChoice  string
}

// Completion is the first choice of a chat completion response.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	// Raw is the undecoded response body, kept for logging.
	Raw string
}
