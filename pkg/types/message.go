// Package types defines the core domain model for the RouteCodex gateway:
// chat message shapes shared by every protocol adapter, and the runtime
// configuration, credential, health and pipeline types that the rest of
// the gateway is built around.
package types

// ChatMessage is the provider-agnostic message shape threaded through the
// pipeline. Protocol adapters translate into and out of this shape; nothing
// downstream of the llmSwitch stage needs to know which wire dialect a
// request arrived in.
type ChatMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ContentPart, MediaSource, and the ContentType* constants live in
// content.go.

// Tool describes a callable tool advertised by a request, in the
// model-agnostic shape. Protocol adapters render it into OpenAI's
// "function" envelope or Anthropic's flat tool schema as needed.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolChoice selects how a model should use the tools it was given.
type ToolChoice struct {
	Type string `json:"type"` // "auto", "none", "required", "tool"
	Name string `json:"name,omitempty"`
}

// ToolCall is a single invocation the model asked the caller to perform.
// Name and Arguments must survive every protocol round trip byte-for-byte.
type ToolCall struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is the normalized request passed between pipeline stages
// after the gateway's protocol translator has parsed the wire payload.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  *ToolChoice   `json:"tool_choice,omitempty"`
	Stop        []string      `json:"stop,omitempty"`

	// Dialect records the wire format the request originated in, so the
	// compatibility stage knows which adapter to run on the way out.
	Dialect string `json:"-"`
}

// ChatResponse is the normalized non-streaming response produced by the
// provider stage before the compatibility stage translates it back to the
// caller's dialect.
type ChatResponse struct {
	ID           string      `json:"id"`
	Model        string      `json:"model"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
	Usage        Usage       `json:"usage"`
}

// ChatStreamChunk is a single normalized SSE delta.
type ChatStreamChunk struct {
	ID           string      `json:"id"`
	Model        string      `json:"model"`
	Delta        ChatMessage `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *Usage      `json:"usage,omitempty"`
	Done         bool        `json:"done"`
}
