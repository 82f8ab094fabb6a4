// Package protocol implements the Protocol Adapters (C7): bidirectional,
// pure-function translation between the wire dialects named in spec.md §4.7
// (openaiChat, anthropicMessages, codexResponses, and per-vendor provider
// dialects) and the normalized types.ChatRequest/ChatResponse shape the
// pipeline runtime operates on.
//
// Re-architecture note (spec.md §9): adapters are not resolved by runtime
// type inspection; each dialect registers a Translator value under its
// name, keyed by the closed set of dialect constants below — no RTTI.
package protocol

import (
	"bytes"

	"github.com/routecodex/routecodex/pkg/types"
)

const (
	DialectOpenAIChat        = "openaiChat"
	DialectAnthropicMessages = "anthropicMessages"
	DialectCodexResponses    = "codexResponses"
)

// Translator is the capability set every dialect adapter implements
// (spec.md §9's "polymorphic adapters implementing translateRequest/
// translateResponse/translateStreamChunk").
type Translator interface {
	// ParseRequest decodes a raw wire-format request body into the
	// normalized ChatRequest. Used when this dialect is the client's
	// inbound wire format.
	ParseRequest(body []byte) (types.ChatRequest, error)
	// RenderRequest encodes a normalized request into this dialect's wire
	// format. Used when this dialect is the upstream provider's wire
	// format, in the compatibility stage's outbound direction.
	RenderRequest(req types.ChatRequest) ([]byte, error)
	// ParseResponse decodes a raw wire-format response body into the
	// normalized ChatResponse. Used when this dialect is the upstream
	// provider's wire format.
	ParseResponse(body []byte) (types.ChatResponse, error)
	// ParseStreamChunk decodes a single upstream SSE event into a
	// normalized stream chunk. ok is false for frames that carry no chunk
	// (no data line, or an event type the dialect does not map); a
	// terminal marker such as OpenAI's "[DONE]" yields ok=true with Done set.
	ParseStreamChunk(event []byte) (types.ChatStreamChunk, bool, error)
	// RenderResponse encodes a normalized response back into this
	// dialect's wire format.
	RenderResponse(resp types.ChatResponse) ([]byte, error)
	// RenderStreamChunk encodes a single normalized stream chunk into
	// this dialect's SSE event framing (may return zero or more events
	// per chunk, e.g. Anthropic's multi-event-per-delta framing).
	RenderStreamChunk(chunk types.ChatStreamChunk, state *StreamState) ([]byte, error)
	// RenderStreamError encodes a terminal error as an SSE event in this
	// dialect, for the "already streaming" branch of spec.md §4.5/§7.
	RenderStreamError(err error) []byte
	// RenderDone encodes the dialect's terminal SSE marker.
	RenderDone() []byte
}

// openaiChatMessage, openaiTool etc. are declared in openai.go; anthropic.go
// and codex.go hold their own wire structs. Keeping each dialect's wire
// structs in its own file mirrors the teacher's one-file-per-vendor layout
// under pkg/providers/<vendor>.

// Registry resolves a dialect name to its Translator, replacing any
// reflection-based dispatch with a flat map lookup.
type Registry struct {
	translators map[string]Translator
}

// NewRegistry builds the registry with the three dialects spec.md §4.7
// names, plus any additional vendor dialects passed in.
func NewRegistry(extra map[string]Translator) *Registry {
	r := &Registry{translators: map[string]Translator{
		DialectOpenAIChat:        OpenAI{},
		DialectAnthropicMessages: Anthropic{},
		DialectCodexResponses:    Codex{},
	}}
	for name, t := range extra {
		r.translators[name] = t
	}
	return r
}

// Get resolves a dialect name, or ok=false for an unregistered one.
func (r *Registry) Get(dialect string) (Translator, bool) {
	t, ok := r.translators[dialect]
	return t, ok
}

// StreamState threads the small amount of per-stream bookkeeping a
// dialect's SSE framing needs across successive RenderStreamChunk calls
// (e.g. Anthropic's content_block_start/stop bracketing, or an
// incrementing OpenAI chunk index) without requiring the caller to know a
// dialect's internal framing rules.
type StreamState struct {
	ChunkIndex          int
	ToolBlockOpen       bool
	TextBlockOpen       bool
	EmittedMessageStart bool
}

// extractSSEData pulls the payload out of a raw "data: ...\n\n" SSE event
// line, or nil if the event carries no data line (a bare event-name line,
// a comment, or a blank keep-alive).
func extractSSEData(event []byte) []byte {
	for _, line := range bytes.Split(event, []byte("\n")) {
		if bytes.HasPrefix(line, []byte("data:")) {
			return bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		}
	}
	return nil
}
