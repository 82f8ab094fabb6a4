// Package pipeline implements Pipeline Assembly (C4) and Pipeline Runtime
// (C5): materializing one Pipeline per PipelineDef and executing the
// 4-stage llmSwitch → workflow → compatibility → provider transformation
// chain for a single request, grounded on the teacher's
// pkg/providers/base.BaseProvider request-handling shape.
package pipeline

import (
	"fmt"

	"github.com/routecodex/routecodex/pkg/types"
	"github.com/routecodex/routecodex/pkg/utils"
)

// LLMSwitch is stage 1: a pure transformation on the parsed request that
// may inject or replace the system message and set UA-mode header hints.
// It must not perform I/O (spec.md §4.5).
type LLMSwitch interface {
	Apply(req types.ChatRequest) (types.ChatRequest, map[string]string, error)
}

// Workflow is stage 2: rule-based request shaping — stripping tool_calls
// from non-final assistant messages, injecting clock-scope metadata, or
// passing the request through unchanged.
type Workflow interface {
	Apply(req types.ChatRequest) (types.ChatRequest, error)
}

// Compatibility is stage 3: minimal structural adaptation to the upstream's
// wire schema. It must be bijective enough that the response can be
// reverse-translated back to the caller's dialect (spec.md §4.5).
type Compatibility interface {
	Encode(req types.ChatRequest) ([]byte, error)
	Decode(body []byte) (types.ChatResponse, error)
	DecodeStreamChunk(event []byte) (types.ChatStreamChunk, bool, error)
}

// passthroughLLMSwitch implements identity pass-through when
// LLMSwitchConfig.Disabled is set (spec.md §4.4).
type passthroughLLMSwitch struct{}

func (passthroughLLMSwitch) Apply(req types.ChatRequest) (types.ChatRequest, map[string]string, error) {
	return req, nil, nil
}

// systemPromptSwitch replaces or injects the request's system message from
// a named source ("codex", "claude") per LLMSwitchConfig.SystemPromptSource,
// and returns a UA-mode header hint (X-UA-Mode) alongside the request.
// Runtime discards the returned headers; they are not sent upstream.
type systemPromptSwitch struct {
	cfg types.LLMSwitchConfig
}

// NewLLMSwitch builds stage 1 from a pipeline's LLMSwitchConfig.
func NewLLMSwitch(cfg types.LLMSwitchConfig) LLMSwitch {
	if cfg.Disabled {
		return passthroughLLMSwitch{}
	}
	return &systemPromptSwitch{cfg: cfg}
}

func (s *systemPromptSwitch) Apply(req types.ChatRequest) (types.ChatRequest, map[string]string, error) {
	headers := make(map[string]string)
	if s.cfg.UAMode != "" {
		headers["X-UA-Mode"] = s.cfg.UAMode
	}
	switch s.cfg.SystemPromptSource {
	case "codex":
		req.System = codexSystemPrompt
	case "claude":
		req.System = claudeSystemPrompt
	}
	return req, headers, nil
}

const (
	codexSystemPrompt  = "You are Codex, a coding assistant operating inside a terminal session."
	claudeSystemPrompt = "You are Claude, an AI assistant."
)

// ruleWorkflow implements stage 2 according to WorkflowConfig.
type ruleWorkflow struct {
	cfg types.WorkflowConfig
}

// NewWorkflow builds stage 2 from a pipeline's WorkflowConfig.
func NewWorkflow(cfg types.WorkflowConfig) Workflow {
	return &ruleWorkflow{cfg: cfg}
}

func (w *ruleWorkflow) Apply(req types.ChatRequest) (types.ChatRequest, error) {
	if w.cfg.StripNonFinalToolCalls {
		req.Messages = stripNonFinalToolCalls(req.Messages)
	}
	if w.cfg.InjectClockMetadata {
		req.Messages = injectClockMetadata(req.Messages)
	}
	switch {
	case w.cfg.StrictToolCallSequence:
		if issues := utils.ValidateToolCallSequence(req.Messages); len(issues) > 0 {
			return types.ChatRequest{}, types.NewGatewayError(types.CategoryValidation,
				fmt.Errorf("tool call sequence invalid: %s (tool call %s)", issues[0].Issue, issues[0].ToolCallID))
		}
	case w.cfg.FixMissingToolResponses:
		if utils.HasPendingToolCalls(req.Messages) {
			req.Messages = utils.FixMissingToolResponses(req.Messages, "")
		}
	}
	return req, nil
}

// stripNonFinalToolCalls removes tool_calls from every assistant message
// except the last one in the slice, for upstreams that reject multiple
// pending tool-call sets in one conversation (spec.md §4.4).
func stripNonFinalToolCalls(messages []types.ChatMessage) []types.ChatMessage {
	lastAssistant := -1
	for i, m := range messages {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			lastAssistant = i
		}
	}
	out := make([]types.ChatMessage, len(messages))
	copy(out, messages)
	for i := range out {
		if i != lastAssistant && out[i].Role == "assistant" && len(out[i].ToolCalls) > 0 {
			out[i].ToolCalls = nil
		}
	}
	return out
}

// injectClockMetadata prepends a synthetic system note naming the request's
// processing scope, used by upstreams that key cache/session state off an
// explicit clock marker in the conversation.
func injectClockMetadata(messages []types.ChatMessage) []types.ChatMessage {
	marker := types.ChatMessage{Role: "system", Content: "clock-scope: request-local"}
	return append([]types.ChatMessage{marker}, messages...)
}
