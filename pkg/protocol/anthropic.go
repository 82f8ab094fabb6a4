package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/routecodex/routecodex/pkg/types"
)

// anthropicMessage is the Anthropic Messages API shape: content is always
// an array of typed blocks, never a bare string (spec.md §4.7 notes the
// "content is an array of blocks, not a string" divergence from openaiChat).
type anthropicMessage struct {
	Role    string                `json:"role"`
	Content []anthropicContentBlk `json:"content"`
}

type anthropicContentBlk struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	// Input is kept as raw JSON, not map[string]interface{}, so a tool
	// call's argument bytes survive a dialect round trip unchanged —
	// unmarshaling into a map and remarshaling would re-sort object keys
	// (spec.md §4.7/§8: tool name/arguments are byte-identical to input).
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
	Tools       []anthropicTool     `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string                `json:"id"`
	Type       string                `json:"type"`
	Role       string                `json:"role"`
	Model      string                `json:"model"`
	Content    []anthropicContentBlk `json:"content"`
	StopReason string                `json:"stop_reason"`
	Usage      anthropicUsage        `json:"usage"`
}

// Anthropic implements Translator for the anthropicMessages dialect.
type Anthropic struct{}

func (Anthropic) ParseRequest(body []byte) (types.ChatRequest, error) {
	var raw anthropicRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.ChatRequest{}, fmt.Errorf("parse anthropic request: %w", err)
	}

	req := types.ChatRequest{
		Model:       raw.Model,
		System:      raw.System,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
		Stream:      raw.Stream,
		Stop:        raw.StopSequences,
		Dialect:     DialectAnthropicMessages,
	}

	for _, m := range raw.Messages {
		msg, err := anthropicBlocksToMessage(m.Role, m.Content)
		if err != nil {
			return types.ChatRequest{}, err
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range raw.Tools {
		req.Tools = append(req.Tools, types.Tool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}

	if raw.ToolChoice != nil {
		req.ToolChoice = &types.ToolChoice{Type: raw.ToolChoice.Type, Name: raw.ToolChoice.Name}
	}

	return req, nil
}

// anthropicBlocksToMessage folds a content-block array into the flat
// ChatMessage shape, extracting tool_use blocks into ToolCalls and
// tool_result blocks into a synthesized tool-result message's ToolCallID —
// Anthropic represents a tool result as a user message whose content is a
// single tool_result block, so one block maps onto the whole message here.
func anthropicBlocksToMessage(role string, blocks []anthropicContentBlk) (types.ChatMessage, error) {
	msg := types.ChatMessage{Role: role}
	var text string

	for _, b := range blocks {
		switch b.Type {
		case types.ContentTypeText:
			text += b.Text
		case types.ContentTypeToolUse:
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
				ID:        b.ID,
				Type:      "function",
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		case types.ContentTypeToolResult:
			msg.Role = "tool"
			msg.ToolCallID = b.ToolUseID
			if len(b.Content) > 0 {
				var s string
				if err := json.Unmarshal(b.Content, &s); err == nil {
					text = s
				} else {
					text = string(b.Content)
				}
			}
		}
	}
	msg.Content = text
	return msg, nil
}

func (Anthropic) RenderRequest(req types.ChatRequest) ([]byte, error) {
	raw := anthropicRequest{
		Model:         req.Model,
		System:        req.System,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Stream:        req.Stream,
		StopSequences: req.Stop,
	}

	for _, m := range req.Messages {
		blocks, role := messageToAnthropicRequestBlocks(m)
		raw.Messages = append(raw.Messages, anthropicMessage{Role: role, Content: blocks})
	}

	for _, t := range req.Tools {
		raw.Tools = append(raw.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	if req.ToolChoice != nil {
		raw.ToolChoice = &anthropicToolChoice{Type: req.ToolChoice.Type, Name: req.ToolChoice.Name}
	}

	return json.Marshal(raw)
}

// messageToAnthropicRequestBlocks renders a normalized message (which may
// carry text, tool calls, or a tool result) into Anthropic's content-block
// array, folding a "tool" role message into a user message with a single
// tool_result block per Anthropic's wire convention.
func messageToAnthropicRequestBlocks(m types.ChatMessage) ([]anthropicContentBlk, string) {
	if m.Role == "tool" {
		resultJSON, _ := json.Marshal(m.Content)
		return []anthropicContentBlk{{
			Type:      types.ContentTypeToolResult,
			ToolUseID: m.ToolCallID,
			Content:   resultJSON,
		}}, "user"
	}

	var blocks []anthropicContentBlk
	if m.Content != "" {
		blocks = append(blocks, anthropicContentBlk{Type: types.ContentTypeText, Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, anthropicContentBlk{Type: types.ContentTypeToolUse, ID: tc.ID, Name: tc.Name, Input: json.RawMessage(tc.Arguments)})
	}
	return blocks, m.Role
}

func (Anthropic) ParseResponse(body []byte) (types.ChatResponse, error) {
	var raw anthropicResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.ChatResponse{}, fmt.Errorf("parse anthropic response: %w", err)
	}

	msg, err := anthropicBlocksToMessage("assistant", raw.Content)
	if err != nil {
		return types.ChatResponse{}, err
	}

	finishReason := raw.StopReason
	if finishReason == "tool_use" {
		finishReason = "tool_calls"
	}

	return types.ChatResponse{
		ID:           raw.ID,
		Model:        raw.Model,
		Message:      msg,
		FinishReason: finishReason,
		Usage: types.Usage{
			PromptTokens:     raw.Usage.InputTokens,
			CompletionTokens: raw.Usage.OutputTokens,
			TotalTokens:      raw.Usage.InputTokens + raw.Usage.OutputTokens,
		},
	}, nil
}

// anthropicStreamEventEnvelope is the minimal shape needed to dispatch a
// named SSE event to the right per-event decoding.
type anthropicStreamEventEnvelope struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (Anthropic) ParseStreamChunk(event []byte) (types.ChatStreamChunk, bool, error) {
	data := extractSSEData(event)
	if data == nil {
		return types.ChatStreamChunk{}, false, nil
	}

	var env anthropicStreamEventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return types.ChatStreamChunk{}, false, fmt.Errorf("parse anthropic stream event: %w", err)
	}

	switch env.Type {
	case "content_block_delta":
		switch env.Delta.Type {
		case "text_delta":
			return types.ChatStreamChunk{Delta: types.ChatMessage{Content: env.Delta.Text}}, true, nil
		case "input_json_delta":
			return types.ChatStreamChunk{Delta: types.ChatMessage{
				ToolCalls: []types.ToolCall{{Type: "function", Arguments: env.Delta.PartialJSON}},
			}}, true, nil
		}
		return types.ChatStreamChunk{}, false, nil
	case "content_block_start":
		if env.ContentBlock.Type == types.ContentTypeToolUse {
			return types.ChatStreamChunk{Delta: types.ChatMessage{
				ToolCalls: []types.ToolCall{{ID: env.ContentBlock.ID, Type: "function", Name: env.ContentBlock.Name}},
			}}, true, nil
		}
		return types.ChatStreamChunk{}, false, nil
	case "message_delta":
		finishReason := env.Delta.StopReason
		if finishReason == "tool_use" {
			finishReason = "tool_calls"
		}
		return types.ChatStreamChunk{
			FinishReason: finishReason,
			Usage:        &types.Usage{CompletionTokens: env.Usage.OutputTokens},
		}, true, nil
	case "message_stop":
		return types.ChatStreamChunk{Done: true}, true, nil
	default:
		return types.ChatStreamChunk{}, false, nil
	}
}

func (Anthropic) RenderResponse(resp types.ChatResponse) ([]byte, error) {
	blocks, stopReason := messageToAnthropicBlocks(resp.Message, resp.FinishReason)

	out := anthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		Content:    blocks,
		StopReason: stopReason,
		Usage: anthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	return json.Marshal(out)
}

// messageToAnthropicBlocks renders a normalized message's text and tool
// calls back into Anthropic content blocks, and maps the normalized
// finish_reason onto Anthropic's stop_reason vocabulary — "tool_calls"
// becomes "tool_use" so a round trip through this adapter preserves the
// semantics spec.md §4.7/§8 requires, even though the token differs.
func messageToAnthropicBlocks(msg types.ChatMessage, finishReason string) ([]anthropicContentBlk, string) {
	var blocks []anthropicContentBlk
	if msg.Content != "" {
		blocks = append(blocks, anthropicContentBlk{Type: types.ContentTypeText, Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, anthropicContentBlk{
			Type:  types.ContentTypeToolUse,
			ID:    tc.ID,
			Name:  tc.Name,
			Input: json.RawMessage(tc.Arguments),
		})
	}

	stopReason := finishReason
	switch finishReason {
	case "tool_calls":
		stopReason = "tool_use"
	case "stop":
		stopReason = "end_turn"
	case "length":
		stopReason = "max_tokens"
	}
	return blocks, stopReason
}

// Streaming framing: Anthropic's event sequence is message_start,
// content_block_start, a run of content_block_delta events, content_block_stop,
// then message_delta/message_stop. RenderStreamChunk emits the events that
// correspond to a single normalized delta, tracking block-open state in
// StreamState so text and tool_use blocks are bracketed correctly.
func (Anthropic) RenderStreamChunk(chunk types.ChatStreamChunk, state *StreamState) ([]byte, error) {
	var out []byte

	if !state.EmittedMessageStart {
		state.EmittedMessageStart = true
		start := map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id": chunk.ID, "type": "message", "role": "assistant", "model": chunk.Model,
				"content": []interface{}{}, "usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		}
		payload, _ := json.Marshal(start)
		out = append(out, sseEvent("message_start", payload)...)
	}

	if chunk.Delta.Content != "" {
		if !state.TextBlockOpen {
			state.TextBlockOpen = true
			payload, _ := json.Marshal(map[string]interface{}{
				"type": "content_block_start", "index": 0,
				"content_block": map[string]string{"type": "text", "text": ""},
			})
			out = append(out, sseEvent("content_block_start", payload)...)
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]string{"type": "text_delta", "text": chunk.Delta.Content},
		})
		out = append(out, sseEvent("content_block_delta", payload)...)
	}

	for _, tc := range chunk.Delta.ToolCalls {
		if !state.ToolBlockOpen {
			if state.TextBlockOpen {
				state.TextBlockOpen = false
				payload, _ := json.Marshal(map[string]interface{}{"type": "content_block_stop", "index": 0})
				out = append(out, sseEvent("content_block_stop", payload)...)
			}
			state.ToolBlockOpen = true
			payload, _ := json.Marshal(map[string]interface{}{
				"type": "content_block_start", "index": 1,
				"content_block": map[string]interface{}{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": map[string]interface{}{}},
			})
			out = append(out, sseEvent("content_block_start", payload)...)
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"type": "content_block_delta", "index": 1,
			"delta": map[string]string{"type": "input_json_delta", "partial_json": tc.Arguments},
		})
		out = append(out, sseEvent("content_block_delta", payload)...)
	}

	if chunk.FinishReason != "" {
		if state.TextBlockOpen || state.ToolBlockOpen {
			idx := 0
			if state.ToolBlockOpen {
				idx = 1
			}
			payload, _ := json.Marshal(map[string]interface{}{"type": "content_block_stop", "index": idx})
			out = append(out, sseEvent("content_block_stop", payload)...)
		}
		_, stopReason := messageToAnthropicBlocks(types.ChatMessage{}, chunk.FinishReason)
		deltaPayload, _ := json.Marshal(map[string]interface{}{
			"type": "message_delta",
			"delta": map[string]string{"stop_reason": stopReason},
			"usage": map[string]int{"output_tokens": usageOutputTokens(chunk.Usage)},
		})
		out = append(out, sseEvent("message_delta", deltaPayload)...)
		stopPayload, _ := json.Marshal(map[string]string{"type": "message_stop"})
		out = append(out, sseEvent("message_stop", stopPayload)...)
	}

	return out, nil
}

func usageOutputTokens(u *types.Usage) int {
	if u == nil {
		return 0
	}
	return u.CompletionTokens
}

func (Anthropic) RenderStreamError(err error) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"type":  "error",
		"error": map[string]string{"type": "api_error", "message": err.Error()},
	})
	return sseEvent("error", payload)
}

func (Anthropic) RenderDone() []byte {
	return nil
}
