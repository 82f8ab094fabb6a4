package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/routecodex/routecodex/pkg/types"
)

// codexRequest mirrors the /v1/responses "input items" shape: a flat list
// of typed items instead of openaiChat's role/content messages, grounded
// on the same provider-family conventions OpenAI documents for its
// Responses API.
type codexRequest struct {
	Model       string       `json:"model"`
	Input       []codexItem  `json:"input"`
	Instructions string      `json:"instructions,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
	Tools       []codexTool  `json:"tools,omitempty"`
}

type codexItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content []codexContent  `json:"content,omitempty"`
	CallID  string          `json:"call_id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output  string          `json:"output,omitempty"`
}

type codexContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type codexTool struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type codexResponse struct {
	ID     string      `json:"id"`
	Model  string      `json:"model"`
	Output []codexItem `json:"output"`
	Usage  codexUsage  `json:"usage"`
	Status string      `json:"status"`
}

type codexUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// codexStreamEvent frames a single Responses-API streaming event; the
// dialect emits a narrower event set than Anthropic (no separate
// content_block_start/stop pair per text run) since Codex deltas are
// flat text or flat function-call-argument chunks.
type codexStreamEvent struct {
	Type  string     `json:"type"`
	Delta string     `json:"delta,omitempty"`
	Item  *codexItem `json:"item,omitempty"`
}

// Codex implements Translator for the codexResponses dialect.
type Codex struct{}

func (Codex) ParseRequest(body []byte) (types.ChatRequest, error) {
	var raw codexRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.ChatRequest{}, fmt.Errorf("parse codex request: %w", err)
	}

	req := types.ChatRequest{
		Model:       raw.Model,
		System:      raw.Instructions,
		MaxTokens:   raw.MaxOutputTokens,
		Temperature: raw.Temperature,
		Stream:      raw.Stream,
		Dialect:     DialectCodexResponses,
	}

	for _, item := range raw.Input {
		switch item.Type {
		case "message":
			msg := types.ChatMessage{Role: item.Role}
			for _, c := range item.Content {
				msg.Content += c.Text
			}
			req.Messages = append(req.Messages, msg)
		case "function_call":
			req.Messages = append(req.Messages, types.ChatMessage{
				Role: "assistant",
				ToolCalls: []types.ToolCall{{
					ID: item.CallID, Type: "function", Name: item.Name, Arguments: item.Arguments,
				}},
			})
		case "function_call_output":
			req.Messages = append(req.Messages, types.ChatMessage{
				Role: "tool", ToolCallID: item.CallID, Content: item.Output,
			})
		}
	}

	for _, t := range raw.Tools {
		req.Tools = append(req.Tools, types.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	return req, nil
}

func (Codex) RenderRequest(req types.ChatRequest) ([]byte, error) {
	raw := codexRequest{
		Model:           req.Model,
		Instructions:    req.System,
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		Stream:          req.Stream,
	}

	for _, m := range req.Messages {
		switch {
		case m.Role == "tool":
			raw.Input = append(raw.Input, codexItem{Type: "function_call_output", CallID: m.ToolCallID, Output: m.Content})
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				raw.Input = append(raw.Input, codexItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			}
		default:
			raw.Input = append(raw.Input, codexItem{
				Type: "message", Role: m.Role,
				Content: []codexContent{{Type: "input_text", Text: m.Content}},
			})
		}
	}

	for _, t := range req.Tools {
		raw.Tools = append(raw.Tools, codexTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	return json.Marshal(raw)
}

func (Codex) ParseResponse(body []byte) (types.ChatResponse, error) {
	var raw codexResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.ChatResponse{}, fmt.Errorf("parse codex response: %w", err)
	}

	msg := types.ChatMessage{Role: "assistant"}
	finishReason := "stop"
	for _, item := range raw.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				msg.Content += c.Text
			}
		case "function_call":
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{ID: item.CallID, Type: "function", Name: item.Name, Arguments: item.Arguments})
			finishReason = "tool_calls"
		}
	}
	if raw.Status == "incomplete" {
		finishReason = "length"
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

func (Codex) ParseStreamChunk(event []byte) (types.ChatStreamChunk, bool, error) {
	data := extractSSEData(event)
	if data == nil {
		return types.ChatStreamChunk{}, false, nil
	}

	var env codexStreamEvent
	if err := json.Unmarshal(data, &env); err != nil {
		return types.ChatStreamChunk{}, false, fmt.Errorf("parse codex stream event: %w", err)
	}

	switch env.Type {
	case "response.output_text.delta":
		return types.ChatStreamChunk{Delta: types.ChatMessage{Content: env.Delta}}, true, nil
	case "response.function_call_arguments.delta":
		if env.Item == nil {
			return types.ChatStreamChunk{}, false, nil
		}
		return types.ChatStreamChunk{Delta: types.ChatMessage{
			ToolCalls: []types.ToolCall{{ID: env.Item.CallID, Type: "function", Name: env.Item.Name, Arguments: env.Item.Arguments}},
		}}, true, nil
	case "response.completed":
		return types.ChatStreamChunk{FinishReason: "stop", Done: true}, true, nil
	default:
		return types.ChatStreamChunk{}, false, nil
	}
}

func (Codex) RenderResponse(resp types.ChatResponse) ([]byte, error) {
	var output []codexItem
	if resp.Message.Content != "" {
		output = append(output, codexItem{
			Type: "message", Role: "assistant",
			Content: []codexContent{{Type: "output_text", Text: resp.Message.Content}},
		})
	}
	for _, tc := range resp.Message.ToolCalls {
		output = append(output, codexItem{
			Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments,
		})
	}

	status := "completed"
	if resp.FinishReason == "length" {
		status = "incomplete"
	}

	out := codexResponse{
		ID:     resp.ID,
		Model:  resp.Model,
		Output: output,
		Status: status,
		Usage:  codexUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	return json.Marshal(out)
}

func (Codex) RenderStreamChunk(chunk types.ChatStreamChunk, state *StreamState) ([]byte, error) {
	if chunk.Delta.Content != "" {
		payload, _ := json.Marshal(codexStreamEvent{Type: "response.output_text.delta", Delta: chunk.Delta.Content})
		return sseEvent("response.output_text.delta", payload), nil
	}
	for _, tc := range chunk.Delta.ToolCalls {
		item := codexItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		payload, _ := json.Marshal(codexStreamEvent{Type: "response.function_call_arguments.delta", Item: &item})
		return sseEvent("response.function_call_arguments.delta", payload), nil
	}
	if chunk.FinishReason != "" {
		payload, _ := json.Marshal(codexStreamEvent{Type: "response.completed"})
		return sseEvent("response.completed", payload), nil
	}
	return nil, nil
}

func (Codex) RenderStreamError(err error) []byte {
	payload, _ := json.Marshal(map[string]interface{}{"type": "response.error", "message": err.Error()})
	return sseEvent("response.error", payload)
}

func (Codex) RenderDone() []byte {
	return nil
}
