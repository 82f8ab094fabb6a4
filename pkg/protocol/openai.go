package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/routecodex/routecodex/pkg/types"
)

// openaiMessage is the OpenAI chat/completions wire shape for a single
// message, including the nested function-call envelope the normalized
// ToolCall/Tool types deliberately flatten away.
type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function openaiToolCallFunc  `json:"function"`
}

type openaiToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type openaiToolChoice struct {
	simple string
	named  *openaiNamedToolChoice
}

type openaiNamedToolChoice struct {
	Type     string                     `json:"type"`
	Function openaiNamedToolChoiceValue `json:"function"`
}

type openaiNamedToolChoiceValue struct {
	Name string `json:"name"`
}

type openaiChatRequest struct {
	Model       string           `json:"model"`
	Messages    []openaiMessage  `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Tools       []openaiTool     `json:"tools,omitempty"`
	ToolChoice  json.RawMessage  `json:"tool_choice,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiStreamChoice struct {
	Index        int         `json:"index"`
	Delta        openaiDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Model   string               `json:"model"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

// OpenAI implements Translator for the openaiChat dialect named in
// spec.md §4.7. It is also the normalized form's closest wire relative, so
// most field mappings here are close to identity.
type OpenAI struct{}

func (OpenAI) ParseRequest(body []byte) (types.ChatRequest, error) {
	var raw openaiChatRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.ChatRequest{}, fmt.Errorf("parse openai request: %w", err)
	}

	req := types.ChatRequest{
		Model:       raw.Model,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
		Stream:      raw.Stream,
		Stop:        raw.Stop,
		Dialect:     DialectOpenAIChat,
	}

	for _, m := range raw.Messages {
		msg := types.ChatMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
				ID:        tc.ID,
				Type:      tc.Type,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range raw.Tools {
		req.Tools = append(req.Tools, types.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	if len(raw.ToolChoice) > 0 {
		choice, err := parseOpenAIToolChoice(raw.ToolChoice)
		if err != nil {
			return types.ChatRequest{}, err
		}
		req.ToolChoice = choice
	}

	return req, nil
}

func parseOpenAIToolChoice(raw json.RawMessage) (*types.ToolChoice, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &types.ToolChoice{Type: s}, nil
	}
	var named openaiNamedToolChoice
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("parse tool_choice: %w", err)
	}
	return &types.ToolChoice{Type: "tool", Name: named.Function.Name}, nil
}

func (OpenAI) RenderRequest(req types.ChatRequest) ([]byte, error) {
	raw := openaiChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
		Stop:        req.Stop,
	}

	if req.System != "" {
		raw.Messages = append(raw.Messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msg := openaiMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
				ID: tc.ID, Type: "function",
				Function: openaiToolCallFunc{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		raw.Messages = append(raw.Messages, msg)
	}

	for _, t := range req.Tools {
		raw.Tools = append(raw.Tools, openaiTool{
			Type:     "function",
			Function: openaiFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	if req.ToolChoice != nil {
		var err error
		if req.ToolChoice.Name != "" {
			raw.ToolChoice, err = json.Marshal(openaiNamedToolChoice{
				Type:     "function",
				Function: openaiNamedToolChoiceValue{Name: req.ToolChoice.Name},
			})
		} else {
			raw.ToolChoice, err = json.Marshal(req.ToolChoice.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("render tool_choice: %w", err)
		}
	}

	return json.Marshal(raw)
}

func (OpenAI) ParseResponse(body []byte) (types.ChatResponse, error) {
	var raw openaiChatResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.ChatResponse{}, fmt.Errorf("parse openai response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return types.ChatResponse{}, fmt.Errorf("parse openai response: no choices")
	}
	choice := raw.Choices[0]

	msg := types.ChatMessage{Role: choice.Message.Role, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
			ID: tc.ID, Type: tc.Type, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
		})
	}

	return types.ChatResponse{
		ID:           raw.ID,
		Model:        raw.Model,
		Message:      msg,
		FinishReason: choice.FinishReason,
		Usage: types.Usage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
			TotalTokens:      raw.Usage.TotalTokens,
		},
	}, nil
}

func (OpenAI) ParseStreamChunk(event []byte) (types.ChatStreamChunk, bool, error) {
	data := extractSSEData(event)
	if data == nil {
		return types.ChatStreamChunk{}, false, nil
	}
	if string(data) == "[DONE]" {
		return types.ChatStreamChunk{Done: true}, true, nil
	}

	var raw openaiStreamChunk
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.ChatStreamChunk{}, false, fmt.Errorf("parse openai stream chunk: %w", err)
	}
	if len(raw.Choices) == 0 {
		return types.ChatStreamChunk{}, false, nil
	}
	choice := raw.Choices[0]

	delta := types.ChatMessage{Role: choice.Delta.Role, Content: choice.Delta.Content}
	for _, tc := range choice.Delta.ToolCalls {
		delta.ToolCalls = append(delta.ToolCalls, types.ToolCall{
			ID: tc.ID, Type: tc.Type, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
		})
	}

	chunk := types.ChatStreamChunk{ID: raw.ID, Model: raw.Model, Delta: delta}
	if choice.FinishReason != nil {
		chunk.FinishReason = *choice.FinishReason
	}
	if raw.Usage != nil {
		chunk.Usage = &types.Usage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
			TotalTokens:      raw.Usage.TotalTokens,
		}
	}
	return chunk, true, nil
}

func (OpenAI) RenderResponse(resp types.ChatResponse) ([]byte, error) {
	msg := openaiMessage{Role: resp.Message.Role, Content: resp.Message.Content}
	for _, tc := range resp.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: openaiToolCallFunc{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}

	out := openaiChatResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []openaiChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: resp.FinishReason,
		}},
		Usage: openaiUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	return json.Marshal(out)
}

func (OpenAI) RenderStreamChunk(chunk types.ChatStreamChunk, state *StreamState) ([]byte, error) {
	delta := openaiDelta{Content: chunk.Delta.Content}
	if state.ChunkIndex == 0 {
		delta.Role = "assistant"
	}
	for _, tc := range chunk.Delta.ToolCalls {
		delta.ToolCalls = append(delta.ToolCalls, openaiToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: openaiToolCallFunc{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	state.ChunkIndex++

	var finish *string
	if chunk.FinishReason != "" {
		finish = &chunk.FinishReason
	}

	out := openaiStreamChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Model:   chunk.Model,
		Choices: []openaiStreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
	if chunk.Usage != nil {
		out.Usage = &openaiUsage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("render openai stream chunk: %w", err)
	}
	return sseEvent("", payload), nil
}

func (OpenAI) RenderStreamError(err error) []byte {
	payload, _ := json.Marshal(map[string]interface{}{"error": map[string]string{"message": err.Error()}})
	return sseEvent("", payload)
}

func (OpenAI) RenderDone() []byte {
	return []byte("data: [DONE]\n\n")
}

// sseEvent frames a payload as a Server-Sent Events data line, optionally
// naming an event type (Anthropic uses named events; OpenAI does not).
func sseEvent(event string, payload []byte) []byte {
	var buf []byte
	if event != "" {
		buf = append(buf, []byte("event: "+event+"\n")...)
	}
	buf = append(buf, []byte("data: ")...)
	buf = append(buf, payload...)
	buf = append(buf, []byte("\n\n")...)
	return buf
}
