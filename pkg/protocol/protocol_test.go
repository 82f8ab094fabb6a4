package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/pkg/types"
)

func TestOpenAI_ParseRequest_ToolCallsRoundTrip(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": "what's the weather in Boston?"},
			{"role": "assistant", "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Boston\"}"}}]}
		]
	}`)

	req, err := OpenAI{}.ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	tc := req.Messages[1].ToolCalls[0]
	assert.Equal(t, "get_weather", tc.Name)
	assert.Equal(t, `{"city":"Boston"}`, tc.Arguments)
}

func TestAnthropic_ParseRequest_ToolUseBlockBecomesToolCall(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-5-sonnet",
		"max_tokens": 1024,
		"messages": [
			{"role": "assistant", "content": [{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Boston"}}]}
		]
	}`)

	req, err := Anthropic{}.ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)

	tc := req.Messages[0].ToolCalls[0]
	assert.Equal(t, "get_weather", tc.Name)

	var args map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(tc.Arguments), &args))
	assert.Equal(t, "Boston", args["city"])
}

// TestToolCallNamePreservedAcrossDialects exercises the spec.md §4.7/§8
// invariant: a tool call's name and serialized arguments survive translation
// from one dialect's request shape into the normalized response and back out
// through a different dialect's rendering, byte-identical to the input.
func TestToolCallNamePreservedAcrossDialects(t *testing.T) {
	req, err := OpenAI{}.ParseRequest([]byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "assistant", "tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "lookup_order", "arguments": "{\"orderId\":42}"}}]}
		]
	}`))
	require.NoError(t, err)
	originalCall := req.Messages[0].ToolCalls[0]

	resp := types.ChatResponse{
		ID:           "resp_1",
		Model:        "gpt-4o",
		Message:      types.ChatMessage{Role: "assistant", ToolCalls: []types.ToolCall{originalCall}},
		FinishReason: "tool_calls",
	}

	anthropicBody, err := Anthropic{}.RenderResponse(resp)
	require.NoError(t, err)

	var decoded anthropicResponse
	require.NoError(t, json.Unmarshal(anthropicBody, &decoded))

	var toolUse *anthropicContentBlk
	for i := range decoded.Content {
		if decoded.Content[i].Type == "tool_use" {
			toolUse = &decoded.Content[i]
		}
	}
	require.NotNil(t, toolUse)
	assert.Equal(t, originalCall.Name, toolUse.Name)
	assert.Equal(t, originalCall.Arguments, string(toolUse.Input))
	assert.Equal(t, "tool_use", decoded.StopReason)
}

func toolWithSchema(t *testing.T, schemaJSON string) types.Tool {
	t.Helper()
	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(schemaJSON), &schema))
	return types.Tool{Name: "get_weather", Parameters: schema}
}

func toolCall(t *testing.T, name, argsJSON string) types.ToolCall {
	t.Helper()
	return types.ToolCall{ID: "call_1", Type: "function", Name: name, Arguments: argsJSON}
}

func TestValidator_RejectsMissingRequiredField(t *testing.T) {
	v := NewValidator(false)
	tool := toolWithSchema(t, `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)

	err := v.ValidateToolCall(toolCall(t, "get_weather", `{}`), []types.Tool{tool})
	assert.Error(t, err)
}

func TestValidator_StrictModeRejectsUnknownField(t *testing.T) {
	v := NewValidator(true)
	tool := toolWithSchema(t, `{"type":"object","properties":{"city":{"type":"string"}}}`)

	err := v.ValidateToolCall(toolCall(t, "get_weather", `{"city":"Boston","extra":true}`), []types.Tool{tool})
	assert.Error(t, err)
}

func TestValidator_EnumViolation(t *testing.T) {
	v := NewValidator(false)
	tool := toolWithSchema(t, `{"type":"object","properties":{"unit":{"type":"string","enum":["c","f"]}}}`)

	err := v.ValidateToolCall(toolCall(t, "get_weather", `{"unit":"kelvin"}`), []types.Tool{tool})
	assert.Error(t, err)
}

func TestValidator_AcceptsWellFormedCall(t *testing.T) {
	v := NewValidator(true)
	tool := toolWithSchema(t, `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)

	err := v.ValidateToolCall(toolCall(t, "get_weather", `{"city":"Boston"}`), []types.Tool{tool})
	assert.NoError(t, err)
}

func TestRegistry_ResolvesKnownDialects(t *testing.T) {
	r := NewRegistry(nil)
	for _, dialect := range []string{DialectOpenAIChat, DialectAnthropicMessages, DialectCodexResponses} {
		_, ok := r.Get(dialect)
		assert.True(t, ok, dialect)
	}
	_, ok := r.Get("unknown")
	assert.False(t, ok)
}

func TestAnthropic_RenderStreamError(t *testing.T) {
	out := Anthropic{}.RenderStreamError(errors.New("boom"))
	assert.Contains(t, string(out), "event: error")
	assert.Contains(t, string(out), "boom")
}
