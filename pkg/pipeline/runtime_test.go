package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/pkg/credential"
	"github.com/routecodex/routecodex/pkg/health"
	"github.com/routecodex/routecodex/pkg/protocol"
	"github.com/routecodex/routecodex/pkg/types"
)

type staticLoader struct{ secret string }

func (l staticLoader) Load(def types.CredentialDef) (*types.Credential, error) {
	return &types.Credential{ID: def.ID, ProviderID: def.ProviderID, StaticSecret: l.secret, State: types.CredentialReady}, nil
}
func (l staticLoader) Save(id string, cred *types.Credential) error { return nil }

func newTestCredStore(t *testing.T) *credential.Store {
	t.Helper()
	defs := map[string]types.CredentialDef{
		"cred-1": {ID: "cred-1", ProviderID: "openai", AuthKind: types.AuthKindAPIKey, SecretRef: "sk-test"},
	}
	store, err := credential.New(defs, staticLoader{secret: "sk-test"}, nil, health.New(nil), nil)
	require.NoError(t, err)
	return store
}

func TestRuntime_Execute_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"resp1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer upstream.Close()

	creds := newTestCredStore(t)
	def := types.PipelineDef{
		ID: "p1", ProviderID: "openai", CredentialID: "cred-1",
		LLMSwitchConfig: types.LLMSwitchConfig{Disabled: true},
		CompatibilityConfig: types.CompatibilityConfig{Dialect: protocol.DialectOpenAIChat},
	}
	registry := protocol.NewRegistry(nil)
	compat, err := NewCompatibility(def.CompatibilityConfig, registry)
	require.NoError(t, err)

	providerDef := types.ProviderDef{ID: "openai", BaseURL: upstream.URL, TimeoutMs: 5000}
	provider := NewProviderClient(providerDef, def.CredentialID, creds)
	pl := NewPipeline(def, NewLLMSwitch(def.LLMSwitchConfig), NewWorkflow(def.WorkflowConfig), compat, provider)

	rt := NewRuntime(health.New(nil))
	resp, err := rt.Execute(context.Background(), pl, types.ChatRequest{Model: "gpt-4o", Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, int64(1), pl.Stats().TotalReq)
	assert.Equal(t, int64(0), pl.Stats().TotalErr)
}

func TestRuntime_Execute_UpstreamAuthFailureBlocksCredential(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	creds := newTestCredStore(t)
	def := types.PipelineDef{
		ID: "p1", ProviderID: "openai", CredentialID: "cred-1",
		LLMSwitchConfig:     types.LLMSwitchConfig{Disabled: true},
		CompatibilityConfig: types.CompatibilityConfig{Dialect: protocol.DialectOpenAIChat},
	}
	registry := protocol.NewRegistry(nil)
	compat, err := NewCompatibility(def.CompatibilityConfig, registry)
	require.NoError(t, err)

	providerDef := types.ProviderDef{ID: "openai", BaseURL: upstream.URL, TimeoutMs: 5000}
	provider := NewProviderClient(providerDef, def.CredentialID, creds)
	pl := NewPipeline(def, NewLLMSwitch(def.LLMSwitchConfig), NewWorkflow(def.WorkflowConfig), compat, provider)

	healthMgr := health.New(nil)
	rt := NewRuntime(healthMgr)
	_, err = rt.Execute(context.Background(), pl, types.ChatRequest{Model: "gpt-4o"})
	require.Error(t, err)

	gwErr, ok := err.(*types.GatewayError)
	require.True(t, ok)
	assert.Equal(t, types.CategoryAuth, gwErr.Category)
	assert.False(t, gwErr.Retriable())
	assert.True(t, healthMgr.IsBlocked(health.CredentialKey("openai", "cred-1")))
}

func TestRuntime_Execute_RateLimitIsRetriable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	creds := newTestCredStore(t)
	def := types.PipelineDef{
		ID: "p1", ProviderID: "openai", CredentialID: "cred-1",
		LLMSwitchConfig:     types.LLMSwitchConfig{Disabled: true},
		CompatibilityConfig: types.CompatibilityConfig{Dialect: protocol.DialectOpenAIChat},
	}
	registry := protocol.NewRegistry(nil)
	compat, err := NewCompatibility(def.CompatibilityConfig, registry)
	require.NoError(t, err)

	providerDef := types.ProviderDef{ID: "openai", BaseURL: upstream.URL, TimeoutMs: 5000}
	provider := NewProviderClient(providerDef, def.CredentialID, creds)
	pl := NewPipeline(def, NewLLMSwitch(def.LLMSwitchConfig), NewWorkflow(def.WorkflowConfig), compat, provider)

	healthMgr := health.New(nil)
	rt := NewRuntime(healthMgr)
	_, err = rt.Execute(context.Background(), pl, types.ChatRequest{Model: "gpt-4o"})
	require.Error(t, err)

	gwErr, ok := err.(*types.GatewayError)
	require.True(t, ok)
	assert.Equal(t, types.CategoryRateLimit, gwErr.Category)
	assert.True(t, gwErr.Retriable())
}

func TestRuntime_Execute_EmbeddedErrorIn200Body(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":"token quota is not enough for this account"}`))
	}))
	defer upstream.Close()

	creds := newTestCredStore(t)
	def := types.PipelineDef{
		ID: "p1", ProviderID: "openai", CredentialID: "cred-1",
		LLMSwitchConfig:     types.LLMSwitchConfig{Disabled: true},
		CompatibilityConfig: types.CompatibilityConfig{Dialect: protocol.DialectOpenAIChat},
	}
	registry := protocol.NewRegistry(nil)
	compat, err := NewCompatibility(def.CompatibilityConfig, registry)
	require.NoError(t, err)

	providerDef := types.ProviderDef{ID: "openai", BaseURL: upstream.URL, TimeoutMs: 5000}
	provider := NewProviderClient(providerDef, def.CredentialID, creds)
	pl := NewPipeline(def, NewLLMSwitch(def.LLMSwitchConfig), NewWorkflow(def.WorkflowConfig), compat, provider)

	healthMgr := health.New(nil)
	rt := NewRuntime(healthMgr)
	_, err = rt.Execute(context.Background(), pl, types.ChatRequest{Model: "gpt-4o"})
	require.Error(t, err)

	gwErr, ok := err.(*types.GatewayError)
	require.True(t, ok)
	assert.Equal(t, types.CategoryUpstream, gwErr.Category)
	assert.Equal(t, int64(1), pl.Stats().TotalErr)
}

func TestAssemble_OneBadPipelineDoesNotAbortOthers(t *testing.T) {
	creds := newTestCredStore(t)
	registry := protocol.NewRegistry(nil)

	rc := types.RuntimeConfig{
		Providers: map[string]types.ProviderDef{"openai": {ID: "openai", BaseURL: "http://example.invalid"}},
		Pipelines: []types.PipelineDef{
			{ID: "good", ProviderID: "openai", CredentialID: "cred-1", CompatibilityConfig: types.CompatibilityConfig{Dialect: protocol.DialectOpenAIChat}},
			{ID: "bad", ProviderID: "openai", CredentialID: "cred-1", CompatibilityConfig: types.CompatibilityConfig{Dialect: "nonexistent-dialect"}},
		},
		Routing: map[string][]string{"default": {"good", "bad"}},
	}

	results := Assemble(rc, registry, creds)
	require.Len(t, results, 2)

	pools, empty := ActivePoolsByCategory(rc, results)
	assert.Len(t, pools["default"], 1)
	assert.Empty(t, empty)
}
