package gateway

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/pkg/credential"
	"github.com/routecodex/routecodex/pkg/health"
	"github.com/routecodex/routecodex/pkg/pipeline"
	"github.com/routecodex/routecodex/pkg/protocol"
	"github.com/routecodex/routecodex/pkg/router"
	"github.com/routecodex/routecodex/pkg/types"
)

type okLoader struct{}

func (okLoader) Load(def types.CredentialDef) (*types.Credential, error) {
	return &types.Credential{ID: def.ID, ProviderID: def.ProviderID, StaticSecret: "sk-test", State: types.CredentialReady}, nil
}
func (okLoader) Save(id string, cred *types.Credential) error { return nil }

func buildTestPipeline(t *testing.T, id, modelID, upstreamURL string, h *health.Manager) *pipeline.Pipeline {
	t.Helper()
	defs := map[string]types.CredentialDef{
		"cred-" + id: {ID: "cred-" + id, ProviderID: "openai", AuthKind: types.AuthKindAPIKey, SecretRef: "sk-test"},
	}
	store, err := credential.New(defs, okLoader{}, nil, h, nil)
	require.NoError(t, err)

	def := types.PipelineDef{
		ID: id, ProviderID: "openai", ModelID: modelID, CredentialID: "cred-" + id,
		LLMSwitchConfig:     types.LLMSwitchConfig{Disabled: true},
		CompatibilityConfig: types.CompatibilityConfig{Dialect: protocol.DialectOpenAIChat},
	}
	registry := protocol.NewRegistry(nil)
	compat, err := pipeline.NewCompatibility(def.CompatibilityConfig, registry)
	require.NoError(t, err)

	provider := pipeline.NewProviderClient(types.ProviderDef{ID: "openai", BaseURL: upstreamURL, TimeoutMs: 5000}, def.CredentialID, store)
	return pipeline.NewPipeline(def, pipeline.NewLLMSwitch(def.LLMSwitchConfig), pipeline.NewWorkflow(def.WorkflowConfig), compat, provider)
}

func newTestServer(t *testing.T, apiKey string, upstreamURL string) *Server {
	t.Helper()
	h := health.New(nil)
	pl := buildTestPipeline(t, "p1", "gpt-4o", upstreamURL, h)
	rt := pipeline.NewRuntime(h)
	rtr := router.New(map[string][]*pipeline.Pipeline{"default": {pl}}, router.DefaultRules, h, rt, false, nil, nil)
	registry := protocol.NewRegistry(nil)
	return New(types.HTTPServerConfig{Host: "127.0.0.1", Port: 0, APIKey: apiKey}, registry, rtr, h)
}

func TestHandler_ChatCompletions_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"r1","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer upstream.Close()

	srv := newTestServer(t, "", upstream.URL)
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hi there")
}

func TestHandler_Auth_RejectsMissingKey(t *testing.T) {
	srv := newTestServer(t, "secret-key", "http://unused")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Auth_AcceptsBearerToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"r1","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer upstream.Close()

	srv := newTestServer(t, "secret-key", upstream.URL)
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Health_NeverRequiresAuth(t *testing.T) {
	srv := newTestServer(t, "secret-key", "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Ready_ReflectsPoolState(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	srv := newTestServer(t, "", upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Models_ListsCatalog(t *testing.T) {
	srv := newTestServer(t, "", "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4o")
}

func TestHandler_Shutdown_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, "secret-key", "http://unused")

	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Shutdown_TriggersDrainChannel(t *testing.T) {
	srv := newTestServer(t, "", "http://unused")

	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "shutting_down")

	select {
	case <-srv.shutdownCh:
	case <-time.After(time.Second):
		t.Fatal("handleShutdown did not close shutdownCh")
	}
}

func TestHandler_Metrics_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, "secret-key", "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Metrics_ServedWhenAuthorized(t *testing.T) {
	srv := newTestServer(t, "", "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_UpstreamRateLimit_SurfacesAsGatewayError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	srv := newTestServer(t, "", upstream.URL)
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limit_error")
}
