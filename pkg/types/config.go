package types

// ProviderDef describes one upstream LLM vendor endpoint.
type ProviderDef struct {
	ID              string            `json:"id"`
	BaseURL         string            `json:"baseURL"`
	ProtocolDialect string            `json:"protocolDialect"` // "openai", "anthropic", "codex", or a named vendor dialect
	TimeoutMs       int               `json:"timeoutMs"`
	Headers         map[string]string `json:"headers,omitempty"`
	ModelCatalog    []string          `json:"modelCatalog"`
}

// AuthKind enumerates how a credential authenticates against its provider.
type AuthKind string

const (
	AuthKindAPIKey       AuthKind = "apiKey"
	AuthKindOAuthDevice  AuthKind = "oauthDevice"
	AuthKindOAuthPKCE    AuthKind = "oauthPKCE"
	AuthKindNone         AuthKind = "none"
)

// OAuthEndpoints names the device-flow/PKCE endpoints for an OAuth-gated
// vendor, read verbatim from config.
type OAuthEndpoints struct {
	DeviceCodeURL string   `json:"deviceCodeURL,omitempty"`
	TokenURL      string   `json:"tokenURL,omitempty"`
	AuthorizeURL  string   `json:"authorizeURL,omitempty"`
	ClientID      string   `json:"clientId,omitempty"`
	ClientSecret  string   `json:"clientSecret,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
}

// CredentialDef is the config-time description of one credential slot.
// SecretRef never appears in a RuntimeConfig log dump; only AliasIndex does.
type CredentialDef struct {
	ID         string         `json:"id"`
	ProviderID string         `json:"providerId"`
	AuthKind   AuthKind       `json:"authKind"`
	AliasIndex string         `json:"aliasIndex"` // "key1".."keyN", index-ordered per provider
	SecretRef  string         `json:"secretRef"`  // on-disk path or literal; never logged
	OAuth      OAuthEndpoints `json:"oauth,omitempty"`
}

// LLMSwitchConfig configures stage 1 of the pipeline.
type LLMSwitchConfig struct {
	SystemPromptSource string `json:"systemPromptSource,omitempty"` // "codex", "claude", ""
	UAMode             string `json:"uaMode,omitempty"`
	Disabled           bool   `json:"disabled,omitempty"`
}

// WorkflowConfig configures stage 2 of the pipeline.
type WorkflowConfig struct {
	StripNonFinalToolCalls bool `json:"stripNonFinalToolCalls,omitempty"`
	InjectClockMetadata    bool `json:"injectClockMetadata,omitempty"`
	// FixMissingToolResponses synthesizes a default tool response for any
	// tool_calls left pending at the end of the message history, for
	// upstreams that reject a conversation with an unanswered tool call
	// (spec.md §4.5's tool-schema consistency check).
	FixMissingToolResponses bool `json:"fixMissingToolResponses,omitempty"`
	// StrictToolCallSequence rejects the request outright when tool calls
	// and tool responses don't line up, instead of silently repairing them
	// via FixMissingToolResponses. The two are mutually exclusive in
	// practice; Strict takes precedence when both are set.
	StrictToolCallSequence bool `json:"strictToolCallSequence,omitempty"`
}

// CompatibilityConfig configures stage 3 of the pipeline.
type CompatibilityConfig struct {
	Dialect     string            `json:"dialect"` // "openaiChat", "anthropicMessages", "codexResponses", or vendor name
	FieldRename map[string]string `json:"fieldRename,omitempty"`
}

// ProviderStageConfig configures stage 4 of the pipeline.
type ProviderStageConfig struct {
	Weight int `json:"weight,omitempty"`
}

// PipelineDef is a single declared (provider, model, credential) binding
// plus its four stage configurations.
type PipelineDef struct {
	ID                   string               `json:"id"`
	ProviderID           string               `json:"providerId"`
	ModelID              string               `json:"modelId"`
	CredentialID         string               `json:"credentialId"`
	LLMSwitchConfig      LLMSwitchConfig      `json:"llmSwitchConfig"`
	WorkflowConfig       WorkflowConfig       `json:"workflowConfig"`
	CompatibilityConfig  CompatibilityConfig  `json:"compatibilityConfig"`
	ProviderConfig       ProviderStageConfig  `json:"providerConfig"`
}

// HTTPServerConfig configures the gateway surface (C8).
type HTTPServerConfig struct {
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`

	// IngressRatePerSecond and IngressBurst configure the gateway's own
	// inbound throttle, independent of per-provider upstream rate limits.
	// IngressRatePerSecond <= 0 disables throttling (the default).
	IngressRatePerSecond float64 `json:"ingressRatePerSecond,omitempty" yaml:"ingressRatePerSecond,omitempty"`
	IngressBurst         int     `json:"ingressBurst,omitempty" yaml:"ingressBurst,omitempty"`

	// JWTSecret, when set, makes the bearer-token auth check first verify
	// the token as an HMAC-signed JWT (HS256, HS384 or HS512) signed with
	// this secret; a token that fails verification is still accepted if it
	// equals APIKey.
	JWTSecret string `json:"jwtSecret,omitempty" yaml:"jwtSecret,omitempty"`
}

// RuntimeConfig is the immutable snapshot produced by the Config Resolver
// (C1) and consumed by every other component. A new RuntimeConfig is built
// whenever the user/system config is reloaded; the old one is never mutated.
type RuntimeConfig struct {
	Providers           map[string]ProviderDef   `json:"providers"`
	Credentials         map[string]CredentialDef `json:"credentials"`
	Pipelines           []PipelineDef            `json:"pipelines"`
	Routing             map[string][]string      `json:"routing"` // category -> ordered pipelineIds
	HTTPServer          HTTPServerConfig         `json:"httpServer"`
	QuotaRoutingEnabled bool                     `json:"quotaRoutingEnabled"`

	// AuthMappings resolves each credentialId to its secretRef (apiKey
	// credentials) or its on-disk token file path (OAuth credentials),
	// computed in resolve() step 5.
	AuthMappings map[string]string `json:"-"`
}

// Warning is a non-fatal note produced during config resolution (e.g. an
// unused provider, a pool with a single pipeline).
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// PipelineByID returns the PipelineDef with the given id, or false.
func (rc *RuntimeConfig) PipelineByID(id string) (PipelineDef, bool) {
	for _, p := range rc.Pipelines {
		if p.ID == id {
			return p, true
		}
	}
	return PipelineDef{}, false
}
