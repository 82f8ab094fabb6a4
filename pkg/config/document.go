// Package config implements the Config Resolver (C1): loading the user and
// system config documents, normalizing credential secrets into key-alias
// indirection, validating routing references, and producing the immutable
// RuntimeConfig snapshot every other component is built from.
package config

import "github.com/routecodex/routecodex/pkg/types"

// userDocument is the on-disk shape of the user-authored config file: one
// entry per provider, each listing its models and the credentials usable
// against it. This is intentionally flatter than RuntimeConfig — resolve()
// expands it into the normalized providers/credentials/pipelines maps.
type userDocument struct {
	Providers []userProvider          `json:"providers"`
	Routing   map[string][]string     `json:"routing"`
	HTTPServer types.HTTPServerConfig `json:"httpServer"`
}

type userProvider struct {
	ID              string               `json:"id"`
	BaseURL         string               `json:"baseURL"`
	ProtocolDialect string               `json:"protocolDialect"`
	TimeoutMs       int                  `json:"timeoutMs"`
	Headers         map[string]string    `json:"headers,omitempty"`
	Models          []string             `json:"models"`
	Credentials     []userCredential     `json:"credentials"`
}

type userCredential struct {
	ID        string               `json:"id"`
	AuthKind  types.AuthKind       `json:"authKind"`
	SecretRef string               `json:"secretRef,omitempty"`
	OAuth     types.OAuthEndpoints `json:"oauth,omitempty"`
	Weight    int                  `json:"weight,omitempty"`
}

// systemDocument is the on-disk shape of the system modules config: per-stage
// defaults applied to every generated pipeline unless the user document
// overrides them, plus the global quota-routing toggle.
type systemDocument struct {
	LLMSwitch           types.LLMSwitchConfig     `json:"llmSwitch"`
	Workflow            types.WorkflowConfig      `json:"workflow"`
	CompatibilityDialect map[string]string        `json:"compatibilityDialect"` // providerId -> dialect override
	QuotaRoutingEnabled bool                       `json:"quotaRoutingEnabled"`
}
