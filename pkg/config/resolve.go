package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/routecodex/routecodex/pkg/types"
)

// ResolveError is a fatal config resolution failure naming the offending
// path, per spec.md §4.1's fail-fast requirement ("structured error naming
// the offending path").
type ResolveError struct {
	Path    string
	Message string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
}

func fail(path, format string, args ...interface{}) error {
	return &ResolveError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Resolve loads the user config (userPath) and system modules config
// (systemPath), both strict JSON, and produces an immutable RuntimeConfig
// snapshot plus any non-fatal warnings. Any schema violation, dangling
// reference, or invalid port aborts resolution (spec.md §4.1). Credential
// files are not opened here, so a missing one is not detected by Resolve.
func Resolve(userPath, systemPath string) (types.RuntimeConfig, []types.Warning, error) {
	userDoc, err := loadUserDocument(userPath)
	if err != nil {
		return types.RuntimeConfig{}, nil, err
	}
	sysDoc, err := loadSystemDocument(systemPath)
	if err != nil {
		return types.RuntimeConfig{}, nil, err
	}

	var warnings []types.Warning

	rc := types.RuntimeConfig{
		Providers:           make(map[string]types.ProviderDef),
		Credentials:         make(map[string]types.CredentialDef),
		Routing:             make(map[string][]string),
		HTTPServer:          userDoc.HTTPServer,
		QuotaRoutingEnabled: sysDoc.QuotaRoutingEnabled,
		AuthMappings:        make(map[string]string),
	}

	if rc.HTTPServer.Port <= 0 || rc.HTTPServer.Port > 65535 {
		return types.RuntimeConfig{}, nil, fail(userPath, "httpServer.port %d out of range", rc.HTTPServer.Port)
	}

	for _, p := range userDoc.Providers {
		if p.ID == "" {
			return types.RuntimeConfig{}, nil, fail(userPath, "provider entry missing id")
		}
		if p.BaseURL == "" {
			return types.RuntimeConfig{}, nil, fail(userPath, "provider %q missing baseURL", p.ID)
		}
		dialect := p.ProtocolDialect
		if override, ok := sysDoc.CompatibilityDialect[p.ID]; ok {
			dialect = override
		}
		rc.Providers[p.ID] = types.ProviderDef{
			ID:              p.ID,
			BaseURL:         p.BaseURL,
			ProtocolDialect: dialect,
			TimeoutMs:       p.TimeoutMs,
			Headers:         p.Headers,
			ModelCatalog:    p.Models,
		}

		// Key-alias normalization (spec.md §4.1 step 2): credentials are
		// enumerated in source order and assigned key1..keyN per provider.
		// The raw secretRef is still carried in CredentialDef.SecretRef and,
		// for apiKey credentials, in AuthMappings.
		for i, c := range p.Credentials {
			if c.ID == "" {
				return types.RuntimeConfig{}, nil, fail(userPath, "provider %q: credential entry %d missing id", p.ID, i)
			}
			alias := fmt.Sprintf("key%d", i+1)
			rc.Credentials[c.ID] = types.CredentialDef{
				ID:         c.ID,
				ProviderID: p.ID,
				AuthKind:   c.AuthKind,
				AliasIndex: alias,
				SecretRef:  c.SecretRef,
				OAuth:      c.OAuth,
			}

			mapping, err := resolveAuthMapping(userPath, c)
			if err != nil {
				return types.RuntimeConfig{}, nil, err
			}
			rc.AuthMappings[c.ID] = mapping
		}

		if len(p.Credentials) == 0 {
			warnings = append(warnings, types.Warning{Path: p.ID, Message: "provider has no credentials configured"})
		}
	}

	rc.Pipelines = expandPipelines(userDoc, sysDoc)

	for category, ids := range userDoc.Routing {
		for _, id := range ids {
			if _, ok := rc.PipelineByID(id); !ok {
				return types.RuntimeConfig{}, nil, fail(userPath, "routing[%s] references unknown pipeline %q", category, id)
			}
		}
		rc.Routing[category] = ids
	}

	if err := validateReferences(userPath, rc); err != nil {
		return types.RuntimeConfig{}, nil, err
	}

	for category, ids := range rc.Routing {
		if len(ids) == 1 {
			warnings = append(warnings, types.Warning{Path: category, Message: "routing category has only one pipeline; no failover target"})
		}
	}

	return rc, warnings, nil
}

// expandPipelines computes the Cartesian expansion of (provider × model ×
// credential) declared in the user document into PipelineDef entries,
// applying the system document's stage defaults (spec.md §4.1 step 4).
func expandPipelines(userDoc userDocument, sysDoc systemDocument) []types.PipelineDef {
	var pipelines []types.PipelineDef

	for _, p := range userDoc.Providers {
		models := append([]string(nil), p.Models...)
		sort.Strings(models)

		dialect := p.ProtocolDialect
		if override, ok := sysDoc.CompatibilityDialect[p.ID]; ok {
			dialect = override
		}

		for _, model := range models {
			for _, c := range p.Credentials {
				id := fmt.Sprintf("%s:%s:%s", p.ID, model, c.ID)
				pipelines = append(pipelines, types.PipelineDef{
					ID:              id,
					ProviderID:      p.ID,
					ModelID:         model,
					CredentialID:    c.ID,
					LLMSwitchConfig: sysDoc.LLMSwitch,
					WorkflowConfig:  sysDoc.Workflow,
					CompatibilityConfig: types.CompatibilityConfig{
						Dialect: dialect,
					},
					ProviderConfig: types.ProviderStageConfig{Weight: weightOrDefault(c.Weight)},
				})
			}
		}
	}
	return pipelines
}

func weightOrDefault(w int) int {
	if w <= 0 {
		return 1
	}
	return w
}

// validateReferences checks the invariant from spec.md §3: every
// pipelineId in routing exists in pipelines (checked during the routing
// loop above), and every credentialId in pipelines exists in credentials.
func validateReferences(path string, rc types.RuntimeConfig) error {
	for _, pd := range rc.Pipelines {
		if _, ok := rc.Credentials[pd.CredentialID]; !ok {
			return fail(path, "pipeline %q references unknown credential %q", pd.ID, pd.CredentialID)
		}
		if _, ok := rc.Providers[pd.ProviderID]; !ok {
			return fail(path, "pipeline %q references unknown provider %q", pd.ID, pd.ProviderID)
		}
	}
	return nil
}

// resolveAuthMapping locates the on-disk credential file for a credential
// (spec.md §4.1 step 5): an apiKey credential's secretRef may be a literal
// or a file path; an OAuth credential is mapped to <id>.json under
// defaultCredentialDir(). The file's existence is not checked.
func resolveAuthMapping(path string, c userCredential) (string, error) {
	switch c.AuthKind {
	case types.AuthKindAPIKey:
		if c.SecretRef == "" {
			return "", fail(path, "credential %q: apiKey credential missing secretRef", c.ID)
		}
		return c.SecretRef, nil
	case types.AuthKindOAuthDevice, types.AuthKindOAuthPKCE:
		if c.OAuth.TokenURL == "" {
			return "", fail(path, "credential %q: oauth credential missing tokenURL", c.ID)
		}
		return filepath.Join(defaultCredentialDir(), c.ID+".json"), nil
	case types.AuthKindNone:
		return "", nil
	default:
		return "", fail(path, "credential %q: unknown authKind %q", c.ID, c.AuthKind)
	}
}

func defaultCredentialDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".routecodex/auth"
	}
	return filepath.Join(home, ".routecodex", "auth")
}

func loadUserDocument(path string) (userDocument, error) {
	var doc userDocument
	if err := loadStrictJSON(path, &doc); err != nil {
		return userDocument{}, err
	}
	return doc, nil
}

func loadSystemDocument(path string) (systemDocument, error) {
	var doc systemDocument
	if err := loadStrictJSON(path, &doc); err != nil {
		return systemDocument{}, err
	}
	return doc, nil
}

// loadStrictJSON parses a JSON document with DisallowUnknownFields, so a
// typo'd config key fails startup instead of being silently ignored
// (spec.md §4.1 step 1: "parse strictly, no recovery on syntax errors").
func loadStrictJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fail(path, "read config: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fail(path, "parse config: %v", err)
	}
	return nil
}
