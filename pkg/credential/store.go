// Package credential implements the Credential Store (C2): secret-holding,
// OAuth device-flow/PKCE refresh, and single-flight refresh coordination,
// grounded on the teacher's pkg/oauthmanager.OAuthKeyManager and
// pkg/keymanager.KeyManager (merged into one store because the spec
// addresses both static-key and OAuth credentials through the same
// CredentialId-keyed interface).
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/routecodex/routecodex/pkg/health"
	"github.com/routecodex/routecodex/pkg/observability"
	"github.com/routecodex/routecodex/pkg/types"
)

// refreshSkew is the eager-refresh window from spec.md §4.2: a token is
// refreshed once now+skew >= expiresAt.
const refreshSkew = 60 * time.Second

// Loader resolves a CredentialDef's on-disk secret or token store into an
// initial Credential, grounded on the teacher's TokenStorage interface
// (pkg/auth). Implementations live in persist.go (file-backed) and tests
// supply in-memory fakes.
type Loader interface {
	Load(def types.CredentialDef) (*types.Credential, error)
	Save(id string, cred *types.Credential) error
}

// DeviceFlowClient performs the vendor-side device-code exchange; device.go
// provides the HTTP implementation grounded on examples/qwen-oauth-flow.
type DeviceFlowClient interface {
	RequestDeviceCode(ctx context.Context, endpoints types.OAuthEndpoints) (*DeviceCodeResponse, error)
	PollForToken(ctx context.Context, endpoints types.OAuthEndpoints, deviceCode, codeVerifier string, interval time.Duration) (*TokenResponse, error)
	RefreshToken(ctx context.Context, endpoints types.OAuthEndpoints, refreshToken string) (*TokenResponse, error)
}

// Store is the Credential Store (C2). One Store instance is shared read by
// every pipeline; only the refresher goroutine for a given credentialId
// writes that credential's entry, matching spec.md §5's single-writer rule.
type Store struct {
	mu          sync.RWMutex
	credentials map[string]*types.Credential
	defs        map[string]types.CredentialDef

	refreshInFlight map[string]chan struct{} // at-most-one concurrent refresh per credentialId
	refreshMu       sync.Mutex

	loader   Loader
	device   DeviceFlowClient
	health   *health.Manager
	metrics  *observability.Collector
	onChange []func(types.LifecycleEvent, string)

	refreshMetrics map[string]*refreshMetrics
}

// New builds a Store from the resolved RuntimeConfig's credential defs.
func New(defs map[string]types.CredentialDef, loader Loader, device DeviceFlowClient, healthMgr *health.Manager, metrics *observability.Collector) (*Store, error) {
	s := &Store{
		credentials:     make(map[string]*types.Credential, len(defs)),
		defs:            defs,
		refreshInFlight: make(map[string]chan struct{}),
		loader:          loader,
		device:          device,
		health:          healthMgr,
		metrics:         metrics,
		refreshMetrics:  make(map[string]*refreshMetrics),
	}
	for id, def := range defs {
		cred, err := loader.Load(def)
		if err != nil {
			return nil, fmt.Errorf("credential %s: %w", id, err)
		}
		s.credentials[id] = cred
		s.refreshMetrics[id] = newRefreshMetrics()
	}
	return s, nil
}

// OnStateChange registers a callback invoked on credentialRefreshed,
// credentialBlocked and credentialUnblocked events (spec.md §3).
func (s *Store) OnStateChange(cb func(event types.LifecycleEvent, credentialID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, cb)
}

func (s *Store) emit(event types.LifecycleEvent, credentialID string) {
	s.mu.RLock()
	cbs := append([]func(types.LifecycleEvent, string){}, s.onChange...)
	s.mu.RUnlock()
	for _, cb := range cbs {
		cb(event, credentialID)
	}
}

// Get returns the current snapshot for credentialId without blocking. It
// never triggers a refresh; callers that need a fresh token call Refresh
// first (the pipeline runtime's suspension point (a) in spec.md §5).
func (s *Store) Get(credentialID string) (types.CredentialSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[credentialID]
	if !ok {
		return types.CredentialSnapshot{}, fmt.Errorf("unknown credential %q", credentialID)
	}

	secret := cred.StaticSecret
	var expiresAt time.Time
	if cred.Token != nil {
		secret = cred.Token.Value
		expiresAt = cred.Token.ExpiresAt
	}
	return types.NewCredentialSnapshot(cred.ID, cred.ProviderID, cred.AliasIndex, cred.State, secret, expiresAt), nil
}

// NeedsRefresh reports whether credentialId's token is within the eager
// refresh skew of its expiry. Static API keys never need refresh.
func (s *Store) NeedsRefresh(credentialID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[credentialID]
	if !ok || cred.Token == nil {
		return false
	}
	buffer := refreshSkew
	if rm, ok := s.refreshMetrics[credentialID]; ok {
		buffer = rm.adaptiveBuffer()
	}
	return time.Now().Add(buffer).After(cred.Token.ExpiresAt)
}

// Refresh performs an async, idempotent refresh of credentialId. At most
// one refresh runs concurrently per credentialId: callers that arrive while
// a refresh is already in flight wait on the same completion channel
// instead of starting a second upstream call (spec.md §8 property 2).
func (s *Store) Refresh(ctx context.Context, credentialID string) error {
	s.refreshMu.Lock()
	if wait, inFlight := s.refreshInFlight[credentialID]; inFlight {
		s.refreshMu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	s.refreshInFlight[credentialID] = done
	s.refreshMu.Unlock()

	defer func() {
		s.refreshMu.Lock()
		delete(s.refreshInFlight, credentialID)
		s.refreshMu.Unlock()
		close(done)
	}()

	return s.doRefresh(ctx, credentialID)
}

func (s *Store) doRefresh(ctx context.Context, credentialID string) error {
	s.mu.Lock()
	cred, ok := s.credentials[credentialID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown credential %q", credentialID)
	}
	def := s.defs[credentialID]
	wasBlocked := cred.State == types.CredentialBlocked
	cred.State = types.CredentialRefreshing
	refreshToken := ""
	if cred.Token != nil {
		refreshToken = cred.Token.RefreshToken
	}
	s.mu.Unlock()

	if def.AuthKind != types.AuthKindOAuthDevice && def.AuthKind != types.AuthKindOAuthPKCE {
		s.mu.Lock()
		cred.State = types.CredentialReady
		s.mu.Unlock()
		return nil
	}

	tok, err := s.device.RefreshToken(ctx, def.OAuth, refreshToken)
	if err != nil {
		s.mu.Lock()
		cred.State = types.CredentialBlocked
		cred.BlockedReason = "refresh_failed"
		s.mu.Unlock()
		s.health.Block(credentialKey(def.ProviderID, credentialID), "refresh_failed", nil)
		s.emit(types.EventCredentialBlocked, credentialID)
		return fmt.Errorf("refresh credential %s: %w", credentialID, err)
	}

	s.mu.Lock()
	cred.Token = &types.Token{Value: tok.AccessToken, ExpiresAt: time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second), RefreshToken: firstNonEmpty(tok.RefreshToken, refreshToken), Scope: tok.Scope}
	cred.LastRefreshAt = time.Now()
	cred.State = types.CredentialReady
	cred.BlockedReason = ""
	s.mu.Unlock()

	if s.refreshMetrics[credentialID] != nil {
		s.refreshMetrics[credentialID].recordRefresh()
	}
	if s.loader != nil {
		_ = s.loader.Save(credentialID, cred)
	}
	s.health.Clear(credentialKey(def.ProviderID, credentialID))
	s.emit(types.EventCredentialRefreshed, credentialID)
	if wasBlocked {
		s.emit(types.EventCredentialUnblocked, credentialID)
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// credentialKey builds the §4.3 composite key Health Manager operations
// take (providerId+credentialId).
func credentialKey(providerID, credentialID string) string {
	return providerID + "/" + credentialID
}
