package types

import (
	"context"
	"net/http"
	"time"
)

// CredentialState is the lifecycle state of a mutable Credential.
type CredentialState string

const (
	CredentialReady      CredentialState = "ready"
	CredentialRefreshing CredentialState = "refreshing"
	CredentialBlocked    CredentialState = "blocked"
)

// Token is the OAuth token half of a Credential, present when AuthKind is
// oauthDevice or oauthPKCE.
type Token struct {
	Value        string    `json:"value"`
	ExpiresAt    time.Time `json:"expiresAt"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// Credential is the mutable runtime counterpart of a CredentialDef. Its
// secret is never logged; only AliasIndex is exposed to callers outside the
// credential package.
type Credential struct {
	ID             string
	ProviderID     string
	AliasIndex     string
	StaticSecret   string // set when AuthKind == apiKey; never logged
	Token          *Token // set when AuthKind is an OAuth kind
	LastRefreshAt  time.Time
	State          CredentialState
	BlockedReason  string
}

// CredentialSnapshot is the read-only view returned by Credential Store's
// get(). It never carries StaticSecret or Token.Value by String()/logging
// convention — callers that need the bearer value read .Secret() explicitly.
type CredentialSnapshot struct {
	ID         string
	ProviderID string
	AliasIndex string
	State      CredentialState
	secret     string
	expiresAt  time.Time
}

// Secret returns the bearer value to attach to an upstream request. It is
// deliberately not a struct field so that %v/%+v formatting of a
// CredentialSnapshot never leaks it.
func (c CredentialSnapshot) Secret() string { return c.secret }

// ExpiresAt reports token expiry; zero value for static API keys.
func (c CredentialSnapshot) ExpiresAt() time.Time { return c.expiresAt }

// NewCredentialSnapshot builds a snapshot; constructor-only so the secret
// field stays unexported outside this package's trusted constructors.
func NewCredentialSnapshot(id, providerID, aliasIndex string, state CredentialState, secret string, expiresAt time.Time) CredentialSnapshot {
	return CredentialSnapshot{ID: id, ProviderID: providerID, AliasIndex: aliasIndex, State: state, secret: secret, expiresAt: expiresAt}
}

// RateLimitCounter tracks informational rate-limit hits for a credential key.
type RateLimitCounter struct {
	Count     int
	LastHitMs int64
}

// BlockState records why and when a credential key was blocked.
type BlockState struct {
	Reason   string
	SinceMs  int64
	Metadata map[string]string
}

// ProviderHealth is the per-credentialKey entry owned exclusively by the
// Provider Health Manager (C3).
type ProviderHealth struct {
	Blocked       *BlockState
	RateLimitHits RateLimitCounter
}

// PipelineState is the router's per-pipeline state machine value (§4.6).
type PipelineState string

const (
	PipelineActive   PipelineState = "active"
	PipelineDegraded PipelineState = "degraded"
	PipelineExcluded PipelineState = "excluded"
)

// PipelineStats are the lightweight counters C5 updates per execution.
type PipelineStats struct {
	TotalReq  int64
	TotalErr  int64
	LastReqMs int64
}

// RequestContext is the per-client-request value created by the HTTP
// Gateway (C8) and discarded after the response is written.
type RequestContext struct {
	ID               string
	ReceivedAt       time.Time
	Dialect          string // "openaiChat", "anthropicMessages", "codexResponses"
	Model            string
	StreamRequested  bool
	Headers          http.Header
	Body             []byte
	Tools            []Tool
	TentativeCategory string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRequestContext wraps ctx with a cancellation handle the gateway can
// trigger on client disconnect.
func NewRequestContext(parent context.Context, id string) *RequestContext {
	ctx, cancel := context.WithCancel(parent)
	return &RequestContext{ID: id, ReceivedAt: time.Now(), ctx: ctx, cancel: cancel}
}

// Context returns the request's cancellable context.
func (r *RequestContext) Context() context.Context { return r.ctx }

// Abort cancels the request's context; the pipeline runtime observes this
// within its next suspension point.
func (r *RequestContext) Abort() { r.cancel() }

// StageTrace records one pipeline stage's timing for a single execution,
// used for PipelineExecution.StageTraces.
type StageTrace struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// PipelineExecution is the per-attempt value C5 builds for one request
// against one selected Pipeline; discarded after completion.
type PipelineExecution struct {
	Request            *RequestContext
	PipelineID         string
	CredentialSnapshot CredentialSnapshot
	StageTraces        [4]StageTrace
}

// LifecycleEvent names one of the typed events components publish per §3/§9
// (no global event bus with dynamic topic names — each category is its own
// channel, registered at construction).
type LifecycleEvent string

const (
	EventConfigApplied       LifecycleEvent = "configApplied"
	EventCredentialRefreshed LifecycleEvent = "credentialRefreshed"
	EventCredentialBlocked   LifecycleEvent = "credentialBlocked"
	EventCredentialUnblocked LifecycleEvent = "credentialUnblocked"
	EventPipelineReplaced    LifecycleEvent = "pipelineReplaced"
)
