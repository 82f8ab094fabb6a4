// Package health implements the Provider Health Manager (C3): a single
// mutex-guarded map from credentialKey to ProviderHealth, plus the
// exponential-backoff self-healing signal supplementing spec.md §4.3,
// grounded on the teacher's pkg/oauthmanager credentialHealth and
// pkg/keymanager health bookkeeping.
package health

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/routecodex/routecodex/pkg/observability"
	"github.com/routecodex/routecodex/pkg/types"
)

// admissionBurst is the token-bucket burst size for the per-credential
// admission throttle described below.
const admissionBurst = 5

// CredentialKey builds the providerId+credentialId composite key
// ProviderHealth is indexed by (spec.md §3: "per credentialKey
// (providerId+credentialId)").
func CredentialKey(providerID, credentialID string) string {
	return providerID + "/" + credentialID
}

// entry is the manager's internal per-key bookkeeping; ProviderHealth is
// the public, copy-out view derived from it.
type entry struct {
	blocked          *types.BlockState
	rateLimitCount   int
	rateLimitLastMs  int64
	consecutiveFails int
	backoffUntil     time.Time
	limiter          *rate.Limiter
}

func (e *entry) backoff() time.Duration {
	if e.consecutiveFails == 0 {
		return 0
	}
	n := e.consecutiveFails - 1
	if n > 6 {
		n = 6
	}
	seconds := 1 << uint(n)
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// Manager is the Provider Health Manager (C3). All operations are O(1)
// under a single RWMutex per spec.md §5.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	metrics *observability.Collector
}

// New builds an empty Manager. metrics may be nil in tests.
func New(metrics *observability.Collector) *Manager {
	return &Manager{entries: make(map[string]*entry), metrics: metrics}
}

func (m *Manager) entryFor(key string) *entry {
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	return e
}

// Block records a block reason for key. The first call wins; subsequent
// calls before Clear are no-ops, per spec.md §4.3.
func (m *Manager) Block(key, reason string, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(key)
	if e.blocked != nil {
		return
	}
	e.blocked = &types.BlockState{Reason: reason, SinceMs: time.Now().UnixMilli(), Metadata: metadata}
	if m.metrics != nil {
		m.metrics.SetCredentialState(key, []string{"ready", "blocked"}, "blocked")
	}
}

// IsBlocked reports whether key is currently not in the pool: either
// explicitly blocked, or still inside its self-healing backoff window.
func (m *Manager) IsBlocked(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return false
	}
	if e.blocked != nil {
		return true
	}
	return time.Now().Before(e.backoffUntil)
}

// Clear removes any block on key. This is the explicit unblock path;
// RecordFailure's backoff window is a separate, additional signal that
// Admission also consults (see RecordFailure/RecordSuccess).
func (m *Manager) Clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(key)
	e.blocked = nil
	e.consecutiveFails = 0
	e.backoffUntil = time.Time{}
	if m.metrics != nil {
		m.metrics.SetCredentialState(key, []string{"ready", "blocked"}, "ready")
	}
}

// RecordRateLimitHit increments the informational rate-limit counter for
// key and returns the new count.
func (m *Manager) RecordRateLimitHit(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(key)
	e.rateLimitCount++
	e.rateLimitLastMs = time.Now().UnixMilli()
	if m.metrics != nil {
		m.metrics.RecordRateLimitHit(key)
	}
	return e.rateLimitCount
}

// ResetRateLimit zeroes the rate-limit counter for key.
func (m *Manager) ResetRateLimit(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(key)
	e.rateLimitCount = 0
	e.rateLimitLastMs = 0
}

// RecordFailure advances key's consecutive-failure count and backoff
// window; this is the self-healing supplement from SPEC_FULL's Supplemented
// Features — it does not itself constitute a Block, but IsBlocked consults
// it alongside the explicit block state.
func (m *Manager) RecordFailure(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(key)
	e.consecutiveFails++
	e.backoffUntil = time.Now().Add(e.backoff())
}

// RecordSuccess clears key's consecutive-failure count and backoff window
// without touching an explicit Block (only Clear lifts that).
func (m *Manager) RecordSuccess(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(key)
	e.consecutiveFails = 0
	e.backoffUntil = time.Time{}
}

// ConsecutiveFailures returns key's current consecutive-failure count, used
// by the Router's Degraded/Excluded transitions (spec.md §4.6).
func (m *Manager) ConsecutiveFailures(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return 0
	}
	return e.consecutiveFails
}

// SetAdmissionRate configures a per-credential token-bucket admission
// throttle (ratePerSecond <= 0 disables it for key), supplementing §4.3/§4.6
// with a proactive cap alongside the reactive rate-limit-hit counter above.
func (m *Manager) SetAdmissionRate(key string, ratePerSecond float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(key)
	if ratePerSecond <= 0 {
		e.limiter = nil
		return
	}
	e.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), admissionBurst)
}

// AllowAdmission reports whether key may admit one more request right now.
// Keys with no configured throttle always allow.
func (m *Manager) AllowAdmission(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(key)
	if e.limiter == nil {
		return true
	}
	return e.limiter.Allow()
}

// Snapshot returns a copy of the ProviderHealth entry for key, for
// diagnostics endpoints and tests. Never returns the internal entry
// pointer.
func (m *Manager) Snapshot(key string) types.ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return types.ProviderHealth{}
	}
	ph := types.ProviderHealth{RateLimitHits: types.RateLimitCounter{Count: e.rateLimitCount, LastHitMs: e.rateLimitLastMs}}
	if e.blocked != nil {
		blocked := *e.blocked
		ph.Blocked = &blocked
	}
	return ph
}
