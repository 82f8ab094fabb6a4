package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlock_FirstCallWinsSubsequentAreNoops(t *testing.T) {
	m := New(nil)
	key := CredentialKey("openai", "cred1")

	m.Block(key, "upstream_auth_rejected", nil)
	m.Block(key, "different_reason", nil)

	assert.True(t, m.IsBlocked(key))
	snap := m.Snapshot(key)
	assert.Equal(t, "upstream_auth_rejected", snap.Blocked.Reason)
}

func TestClear_LiftsBlockAndResetsFailures(t *testing.T) {
	m := New(nil)
	key := CredentialKey("openai", "cred1")

	m.Block(key, "rejected", nil)
	m.RecordFailure(key)
	m.Clear(key)

	assert.False(t, m.IsBlocked(key))
	assert.Equal(t, 0, m.ConsecutiveFailures(key))
}

func TestRecordSuccess_ResetsConsecutiveFailures(t *testing.T) {
	m := New(nil)
	key := CredentialKey("openai", "cred1")

	m.RecordFailure(key)
	m.RecordFailure(key)
	assert.Equal(t, 2, m.ConsecutiveFailures(key))

	m.RecordSuccess(key)
	assert.Equal(t, 0, m.ConsecutiveFailures(key))
}

func TestRateLimitHits_TrackAndReset(t *testing.T) {
	m := New(nil)
	key := CredentialKey("openai", "cred1")

	assert.Equal(t, 1, m.RecordRateLimitHit(key))
	assert.Equal(t, 2, m.RecordRateLimitHit(key))

	m.ResetRateLimit(key)
	snap := m.Snapshot(key)
	assert.Equal(t, 0, snap.RateLimitHits.Count)
}

func TestAllowAdmission_UnthrottledKeyAlwaysAllows(t *testing.T) {
	m := New(nil)
	key := CredentialKey("openai", "cred1")

	for i := 0; i < 10; i++ {
		assert.True(t, m.AllowAdmission(key))
	}
}

func TestAllowAdmission_ThrottledKeyBlocksOverBurst(t *testing.T) {
	m := New(nil)
	key := CredentialKey("openai", "cred1")
	m.SetAdmissionRate(key, 1)

	allowed := 0
	for i := 0; i < 20; i++ {
		if m.AllowAdmission(key) {
			allowed++
		}
	}
	assert.Less(t, allowed, 20)
}

func TestSetAdmissionRate_ZeroDisablesThrottle(t *testing.T) {
	m := New(nil)
	key := CredentialKey("openai", "cred1")
	m.SetAdmissionRate(key, 1)
	m.SetAdmissionRate(key, 0)

	for i := 0; i < 20; i++ {
		assert.True(t, m.AllowAdmission(key))
	}
}
