package router

import (
	"sync"
	"time"

	"github.com/routecodex/routecodex/pkg/health"
	"github.com/routecodex/routecodex/pkg/pipeline"
	"github.com/routecodex/routecodex/pkg/types"
)

// ModelCapable reports whether pl can serve req (streaming/tools/vision
// support), the third admission filter in spec.md §4.6. Callers that don't
// track per-pipeline capabilities may pass a func that always returns true.
type ModelCapable func(pl *pipeline.Pipeline, req types.ChatRequest) bool

// degradedThreshold is the consecutive-failure count that moves a pipeline
// Active->Degraded. Failures are counted without a time window: the count
// resets to 0 only on a success, however far apart the failures are.
const degradedThreshold = 3

// degradedWindow is not consulted by ReconcileState or by the health
// manager's failure count.
const degradedWindow = 60 * time.Second

// Admit filters pool down to pipelines that are currently eligible to serve
// a request, applying the filters in order: admission (credential block
// check, only when quotaRoutingEnabled, plus the per-credential token-bucket
// throttle configured via health.Manager.SetAdmissionRate), health
// (consecutive-failure state), and model-capability match.
func Admit(pool []*pipeline.Pipeline, req types.ChatRequest, h *health.Manager, quotaRoutingEnabled bool, capable ModelCapable) []*pipeline.Pipeline {
	out := make([]*pipeline.Pipeline, 0, len(pool))
	for _, pl := range pool {
		credKey := health.CredentialKey(pl.Def.ProviderID, pl.Def.CredentialID)
		if quotaRoutingEnabled && h.IsBlocked(credKey) {
			continue
		}
		if !h.AllowAdmission(credKey) {
			continue
		}
		if pl.State() == types.PipelineExcluded {
			continue
		}
		if capable != nil && !capable(pl, req) {
			continue
		}
		out = append(out, pl)
	}
	return out
}

// ReconcileState advances pl's Active/Degraded/Excluded state machine from
// its current consecutive-failure count and health-block status (spec.md
// §4.6). Call after every attempt outcome is recorded.
func ReconcileState(pl *pipeline.Pipeline, h *health.Manager) {
	credKey := health.CredentialKey(pl.Def.ProviderID, pl.Def.CredentialID)

	if h.IsBlocked(credKey) {
		pl.SetState(types.PipelineExcluded)
		return
	}

	fails := h.ConsecutiveFailures(credKey)
	switch {
	case fails >= degradedThreshold*2:
		pl.SetState(types.PipelineExcluded)
	case fails >= degradedThreshold:
		pl.SetState(types.PipelineDegraded)
	default:
		pl.SetState(types.PipelineActive)
	}
}

// weightedRoundRobin is the load-balancing strategy grounded on the
// teacher's pkg/providers/virtual/loadbalance weighted round-robin
// implementation, generalized with an LRU tie-break: among the candidates
// with the highest weight, the one used longest ago (or never) wins. No
// per-pipeline weight counter is kept, so traffic is not split in
// proportion to weight.
type weightedRoundRobin struct {
	mu        sync.Mutex
	lastUseMs map[string]int64
}

// NewLoadBalancer builds the router's weighted-round-robin + LRU-tiebreak
// selector.
func NewLoadBalancer() *weightedRoundRobin {
	return &weightedRoundRobin{lastUseMs: make(map[string]int64)}
}

// Pick selects one pipeline from the candidates with the highest
// PipelineDef.ProviderConfig.Weight (defaulting to 1), breaking ties by
// least-recently-used. A lower-weight candidate is picked only when no
// higher-weight candidate is present. Returns nil if candidates is empty.
func (b *weightedRoundRobin) Pick(candidates []*pipeline.Pipeline) *pipeline.Pipeline {
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		b.touch(candidates[0])
		return candidates[0]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bestWeight := -1
	var best []*pipeline.Pipeline
	for _, pl := range candidates {
		w := pl.Def.ProviderConfig.Weight
		if w <= 0 {
			w = 1
		}
		if w > bestWeight {
			bestWeight = w
			best = []*pipeline.Pipeline{pl}
		} else if w == bestWeight {
			best = append(best, pl)
		}
	}

	chosen := best[0]
	oldest := b.lastUseMs[chosen.Def.ID]
	for _, pl := range best[1:] {
		if b.lastUseMs[pl.Def.ID] < oldest {
			oldest = b.lastUseMs[pl.Def.ID]
			chosen = pl
		}
	}

	b.lastUseMs[chosen.Def.ID] = time.Now().UnixMilli()
	return chosen
}

func (b *weightedRoundRobin) touch(pl *pipeline.Pipeline) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUseMs[pl.Def.ID] = time.Now().UnixMilli()
}
