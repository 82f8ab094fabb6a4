package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/routecodex/routecodex/pkg/health"
	"github.com/routecodex/routecodex/pkg/observability"
	"github.com/routecodex/routecodex/pkg/pipeline"
	"github.com/routecodex/routecodex/pkg/types"
)

// maxAttempts bounds failover: a request tries at most this many distinct
// pipelines within a category before giving up (spec.md §4.6).
const maxAttempts = 3

// Router is the Virtual Router (C6): classify → select → admit → execute,
// with weighted-round-robin load balancing and bounded failover across the
// pool for a request's resolved category.
type Router struct {
	mu           sync.RWMutex
	pools        map[string][]*pipeline.Pipeline
	rules        []Rule
	health       *health.Manager
	runtime      *pipeline.Runtime
	balancers    map[string]*weightedRoundRobin
	quotaRouting bool
	modelCapable ModelCapable
	metrics      *observability.Collector
}

// New builds a Router over pools (one pipeline slice per routing category,
// as produced by pipeline.ActivePoolsByCategory), using rules for
// classification. A nil capable func admits every pipeline on the
// model-match filter. metrics may be nil (e.g. in tests), matching
// health.New's nil-tolerant pattern.
func New(pools map[string][]*pipeline.Pipeline, rules []Rule, h *health.Manager, rt *pipeline.Runtime, quotaRouting bool, capable ModelCapable, metrics *observability.Collector) *Router {
	balancers := make(map[string]*weightedRoundRobin, len(pools))
	for category := range pools {
		balancers[category] = NewLoadBalancer()
	}
	r := &Router{
		pools:        pools,
		rules:        rules,
		health:       h,
		runtime:      rt,
		balancers:    balancers,
		quotaRouting: quotaRouting,
		modelCapable: capable,
		metrics:      metrics,
	}
	r.reportPoolSizes(pools)
	return r
}

// Swap atomically replaces the router's pools, e.g. after a config reload
// reassembled a new set of pipelines (spec.md §5: RuntimeConfig is
// copy-on-replace).
func (r *Router) Swap(pools map[string][]*pipeline.Pipeline) {
	balancers := make(map[string]*weightedRoundRobin, len(pools))
	for category := range pools {
		balancers[category] = NewLoadBalancer()
	}
	r.mu.Lock()
	r.pools = pools
	r.balancers = balancers
	r.mu.Unlock()
	r.reportPoolSizes(pools)
}

// reportPoolSizes publishes each category's pool size to the Collector's
// pool-size gauge, keeping /metrics in sync with whatever pools New or Swap
// most recently installed.
func (r *Router) reportPoolSizes(pools map[string][]*pipeline.Pipeline) {
	if r.metrics == nil {
		return
	}
	for category, pool := range pools {
		r.metrics.SetPoolSize(category, len(pool))
	}
}

func (r *Router) knownCategories() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	known := make(map[string]bool, len(r.pools))
	for c := range r.pools {
		known[c] = true
	}
	return known
}

func (r *Router) poolFor(category Category) ([]*pipeline.Pipeline, *weightedRoundRobin) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pools[string(category)], r.balancers[string(category)]
}

// Route classifies req, then selects and executes against the resolved
// category's pool, retrying up to maxAttempts distinct pipelines on
// retriable errors (spec.md §4.6: "the runtime does not retry; retry is the
// Router's decision").
func (r *Router) Route(ctx context.Context, req types.ChatRequest, categoryHint string) (types.ChatResponse, error) {
	category := Classify(BuildClassifyInput(req, categoryHint), r.rules, r.knownCategories())
	pool, balancer := r.poolFor(category)
	if len(pool) == 0 {
		pool, balancer = r.poolFor(CategoryDefault)
	}
	if len(pool) == 0 {
		return types.ChatResponse{}, types.NewGatewayError(types.CategoryAdmission, fmt.Errorf("no pipelines available for category %q", category))
	}

	tried := make(map[string]bool, maxAttempts)
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidates := Admit(pool, req, r.health, r.quotaRouting, r.modelCapable)
		candidates = excludeTried(candidates, tried)
		if len(candidates) == 0 {
			break
		}

		pl := balancer.Pick(candidates)
		if pl == nil {
			break
		}
		tried[pl.Def.ID] = true

		start := time.Now()
		resp, err := r.runtime.Execute(ctx, pl, req)
		duration := time.Since(start)
		ReconcileState(pl, r.health)
		if err == nil {
			r.recordOutcome(category, pl.Def.ID, duration, nil)
			return resp, nil
		}

		r.recordOutcome(category, pl.Def.ID, duration, err)
		lastErr = err
		if gwErr, ok := err.(*types.GatewayError); !ok || !gwErr.Retriable() {
			return types.ChatResponse{}, err
		}
	}

	if lastErr == nil {
		lastErr = types.NewGatewayError(types.CategoryAdmission, fmt.Errorf("no eligible pipeline for category %q", category))
	}
	return types.ChatResponse{}, lastErr
}

// RouteStream is the streaming counterpart of Route. It does not retry once
// sink has begun receiving chunks (the pre-SSE heartbeat in
// pipeline.Runtime already guarantees an early failure surfaces as a plain
// error here rather than a half-written stream).
func (r *Router) RouteStream(ctx context.Context, req types.ChatRequest, categoryHint string, sink pipeline.StreamSink) error {
	category := Classify(BuildClassifyInput(req, categoryHint), r.rules, r.knownCategories())
	pool, balancer := r.poolFor(category)
	if len(pool) == 0 {
		pool, balancer = r.poolFor(CategoryDefault)
	}
	if len(pool) == 0 {
		return types.NewGatewayError(types.CategoryAdmission, fmt.Errorf("no pipelines available for category %q", category))
	}

	tried := make(map[string]bool, maxAttempts)
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidates := Admit(pool, req, r.health, r.quotaRouting, r.modelCapable)
		candidates = excludeTried(candidates, tried)
		if len(candidates) == 0 {
			break
		}

		pl := balancer.Pick(candidates)
		if pl == nil {
			break
		}
		tried[pl.Def.ID] = true

		start := time.Now()
		err := r.runtime.ExecuteStream(ctx, pl, req, sink)
		duration := time.Since(start)
		ReconcileState(pl, r.health)
		if err == nil {
			r.recordOutcome(category, pl.Def.ID, duration, nil)
			return nil
		}

		r.recordOutcome(category, pl.Def.ID, duration, err)
		lastErr = err
		gwErr, ok := err.(*types.GatewayError)
		if !ok || !gwErr.Retriable() {
			return err
		}
	}

	if lastErr == nil {
		lastErr = types.NewGatewayError(types.CategoryAdmission, fmt.Errorf("no eligible pipeline for category %q", category))
	}
	return lastErr
}

// ModelCatalog lists the distinct modelId values served by any pipeline in
// any pool, for the /v1/models listing (spec.md §6).
func (r *Router) ModelCatalog() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var models []string
	for _, pool := range r.pools {
		for _, pl := range pool {
			if !seen[pl.Def.ModelID] {
				seen[pl.Def.ModelID] = true
				models = append(models, pl.Def.ModelID)
			}
		}
	}
	return models
}

// Ready reports whether at least one category has a non-empty pool, the
// minimum bar for the gateway to accept traffic (spec.md §6's readiness
// probe).
func (r *Router) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pool := range r.pools {
		if len(pool) > 0 {
			return true
		}
	}
	return false
}

// recordOutcome publishes one attempt's request count/duration and, on
// failure, its error category, to the Collector (spec.md §4.8's /metrics
// surface). A nil err records status "ok".
func (r *Router) recordOutcome(category Category, pipelineID string, duration time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordRequest(string(category), status, duration, pipelineID)
	if err == nil {
		return
	}
	if gwErr, ok := err.(*types.GatewayError); ok {
		r.metrics.RecordPipelineError(pipelineID, string(gwErr.Category))
	}
}

func excludeTried(pool []*pipeline.Pipeline, tried map[string]bool) []*pipeline.Pipeline {
	out := make([]*pipeline.Pipeline, 0, len(pool))
	for _, pl := range pool {
		if !tried[pl.Def.ID] {
			out = append(out, pl)
		}
	}
	return out
}
