package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/routecodex/routecodex/pkg/types"
)

// Pipeline is a materialized PipelineDef: its four stages, plus the
// mutable request-count/error-count/last-request-time stats the router and
// health manager read, updated via atomic counters so reads never block a
// concurrent in-flight request (spec.md §3, §5: "per-pipeline stats:
// updated under a lightweight lock or atomic counters").
type Pipeline struct {
	Def           types.PipelineDef
	LLMSwitch     LLMSwitch
	Workflow      Workflow
	Compatibility Compatibility
	Provider      *ProviderClient

	totalReq  int64
	totalErr  int64
	lastReqMs int64

	mu    sync.RWMutex
	state types.PipelineState
}

// NewPipeline wraps already-constructed stages into a Pipeline, starting
// in the Active state.
func NewPipeline(def types.PipelineDef, llmSwitch LLMSwitch, workflow Workflow, compat Compatibility, provider *ProviderClient) *Pipeline {
	return &Pipeline{Def: def, LLMSwitch: llmSwitch, Workflow: workflow, Compatibility: compat, Provider: provider, state: types.PipelineActive}
}

// RecordAttempt updates stats after an execution attempt.
func (p *Pipeline) RecordAttempt(success bool) {
	atomic.AddInt64(&p.totalReq, 1)
	if !success {
		atomic.AddInt64(&p.totalErr, 1)
	}
	atomic.StoreInt64(&p.lastReqMs, time.Now().UnixMilli())
}

// Stats returns a snapshot of this pipeline's counters.
func (p *Pipeline) Stats() types.PipelineStats {
	return types.PipelineStats{
		TotalReq:  atomic.LoadInt64(&p.totalReq),
		TotalErr:  atomic.LoadInt64(&p.totalErr),
		LastReqMs: atomic.LoadInt64(&p.lastReqMs),
	}
}

// State returns the pipeline's current position in the
// Active→Degraded→Excluded→Active state machine (spec.md §4.6).
func (p *Pipeline) State() types.PipelineState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetState transitions the pipeline's state; the router is the sole caller.
func (p *Pipeline) SetState(s types.PipelineState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}
