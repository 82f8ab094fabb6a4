package pipeline

import (
	"fmt"
	"sync"

	"github.com/routecodex/routecodex/pkg/credential"
	"github.com/routecodex/routecodex/pkg/protocol"
	"github.com/routecodex/routecodex/pkg/types"
)

// AssemblyResult is the outcome of materializing one PipelineDef: either a
// ready Pipeline, or an error explaining why that one definition could not
// be built (spec.md §4.4: "a single construction failure marks that
// pipeline as unavailable but does not abort startup").
type AssemblyResult struct {
	PipelineID string
	Pipeline   *Pipeline
	Err        error
}

// Assemble materializes one Pipeline per PipelineDef in rc, constructing
// them in parallel. It never returns an error itself — per-pipeline
// failures are reported in each AssemblyResult so the caller (the router
// coordinator) can decide whether a category ended up empty.
func Assemble(rc types.RuntimeConfig, registry *protocol.Registry, creds *credential.Store) []AssemblyResult {
	results := make([]AssemblyResult, len(rc.Pipelines))

	var wg sync.WaitGroup
	for i, def := range rc.Pipelines {
		wg.Add(1)
		go func(i int, def types.PipelineDef) {
			defer wg.Done()
			pl, err := assembleOne(rc, def, registry, creds)
			results[i] = AssemblyResult{PipelineID: def.ID, Pipeline: pl, Err: err}
		}(i, def)
	}
	wg.Wait()

	return results
}

func assembleOne(rc types.RuntimeConfig, def types.PipelineDef, registry *protocol.Registry, creds *credential.Store) (*Pipeline, error) {
	providerDef, ok := rc.Providers[def.ProviderID]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: unknown provider %q", def.ID, def.ProviderID)
	}

	llmSwitch := NewLLMSwitch(def.LLMSwitchConfig)
	workflow := NewWorkflow(def.WorkflowConfig)

	compat, err := NewCompatibility(def.CompatibilityConfig, registry)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", def.ID, err)
	}

	provider := NewProviderClient(providerDef, def.CredentialID, creds)

	return NewPipeline(def, llmSwitch, workflow, compat, provider), nil
}

// ActivePoolsByCategory groups successfully-assembled pipelines under each
// routing category, preserving RuntimeConfig's declared pool order; a
// category whose entire pool failed assembly is reported via emptyCategories.
func ActivePoolsByCategory(rc types.RuntimeConfig, results []AssemblyResult) (pools map[string][]*Pipeline, emptyCategories []string) {
	byID := make(map[string]*Pipeline, len(results))
	for _, r := range results {
		if r.Pipeline != nil {
			byID[r.PipelineID] = r.Pipeline
		}
	}

	pools = make(map[string][]*Pipeline, len(rc.Routing))
	for category, ids := range rc.Routing {
		var pool []*Pipeline
		for _, id := range ids {
			if pl, ok := byID[id]; ok {
				pool = append(pool, pl)
			}
		}
		pools[category] = pool
		if len(pool) == 0 {
			emptyCategories = append(emptyCategories, category)
		}
	}
	return pools, emptyCategories
}
