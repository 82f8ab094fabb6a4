// Command routecodex-gatewayd is the standalone entrypoint: it resolves
// config, assembles pipelines, and serves the HTTP Gateway Surface (C8),
// grounded on the teacher's cmd/ai-provider-kit main.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/routecodex/routecodex/pkg/config"
	"github.com/routecodex/routecodex/pkg/credential"
	"github.com/routecodex/routecodex/pkg/gateway"
	"github.com/routecodex/routecodex/pkg/health"
	"github.com/routecodex/routecodex/pkg/observability"
	"github.com/routecodex/routecodex/pkg/pipeline"
	"github.com/routecodex/routecodex/pkg/protocol"
	"github.com/routecodex/routecodex/pkg/router"
	"github.com/routecodex/routecodex/pkg/types"
)

func main() {
	userConfig := flag.String("config", "config.json", "path to the user config document")
	systemConfig := flag.String("modules", "modules.json", "path to the system modules config document")
	localOverrides := flag.String("local-overrides", "routecodex.local.yaml", "optional YAML file overriding the httpServer block")
	credentialDir := flag.String("credential-dir", defaultCredentialDir(), "directory holding persisted OAuth token files")
	flag.Parse()

	log := observability.NewStdLogger()

	rc, warnings, err := config.Resolve(*userConfig, *systemConfig)
	if err != nil {
		log.Fatal("config resolution failed", "error", err)
	}
	for _, w := range warnings {
		log.Warn("config warning", "path", w.Path, "message", w.Message)
	}

	overrides, err := config.LoadLocalOverrides(*localOverrides)
	if err != nil {
		log.Fatal("local overrides failed", "error", err)
	}
	rc = overrides.Apply(rc)

	metrics := observability.NewCollector("routecodex")
	healthMgr := health.New(metrics)

	credStore, err := credential.New(rc.Credentials, credential.NewFileLoader(*credentialDir), credential.NewHTTPDeviceFlowClient(), healthMgr, metrics)
	if err != nil {
		log.Fatal("credential store init failed", "error", err)
	}

	registry := protocol.NewRegistry(nil)

	results := pipeline.Assemble(rc, registry, credStore)
	for _, r := range results {
		if r.Err != nil {
			log.Warn("pipeline assembly failed", "pipeline", r.PipelineID, "error", r.Err)
		}
	}
	pools, emptyCategories := pipeline.ActivePoolsByCategory(rc, results)
	for _, c := range emptyCategories {
		log.Warn("routing category has no live pipelines", "category", c)
	}

	runtime := pipeline.NewRuntime(healthMgr)
	rt := router.New(pools, router.DefaultRules, healthMgr, runtime, rc.QuotaRoutingEnabled, modelCapable, metrics)

	srv := gateway.New(rc.HTTPServer, registry, rt, healthMgr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("gateway starting", "host", rc.HTTPServer.Host, "port", rc.HTTPServer.Port)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatal("gateway exited with error", "error", err)
	}
	log.Info("gateway stopped")
}

// modelCapable admits a pipeline when its declared modelId matches the
// request's requested model, the minimum capability check spec.md §4.6
// requires before a pipeline reaches load balancing.
func modelCapable(pl *pipeline.Pipeline, req types.ChatRequest) bool {
	return req.Model == "" || req.Model == pl.Def.ModelID
}

func defaultCredentialDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".routecodex/auth"
	}
	return home + "/.routecodex/auth"
}
