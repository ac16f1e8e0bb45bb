package preflight

import (
	"context"

	"cutroom/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes the directory checks and every network check whose
// credentials are configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	if llmCfg := cfg.GetLLM(); llmCfg.APIKey != "" {
		results = append(results, CheckLLM(ctx, "Command advice LLM", llmCfg))
	}

	if cfg.Generation.APIToken != "" {
		results = append(results, CheckGeneration(ctx, cfg.Generation.BaseURL, cfg.Generation.APIToken))
	}

	return results
}
