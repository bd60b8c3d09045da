package config

import (
	"strings"

	"github.com/leapstack-labs/sqlpilot/internal/llm"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
)

// Default configuration values.
const (
	DefaultMaxRows    = 200
	DefaultMaxRetries = 2
	DefaultTopK       = 12
	DefaultDialect    = "PostgreSQL"
	DefaultStateFile  = ".sqlpilot/state.db"
	DefaultOutput     = "auto" // Auto-detect: TTY=table, non-TTY=markdown
	DefaultWorkers    = 4
	DefaultDecimals   = 2
	DefaultPolicy     = "lenient"
	DefaultRetrieval  = "fts"
)

// defaults returns the lowest-priority layer of the configuration.
func defaults() map[string]any {
	gen := llm.DefaultConfig()
	return map[string]any{
		"max_rows":          DefaultMaxRows,
		"max_retries":       DefaultMaxRetries,
		"top_k":             DefaultTopK,
		"dialect":           DefaultDialect,
		"examples_dir":      "",
		"state_path":        DefaultStateFile,
		"verbose":           false,
		"output":            DefaultOutput,
		"timeouts.generate": "180s",
		"timeouts.execute":  "30s",

		"generator.provider":    gen.Provider,
		"generator.url":         gen.URL,
		"generator.model":       gen.Model,
		"generator.temperature": gen.Temperature,
		"generator.max_tokens":  gen.MaxTokens,
		"generator.timeout":     gen.Timeout.String(),

		"retrieval.mode":            DefaultRetrieval,
		"retrieval.embedding_model": "",

		"eval.workers":      DefaultWorkers,
		"eval.decimals":     DefaultDecimals,
		"eval.policy":       DefaultPolicy,
		"eval.self_correct": false,
	}
}

// ApplyDomainDefaults fills type-specific defaults of a domain target.
func ApplyDomainDefaults(t *core.TargetConfig) {
	if t == nil {
		return
	}
	t.Type = strings.ToLower(t.Type)

	if t.Port == 0 {
		switch t.Type {
		case "postgres":
			t.Port = 5432
		case "mysql":
			t.Port = 3306
		case "tidb":
			t.Port = 4000
		}
	}
}

// isFileBased reports whether the target's database is a local file path.
func isFileBased(t core.TargetConfig) bool {
	return t.Type == "sqlite" || t.Type == "duckdb"
}
