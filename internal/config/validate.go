package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/leapstack-labs/sqlpilot/internal/llm"
	"github.com/leapstack-labs/sqlpilot/internal/retrieval"
	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/compare"
	"github.com/leapstack-labs/sqlpilot/pkg/core"
)

// OutputModes lists the accepted values of the output key.
var OutputModes = []string{"auto", "table", "json", "csv", "md"}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxRows <= 0 {
		errs = append(errs, fmt.Errorf("max_rows must be positive, got %d", c.MaxRows))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top_k must be positive, got %d", c.TopK))
	}
	if c.Timeouts.Generate <= 0 {
		errs = append(errs, errors.New("timeouts.generate must be positive"))
	}
	if c.Timeouts.Execute <= 0 {
		errs = append(errs, errors.New("timeouts.execute must be positive"))
	}
	if !slices.Contains(OutputModes, c.Output) {
		errs = append(errs, fmt.Errorf("output must be one of %v, got %q", OutputModes, c.Output))
	}

	switch c.Generator.Provider {
	case llm.ProviderOllama:
		if c.Generator.URL == "" {
			errs = append(errs, errors.New("generator.url is required for ollama"))
		}
	case llm.ProviderGemini:
		if c.Generator.APIKey == "" && os.Getenv("GEMINI_API_KEY") == "" {
			errs = append(errs, errors.New("generator.api_key is required for gemini\nHint: set SQLPILOT_GENERATOR__API_KEY or GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown generator.provider %q (want %s or %s)", c.Generator.Provider, llm.ProviderOllama, llm.ProviderGemini))
	}
	if c.Generator.Model == "" {
		errs = append(errs, errors.New("generator.model is required"))
	}

	if mode, err := retrieval.ParseMode(c.Retrieval.Mode); err != nil {
		errs = append(errs, fmt.Errorf("retrieval.mode: %w", err))
	} else {
		c.Retrieval.Mode = mode
	}

	if c.Eval.Workers <= 0 {
		errs = append(errs, fmt.Errorf("eval.workers must be positive, got %d", c.Eval.Workers))
	}
	if c.Eval.Decimals < 0 {
		errs = append(errs, fmt.Errorf("eval.decimals must not be negative, got %d", c.Eval.Decimals))
	}
	if _, err := compare.ParsePolicy(c.Eval.Policy); err != nil {
		errs = append(errs, fmt.Errorf("eval.policy: %w", err))
	}

	names := make([]string, 0, len(c.Domains))
	for name := range c.Domains {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := ValidateDomain(c.Domains[name]); err != nil {
			errs = append(errs, fmt.Errorf("domains.%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// ValidateDomain checks one domain target against the adapter registry.
func ValidateDomain(t core.TargetConfig) error {
	if t.Type == "" {
		return errors.New("type is required")
	}
	if !adapter.IsRegistered(strings.ToLower(t.Type)) {
		return adapter.NewUnknownAdapterError(t.Type)
	}
	if isFileBased(t) && t.Database == "" {
		return fmt.Errorf("database is required for %s", t.Type)
	}
	return nil
}
