// Package core defines the shared language of the sqlpilot system.
//
// This package contains:
//   - Tabular results and execution failures (Result, ExecutionFailure)
//   - Adapter connection configuration (AdapterConfig, TargetConfig)
//   - Table metadata used for schema extraction (Column, TableMetadata)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
