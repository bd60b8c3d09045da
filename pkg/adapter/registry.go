package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/sqlpilot/pkg/core"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

// Factory creates an unconnected adapter. A nil logger means discard.
type Factory func(*slog.Logger) Adapter

// Backend describes a registered adapter type.
type Backend struct {
	// Type is the domain type name ("postgres", "tidb").
	Type string

	// Dialect selects the safety gate rules for statements sent to this backend.
	Dialect guard.Dialect

	// Label names the SQL dialect in generator prompts ("PostgreSQL").
	Label string

	New Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Backend)
)

// Register adds a backend under typ, replacing any earlier registration.
// Called by adapter implementations in their init() functions.
func Register(typ string, b Backend) {
	if b.New == nil {
		panic("adapter: Register with nil factory for " + typ)
	}
	key := strings.ToLower(typ)
	b.Type = key
	if b.Dialect == "" {
		b.Dialect = guard.ParseDialect(key)
	}
	if b.Label == "" {
		b.Label = key
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[key] = b
}

// Lookup returns the backend registered under typ. Matching ignores case.
func Lookup(typ string) (Backend, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[strings.ToLower(typ)]
	return b, ok
}

// DialectFor returns the gate dialect of typ. Unregistered types fall back to
// guard.ParseDialect.
func DialectFor(typ string) guard.Dialect {
	if b, ok := Lookup(typ); ok {
		return b.Dialect
	}
	return guard.ParseDialect(typ)
}

// NewAdapter creates an unconnected adapter for cfg.Type.
func NewAdapter(cfg core.AdapterConfig, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}

	b, ok := Lookup(cfg.Type)
	if !ok {
		return nil, NewUnknownAdapterError(cfg.Type)
	}
	return b.New(logger), nil
}

// Backends returns every registered backend sorted by type.
func Backends() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Backend, 0, len(registry))
	for _, b := range registry {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ListAdapters returns all registered type names (sorted).
func ListAdapters() []string {
	backends := Backends()
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Type
	}
	return names
}

// IsRegistered checks if an adapter type is registered.
func IsRegistered(typ string) bool {
	_, ok := Lookup(typ)
	return ok
}

// UnknownAdapterError is returned when an unknown adapter type is requested.
type UnknownAdapterError struct {
	Type      string
	Available []string

	// Dialects maps each available type to its gate dialect.
	Dialects map[string]guard.Dialect
}

// NewUnknownAdapterError describes typ against the current registry.
func NewUnknownAdapterError(typ string) *UnknownAdapterError {
	e := &UnknownAdapterError{Type: typ, Dialects: make(map[string]guard.Dialect)}
	for _, b := range Backends() {
		e.Available = append(e.Available, b.Type)
		e.Dialects[b.Type] = b.Dialect
	}
	return e
}

func (e *UnknownAdapterError) Error() string {
	available := make([]string, len(e.Available))
	for i, typ := range e.Available {
		available[i] = typ
		if d, ok := e.Dialects[typ]; ok && string(d) != typ {
			available[i] = fmt.Sprintf("%s (%s dialect)", typ, d)
		}
	}
	return fmt.Sprintf("unknown adapter type %q\nAvailable adapters: %s\nHint: Check domains.<name>.type in sqlpilot.yaml",
		e.Type, strings.Join(available, ", "))
}
