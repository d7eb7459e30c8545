// Package tools holds the startup-time tool registry: per-tool argument
// whitelists, typed coercion, filter canonicalization, and paging
// defaults. Tools register explicitly; there is no catalog scanning.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// ArgType is the declared type of one tool argument.
type ArgType string

const (
	ArgString    ArgType = "string"
	ArgInt       ArgType = "int"
	ArgBool      ArgType = "bool"
	ArgGUID      ArgType = "guid"
	ArgDecimal   ArgType = "decimal"
	ArgJSON      ArgType = "json"
	ArgStringMap ArgType = "stringMap"
)

// ArgSpec declares one allowed argument.
type ArgSpec struct {
	Name     string
	Type     ArgType
	Required bool
	Default  any
	MinInt   *int
	MaxInt   *int
}

// Paging is the per-tool paging policy. Page sizes clamp to
// [1, MaxPageSize] at validation time.
type Paging struct {
	Supports        bool
	DefaultPage     int
	DefaultPageSize int
	MaxPageSize     int
}

// Registration is the complete declaration of one tool. Each tool module
// contributes one of these at startup.
type Registration struct {
	Name          string
	Description   string
	RequiresWrite bool

	// WriteRoles is the allow-list consulted when RequiresWrite is set.
	// Read tools admit any authenticated role.
	WriteRoles []string

	Args   []ArgSpec
	Paging Paging

	// FilterKeys is the set of canonical filter keys the tool accepts;
	// FilterAliases maps resource-specific aliases onto them.
	FilterKeys    []string
	FilterAliases map[string]string

	// Parameters is the JSON Schema advertised to the LLM.
	Parameters json.RawMessage
}

// Registry holds tool registrations. It is populated during startup and
// read-only afterwards; the mutex only guards the registration phase.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Registration)}
}

// Register adds a tool declaration. At most one registration per name.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("tool registration requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[reg.Name]; exists {
		return fmt.Errorf("tool %q already registered", reg.Name)
	}
	copied := reg
	r.tools[reg.Name] = &copied
	return nil
}

// Get returns the registration for a tool name.
func (r *Registry) Get(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the LLM-facing tool schemas for the exposed set. An
// empty exposed set means every registered tool.
func (r *Registry) Schemas(exposed []string) []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := exposed
	if len(names) == 0 {
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	schemas := make([]models.ToolSchema, 0, len(names))
	for _, name := range names {
		reg, ok := r.tools[name]
		if !ok {
			continue
		}
		params := reg.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		schemas = append(schemas, models.ToolSchema{
			Name:        reg.Name,
			Description: reg.Description,
			Parameters:  params,
		})
	}
	return schemas
}
