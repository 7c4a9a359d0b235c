// Package catalog holds the configuration-scope definitions consulted by the
// orchestrator's pre-check. The catalog is hydrated once at startup and never
// re-read per request.
package catalog

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Field declares the validation rules for one configuration field. Options
// distinguishes absent (nil, no enumeration) from declared-empty (no value is
// acceptable).
type Field struct {
	Type    string        `yaml:"type" json:"type"`
	Min     *float64      `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64      `yaml:"max,omitempty" json:"max,omitempty"`
	Options []interface{} `yaml:"options,omitempty" json:"options,omitempty"`
}

// Scope is one named configuration scope, e.g. "genai.policy".
type Scope struct {
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      map[string]Field `yaml:"fields" json:"fields"`
}

// Catalog is the in-memory scope index. Reads are lock-free after hydration;
// Put exists for tests and dynamic seeding before serving.
type Catalog struct {
	mu     sync.RWMutex
	scopes map[string]Scope
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{scopes: make(map[string]Scope)}
}

// Load hydrates a catalog from a YAML file mapping scope names to scopes.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config catalog: %w", err)
	}
	var scopes map[string]Scope
	if err := yaml.Unmarshal(raw, &scopes); err != nil {
		return nil, fmt.Errorf("failed to parse config catalog: %w", err)
	}
	if scopes == nil {
		scopes = make(map[string]Scope)
	}
	return &Catalog{scopes: scopes}, nil
}

// Put registers or replaces a scope definition.
func (c *Catalog) Put(name string, scope Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes[name] = scope
}

// Scope returns a scope definition by name.
func (c *Catalog) Scope(name string) (Scope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scope, ok := c.scopes[name]
	return scope, ok
}

// Names lists the registered scope names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.scopes))
	for name := range c.scopes {
		names = append(names, name)
	}
	return names
}
