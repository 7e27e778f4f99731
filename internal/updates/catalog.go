package updates

import (
	"fmt"
	"sort"
	"strings"
)

// Constructor builds a plugin with no arguments.
type Constructor func() (Plugin, error)

// Catalog maps plugin directory names to constructors. A directory found by
// discovery without a catalog entry is not a plugin.
type Catalog map[string]Constructor

// Register adds a constructor under name.
func (c Catalog) Register(name string, ctor Constructor) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if ctor == nil {
		return fmt.Errorf("plugin %s: constructor is required", name)
	}
	if _, exists := c[name]; exists {
		return fmt.Errorf("plugin %s already registered", name)
	}
	c[name] = ctor
	return nil
}

// Names returns the registered plugin names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Of wraps a plugin value that needs no setup.
func Of(p Plugin) Constructor {
	return func() (Plugin, error) { return p, nil }
}
