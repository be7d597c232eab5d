// Package catalog manages KPI definitions: the embedded builtin set, optional
// user-supplied YAML files, and definitions registered at runtime. Later
// sources override earlier ones on name collision.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/vinodismyname/mcpkpi/pkg/validation"
	"gopkg.in/yaml.v3"
)

// Type discriminates scalar KPIs from categorical (grouped) ones.
const (
	TypeMetric      = "metric"
	TypeCategorical = "categorical"
)

// Definition is an immutable KPI definition. Columns lists the abstract
// placeholder names the formula needs; Dependencies names other KPIs whose
// computed value the formula may reference via kpis[...].
type Definition struct {
	Name         string   `yaml:"name" json:"name" validate:"required,kpiname"`
	Formula      string   `yaml:"formula" json:"formula" validate:"required,formula"`
	Columns      []string `yaml:"columns" json:"columns"`
	Dependencies []string `yaml:"dependencies" json:"dependencies,omitempty"`
	Type         string   `yaml:"type" json:"type,omitempty" validate:"omitempty,oneof=metric categorical"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	Category     string   `yaml:"category" json:"category,omitempty"`
}

// Derived reports whether this KPI references other KPI values.
func (d Definition) Derived() bool { return len(d.Dependencies) > 0 }

// Validate checks the definition's structural constraints.
func (d Definition) Validate() error {
	if msg := validation.ValidateStruct(d); msg != "" {
		return fmt.Errorf("catalog: %q: %s", d.Name, msg)
	}
	for _, dep := range d.Dependencies {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("catalog: %q: empty dependency name", d.Name)
		}
		if dep == d.Name {
			return fmt.Errorf("catalog: %q: KPI depends on itself", d.Name)
		}
	}
	return nil
}

//go:embed builtin.yaml
var builtinYAML []byte

// Builtin returns the embedded general-purpose KPI definitions.
func Builtin() (map[string]Definition, error) {
	return parse(builtinYAML)
}

// LoadFile reads KPI definitions from a YAML file. A missing file yields an
// empty map, matching the optional nature of user catalogs.
func LoadFile(path string) (map[string]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Definition{}, nil
		}
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	defs, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return defs, nil
}

// parse accepts either a bare list of definitions or a document with a
// top-level `kpis:` list.
func parse(data []byte) (map[string]Definition, error) {
	var list []Definition
	if err := yaml.Unmarshal(data, &list); err != nil {
		var doc struct {
			KPIs []Definition `yaml:"kpis"`
		}
		if derr := yaml.Unmarshal(data, &doc); derr != nil {
			return nil, err
		}
		list = doc.KPIs
	}

	defs := make(map[string]Definition, len(list))
	for _, d := range list {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		defs[d.Name] = d
	}
	return defs, nil
}

// Merge combines definition maps; later maps win on name collision.
func Merge(maps ...map[string]Definition) map[string]Definition {
	out := map[string]Definition{}
	for _, m := range maps {
		for name, d := range m {
			out[name] = d
		}
	}
	return out
}

// Store holds the merged catalog plus runtime registrations. It is safe for
// concurrent use; reads after load are the common path.
type Store struct {
	mu      sync.RWMutex
	base    map[string]Definition // builtin ∪ user file
	runtime map[string]Definition // registered via tools; wins over base
}

// NewStore builds a Store from the builtin catalog and an optional user
// catalog path (empty path skips it). User entries override builtin entries
// of the same name.
func NewStore(userPath string) (*Store, error) {
	builtin, err := Builtin()
	if err != nil {
		return nil, err
	}
	user := map[string]Definition{}
	if userPath != "" {
		user, err = LoadFile(userPath)
		if err != nil {
			return nil, err
		}
	}
	return &Store{
		base:    Merge(builtin, user),
		runtime: map[string]Definition{},
	}, nil
}

// Register adds or replaces a runtime definition after validating it.
func (s *Store) Register(d Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.runtime[d.Name] = d
	s.mu.Unlock()
	return nil
}

// Definitions returns the merged view (runtime entries win).
func (s *Store) Definitions() map[string]Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Merge(s.base, s.runtime)
}

// Get returns a single definition by name.
func (s *Store) Get(name string) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.runtime[name]; ok {
		return d, true
	}
	d, ok := s.base[name]
	return d, ok
}

// Names returns all KPI names sorted for stable output.
func (s *Store) Names() []string {
	defs := s.Definitions()
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
