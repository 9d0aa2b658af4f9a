package strategy

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store is a read-only strategy source backed by YAML files in a directory,
// one strategy per file. The authoring side lives outside this core; the
// store only parses and hands out immutable documents.
type Store struct {
	strategies map[string]*Strategy
}

// LoadDir parses every *.yaml / *.yml file in dir into a Store.
func LoadDir(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("strategy store: read dir: %w", err)
	}

	st := &Store{strategies: make(map[string]*Strategy, len(entries))}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		s, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := st.strategies[s.Name]; dup {
			return nil, fmt.Errorf("strategy store: duplicate strategy name %q (%s)", s.Name, e.Name())
		}
		st.strategies[s.Name] = s
	}

	log.Printf("[strategy] loaded %d strategies from %s", len(st.strategies), dir)
	return st, nil
}

// LoadFile parses one strategy document.
func LoadFile(path string) (*Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy store: %w", err)
	}
	var s Strategy
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("strategy store: parse %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("strategy store: %s: missing name", path)
	}
	return &s, nil
}

// Get returns a strategy by name.
func (st *Store) Get(name string) (*Strategy, bool) {
	s, ok := st.strategies[name]
	return s, ok
}

// Names returns all loaded strategy names.
func (st *Store) Names() []string {
	out := make([]string, 0, len(st.strategies))
	for n := range st.strategies {
		out = append(out, n)
	}
	return out
}
