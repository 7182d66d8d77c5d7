package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to watch tasks.
// Precedence, lowest first: defaults, OS environment, global Var, per-task pairs.
type Env struct {
	Var      Var // global variables (K->V)
	defaults Var
	env      Var // cached base from OS environment
	noOS     bool
}

func New() *Env {
	return &Env{
		Var:      make(Var),
		defaults: make(Var),
	}
}

// WithDefaults registers values used only when nothing else sets the key.
func (e *Env) WithDefaults(d map[string]string) *Env {
	if e.defaults == nil {
		e.defaults = make(Var)
	}
	for k, v := range d {
		if k != "" {
			e.defaults[k] = v
		}
	}
	return e
}

// WithOS toggles inheritance of the current process environment.
func (e *Env) WithOS(use bool) *Env {
	e.noOS = !use
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parsePairs(os.Environ())
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// SetPairs applies "K=V" entries as global variables.
func (e *Env) SetPairs(kvs []string) {
	for k, v := range parsePairs(kvs) {
		e.Set(k, v)
	}
}

// LoadFile applies a .env file (KEY=VALUE lines, # comments) as global variables.
func (e *Env) LoadFile(path string) error {
	m, err := ReadFile(path)
	if err != nil {
		return err
	}
	for k, v := range m {
		e.Set(k, v)
	}
	return nil
}

// ReadFile parses a simple .env file. Lines starting with # are ignored.
func ReadFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

// Merge composes the final environment list. ${VAR} references are expanded
// once against the composed map. The result is sorted by key.
func (e *Env) Merge(perProc []string) []string {
	m := make(Var)
	for k, v := range e.defaults {
		m[k] = v
	}
	if !e.noOS {
		if e.env == nil {
			e.FromOS()
		}
		for k, v := range e.env {
			m[k] = v
		}
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range parsePairs(perProc) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func parsePairs(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string { return m[k] })
}
