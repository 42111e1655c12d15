// Package env composes the environment handed to child processes.
package env

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/subosito/gotenv"
)

type Var map[string]string

// Env holds the supervisor-wide variables applied on top of the OS environment.
type Env struct {
	Var    Var  // global variables (K->V)
	UseOS  bool // start from the supervisor's own environment

	baseOnce sync.Once
	osBase   Var
}

func New() *Env {
	return &Env{Var: make(Var), UseOS: true}
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	if k != "" {
		e.Var[k] = v
	}
}

// SetPairs applies "K=V" entries; malformed entries are skipped.
func (e *Env) SetPairs(pairs []string) {
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
}

// LoadFile applies the variables from a dotenv file.
func (e *Env) LoadFile(path string) error {
	m, err := gotenv.Read(path)
	if err != nil {
		return err
	}
	for k, v := range m {
		e.Set(k, v)
	}
	return nil
}

func (e *Env) base() Var {
	if !e.UseOS {
		return nil
	}
	e.baseOnce.Do(func() {
		b := make(Var)
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				b[kv[:i]] = kv[i+1:]
			}
		}
		e.osBase = b
	})
	return e.osBase
}

// Merge composes the final environment: OS base (when UseOS), then globals,
// then perProc overrides. ${VAR} references are expanded once against the
// composed map. The result is sorted "K=V" pairs.
func (e *Env) Merge(perProc map[string]string) []string {
	m := make(Var)
	for k, v := range e.base() {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range perProc {
		if k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string { return m[k] })
}
