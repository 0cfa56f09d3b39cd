package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to launched services. The base is the
// supervisor's own environment (optional), then global variables, then the
// per-service map.
type Env struct {
	Var    Var // global variables (K->V)
	env    Var // cached base from OS environment
	noBase bool
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// Isolated returns an Env that does not inherit the OS environment.
func Isolated() *Env {
	return &Env{Var: make(Var), env: make(Var), noBase: true}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// WithSet returns a copy of e with K=V applied.
func (e *Env) WithSet(k, v string) *Env {
	c := &Env{Var: make(Var, len(e.Var)+1), env: e.env, noBase: e.noBase}
	for kk, vv := range e.Var {
		c.Var[kk] = vv
	}
	c.Var[k] = v
	return c
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// SetPairs applies "K=V" entries; malformed entries are skipped.
func (e *Env) SetPairs(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// Lookup resolves k against globals first, then the base environment.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil && !e.noBase {
		e.FromOS()
	}
	v, ok := e.env[k]
	return v, ok
}

// Expand substitutes ${VAR} references in s. Unknown variables expand to the
// empty string, matching shell behaviour.
func (e *Env) Expand(s string) string {
	return expandWith(s, e.Lookup)
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply global e.Var overrides
// then apply perService overrides
// Values are ${VAR}-expanded against the composed map (single pass, no
// recursion). The result is sorted for stable output.
func (e *Env) Merge(perService map[string]string) []string {
	if e.env == nil && !e.noBase {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(perService))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range perService {
		if k == "" {
			continue
		}
		m[k] = v
	}
	lookup := func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expandWith(v, lookup))
	}
	sort.Strings(out)
	return out
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// expandWith replaces ${NAME} tokens. An unterminated "${" is copied verbatim.
func expandWith(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		name := s[i+2 : i+2+j]
		if v, ok := lookup(name); ok {
			b.WriteString(v)
		}
		s = s[i+2+j+1:]
	}
	return b.String()
}
