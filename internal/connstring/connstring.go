// Package connstring parses and renders libpq-style "key=value ..."
// connection strings. Spec §4.1 requires this canonical form everywhere
// a connection string crosses a shell boundary (never URI form, so an
// embedded value can be escaped without fighting shell metacharacters
// AND URI percent-encoding at once); §4.4 and §8 require it to
// round-trip losslessly through the Recovery-Config Writer.
package connstring

import (
	"fmt"
	"sort"
	"strings"
)

// Params is an ordered set of libpq key=value parameters. Insertion
// order is preserved in Keys so Render is deterministic.
type Params struct {
	values map[string]string
	order  []string
}

// New returns an empty Params.
func New() *Params {
	return &Params{values: map[string]string{}}
}

// Parse parses a "key=value key2='quoted value' ..." string. Both bare
// and single-quoted values are accepted (single-quoted values may
// contain escaped \' and \\ sequences, matching libpq's own grammar).
func Parse(s string) (*Params, error) {
	p := New()
	i := 0
	n := len(s)
	for i < n {
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			break
		}
		keyStart := i
		for i < n && s[i] != '=' && !isSpace(s[i]) {
			i++
		}
		if i >= n || s[i] != '=' {
			return nil, fmt.Errorf("connstring: expected '=' after %q", s[keyStart:i])
		}
		key := s[keyStart:i]
		i++ // skip '='

		var value string
		if i < n && s[i] == '\'' {
			i++
			var b strings.Builder
			for i < n && s[i] != '\'' {
				if s[i] == '\\' && i+1 < n {
					i++
					b.WriteByte(s[i])
				} else {
					b.WriteByte(s[i])
				}
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("connstring: unterminated quoted value for key %q", key)
			}
			i++ // skip closing quote
			value = b.String()
		} else {
			valStart := i
			for i < n && !isSpace(s[i]) {
				i++
			}
			value = s[valStart:i]
		}
		p.Set(key, value)
	}
	return p, nil
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' }

// Set sets key to value, preserving the original insertion position if
// the key already exists.
func (p *Params) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.order = append(p.order, key)
	}
	p.values[key] = value
}

// Delete removes key, if present.
func (p *Params) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Get returns the value for key and whether it was present.
func (p *Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the parameter keys in insertion order.
func (p *Params) Keys() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Len reports the number of parameters.
func (p *Params) Len() int { return len(p.order) }

// Equal reports whether p and other hold the same key/value pairs,
// ignoring order — used by the recovery-config round-trip property test
// (spec §8).
func (p *Params) Equal(other *Params) bool {
	if len(p.values) != len(other.values) {
		return false
	}
	for k, v := range p.values {
		if ov, ok := other.values[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Render produces the canonical "key=value ..." string, single-quoting
// and escaping any value containing whitespace, a quote, or a backslash.
// Empty-string values are rendered as '' rather than skipped, since a
// deliberately blank override (e.g. dbname='') is meaningful to libpq.
func (p *Params) Render() string {
	parts := make([]string, 0, len(p.order))
	for _, k := range p.order {
		parts = append(parts, k+"="+renderValue(p.values[k]))
	}
	return strings.Join(parts, " ")
}

// RenderSorted is Render but with keys sorted — useful for tests and
// logs that want deterministic output independent of insertion order.
func (p *Params) RenderSorted() string {
	keys := p.Keys()
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+renderValue(p.values[k]))
	}
	return strings.Join(parts, " ")
}

func renderValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\\t\n") {
		return v
	}
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\'', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(v[i])
	}
	b.WriteByte('\'')
	return b.String()
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	out := New()
	for _, k := range p.order {
		out.Set(k, p.values[k])
	}
	return out
}
