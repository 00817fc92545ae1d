package ir

import (
	"fmt"

	"hdlkit/internal/ast"
)

// NameMap holds the backend names of the signals of every fragment in a
// prepared tree. Names are unique within a fragment.
type NameMap struct {
	frags map[*Fragment]*ast.SignalDict[string]
}

// AssignNames names the signals of f and its descendants: ports first, then
// driven signals, then any other signal the fragment reads. A name already
// taken in the fragment gets a "$1", "$2", ... suffix.
func AssignNames(f *Fragment) *NameMap {
	m := &NameMap{frags: make(map[*Fragment]*ast.SignalDict[string])}
	m.assign(f)
	return m
}

func (m *NameMap) assign(f *Fragment) {
	names := ast.NewSignalDict[string]()
	taken := map[string]bool{}
	add := func(s ast.Value) {
		if names.Has(s) {
			return
		}
		base := s.String()
		if sig, ok := s.(*ast.Signal); ok {
			base = sig.Name
		}
		name := base
		for n := 1; taken[name]; n++ {
			name = fmt.Sprintf("%s$%d", base, n)
		}
		taken[name] = true
		names.Set(s, name)
	}
	for s := range f.IterSignals() {
		add(s)
	}
	for _, st := range f.Statements {
		for s := range st.LHSSignals().All() {
			add(s)
		}
		for s := range st.RHSSignals().All() {
			add(s)
		}
	}
	if f.Instance != nil {
		for _, p := range f.Instance.Ports {
			for s := range p.Value.RHSSignals().All() {
				add(s)
			}
		}
	}
	m.frags[f] = names
	for _, sub := range f.Subfragments {
		m.assign(sub.Fragment)
	}
}

// Name returns the name of s in f.
func (m *NameMap) Name(f *Fragment, s ast.Value) (string, bool) {
	names, ok := m.frags[f]
	if !ok {
		return "", false
	}
	return names.Get(s)
}

// Names returns the name table of f.
func (m *NameMap) Names(f *Fragment) *ast.SignalDict[string] {
	return m.frags[f]
}
