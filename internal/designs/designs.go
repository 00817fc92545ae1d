// Package designs holds the sample designs shipped with hdlc.
package designs

import (
	"slices"
	"strings"

	"github.com/pkg/errors"

	"hdlkit/internal/ast"
	"hdlkit/internal/ir"
)

// Design is a registered sample design.
type Design struct {
	Name        string
	Description string
	build       func(a *ast.Arena) (*Top, error)
}

// Top is a built design ready for ir.Prepare together with the signals it
// exposes as top-level ports.
type Top struct {
	Elaboratable ir.Elaboratable
	Ports        []*ast.Signal
}

var registry = []Design{
	{Name: "counter", Description: "8-bit counter with enable and overflow flag", build: buildCounter},
	{Name: "handshake", Description: "start/done handshake controller built as an FSM", build: buildHandshake},
	{Name: "multiclock", Description: "two counters in the sync and pix domains", build: buildMulticlock},
	{Name: "shared", Description: "two submodules driving one signal; flattened on prepare", build: buildShared},
	{Name: "memory", Description: "16x8 memory with a write port and a transparent read port", build: buildMemory},
}

// All returns the registered designs ordered by name.
func All() []Design {
	out := slices.Clone(registry)
	slices.SortFunc(out, func(a, b Design) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Lookup returns the design called name.
func Lookup(name string) (Design, error) {
	for _, d := range registry {
		if d.Name == name {
			return d, nil
		}
	}
	var names []string
	for _, d := range All() {
		names = append(names, d.Name)
	}
	return Design{}, errors.Errorf("unknown design %q (available: %s)", name, strings.Join(names, ", "))
}

// Build constructs the design in a. Construction errors raised by the
// builder are returned.
func (d Design) Build(a *ast.Arena) (top *Top, err error) {
	defer ast.Recover(&err)
	return d.build(a)
}

// Port returns the top-level port called name.
func (t *Top) Port(name string) (*ast.Signal, bool) {
	for _, s := range t.Ports {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Select returns the ports called names, or every port when names is empty.
func (t *Top) Select(names []string) ([]ast.Value, error) {
	if len(names) == 0 {
		out := make([]ast.Value, len(t.Ports))
		for i, s := range t.Ports {
			out[i] = s
		}
		return out, nil
	}
	out := make([]ast.Value, 0, len(names))
	for _, name := range names {
		s, ok := t.Port(name)
		if !ok {
			return nil, errors.Errorf("design has no port %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}
