package designs

import (
	"hdlkit/internal/ast"
	"hdlkit/internal/dsl"
	"hdlkit/internal/ir"
)

// Counter counts up in the sync domain while En is high. Ovf is set
// combinationally when the count is at its maximum.
type Counter struct {
	arena *ast.Arena
	En    *ast.Signal
	Count *ast.Signal
	Ovf   *ast.Signal
}

// NewCounter allocates the signals of a width-bit counter. A non-empty
// prefix is prepended to the signal names.
func NewCounter(a *ast.Arena, prefix string, width int) *Counter {
	name := func(n string) ast.SignalOption {
		if prefix != "" {
			n = prefix + "_" + n
		}
		return ast.Name(n)
	}
	return &Counter{
		arena: a,
		En:    a.Signal(ast.Unsigned(1), name("en")),
		Count: a.Signal(ast.Unsigned(width), name("count")),
		Ovf:   a.Signal(ast.Unsigned(1), name("ovf")),
	}
}

func (c *Counter) Elaborate(ir.Platform) (ir.Elaboratable, error) {
	m := dsl.NewModule(c.arena)
	m.If(c.En, func() {
		m.Sync(c.Count.Eq(c.Count.Add(1)))
	})
	m.Comb(c.Ovf.Eq(c.Count.Equals(int64(1)<<c.Count.Len() - 1)))
	return m, nil
}

func buildCounter(a *ast.Arena) (*Top, error) {
	c := NewCounter(a, "", 8)
	return &Top{Elaboratable: c, Ports: []*ast.Signal{c.En, c.Count, c.Ovf}}, nil
}
