package designs

import (
	"hdlkit/internal/ast"
	"hdlkit/internal/dsl"
	"hdlkit/internal/ir"
)

type copier struct {
	arena    *ast.Arena
	dst, src *ast.Signal
}

func (c *copier) Elaborate(ir.Platform) (ir.Elaboratable, error) {
	m := dsl.NewModule(c.arena)
	m.Comb(c.dst.Eq(c.src))
	return m, nil
}

func buildShared(a *ast.Arena) (*Top, error) {
	x := a.Signal(ast.Unsigned(1), ast.Name("x"))
	y := a.Signal(ast.Unsigned(1), ast.Name("y"))
	shared := a.Signal(ast.Unsigned(1), ast.Name("shared"))

	m := dsl.NewModule(a)
	m.AddSubmodule("a", &copier{arena: a, dst: shared, src: x})
	m.AddSubmodule("b", &copier{arena: a, dst: shared, src: y})
	return &Top{Elaboratable: m, Ports: []*ast.Signal{x, y, shared}}, nil
}
