package designs

import (
	"hdlkit/internal/ast"
	"hdlkit/internal/dsl"
	"hdlkit/internal/ir"
)

func buildMemory(a *ast.Arena) (*Top, error) {
	mem := a.Memory(8, 16, ast.MemoryName("mem"))
	rd := ir.NewReadPort(a, mem)
	wr := ir.NewWritePort(a, mem)

	addr := a.Signal(ast.Unsigned(4), ast.Name("addr"))
	wdata := a.Signal(ast.Unsigned(8), ast.Name("wdata"))
	we := a.Signal(ast.Unsigned(1), ast.Name("we"))
	rdata := a.Signal(ast.Unsigned(8), ast.Name("rdata"))

	m := dsl.NewModule(a)
	m.AddSubmodule("rd", rd)
	m.AddSubmodule("wr", wr)
	m.Comb(
		wr.Addr.Eq(addr),
		wr.Data.Eq(wdata),
		wr.En.Eq(we),
		rd.Addr.Eq(addr),
		rdata.Eq(rd.Data),
	)
	return &Top{Elaboratable: m, Ports: []*ast.Signal{addr, wdata, we, rdata}}, nil
}
