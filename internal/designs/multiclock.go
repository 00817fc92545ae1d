package designs

import (
	"hdlkit/internal/ast"
	"hdlkit/internal/dsl"
	"hdlkit/internal/ir"
)

// Multiclock runs one counter in the sync domain and a second one, renamed
// into the pix domain, and reports when both overflow together.
type Multiclock struct {
	arena *ast.Arena
	Sys   *Counter
	Video *Counter
	Pix   *ast.ClockDomain
	Both  *ast.Signal
}

func NewMulticlock(a *ast.Arena) *Multiclock {
	return &Multiclock{
		arena: a,
		Sys:   NewCounter(a, "sys", 4),
		Video: NewCounter(a, "vid", 4),
		Pix:   a.ClockDomain("pix"),
		Both:  a.Signal(ast.Unsigned(1), ast.Name("both")),
	}
}

func (mc *Multiclock) Elaborate(ir.Platform) (ir.Elaboratable, error) {
	video, err := ir.RenameDomains(mc.arena, mc.Video, map[string]string{ast.SyncDomain: "pix"})
	if err != nil {
		return nil, err
	}
	m := dsl.NewModule(mc.arena)
	m.AddDomain(mc.Pix)
	m.AddSubmodule("sys", mc.Sys)
	m.AddSubmodule("video", video)
	m.Comb(mc.Both.Eq(mc.Sys.Ovf.And(mc.Video.Ovf)))
	return m, nil
}

func buildMulticlock(a *ast.Arena) (*Top, error) {
	mc := NewMulticlock(a)
	return &Top{Elaboratable: mc, Ports: []*ast.Signal{mc.Sys.En, mc.Video.En, mc.Both}}, nil
}
