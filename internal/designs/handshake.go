package designs

import (
	"hdlkit/internal/ast"
	"hdlkit/internal/dsl"
	"hdlkit/internal/ir"
)

// Handshake waits for Start, holds Busy until Done and then pulses Ack for
// one cycle.
type Handshake struct {
	arena *ast.Arena
	Start *ast.Signal
	Done  *ast.Signal
	Busy  *ast.Signal
	Ack   *ast.Signal
}

func NewHandshake(a *ast.Arena) *Handshake {
	return &Handshake{
		arena: a,
		Start: a.Signal(ast.Unsigned(1), ast.Name("start")),
		Done:  a.Signal(ast.Unsigned(1), ast.Name("done")),
		Busy:  a.Signal(ast.Unsigned(1), ast.Name("busy")),
		Ack:   a.Signal(ast.Unsigned(1), ast.Name("ack")),
	}
}

func (h *Handshake) Elaborate(ir.Platform) (ir.Elaboratable, error) {
	m := dsl.NewModule(h.arena)
	m.FSM(func(*dsl.FSM) {
		m.State("IDLE", func() {
			m.If(h.Start, func() { m.Next("BUSY") })
		})
		m.State("BUSY", func() {
			m.Comb(h.Busy.Eq(1))
			m.If(h.Done, func() { m.Next("ACK") })
		})
		m.State("ACK", func() {
			m.Comb(h.Ack.Eq(1))
			m.Next("IDLE")
		})
	})
	return m, nil
}

func buildHandshake(a *ast.Arena) (*Top, error) {
	h := NewHandshake(a)
	return &Top{Elaboratable: h, Ports: []*ast.Signal{h.Start, h.Done, h.Busy, h.Ack}}, nil
}
