package ir

import (
	"fmt"

	"hdlkit/internal/ast"
	"hdlkit/internal/diag"
)

// PortOption configures a memory port.
type PortOption func(*portConfig)

type portConfig struct {
	domain      string
	transparent bool
	granularity int
}

// PortDomain sets the clock domain of a port; ast.CombDomain makes a read
// port asynchronous.
func PortDomain(domain string) PortOption { return func(c *portConfig) { c.domain = domain } }

// Transparent controls whether a synchronous read port returns data written
// in the same cycle.
func Transparent(on bool) PortOption { return func(c *portConfig) { c.transparent = on } }

// Granularity sets the number of data bits controlled by each write enable bit.
func Granularity(bits int) PortOption { return func(c *portConfig) { c.granularity = bits } }

func addrShape(m *ast.Memory) ast.Shape {
	return ast.Unsigned(ast.BitsFor(int64(max(m.Depth-1, 0)), false))
}

// ReadPort is a read port onto a memory.
type ReadPort struct {
	Memory      *ast.Memory
	Domain      string
	Transparent bool
	Addr        *ast.Signal
	Data        *ast.Signal
	En          ast.Value
}

// NewReadPort allocates the address, data and enable signals of a read port.
func NewReadPort(a *ast.Arena, m *ast.Memory, opts ...PortOption) *ReadPort {
	cfg := portConfig{domain: ast.SyncDomain, transparent: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.domain == ast.CombDomain && !cfg.transparent {
		panic(&ast.SyntaxError{Msg: "read port cannot be simultaneously asynchronous and non-transparent", Loc: diag.Caller(1)})
	}
	p := &ReadPort{
		Memory:      m,
		Domain:      cfg.domain,
		Transparent: cfg.transparent,
		Addr:        a.Signal(addrShape(m), ast.Name(m.Name+"_r_addr"), ast.ResetLess()),
		Data:        a.Signal(ast.Unsigned(m.Width), ast.Name(m.Name+"_r_data"), ast.ResetLess()),
	}
	if cfg.domain != ast.CombDomain && !cfg.transparent {
		p.En = a.Signal(ast.Unsigned(1), ast.Name(m.Name+"_r_en"), ast.Reset(1))
	} else {
		p.En = ast.C(1, ast.Unsigned(1))
	}
	return p
}

// Elaborate returns the $memrd cell.
func (p *ReadPort) Elaborate(Platform) (Elaboratable, error) {
	var clk ast.Value = ast.C(0, ast.Unsigned(1))
	if p.Domain != ast.CombDomain {
		clk = ast.NewClockSignal(p.Domain)
	}
	return NewInstance("$memrd",
		Param("MEMID", p.Memory),
		Param("ABITS", p.Addr.Len()),
		Param("WIDTH", p.Data.Len()),
		Param("CLK_ENABLE", p.Domain != ast.CombDomain),
		Param("CLK_POLARITY", 1),
		Param("TRANSPARENT", p.Transparent),
		In("CLK", clk),
		In("EN", p.En),
		In("ADDR", p.Addr),
		Out("DATA", p.Data),
	), nil
}

// WritePort is a synchronous write port onto a memory.
type WritePort struct {
	Memory      *ast.Memory
	Domain      string
	Granularity int
	Addr        *ast.Signal
	Data        *ast.Signal
	En          *ast.Signal
}

// NewWritePort allocates the address, data and enable signals of a write port.
func NewWritePort(a *ast.Arena, m *ast.Memory, opts ...PortOption) *WritePort {
	cfg := portConfig{domain: ast.SyncDomain, granularity: m.Width}
	for _, opt := range opts {
		opt(&cfg)
	}
	loc := diag.Caller(1)
	if cfg.domain == ast.CombDomain {
		panic(&ast.DomainError{Msg: "write port cannot be asynchronous", Loc: loc})
	}
	if cfg.granularity <= 0 && m.Width > 0 {
		panic(&ast.ShapeError{Msg: fmt.Sprintf("write port granularity must be a positive integer, not %d", cfg.granularity), Loc: loc})
	}
	enWidth := 1
	if m.Width > 0 {
		if m.Width%cfg.granularity != 0 {
			panic(&ast.ShapeError{Msg: fmt.Sprintf("write port granularity must divide memory width (%d %% %d != 0)", m.Width, cfg.granularity), Loc: loc})
		}
		enWidth = m.Width / cfg.granularity
	}
	return &WritePort{
		Memory:      m,
		Domain:      cfg.domain,
		Granularity: cfg.granularity,
		Addr:        a.Signal(addrShape(m), ast.Name(m.Name+"_w_addr"), ast.ResetLess()),
		Data:        a.Signal(ast.Unsigned(m.Width), ast.Name(m.Name+"_w_data"), ast.ResetLess()),
		En:          a.Signal(ast.Unsigned(enWidth), ast.Name(m.Name+"_w_en")),
	}
}

// Elaborate returns the $memwr cell.
func (p *WritePort) Elaborate(Platform) (Elaboratable, error) {
	enBits := make([]any, p.En.Len())
	for i := range enBits {
		enBits[i] = ast.Repl(p.En.Bit(i), p.Granularity)
	}
	return NewInstance("$memwr",
		Param("MEMID", p.Memory),
		Param("ABITS", p.Addr.Len()),
		Param("WIDTH", p.Data.Len()),
		Param("CLK_ENABLE", true),
		Param("CLK_POLARITY", 1),
		Param("PRIORITY", 0),
		In("CLK", ast.NewClockSignal(p.Domain)),
		In("EN", ast.Cat(enBits...)),
		In("ADDR", p.Addr),
		In("DATA", p.Data),
	), nil
}
