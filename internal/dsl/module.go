package dsl

import (
	"fmt"
	"slices"
	"strings"

	"hdlkit/internal/ast"
	"hdlkit/internal/diag"
	"hdlkit/internal/ir"
)

type ctrlKind int

const (
	ctrlNone ctrlKind = iota
	ctrlIf
	ctrlSwitch
	ctrlFSM
)

func (k ctrlKind) String() string {
	switch k {
	case ctrlIf:
		return "If"
	case ctrlSwitch:
		return "Switch"
	case ctrlFSM:
		return "FSM"
	default:
		return "<none>"
	}
}

// ctrl is an open control construct. If chains stay open after their last
// branch so that Elif and Else can extend them.
type ctrl struct {
	kind  ctrlKind
	loc   diag.SrcLoc
	depth int

	tests  []ast.Value
	bodies [][]ast.Statement

	test  ast.Value
	cases []ast.SwitchCase

	fsm    *FSM
	states []string
	bodyOf map[string][]ast.Statement
}

type namedSubmodule struct {
	name string
	elab ir.Elaboratable
}

// Option configures a Module.
type Option func(*Module)

// WithReporter routes builder warnings to r.
func WithReporter(r *diag.Reporter) Option {
	return func(m *Module) { m.reporter = r }
}

// Module builds a fragment from nested control constructs. Statements are
// added to a domain with Comb, Sync or Domain; control flow is expressed with
// If/Elif/Else, Switch/Case/Default and FSM/State/Next, each taking the body
// as a function.
//
// Misuse panics with an *ast.SyntaxError, *ast.NameError,
// *ast.DriverConflictError or *ast.DomainError; Elaborate and ir.Get recover
// them into errors.
type Module struct {
	arena    *ast.Arena
	reporter *diag.Reporter

	context    ctrlKind
	stack      []*ctrl
	depth      int
	statements []ast.Statement
	driving    *ast.SignalDict[string]

	named     []namedSubmodule
	anonymous []ir.Elaboratable
	domains   []*ast.ClockDomain
	generated map[string]any
}

// NewModule returns an empty module builder allocating signals from a.
func NewModule(a *ast.Arena, opts ...Option) *Module {
	m := &Module{
		arena:     a,
		reporter:  diag.Discard(),
		driving:   ast.NewSignalDict[string](),
		generated: make(map[string]any),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Arena returns the arena the module allocates from.
func (m *Module) Arena() *ast.Arena { return m.arena }

// Comb adds statements to the combinational domain.
func (m *Module) Comb(stmts ...ast.Statement) { m.addStatements(ast.CombDomain, stmts) }

// Sync adds statements to the default synchronous domain.
func (m *Module) Sync(stmts ...ast.Statement) { m.addStatements(ast.SyncDomain, stmts) }

// Domain adds statements to the named domain.
func (m *Module) Domain(name string, stmts ...ast.Statement) { m.addStatements(name, stmts) }

func (m *Module) checkContext(construct string, want ctrlKind) {
	if m.context == want {
		return
	}
	loc := diag.Caller(2)
	if m.context == ctrlNone {
		panic(&ast.SyntaxError{Msg: fmt.Sprintf("%s is not permitted outside of %s", construct, want), Loc: loc})
	}
	secondary := "Case"
	if m.context == ctrlFSM {
		secondary = "State"
	}
	panic(&ast.SyntaxError{
		Msg: fmt.Sprintf("%s is not permitted directly inside of %s; it is permitted inside of %s %s",
			construct, m.context, m.context, secondary),
		Loc: loc,
	})
}

func (m *Module) topCtrl(kind ctrlKind) *ctrl {
	if len(m.stack) == 0 {
		return nil
	}
	if top := m.stack[len(m.stack)-1]; top.kind == kind {
		return top
	}
	return nil
}

func (m *Module) flushCtrl() {
	for len(m.stack) > m.depth {
		m.popCtrl()
	}
}

func (m *Module) pushCtrl(c *ctrl) *ctrl {
	m.flushCtrl()
	c.depth = m.depth
	m.stack = append(m.stack, c)
	return c
}

// body runs fn with a fresh statement list and returns what it added.
func (m *Module) body(fn func()) (stmts []ast.Statement) {
	outer := m.statements
	m.statements = nil
	defer func() { m.statements = outer }()
	if fn != nil {
		fn()
	}
	m.flushCtrl()
	return m.statements
}

func (m *Module) checkCond(cond any) ast.Value {
	v := ast.Cast(cond)
	if v.Shape().Signed {
		m.reporter.Warning(diag.Caller(2),
			"signed values in If/Elif conditions usually come from inverting a boolean with Not(), "+
				"which is truthful for every 1-bit input; compare explicitly or use Bool() to silence this warning")
	}
	return v
}

// If opens a conditional chain. Elif and Else directly following it at the
// same level extend the chain.
func (m *Module) If(cond any, fn func()) {
	m.checkContext("If", ctrlNone)
	test := m.checkCond(cond)
	c := m.pushCtrl(&ctrl{kind: ctrlIf, loc: diag.Caller(1)})
	m.depth++
	defer func() { m.depth-- }()
	body := m.body(fn)
	c.tests = append(c.tests, test)
	c.bodies = append(c.bodies, body)
}

// Elif extends the preceding If.
func (m *Module) Elif(cond any, fn func()) {
	m.checkContext("Elif", ctrlNone)
	test := m.checkCond(cond)
	c := m.topCtrl(ctrlIf)
	if c == nil || c.depth != m.depth || len(c.tests) == 0 {
		panic(&ast.SyntaxError{Msg: "Elif without preceding If", Loc: diag.Caller(1)})
	}
	m.depth++
	defer func() { m.depth-- }()
	body := m.body(fn)
	c.tests = append(c.tests, test)
	c.bodies = append(c.bodies, body)
}

// Else closes the preceding If chain.
func (m *Module) Else(fn func()) {
	m.checkContext("Else", ctrlNone)
	c := m.topCtrl(ctrlIf)
	if c == nil || c.depth != m.depth {
		panic(&ast.SyntaxError{Msg: "Else without preceding If/Elif", Loc: diag.Caller(1)})
	}
	m.depth++
	body := m.body(fn)
	m.depth--
	c.bodies = append(c.bodies, body)
	m.popCtrl()
}

// Switch opens a multiway branch on test; fn may only call Case and Default.
func (m *Module) Switch(test any, fn func()) {
	m.checkContext("Switch", ctrlNone)
	m.pushCtrl(&ctrl{kind: ctrlSwitch, loc: diag.Caller(1), test: ast.Cast(test)})
	m.context = ctrlSwitch
	m.depth++
	func() {
		defer func() {
			m.depth--
			m.context = ctrlNone
		}()
		if fn != nil {
			fn()
		}
	}()
	m.popCtrl()
}

// Case adds an arm to the enclosing Switch. Patterns are integers or strings
// of 0, 1 and - bits. An integer pattern wider than the switch value can never
// match; it is dropped with a warning, and an arm left with no patterns is
// omitted entirely. A Case with no patterns always matches.
func (m *Module) Case(fn func(), patterns ...any) {
	m.checkContext("Case", ctrlSwitch)
	loc := diag.Caller(1)
	c := m.topCtrl(ctrlSwitch)
	width := c.test.Len()
	var kept []string
	for _, p := range patterns {
		norm, ok := ast.NormalizePattern(p, width)
		if !ok {
			m.reporter.Warning(loc, fmt.Sprintf("case pattern '%b' is wider than switch value (which has width %d); comparison will never be true", p, width))
			continue
		}
		kept = append(kept, norm)
	}
	m.context = ctrlNone
	defer func() { m.context = ctrlSwitch }()
	body := m.body(fn)
	if len(patterns) > 0 && len(kept) == 0 {
		return
	}
	c.cases = setCase(c.cases, ast.SwitchCase{Patterns: kept, Body: body})
}

// Default adds an arm matching every value not matched by an earlier arm.
func (m *Module) Default(fn func()) {
	m.checkContext("Default", ctrlSwitch)
	c := m.topCtrl(ctrlSwitch)
	m.context = ctrlNone
	defer func() { m.context = ctrlSwitch }()
	body := m.body(fn)
	c.cases = setCase(c.cases, ast.SwitchCase{Body: body})
}

func setCase(cases []ast.SwitchCase, c ast.SwitchCase) []ast.SwitchCase {
	i := slices.IndexFunc(cases, func(e ast.SwitchCase) bool { return slices.Equal(e.Patterns, c.Patterns) })
	if i >= 0 {
		cases[i] = c
		return cases
	}
	return append(cases, c)
}

func (m *Module) popCtrl() {
	c := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]

	switch c.kind {
	case ctrlIf:
		m.statements = append(m.statements, lowerIf(c))
	case ctrlSwitch:
		m.statements = append(m.statements, ast.NewSwitch(c.test, c.cases...))
	case ctrlFSM:
		if sw := c.fsm.lower(c); sw != nil {
			m.statements = append(m.statements, sw)
		}
	}
}

// lowerIf turns an If/Elif/Else chain into a priority switch over the
// concatenated conditions: branch i matches when condition i is set, whatever
// the later bits hold; Else matches anything.
func lowerIf(c *ctrl) *ast.Switch {
	n := len(c.tests)
	tests := make([]any, 0, n)
	cases := make([]ast.SwitchCase, 0, len(c.bodies))
	for i, body := range c.bodies {
		var pattern string
		if i < n {
			t := c.tests[i]
			if t.Len() != 1 {
				t = t.Bool()
			}
			tests = append(tests, t)
			pattern = strings.Repeat("-", n-i-1) + "1" + strings.Repeat("-", i)
		} else {
			pattern = strings.Repeat("-", n)
		}
		cases = append(cases, ast.SwitchCase{Patterns: []string{pattern}, Body: body})
	}
	return ast.NewSwitch(ast.Cat(tests...), cases...)
}

func (m *Module) addStatements(domain string, stmts []ast.Statement) {
	m.checkContext("adding statements to "+domain, ctrlNone)
	m.flushCtrl()
	loc := diag.Caller(2)
	for _, st := range stmts {
		switch st.(type) {
		case *ast.Assign, *ast.Property:
		default:
			panic(&ast.SyntaxError{Msg: fmt.Sprintf("only assignments and property checks may be added to domain %q", domain), Loc: loc})
		}
		injected := []ast.Statement{st}
		if domain != ast.CombDomain {
			injected = ast.InjectSampleDomain(domain, st)
		}
		for s := range st.LHSSignals().All() {
			cur, ok := m.driving.Get(s)
			if !ok {
				m.driving.Set(s, domain)
				continue
			}
			if cur != domain {
				panic(&ast.DriverConflictError{
					Msg: fmt.Sprintf("driver-driver conflict: trying to drive %s from domain %q, but it is already driven from domain %q", s, domain, cur),
					Loc: loc,
				})
			}
		}
		m.statements = append(m.statements, injected...)
	}
}

// AddSubmodule adds a child. An empty name makes it anonymous.
func (m *Module) AddSubmodule(name string, sub ir.Elaboratable) {
	loc := diag.Caller(1)
	if sub == nil {
		panic(&ast.SyntaxError{Msg: "trying to add a nil submodule", Loc: loc})
	}
	if name == "" {
		m.anonymous = append(m.anonymous, sub)
		return
	}
	if slices.ContainsFunc(m.named, func(n namedSubmodule) bool { return n.name == name }) {
		panic(&ast.NameError{Msg: fmt.Sprintf("submodule named '%s' already exists", name), Loc: loc})
	}
	m.named = append(m.named, namedSubmodule{name: name, elab: sub})
}

// Submodule returns the named child.
func (m *Module) Submodule(name string) ir.Elaboratable {
	for _, n := range m.named {
		if n.name == name {
			return n.elab
		}
	}
	panic(&ast.NameError{Msg: fmt.Sprintf("no submodule named '%s' exists", name), Loc: diag.Caller(1)})
}

// AddDomain declares clock domains owned by this module.
func (m *Module) AddDomain(cds ...*ast.ClockDomain) {
	for _, cd := range cds {
		if slices.ContainsFunc(m.domains, func(d *ast.ClockDomain) bool { return d.Name == cd.Name }) {
			panic(&ast.NameError{Msg: fmt.Sprintf("clock domain named '%s' already exists", cd.Name), Loc: diag.Caller(1)})
		}
		m.domains = append(m.domains, cd)
	}
}

// Elaborate closes every open construct and returns the fragment. Named
// submodules come first in insertion order, then anonymous ones.
func (m *Module) Elaborate(p ir.Platform) (_ ir.Elaboratable, err error) {
	defer ast.Recover(&err)
	for len(m.stack) > 0 {
		m.popCtrl()
	}

	f := ir.NewFragment()
	for _, n := range m.named {
		sub, err := ir.Get(n.elab, p)
		if err != nil {
			return nil, err
		}
		f.AddSubfragment(sub, n.name)
	}
	for _, e := range m.anonymous {
		sub, err := ir.Get(e, p)
		if err != nil {
			return nil, err
		}
		f.AddSubfragment(sub, "")
	}
	f.AddStatements(ast.InjectSampleDomain(ast.SyncDomain, m.statements...)...)
	for s, domain := range m.driving.All() {
		f.AddDriver(s, domain)
	}
	if err := f.AddDomains(m.domains...); err != nil {
		return nil, err
	}
	for name, g := range m.generated {
		f.Generated[name] = g
	}
	return f, nil
}
