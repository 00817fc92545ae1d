package dsl

import (
	"fmt"
	"slices"

	"hdlkit/internal/ast"
	"hdlkit/internal/diag"
)

// FSM is a finite state machine built with Module.FSM. States are encoded in
// first-seen order; the reset state always has encoding 0.
type FSM struct {
	Name   string
	Domain string
	// State holds the current state encoding. Its width is fixed once the
	// FSM body returns.
	State *ast.Signal

	reset    string
	encoding map[string]int64
	order    []string
}

// FSMOption configures an FSM.
type FSMOption func(*FSM)

// FSMName sets the FSM name; the state register is called "<name>_state".
func FSMName(name string) FSMOption { return func(f *FSM) { f.Name = name } }

// FSMDomain sets the domain clocking the state register.
func FSMDomain(domain string) FSMOption { return func(f *FSM) { f.Domain = domain } }

// FSMReset names the reset state. The first declared state is used otherwise.
func FSMReset(state string) FSMOption { return func(f *FSM) { f.reset = state } }

func (f *FSM) encode(name string) int64 {
	if enc, ok := f.encoding[name]; ok {
		return enc
	}
	enc := int64(len(f.order))
	f.encoding[name] = enc
	f.order = append(f.order, name)
	return enc
}

// Encoding returns the encoding of a state seen so far.
func (f *FSM) Encoding(name string) (int64, bool) {
	enc, ok := f.encoding[name]
	return enc, ok
}

// States returns the state names in encoding order.
func (f *FSM) States() []string { return slices.Clone(f.order) }

// Ongoing is true while the FSM is in the named state.
func (f *FSM) Ongoing(name string) ast.Value {
	return f.State.Equals(f.encode(name))
}

func (f *FSM) decode(v int64) string {
	if v >= 0 && int(v) < len(f.order) {
		return fmt.Sprintf("%s/%d", f.order[v], v)
	}
	return fmt.Sprint(v)
}

// lower sizes the state register and returns the state dispatch switch, or
// nil when no state was defined.
func (f *FSM) lower(c *ctrl) *ast.Switch {
	if len(c.states) == 0 {
		return nil
	}
	width := ast.BitsFor(int64(len(f.order)-1), false)
	reset := f.encoding[c.states[0]]
	if f.reset != "" {
		reset = f.encoding[f.reset]
	}
	f.State.Reshape(ast.Unsigned(width), reset)
	f.State.Decoder = f.decode

	cases := make([]ast.SwitchCase, 0, len(c.states))
	for _, name := range c.states {
		cases = append(cases, ast.SwitchCase{
			Patterns: []string{ast.Pattern(f.encoding[name], width)},
			Body:     c.bodyOf[name],
		})
	}
	return ast.NewSwitch(f.State, cases...)
}

// FSM opens a state machine; fn may only call State. The returned FSM is
// also recorded under its name in the fragment's generated objects.
func (m *Module) FSM(fn func(*FSM), opts ...FSMOption) *FSM {
	m.checkContext("FSM", ctrlNone)
	loc := diag.Caller(1)
	f := &FSM{Name: "fsm", Domain: ast.SyncDomain, encoding: make(map[string]int64)}
	for _, opt := range opts {
		opt(f)
	}
	if f.Domain == ast.CombDomain {
		panic(&ast.DomainError{Msg: fmt.Sprintf("FSM may not be driven by the '%s' domain", f.Domain), Loc: loc})
	}
	f.State = m.arena.Signal(ast.Unsigned(1), ast.Name(f.Name+"_state"))
	if f.reset != "" {
		f.encode(f.reset)
	}
	m.generated[f.Name] = f

	c := m.pushCtrl(&ctrl{kind: ctrlFSM, loc: loc, fsm: f, bodyOf: make(map[string][]ast.Statement)})
	m.context = ctrlFSM
	m.depth++
	func() {
		defer func() {
			m.depth--
			m.context = ctrlNone
		}()
		if fn != nil {
			fn(f)
		}
		for _, name := range f.order {
			if _, ok := c.bodyOf[name]; !ok {
				panic(&ast.NameError{Msg: fmt.Sprintf("FSM state '%s' is referenced but not defined", name), Loc: loc})
			}
		}
	}()
	m.popCtrl()
	return f
}

// State defines the body of a state of the enclosing FSM.
func (m *Module) State(name string, fn func()) {
	m.checkContext("State", ctrlFSM)
	c := m.topCtrl(ctrlFSM)
	if _, ok := c.bodyOf[name]; ok {
		panic(&ast.NameError{Msg: fmt.Sprintf("FSM state '%s' is already defined", name), Loc: diag.Caller(1)})
	}
	c.fsm.encode(name)
	m.context = ctrlNone
	defer func() { m.context = ctrlFSM }()
	c.bodyOf[name] = m.body(fn)
	c.states = append(c.states, name)
}

// Next schedules a transition of the innermost enclosing FSM.
func (m *Module) Next(name string) {
	if m.context != ctrlFSM {
		for i := len(m.stack) - 1; i >= 0; i-- {
			c := m.stack[i]
			if c.kind != ctrlFSM {
				continue
			}
			f := c.fsm
			m.addStatements(f.Domain, []ast.Statement{f.State.Eq(f.encode(name))})
			return
		}
	}
	panic(&ast.SyntaxError{Msg: "Next is only permitted inside an FSM state", Loc: diag.Caller(1)})
}
