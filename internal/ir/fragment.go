package ir

import (
	"fmt"
	"iter"
	"strconv"

	"github.com/pkg/errors"

	"hdlkit/internal/ast"
	"hdlkit/internal/diag"
)

// PortDirection enumerates supported port directions.
type PortDirection int

const (
	Input PortDirection = iota
	Output
	InOut
)

func (d PortDirection) String() string {
	switch d {
	case Input:
		return "i"
	case Output:
		return "o"
	case InOut:
		return "io"
	default:
		return "?"
	}
}

// Platform is passed through elaboration untouched. The core never inspects
// it; nil is a valid platform.
type Platform any

// Elaboratable is anything that can be turned into a Fragment. Elaborate may
// return another Elaboratable, which is elaborated in turn.
type Elaboratable interface {
	Elaborate(p Platform) (Elaboratable, error)
}

// Get elaborates e until it yields a Fragment. Design errors raised as panics
// during elaboration are returned.
func Get(e Elaboratable, p Platform) (f *Fragment, err error) {
	defer ast.Recover(&err)
	for {
		if e == nil {
			return nil, errors.New("elaborate: object returned nil")
		}
		if frag, ok := e.(*Fragment); ok {
			return frag, nil
		}
		next, elabErr := e.Elaborate(p)
		if elabErr != nil {
			return nil, elabErr
		}
		e = next
	}
}

// Subfragment is a child of a fragment. An empty Name marks an anonymous child.
type Subfragment struct {
	Fragment *Fragment
	Name     string
}

// Fragment is one node of the hierarchical design IR.
type Fragment struct {
	Ports        *ast.SignalDict[PortDirection]
	Statements   []ast.Statement
	Subfragments []Subfragment
	// Generated holds named auxiliary objects, such as FSM state signals.
	Generated map[string]any
	Attrs     map[string]string
	// Flatten requests an unconditional merge into the parent.
	Flatten bool
	// Instance is set for opaque cells; such fragments carry no statements.
	Instance *Instance
	Loc      diag.SrcLoc

	driverOrder []string
	drivers     map[string]*ast.SignalSet
	domainOrder []string
	domains     map[string]*ast.ClockDomain
}

// NewFragment returns an empty fragment.
func NewFragment() *Fragment {
	return &Fragment{
		Ports:     ast.NewSignalDict[PortDirection](),
		Generated: make(map[string]any),
		Attrs:     make(map[string]string),
		drivers:   make(map[string]*ast.SignalSet),
		domains:   make(map[string]*ast.ClockDomain),
		Loc:       diag.Caller(1),
	}
}

// Elaborate returns the fragment itself.
func (f *Fragment) Elaborate(Platform) (Elaboratable, error) { return f, nil }

// AddPorts records signals as ports with the given direction.
func (f *Fragment) AddPorts(dir PortDirection, signals ...ast.Value) {
	for _, s := range signals {
		f.Ports.Set(s, dir)
	}
}

// IterPorts yields the ports, optionally restricted to some directions.
func (f *Fragment) IterPorts(dirs ...PortDirection) iter.Seq2[ast.Value, PortDirection] {
	return func(yield func(ast.Value, PortDirection) bool) {
		for s, d := range f.Ports.All() {
			if len(dirs) > 0 && !hasDir(dirs, d) {
				continue
			}
			if !yield(s, d) {
				return
			}
		}
	}
}

func hasDir(dirs []PortDirection, d PortDirection) bool {
	for _, x := range dirs {
		if x == d {
			return true
		}
	}
	return false
}

// portSet returns the ports of one direction.
func (f *Fragment) portSet(dir PortDirection) *ast.SignalSet {
	out := ast.NewSignalSet()
	for s := range f.IterPorts(dir) {
		out.Add(s)
	}
	return out
}

// AddDriver records that signal is driven in domain; ast.CombDomain marks
// combinational drivers.
func (f *Fragment) AddDriver(signal ast.Value, domain string) {
	set, ok := f.drivers[domain]
	if !ok {
		set = ast.NewSignalSet()
		f.drivers[domain] = set
		f.driverOrder = append(f.driverOrder, domain)
	}
	set.Add(signal)
}

// DriverDomains returns the domains with drivers, in first-use order.
func (f *Fragment) DriverDomains() []string {
	return append([]string(nil), f.driverOrder...)
}

// DriversOf returns the signals driven in domain.
func (f *Fragment) DriversOf(domain string) *ast.SignalSet {
	if set, ok := f.drivers[domain]; ok {
		return set.Clone()
	}
	return ast.NewSignalSet()
}

// IterDrivers yields every (domain, signal) driver pair.
func (f *Fragment) IterDrivers() iter.Seq2[string, ast.Value] {
	return func(yield func(string, ast.Value) bool) {
		for _, d := range f.driverOrder {
			for s := range f.drivers[d].All() {
				if !yield(d, s) {
					return
				}
			}
		}
	}
}

// IterComb yields the combinationally driven signals.
func (f *Fragment) IterComb() iter.Seq[ast.Value] {
	return f.drivers[ast.CombDomain].All()
}

// IterSync yields the (domain, signal) pairs of synchronous drivers.
func (f *Fragment) IterSync() iter.Seq2[string, ast.Value] {
	return func(yield func(string, ast.Value) bool) {
		for d, s := range f.IterDrivers() {
			if d == ast.CombDomain {
				continue
			}
			if !yield(d, s) {
				return
			}
		}
	}
}

// IterSignals yields ports followed by driven signals, each once.
func (f *Fragment) IterSignals() iter.Seq[ast.Value] {
	return func(yield func(ast.Value) bool) {
		seen := ast.NewSignalSet()
		for s := range f.Ports.All() {
			seen.Add(s)
			if !yield(s) {
				return
			}
		}
		for _, s := range f.IterDrivers() {
			if !seen.Add(s) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// AddDomains registers clock domains. A different domain under an existing
// name is a *ast.NameError; re-adding the same record is a no-op.
func (f *Fragment) AddDomains(cds ...*ast.ClockDomain) error {
	for _, cd := range cds {
		if existing, ok := f.domains[cd.Name]; ok {
			if existing.ID == cd.ID {
				continue
			}
			return &ast.NameError{Msg: fmt.Sprintf("clock domain named '%s' already exists", cd.Name), Loc: cd.Loc}
		}
		f.domains[cd.Name] = cd
		f.domainOrder = append(f.domainOrder, cd.Name)
	}
	return nil
}

// Domain returns the domain registered under name.
func (f *Fragment) Domain(name string) (*ast.ClockDomain, bool) {
	cd, ok := f.domains[name]
	return cd, ok
}

// Domains returns the registered domains in registration order.
func (f *Fragment) Domains() []*ast.ClockDomain {
	out := make([]*ast.ClockDomain, len(f.domainOrder))
	for i, name := range f.domainOrder {
		out[i] = f.domains[name]
	}
	return out
}

// AddStatements appends statements.
func (f *Fragment) AddStatements(stmts ...ast.Statement) {
	f.Statements = append(f.Statements, stmts...)
}

// AddSubfragment appends a child. An empty name makes the child anonymous.
func (f *Fragment) AddSubfragment(sub *Fragment, name string) {
	f.Subfragments = append(f.Subfragments, Subfragment{Fragment: sub, Name: name})
}

// FindSubfragment looks a child up by name, or by "#<index>".
func (f *Fragment) FindSubfragment(nameOrIndex string) (*Fragment, error) {
	if len(nameOrIndex) > 1 && nameOrIndex[0] == '#' {
		if i, err := strconv.Atoi(nameOrIndex[1:]); err == nil {
			if i < 0 || i >= len(f.Subfragments) {
				return nil, &ast.NameError{Msg: fmt.Sprintf("no subfragment at index #%d", i)}
			}
			return f.Subfragments[i].Fragment, nil
		}
	}
	for _, sub := range f.Subfragments {
		if sub.Name != "" && sub.Name == nameOrIndex {
			return sub.Fragment, nil
		}
	}
	return nil, &ast.NameError{Msg: fmt.Sprintf("no subfragment with name '%s'", nameOrIndex)}
}

// FindGenerated resolves a generated object through the subfragment path,
// e.g. FindGenerated("core", "fsm").
func (f *Fragment) FindGenerated(path ...string) (any, error) {
	if len(path) == 0 {
		return nil, &ast.NameError{Msg: "empty generated object path"}
	}
	if len(path) > 1 {
		sub, err := f.FindSubfragment(path[0])
		if err != nil {
			return nil, err
		}
		return sub.FindGenerated(path[1:]...)
	}
	obj, ok := f.Generated[path[0]]
	if !ok {
		return nil, &ast.NameError{Msg: fmt.Sprintf("no generated object named '%s'", path[0])}
	}
	return obj, nil
}

// mergeSubfragment splices sub into f: ports, drivers, statements and
// grandchildren move to f and sub is removed from the child list.
func (f *Fragment) mergeSubfragment(sub *Fragment) {
	for s, dir := range sub.Ports.All() {
		f.Ports.Set(s, dir)
	}
	for d, s := range sub.IterDrivers() {
		f.AddDriver(s, d)
	}
	f.AddStatements(sub.Statements...)
	grandchildren := sub.Subfragments
	for i, child := range f.Subfragments {
		if child.Fragment == sub {
			f.Subfragments = append(f.Subfragments[:i:i], f.Subfragments[i+1:]...)
			f.Subfragments = append(f.Subfragments, grandchildren...)
			return
		}
	}
	panic("ir: merged fragment is not a child")
}

// hierName returns the path component of the i-th child.
func (f *Fragment) hierName(i int) string {
	if name := f.Subfragments[i].Name; name != "" {
		return name
	}
	return fmt.Sprintf("<unnamed #%d>", i)
}
