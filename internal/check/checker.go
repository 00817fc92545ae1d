package check

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"hdlkit/internal/ast"
	"hdlkit/internal/diag"
	"hdlkit/internal/ir"
)

// Fragment validates that a prepared fragment tree only uses the constructs
// an emitter can consume: no unresolved clock, reset, sample or initial
// references, drivers in known domains, well-formed switch patterns, one
// driving fragment per signal and connected subfragment ports. Every issue is
// reported through reporter.
func Fragment(f *ir.Fragment, reporter *diag.Reporter) error {
	if f == nil {
		return errors.New("no fragment provided for checking")
	}
	if reporter == nil {
		return errors.New("no reporter provided for checking")
	}
	c := &checker{
		reporter: reporter,
		drivenBy: ast.NewSignalDict[string](),
	}
	c.run(f, []string{"top"})
	if c.errCount > 0 {
		return errors.Errorf("check failed with %d issue(s)", c.errCount)
	}
	return nil
}

type checker struct {
	reporter *diag.Reporter
	errCount int
	drivenBy *ast.SignalDict[string]
}

func (c *checker) run(f *ir.Fragment, hierarchy []string) {
	path := strings.Join(hierarchy, ".")
	if f.Instance != nil {
		for _, p := range f.Instance.Ports {
			c.checkValue(p.Value, path)
		}
	}
	for _, st := range f.Statements {
		c.checkStatement(st, path)
	}
	c.checkDrivers(f, path)
	c.checkChildPorts(f, path)
	for i, sub := range f.Subfragments {
		c.run(sub.Fragment, append(slices.Clip(hierarchy), childName(i, sub)))
	}
}

func childName(i int, sub ir.Subfragment) string {
	if sub.Name != "" {
		return sub.Name
	}
	return fmt.Sprintf("<unnamed #%d>", i)
}

// checkValue reports references that only exist before lowering.
func (c *checker) checkValue(v ast.Value, path string) {
	t := &ast.Transformer{
		OnClockSignal: func(s *ast.ClockSignal) ast.Value {
			c.error(s.SrcLoc(), "clock of domain '%s' was not lowered in fragment %s", s.Domain, path)
			return s
		},
		OnResetSignal: func(s *ast.ResetSignal) ast.Value {
			c.error(s.SrcLoc(), "reset of domain '%s' was not lowered in fragment %s", s.Domain, path)
			return s
		},
		OnSample: func(s *ast.Sample) ast.Value {
			c.error(s.SrcLoc(), "sample %s was not lowered in fragment %s", s, path)
			return s
		},
		OnInitial: func(s *ast.Initial) ast.Value {
			c.error(s.SrcLoc(), "initial was not lowered in fragment %s", path)
			return s
		},
	}
	t.Value(v)
}

func (c *checker) checkStatement(st ast.Statement, path string) {
	switch s := st.(type) {
	case *ast.Assign:
		c.checkValue(s.LHS, path)
		c.checkValue(s.RHS, path)
	case *ast.Property:
		c.checkValue(s.Test, path)
	case *ast.Switch:
		c.checkValue(s.Test, path)
		width := s.Test.Len()
		for _, cs := range s.Cases {
			for _, p := range cs.Patterns {
				if len(p) != width {
					c.error(s.SrcLoc(), "switch pattern '%s' does not match the width %d of %s in fragment %s", p, width, s.Test, path)
				}
			}
			for _, inner := range cs.Body {
				c.checkStatement(inner, path)
			}
		}
	default:
		panic(fmt.Sprintf("check: unknown statement %T", st))
	}
}

func (c *checker) checkDrivers(f *ir.Fragment, path string) {
	for d, s := range f.IterDrivers() {
		if d != ast.CombDomain {
			if _, ok := f.Domain(d); !ok {
				c.error(s.SrcLoc(), "%s is driven from undefined domain '%s' in fragment %s", s, d, path)
			}
		}
		if _, ok := s.(*ast.Signal); !ok {
			c.error(s.SrcLoc(), "driver %s of fragment %s is not a concrete signal", s, path)
			continue
		}
		if prev, ok := c.drivenBy.Get(s); ok && prev != path {
			c.error(s.SrcLoc(), "%s is driven from multiple fragments: %s, %s", s, prev, path)
			continue
		}
		c.drivenBy.Set(s, path)
	}
}

// checkChildPorts verifies that every child port is connected: inputs come
// from the parent, a parent port or a sibling output; outputs go to the
// parent, a parent port or a sibling input; inouts are always propagated.
func (c *checker) checkChildPorts(f *ir.Fragment, path string) {
	if len(f.Subfragments) == 0 {
		return
	}
	driven := ast.NewSignalSet()
	used := ast.NewSignalSet()
	for _, st := range f.Statements {
		driven.AddAll(st.LHSSignals())
		used.AddAll(st.RHSSignals())
	}
	for _, d := range f.DriverDomains() {
		if cd, ok := f.Domain(d); ok {
			used.Add(cd.Clk)
			if cd.Rst != nil {
				used.Add(cd.Rst)
			}
		}
	}
	siblingHas := func(self int, s ast.Value, dir ir.PortDirection) bool {
		for i, sub := range f.Subfragments {
			if i == self {
				continue
			}
			if d, ok := sub.Fragment.Ports.Get(s); ok && d == dir {
				return true
			}
		}
		return false
	}

	for i, sub := range f.Subfragments {
		for s, dir := range sub.Fragment.Ports.All() {
			connected := f.Ports.Has(s)
			switch dir {
			case ir.Input:
				connected = connected || driven.Has(s) || siblingHas(i, s, ir.Output)
			case ir.Output:
				connected = connected || used.Has(s) || siblingHas(i, s, ir.Input)
			}
			if !connected {
				c.error(s.SrcLoc(), "%s port %s of subfragment '%s' is not connected in fragment %s",
					dir, s, childName(i, sub), path)
			}
		}
	}
}

func (c *checker) error(loc diag.SrcLoc, format string, args ...any) {
	c.errCount++
	if c.reporter != nil {
		c.reporter.Error(loc, fmt.Sprintf(format, args...))
	}
}
