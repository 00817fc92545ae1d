package dsl

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"hdlkit/internal/ast"
	"hdlkit/internal/diag"
	"hdlkit/internal/ir"
)

func catch(fn func()) (err error) {
	defer ast.Recover(&err)
	fn()
	return nil
}

func bit(a *ast.Arena, name string) *ast.Signal {
	return a.Signal(ast.Unsigned(1), ast.Name(name))
}

func TestIfElifElseLowering(t *testing.T) {
	a := ast.NewArena()
	s1, s2 := bit(a, "s1"), bit(a, "s2")
	c1, c2, c3 := bit(a, "c1"), bit(a, "c2"), bit(a, "c3")

	m := NewModule(a)
	m.If(s1, func() { m.Comb(c1.Eq(1)) })
	m.Elif(s2, func() { m.Comb(c2.Eq(1)) })
	m.Else(func() { m.Comb(c3.Eq(1)) })
	m.Comb(c1.Eq(0))

	want := strings.Join([]string{
		"(switch (cat (sig s1) (sig s2))" +
			" (case -1 (eq (sig c1) (const 1'd1)))" +
			" (case 1- (eq (sig c2) (const 1'd1)))" +
			" (case -- (eq (sig c3) (const 1'd1))))",
		"(eq (sig c1) (const 1'd0))",
	}, "\n")
	if diff := cmp.Diff(want, ast.FormatStatements(m.statements)); diff != "" {
		t.Fatalf("unexpected statements (-want +got):\n%s", diff)
	}
}

func TestIfChainClosedBySibling(t *testing.T) {
	a := ast.NewArena()
	s1, s2 := bit(a, "s1"), bit(a, "s2")
	c1, c2 := bit(a, "c1"), bit(a, "c2")

	m := NewModule(a)
	m.If(s1, func() { m.Comb(c1.Eq(1)) })
	m.If(s2, func() { m.Comb(c2.Eq(1)) })
	m.Elif(s1, func() { m.Comb(c1.Eq(0)) })

	_, err := m.Elaborate(nil)
	require.NoError(t, err)
	if len(m.statements) != 2 {
		t.Fatalf("expected two separate switches, got:\n%s", ast.FormatStatements(m.statements))
	}
	want := "(switch (cat (sig s2) (sig s1)) (case -1 (eq (sig c2) (const 1'd1))) (case 1- (eq (sig c1) (const 1'd0))))"
	if got := m.statements[1].String(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestNestedIf(t *testing.T) {
	a := ast.NewArena()
	s1, s2 := bit(a, "s1"), bit(a, "s2")
	c1 := bit(a, "c1")

	m := NewModule(a)
	m.If(s1, func() {
		m.If(s2, func() { m.Comb(c1.Eq(1)) })
	})
	want := "(switch (cat (sig s1)) (case 1 (switch (cat (sig s2)) (case 1 (eq (sig c1) (const 1'd1))))))"
	m.flushCtrl()
	if got := ast.FormatStatements(m.statements); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestIfWideConditionIsReduced(t *testing.T) {
	a := ast.NewArena()
	s := a.Signal(ast.Unsigned(4), ast.Name("s"))
	c := bit(a, "c")

	m := NewModule(a)
	m.If(s, func() { m.Comb(c.Eq(1)) })
	m.flushCtrl()
	want := "(switch (cat (b (sig s))) (case 1 (eq (sig c) (const 1'd1))))"
	if got := ast.FormatStatements(m.statements); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestSignedConditionWarns(t *testing.T) {
	a := ast.NewArena()
	s := a.Signal(ast.Signed(1), ast.Name("s"))
	c := bit(a, "c")

	var buf bytes.Buffer
	r := diag.NewReporter(&buf, "text")
	m := NewModule(a, WithReporter(r))
	m.If(s, func() { m.Comb(c.Eq(1)) })
	if r.Count(diag.SeverityWarning) != 1 {
		t.Fatalf("expected one warning, got %d", r.Count(diag.SeverityWarning))
	}
	require.Contains(t, r.Diagnostics()[0].Message, "signed values in If/Elif conditions")
}

func TestElifElseWithoutIf(t *testing.T) {
	a := ast.NewArena()
	s := bit(a, "s")
	m := NewModule(a)

	err := catch(func() { m.Elif(s, nil) })
	var syn *ast.SyntaxError
	if !errors.As(err, &syn) || syn.Msg != "Elif without preceding If" {
		t.Fatalf("expected Elif syntax error, got %v", err)
	}
	err = catch(func() { m.Else(nil) })
	if !errors.As(err, &syn) || syn.Msg != "Else without preceding If/Elif" {
		t.Fatalf("expected Else syntax error, got %v", err)
	}

	c1, c2, c3 := bit(a, "c1"), bit(a, "c2"), bit(a, "c3")
	s2, s3 := bit(a, "s2"), bit(a, "s3")

	m = NewModule(a)
	err = catch(func() {
		m.If(s, func() {
			m.Comb(c1.Eq(1))
			m.Else(func() { m.Comb(c2.Eq(1)) })
		})
	})
	if !errors.As(err, &syn) || syn.Msg != "Else without preceding If/Elif" {
		t.Fatalf("expected Else inside If body to be rejected, got %v", err)
	}

	m = NewModule(a)
	err = catch(func() {
		m.If(s, func() { m.Comb(c1.Eq(1)) })
		m.Elif(s2, func() {
			m.Comb(c2.Eq(1))
			m.Elif(s3, func() { m.Comb(c3.Eq(1)) })
		})
	})
	if !errors.As(err, &syn) || syn.Msg != "Elif without preceding If" {
		t.Fatalf("expected Elif inside Elif body to be rejected, got %v", err)
	}
}

func TestSwitchCase(t *testing.T) {
	a := ast.NewArena()
	sel := a.Signal(ast.Unsigned(2), ast.Name("sel"))
	o := a.Signal(ast.Unsigned(4), ast.Name("o"))

	var buf bytes.Buffer
	r := diag.NewReporter(&buf, "text")
	m := NewModule(a, WithReporter(r))
	m.Switch(sel, func() {
		m.Case(func() { m.Comb(o.Eq(1)) }, 0, "1-")
		m.Case(func() { m.Comb(o.Eq(2)) }, 7)
		m.Case(func() { m.Comb(o.Eq(3)) }, 1)
		m.Default(func() { m.Comb(o.Eq(4)) })
	})

	want := "(switch (sig sel)" +
		" (case 00 1- (eq (sig o) (const 1'd1)))" +
		" (case 01 (eq (sig o) (const 2'd3)))" +
		" (default (eq (sig o) (const 3'd4))))"
	if got := ast.FormatStatements(m.statements); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if r.Count(diag.SeverityWarning) != 1 {
		t.Fatalf("expected one dead case warning, got %d", r.Count(diag.SeverityWarning))
	}
	require.Contains(t, r.Diagnostics()[0].Message, "is wider than switch value")
}

func TestSwitchContextErrors(t *testing.T) {
	a := ast.NewArena()
	sel := a.Signal(ast.Unsigned(2), ast.Name("sel"))
	o := bit(a, "o")

	tests := []struct {
		name string
		fn   func(m *Module)
		want string
	}{
		{
			name: "case outside switch",
			fn:   func(m *Module) { m.Case(nil, 0) },
			want: "Case is not permitted outside of Switch",
		},
		{
			name: "if directly in switch",
			fn: func(m *Module) {
				m.Switch(sel, func() { m.If(o, nil) })
			},
			want: "If is not permitted directly inside of Switch; it is permitted inside of Switch Case",
		},
		{
			name: "statement directly in switch",
			fn: func(m *Module) {
				m.Switch(sel, func() { m.Comb(o.Eq(1)) })
			},
			want: "adding statements to comb is not permitted directly inside of Switch; it is permitted inside of Switch Case",
		},
		{
			name: "bad pattern",
			fn: func(m *Module) {
				m.Switch(sel, func() { m.Case(nil, "1x") })
			},
			want: `pattern "1x" must consist of 0, 1 and - (don't care) bits`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := catch(func() { tt.fn(NewModule(a)) })
			var syn *ast.SyntaxError
			if !errors.As(err, &syn) {
				t.Fatalf("expected syntax error, got %v", err)
			}
			if syn.Msg != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, syn.Msg)
			}
		})
	}
}

func TestDriverConflict(t *testing.T) {
	a := ast.NewArena()
	s := bit(a, "s")
	m := NewModule(a)
	m.Comb(s.Eq(1))

	err := catch(func() { m.Sync(s.Eq(0)) })
	var conflict *ast.DriverConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected driver conflict, got %v", err)
	}
	require.Contains(t, conflict.Msg, `already driven from domain "comb"`)
}

func TestOnlyAssignmentsAccepted(t *testing.T) {
	a := ast.NewArena()
	s := bit(a, "s")
	m := NewModule(a)
	err := catch(func() { m.Comb(ast.NewSwitch(s)) })
	var syn *ast.SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}

func TestSampleDomainInjection(t *testing.T) {
	a := ast.NewArena()
	x, y, z := bit(a, "x"), bit(a, "y"), bit(a, "z")
	m := NewModule(a)
	m.Domain("pix", y.Eq(ast.Past(x, 1, "")))
	m.Comb(z.Eq(ast.Past(x, 1, "")))

	got, err := ir.Get(m, nil)
	require.NoError(t, err)
	want := strings.Join([]string{
		"(eq (sig y) (sample (sig x) @ pix[1]))",
		"(eq (sig z) (sample (sig x) @ sync[1]))",
	}, "\n")
	if diff := cmp.Diff(want, ast.FormatStatements(got.Statements)); diff != "" {
		t.Fatalf("unexpected statements (-want +got):\n%s", diff)
	}
}

type leaf struct {
	a *ast.Arena
	o *ast.Signal
}

func (l *leaf) Elaborate(ir.Platform) (ir.Elaboratable, error) {
	m := NewModule(l.a)
	m.Comb(l.o.Eq(1))
	return m, nil
}

func TestElaborate(t *testing.T) {
	a := ast.NewArena()
	s, o1, o2 := bit(a, "s"), bit(a, "o1"), bit(a, "o2")
	pix := a.ClockDomain("pix")

	m := NewModule(a)
	m.AddSubmodule("", &leaf{a: a, o: o2})
	m.AddSubmodule("child", &leaf{a: a, o: o1})
	m.AddDomain(pix)
	m.Sync(s.Eq(s.Not()))

	f, err := ir.Get(m, nil)
	require.NoError(t, err)

	names := []string{}
	for _, sub := range f.Subfragments {
		names = append(names, sub.Name)
	}
	if diff := cmp.Diff([]string{"child", ""}, names); diff != "" {
		t.Fatalf("unexpected submodule order (-want +got):\n%s", diff)
	}
	if cd, ok := f.Domain("pix"); !ok || cd != pix {
		t.Fatalf("expected domain pix to be declared")
	}
	if !f.DriversOf("sync").Has(s) {
		t.Fatalf("expected s to be driven from sync")
	}
	if got := f.Subfragments[0].Fragment.DriversOf("comb").Has(o1); !got {
		t.Fatalf("expected child to drive o1")
	}
}

func TestSubmoduleNames(t *testing.T) {
	a := ast.NewArena()
	m := NewModule(a)
	l := &leaf{a: a, o: bit(a, "o")}
	m.AddSubmodule("x", l)
	if m.Submodule("x") != l {
		t.Fatalf("expected to find submodule x")
	}

	var nameErr *ast.NameError
	err := catch(func() { m.AddSubmodule("x", l) })
	if !errors.As(err, &nameErr) {
		t.Fatalf("expected duplicate submodule error, got %v", err)
	}
	err = catch(func() { m.Submodule("y") })
	if !errors.As(err, &nameErr) {
		t.Fatalf("expected missing submodule error, got %v", err)
	}
	err = catch(func() { m.AddDomain(a.ClockDomain("d"), a.ClockDomain("d")) })
	if !errors.As(err, &nameErr) {
		t.Fatalf("expected duplicate domain error, got %v", err)
	}
}
