package ir

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"hdlkit/internal/ast"
	"hdlkit/internal/diag"
)

func bit(a *ast.Arena, name string) *ast.Signal {
	return a.Signal(ast.Unsigned(1), ast.Name(name))
}

// drive adds stmts to f and records their targets as driven in domain.
func drive(f *Fragment, domain string, stmts ...ast.Statement) {
	for _, st := range stmts {
		f.AddStatements(st)
		for s := range st.LHSSignals().All() {
			f.AddDriver(s, domain)
		}
	}
}

func portMap(f *Fragment) map[string]string {
	out := map[string]string{}
	for s, dir := range f.Ports.All() {
		out[valueName(s)] = dir.String()
	}
	return out
}

func domainNames(f *Fragment) []string {
	var out []string
	for _, cd := range f.Domains() {
		out = append(out, cd.Name)
	}
	return out
}

func TestPreparePortsMinimal(t *testing.T) {
	a := ast.NewArena()
	s1, c1 := bit(a, "s1"), bit(a, "c1")
	f := NewFragment()
	drive(f, ast.CombDomain, c1.Eq(s1))

	d, err := Prepare(a, f)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"s1": "i"}, portMap(d.TopLevel)); diff != "" {
		t.Fatalf("unexpected ports (-want +got):\n%s", diff)
	}

	d, err = Prepare(a, f, WithPorts(c1))
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"s1": "i", "c1": "o"}, portMap(d.TopLevel)); diff != "" {
		t.Fatalf("unexpected ports (-want +got):\n%s", diff)
	}
}

func TestPreparePortsThroughHierarchy(t *testing.T) {
	a := ast.NewArena()
	x, y, o := bit(a, "x"), bit(a, "y"), bit(a, "o")
	top := NewFragment()
	drive(top, ast.CombDomain, o.Eq(x))
	child := NewFragment()
	drive(child, ast.CombDomain, x.Eq(y))
	top.AddSubfragment(child, "child")

	d, err := Prepare(a, top, WithPorts(o))
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"y": "i", "o": "o"}, portMap(d.TopLevel)); diff != "" {
		t.Fatalf("unexpected top ports (-want +got):\n%s", diff)
	}
	sub, err := d.TopLevel.FindSubfragment("child")
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"y": "i", "x": "o"}, portMap(sub)); diff != "" {
		t.Fatalf("unexpected child ports (-want +got):\n%s", diff)
	}
}

func TestPrepareSyncDomain(t *testing.T) {
	a := ast.NewArena()
	s1, r := bit(a, "s1"), bit(a, "r")
	f := NewFragment()
	drive(f, ast.SyncDomain, r.Eq(s1))

	d, err := Prepare(a, f, WithPorts(r))
	require.NoError(t, err)
	want := map[string]string{"s1": "i", "clk": "i", "rst": "i", "r": "o"}
	if diff := cmp.Diff(want, portMap(d.TopLevel)); diff != "" {
		t.Fatalf("unexpected ports (-want +got):\n%s", diff)
	}
	wantStmts := strings.Join([]string{
		"(eq (sig r) (sig s1))",
		"(switch (sig rst) (case 1 (eq (sig r) (const 1'd0))))",
	}, "\n")
	if diff := cmp.Diff(wantStmts, ast.FormatStatements(d.TopLevel.Statements)); diff != "" {
		t.Fatalf("unexpected statements (-want +got):\n%s", diff)
	}

	_, err = Prepare(a, f, EnsureSync(false))
	var domErr *ast.DomainError
	if !errors.As(err, &domErr) {
		t.Fatalf("expected a domain error without a sync domain, got %v", err)
	}
}

func TestPrepareMissingDomain(t *testing.T) {
	a := ast.NewArena()
	o := bit(a, "o")
	f := NewFragment()
	drive(f, ast.CombDomain, o.Eq(ast.NewClockSignal("pix")))

	_, err := Prepare(a, f)
	require.Error(t, err)
	require.Contains(t, err.Error(), "prepare: lower domains")
	var domErr *ast.DomainError
	if !errors.As(err, &domErr) || domErr.Msg != "signal (clk pix) refers to nonexistent domain 'pix'" {
		t.Fatalf("expected nonexistent domain error, got %v", err)
	}
}

func TestFlattenParentChildConflict(t *testing.T) {
	a := ast.NewArena()
	s, u := bit(a, "s"), bit(a, "u")
	fa, fb, fc := NewFragment(), NewFragment(), NewFragment()
	drive(fa, ast.CombDomain, s.Eq(1))
	drive(fb, ast.CombDomain, s.Eq(0))
	drive(fc, ast.CombDomain, u.Eq(1))
	fb.AddSubfragment(fc, "c")
	fa.AddSubfragment(fb, "b")

	var buf bytes.Buffer
	r := diag.NewReporter(&buf, "text")
	_, _, err := fa.resolveHierarchyConflicts([]string{"top"}, ConflictWarn, r)
	require.NoError(t, err)

	want := "(eq (sig s) (const 1'd1))\n(eq (sig s) (const 1'd0))"
	if got := ast.FormatStatements(fa.Statements); got != want {
		t.Fatalf("expected merged statements %q, got %q", want, got)
	}
	if len(fa.Subfragments) != 1 || fa.Subfragments[0].Fragment != fc || fa.Subfragments[0].Name != "c" {
		t.Fatalf("expected c to be the only child after flattening, got %v", fa.Subfragments)
	}
	if r.Count(diag.SeverityWarning) != 1 {
		t.Fatalf("expected one warning, got %d", r.Count(diag.SeverityWarning))
	}
	wantMsg := "Signal 's' is driven from multiple fragments: top, top.b; hierarchy will be flattened"
	if got := r.Diagnostics()[0].Message; got != wantMsg {
		t.Fatalf("expected %q, got %q", wantMsg, got)
	}
}

func TestFlattenDriverConflictChain(t *testing.T) {
	a := ast.NewArena()
	s, u := bit(a, "s"), bit(a, "u")
	fa, fb, fc := NewFragment(), NewFragment(), NewFragment()
	drive(fa, ast.CombDomain, s.Eq(1))
	drive(fb, ast.CombDomain, u.Eq(1))
	drive(fc, ast.CombDomain, s.Eq(0))
	fb.AddSubfragment(fc, "c")
	fa.AddSubfragment(fb, "b")

	var buf bytes.Buffer
	r := diag.NewReporter(&buf, "text")
	_, _, err := fa.resolveHierarchyConflicts([]string{"top"}, ConflictWarn, r)
	require.NoError(t, err)

	want := "(eq (sig s) (const 1'd1))\n(eq (sig u) (const 1'd1))\n(eq (sig s) (const 1'd0))"
	if got := ast.FormatStatements(fa.Statements); got != want {
		t.Fatalf("expected merged statements %q, got %q", want, got)
	}
	if len(fa.Subfragments) != 0 {
		t.Fatalf("expected every child to be flattened, got %v", fa.Subfragments)
	}
	var got []string
	for _, d := range r.Diagnostics() {
		got = append(got, d.Message)
	}
	wantMsgs := []string{
		"Signal 's' is driven from multiple fragments: top, top.b; hierarchy will be flattened",
		"Signal 's' is driven from multiple fragments: top, top.c; hierarchy will be flattened",
	}
	if diff := cmp.Diff(wantMsgs, got); diff != "" {
		t.Fatalf("unexpected warnings (-want +got):\n%s", diff)
	}
}

func TestFlattenSiblingConflict(t *testing.T) {
	a := ast.NewArena()
	s := bit(a, "s")
	top, b1, b2 := NewFragment(), NewFragment(), NewFragment()
	drive(b1, ast.CombDomain, s.Eq(1))
	drive(b2, ast.CombDomain, s.Eq(0))
	top.AddSubfragment(b1, "b1")
	top.AddSubfragment(b2, "b2")

	var buf bytes.Buffer
	r := diag.NewReporter(&buf, "text")
	_, _, err := top.resolveHierarchyConflicts([]string{"top"}, ConflictWarn, r)
	require.NoError(t, err)
	if len(top.Subfragments) != 0 {
		t.Fatalf("expected both children to be flattened")
	}
	require.Equal(t, 1, r.Count(diag.SeverityWarning))
	require.Equal(t, "Signal 's' is driven from multiple fragments: top.b1, top.b2; hierarchy will be flattened",
		r.Diagnostics()[0].Message)
	if !top.DriversOf(ast.CombDomain).Has(s) {
		t.Fatalf("expected s to be driven by the merged fragment")
	}
}

func TestConflictModes(t *testing.T) {
	build := func(a *ast.Arena) *Fragment {
		s := bit(a, "s")
		top, b1, b2 := NewFragment(), NewFragment(), NewFragment()
		drive(b1, ast.CombDomain, s.Eq(1))
		drive(b2, ast.CombDomain, s.Eq(0))
		top.AddSubfragment(b1, "b1")
		top.AddSubfragment(b2, "b2")
		return top
	}

	t.Run("error", func(t *testing.T) {
		a := ast.NewArena()
		_, err := Prepare(a, build(a), WithConflicts(ConflictError))
		var conflict *ast.DriverConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected a driver conflict, got %v", err)
		}
		require.Equal(t, "Signal 's' is driven from multiple fragments: top.b1, top.b2", conflict.Msg)
	})

	t.Run("silent", func(t *testing.T) {
		a := ast.NewArena()
		var buf bytes.Buffer
		r := diag.NewReporter(&buf, "text")
		d, err := Prepare(a, build(a), WithConflicts(ConflictSilent), WithReporter(r))
		require.NoError(t, err)
		require.Zero(t, r.Count(diag.SeverityWarning))
		require.Empty(t, d.TopLevel.Subfragments)
	})
}

func TestParseConflictMode(t *testing.T) {
	for _, name := range []string{"warn", "silent", "error"} {
		m, err := ParseConflictMode(name)
		require.NoError(t, err)
		require.Equal(t, name, m.String())
	}
	_, err := ParseConflictMode("loud")
	require.Error(t, err)
}

func TestMemoryConflictFlattens(t *testing.T) {
	a := ast.NewArena()
	mem := a.Memory(8, 4, ast.MemoryName("mem"))
	rd := NewReadPort(a, mem)
	wr := NewWritePort(a, mem)

	rdFrag, err := Get(rd, nil)
	require.NoError(t, err)
	wrFrag, err := Get(wr, nil)
	require.NoError(t, err)

	top, fr, fw := NewFragment(), NewFragment(), NewFragment()
	fr.AddSubfragment(rdFrag, "")
	fw.AddSubfragment(wrFrag, "")
	top.AddSubfragment(fr, "r")
	top.AddSubfragment(fw, "w")

	var buf bytes.Buffer
	r := diag.NewReporter(&buf, "text")
	_, mems, err := top.resolveHierarchyConflicts([]string{"top"}, ConflictWarn, r)
	require.NoError(t, err)
	require.Equal(t, []*ast.Memory{mem}, mems)
	require.Equal(t, 1, r.Count(diag.SeverityWarning))
	require.Equal(t, "Memory 'mem' is accessed from multiple fragments: top.r, top.w; hierarchy will be flattened",
		r.Diagnostics()[0].Message)
	if len(top.Subfragments) != 2 || top.Subfragments[0].Fragment != rdFrag || top.Subfragments[1].Fragment != wrFrag {
		t.Fatalf("expected the port cells to become children of top")
	}
}

func TestDomainsUpRenamesNamedChildren(t *testing.T) {
	a := ast.NewArena()
	top, fa, fb := NewFragment(), NewFragment(), NewFragment()
	for _, f := range []*Fragment{fa, fb} {
		require.NoError(t, f.AddDomains(a.ClockDomain("sync")))
		drive(f, ast.SyncDomain, bit(a, "r").Eq(ast.NewClockSignal("sync")))
	}
	top.AddSubfragment(fa, "a")
	top.AddSubfragment(fb, "b")

	require.NoError(t, top.propagateDomainsUp(a, []string{"top"}))
	if diff := cmp.Diff([]string{"a_sync", "b_sync"}, domainNames(top)); diff != "" {
		t.Fatalf("unexpected top domains (-want +got):\n%s", diff)
	}
	renamed := top.Subfragments[0].Fragment
	cd, ok := renamed.Domain("a_sync")
	if !ok || cd.Clk.Name != "a_sync_clk" || cd.Rst.Name != "a_sync_rst" {
		t.Fatalf("expected a_sync with renamed signals, got %v", cd)
	}
	if got := renamed.DriverDomains(); !cmp.Equal(got, []string{"a_sync"}) {
		t.Fatalf("expected drivers in a_sync, got %v", got)
	}
	if got := renamed.Statements[0].String(); got != "(eq (sig r) (clk a_sync))" {
		t.Fatalf("expected clock reference to be renamed, got %s", got)
	}
}

func TestDomainsUpErrors(t *testing.T) {
	t.Run("anonymous definer", func(t *testing.T) {
		a := ast.NewArena()
		top, fa, fb := NewFragment(), NewFragment(), NewFragment()
		require.NoError(t, fa.AddDomains(a.ClockDomain("sync")))
		require.NoError(t, fb.AddDomains(a.ClockDomain("sync")))
		top.AddSubfragment(fa, "")
		top.AddSubfragment(fb, "b")

		err := top.propagateDomainsUp(a, []string{"top"})
		var domErr *ast.DomainError
		if !errors.As(err, &domErr) {
			t.Fatalf("expected a domain error, got %v", err)
		}
		require.Contains(t, domErr.Msg, "domain 'sync' is defined by subfragments 'b', <unnamed #0> of fragment 'top'")
	})

	t.Run("identical names", func(t *testing.T) {
		a := ast.NewArena()
		top, fa, fb := NewFragment(), NewFragment(), NewFragment()
		require.NoError(t, fa.AddDomains(a.ClockDomain("sync")))
		require.NoError(t, fb.AddDomains(a.ClockDomain("sync")))
		top.AddSubfragment(fa, "x")
		top.AddSubfragment(fb, "x")

		err := top.propagateDomainsUp(a, []string{"top"})
		var domErr *ast.DomainError
		if !errors.As(err, &domErr) {
			t.Fatalf("expected a domain error, got %v", err)
		}
		require.Contains(t, domErr.Msg, "some of which have identical names")
	})

	t.Run("parent and child", func(t *testing.T) {
		a := ast.NewArena()
		top, fc := NewFragment(), NewFragment()
		require.NoError(t, top.AddDomains(a.ClockDomain("sync")))
		require.NoError(t, fc.AddDomains(a.ClockDomain("sync")))
		top.AddSubfragment(fc, "c")

		err := top.propagateDomainsUp(a, []string{"top"})
		var domErr *ast.DomainError
		if !errors.As(err, &domErr) {
			t.Fatalf("expected a domain error, got %v", err)
		}
	})
}

func TestDomainsSharedAndLocal(t *testing.T) {
	a := ast.NewArena()
	shared := a.ClockDomain("sync")
	local := a.ClockDomain("scratch", ast.Local())
	top, fa, fb := NewFragment(), NewFragment(), NewFragment()
	require.NoError(t, fa.AddDomains(shared, local))
	require.NoError(t, fb.AddDomains(shared))
	top.AddSubfragment(fa, "")
	top.AddSubfragment(fb, "")

	require.NoError(t, top.propagateDomains(a, true))
	if diff := cmp.Diff([]string{"sync"}, domainNames(top)); diff != "" {
		t.Fatalf("unexpected top domains (-want +got):\n%s", diff)
	}
	if cd, _ := top.Domain("sync"); cd != shared {
		t.Fatalf("expected the shared domain record at the top")
	}
	if _, ok := fb.Domain("scratch"); ok {
		t.Fatalf("local domain leaked to a sibling")
	}
}

func TestDomainPropagationIdempotent(t *testing.T) {
	a := ast.NewArena()
	top, fa, fb, leaf := NewFragment(), NewFragment(), NewFragment(), NewFragment()
	require.NoError(t, fa.AddDomains(a.ClockDomain("pix")))
	require.NoError(t, top.AddDomains(a.ClockDomain("sync")))
	fb.AddSubfragment(leaf, "leaf")
	top.AddSubfragment(fa, "a")
	top.AddSubfragment(fb, "b")

	snapshot := func() [][]string {
		var out [][]string
		var walk func(f *Fragment)
		walk = func(f *Fragment) {
			out = append(out, domainNames(f))
			for _, sub := range f.Subfragments {
				walk(sub.Fragment)
			}
		}
		walk(top)
		return out
	}

	require.NoError(t, top.propagateDomains(a, true))
	first := snapshot()
	want := [][]string{
		{"sync", "pix"},
		{"pix", "sync"},
		{"sync", "pix"},
		{"sync", "pix"},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("unexpected domains (-want +got):\n%s", diff)
	}
	require.NoError(t, top.propagateDomains(a, true))
	if diff := cmp.Diff(first, snapshot()); diff != "" {
		t.Fatalf("propagation is not idempotent (-first +second):\n%s", diff)
	}
	leafSync, _ := leaf.Domain("sync")
	topSync, _ := top.Domain("sync")
	if leafSync != topSync {
		t.Fatalf("expected the top sync domain to reach the leaf")
	}
}

func TestNames(t *testing.T) {
	a := ast.NewArena()
	x1, x2, y := bit(a, "x"), bit(a, "x"), bit(a, "y")
	f := NewFragment()
	f.AddPorts(Input, x1)
	drive(f, ast.CombDomain, x2.Eq(x1), y.Eq(x2))

	names := AssignNames(f)
	for _, tt := range []struct {
		sig  *ast.Signal
		want string
	}{{x1, "x"}, {x2, "x$1"}, {y, "y"}} {
		got, ok := names.Name(f, tt.sig)
		if !ok || got != tt.want {
			t.Fatalf("expected %s, got %q", tt.want, got)
		}
	}
	if names.Names(f).Len() != 3 {
		t.Fatalf("expected three names, got %d", names.Names(f).Len())
	}
}

func TestDump(t *testing.T) {
	a := ast.NewArena()
	s1, r := bit(a, "s1"), bit(a, "r")
	f := NewFragment()
	drive(f, ast.SyncDomain, r.Eq(s1))

	d, err := Prepare(a, f, WithPorts(r))
	require.NoError(t, err)

	var buf bytes.Buffer
	Dump(d, &buf)
	want := strings.Join([]string{
		"fragment top",
		"  ports:",
		"    in  s1 1bu",
		"    in  rst 1bu",
		"    in  clk 1bu",
		"    out r 1bu",
		"  domains:",
		"    sync     clk=clk rst=rst",
		"  drivers:",
		"    sync:    r",
		"  statements:",
		"    (eq (sig r) (sig s1))",
		"    (switch (sig rst) (case 1 (eq (sig r) (const 1'd0))))",
		"",
	}, "\n")
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("unexpected dump (-want +got):\n%s", diff)
	}
}
