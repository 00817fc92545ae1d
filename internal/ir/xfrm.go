package ir

import (
	"fmt"
	"math/big"

	"hdlkit/internal/ast"
)

// FragmentTransformer rewrites a fragment tree into a new tree. The input
// fragments, statements and domain records are left untouched. A renamed
// domain shares its clock and reset signals with the original record, so
// those two signals change display name in both trees.
type FragmentTransformer interface {
	TransformFragment(f *Fragment) (*Fragment, error)
}

// rewriter is the default tree copy shared by the fragment passes. Each hook is
// optional.
type rewriter struct {
	// values returns the value and statement transformer for f. It is called
	// after f's children have been rewritten.
	values func(f *Fragment) *ast.Transformer
	// domain maps a domain record held by a fragment.
	domain func(cd *ast.ClockDomain) *ast.ClockDomain
	// driverDomain maps the domain name a driver is recorded under.
	driverDomain func(name string) string
	// finish runs after everything else has been copied.
	finish func(old, nf *Fragment)
}

func (r *rewriter) TransformFragment(f *Fragment) (out *Fragment, err error) {
	defer ast.Recover(&err)
	return r.rewrite(f), nil
}

func (r *rewriter) rewrite(f *Fragment) *Fragment {
	nf := NewFragment()
	nf.Loc = f.Loc
	nf.Flatten = f.Flatten
	for k, v := range f.Attrs {
		nf.Attrs[k] = v
	}
	for k, v := range f.Generated {
		nf.Generated[k] = v
	}
	for s, dir := range f.Ports.All() {
		nf.AddPorts(dir, s)
	}
	for _, sub := range f.Subfragments {
		nf.AddSubfragment(r.rewrite(sub.Fragment), sub.Name)
	}

	t := &ast.Transformer{}
	if r.values != nil {
		t = r.values(f)
	}
	for _, cd := range f.Domains() {
		if r.domain != nil {
			cd = r.domain(cd)
		}
		if err := nf.AddDomains(cd); err != nil {
			panic(err)
		}
	}
	nf.AddStatements(t.Statements(f.Statements)...)
	for d, s := range f.IterDrivers() {
		if r.driverDomain != nil {
			d = r.driverDomain(d)
		}
		switch v := t.Value(s).(type) {
		case *ast.Signal, *ast.ClockSignal, *ast.ResetSignal:
			nf.AddDriver(v, d)
		}
	}
	if f.Instance != nil {
		nf.Instance = f.Instance.transform(t)
	}
	if r.finish != nil {
		r.finish(f, nf)
	}
	return nf
}

// DomainRenamer renames clock domains throughout a fragment tree. Each
// renamed domain record is replaced by a new record sharing the same clock
// and reset signals; records are replaced consistently across the tree.
type DomainRenamer struct {
	arena   *ast.Arena
	mapping map[string]string
	renamed map[ast.DomainID]*ast.ClockDomain
}

// NewDomainRenamer returns a renamer for mapping (old name to new name).
// The combinational domain cannot be renamed, or be a rename target.
func NewDomainRenamer(a *ast.Arena, mapping map[string]string) (*DomainRenamer, error) {
	for src, dst := range mapping {
		if src == ast.CombDomain {
			return nil, &ast.DomainError{Msg: fmt.Sprintf("domain '%s' may not be renamed", src)}
		}
		if dst == ast.CombDomain {
			return nil, &ast.DomainError{Msg: fmt.Sprintf("domain '%s' may not be renamed to '%s'", src, dst)}
		}
	}
	return &DomainRenamer{arena: a, mapping: mapping, renamed: make(map[ast.DomainID]*ast.ClockDomain)}, nil
}

func (dr *DomainRenamer) rename(name string) string {
	if to, ok := dr.mapping[name]; ok {
		return to
	}
	return name
}

func (dr *DomainRenamer) transformer() *ast.Transformer {
	t := &ast.Transformer{}
	t.OnClockSignal = func(c *ast.ClockSignal) ast.Value {
		if to, ok := dr.mapping[c.Domain]; ok {
			return ast.NewClockSignal(to)
		}
		return c
	}
	t.OnResetSignal = func(r *ast.ResetSignal) ast.Value {
		if to, ok := dr.mapping[r.Domain]; ok {
			return ast.NewResetSignal(to, r.AllowResetLess)
		}
		return r
	}
	t.OnSample = func(s *ast.Sample) ast.Value {
		inner := t.Value(s.Value)
		to, ok := dr.mapping[s.Domain]
		if !ok && inner == s.Value {
			return s
		}
		if !ok {
			to = s.Domain
		}
		return ast.NewSample(inner, s.Clocks, to)
	}
	return t
}

// TransformFragment returns the renamed tree.
func (dr *DomainRenamer) TransformFragment(f *Fragment) (*Fragment, error) {
	r := &rewriter{
		values: func(*Fragment) *ast.Transformer { return dr.transformer() },
		domain: func(cd *ast.ClockDomain) *ast.ClockDomain {
			to, ok := dr.mapping[cd.Name]
			if !ok {
				return cd
			}
			if out, ok := dr.renamed[cd.ID]; ok {
				return out
			}
			out := cd.Renamed(dr.arena, to)
			dr.renamed[cd.ID] = out
			return out
		},
		driverDomain: dr.rename,
	}
	return r.TransformFragment(f)
}

// DomainLowerer replaces clock and reset references with the concrete
// signals of the domains each fragment knows about.
type DomainLowerer struct{}

func lowerDomainSignals(f *Fragment) *ast.Transformer {
	resolve := func(domain string, context ast.Value) *ast.ClockDomain {
		cd, ok := f.Domain(domain)
		if !ok {
			panic(&ast.DomainError{Msg: fmt.Sprintf("signal %s refers to nonexistent domain '%s'", context, domain), Loc: context.SrcLoc()})
		}
		return cd
	}
	return &ast.Transformer{
		OnClockSignal: func(c *ast.ClockSignal) ast.Value {
			return resolve(c.Domain, c).Clk
		},
		OnResetSignal: func(r *ast.ResetSignal) ast.Value {
			cd := resolve(r.Domain, r)
			if cd.Rst == nil {
				if r.AllowResetLess {
					return ast.C(0, ast.Unsigned(1))
				}
				panic(&ast.DomainError{Msg: fmt.Sprintf("signal %s refers to reset of reset-less domain '%s'", r, r.Domain), Loc: r.SrcLoc()})
			}
			return cd.Rst
		},
	}
}

// TransformFragment returns the lowered tree. Driving signals in a domain
// the fragment does not know about is a *ast.DomainError.
func (DomainLowerer) TransformFragment(f *Fragment) (*Fragment, error) {
	r := &rewriter{
		values: lowerDomainSignals,
		finish: func(old, _ *Fragment) {
			for _, d := range old.DriverDomains() {
				if _, ok := old.Domain(d); !ok && d != ast.CombDomain {
					panic(&ast.DomainError{Msg: fmt.Sprintf("domain '%s' is used but not defined", d), Loc: old.Loc})
				}
			}
		},
	}
	return r.TransformFragment(f)
}

// SampleLowerer replaces samples of past values with explicit delay
// registers and Initial with the output of an $initstate cell. Equal samples
// within one fragment share their registers.
type SampleLowerer struct {
	arena *ast.Arena
}

// NewSampleLowerer returns a lowerer allocating its registers from a.
func NewSampleLowerer(a *ast.Arena) *SampleLowerer {
	return &SampleLowerer{arena: a}
}

type sampleState struct {
	arena   *ast.Arena
	t       *ast.Transformer
	cache   *ast.ValueDict[ast.Value]
	domains []string
	stmts   map[string][]ast.Statement
	initial *ast.Signal
}

func sampleName(v ast.Value) (string, *big.Int) {
	switch v := v.(type) {
	case *ast.Const:
		return fmt.Sprintf("c$%s", v.Value()), v.Value()
	case *ast.Signal:
		return "s$" + v.Name, v.ResetValue()
	case *ast.ClockSignal:
		return "clk", big.NewInt(0)
	case *ast.ResetSignal:
		return "rst", big.NewInt(1)
	case *ast.Initial:
		return "init", big.NewInt(0)
	default:
		panic(fmt.Sprintf("ir: cannot sample %T", v))
	}
}

func (st *sampleState) sample(s *ast.Sample) ast.Value {
	if v, ok := st.cache.Get(s); ok {
		return v
	}
	sampled := st.t.Value(s.Value)
	var out ast.Value
	if s.Clocks == 0 {
		out = sampled
	} else {
		if s.Domain == "" {
			panic(&ast.DomainError{Msg: fmt.Sprintf("sample %s has no domain", s), Loc: s.SrcLoc()})
		}
		name, reset := sampleName(s.Value)
		reg := st.arena.SignalLike(s.Value,
			ast.Name(fmt.Sprintf("$sample$%s$%s$%d", name, s.Domain, s.Clocks)),
			ast.ResetLess(), ast.ResetBig(reset), ast.Attr("hdlkit.sample_reg", "1"))
		prev := st.sample(ast.NewSample(sampled, s.Clocks-1, s.Domain))
		if _, ok := st.stmts[s.Domain]; !ok {
			st.domains = append(st.domains, s.Domain)
		}
		st.stmts[s.Domain] = append(st.stmts[s.Domain], reg.Eq(prev))
		out = reg
	}
	st.cache.Set(s, out)
	return out
}

// TransformFragment returns the lowered tree.
func (sl *SampleLowerer) TransformFragment(f *Fragment) (*Fragment, error) {
	var st *sampleState
	r := &rewriter{
		values: func(*Fragment) *ast.Transformer {
			st = &sampleState{arena: sl.arena, cache: ast.NewValueDict[ast.Value](), stmts: make(map[string][]ast.Statement)}
			st.t = &ast.Transformer{
				OnSample: st.sample,
				OnInitial: func(*ast.Initial) ast.Value {
					if st.initial == nil {
						st.initial = st.arena.Signal(ast.Unsigned(1), ast.Name("init"))
					}
					return st.initial
				},
			}
			return st.t
		},
		finish: func(_, nf *Fragment) {
			for _, d := range st.domains {
				for _, stmt := range st.stmts[d] {
					nf.AddStatements(stmt)
					nf.AddDriver(stmt.(*ast.Assign).LHS, d)
				}
			}
			if st.initial != nil {
				nf.AddSubfragment(NewInstance("$initstate", Out("Y", st.initial)), "")
			}
		},
	}
	return r.TransformFragment(f)
}

// controlInserter appends, for every fragment driving signals in a
// controlled domain, a switch over the control signal.
type controlInserter struct {
	controls map[string]ast.Value
	insert   func(nf *Fragment, control ast.Value, signals *ast.SignalSet)
}

func (c *controlInserter) TransformFragment(f *Fragment) (*Fragment, error) {
	r := &rewriter{
		finish: func(old, nf *Fragment) {
			for _, d := range old.DriverDomains() {
				ctrl, ok := c.controls[d]
				if !ok || d == ast.CombDomain {
					continue
				}
				c.insert(nf, ctrl, old.DriversOf(d))
			}
		},
	}
	return r.TransformFragment(f)
}

// NewResetInserter returns a pass that resets every non-reset-less signal
// driven in a domain while that domain's control signal is high.
func NewResetInserter(controls map[string]ast.Value) FragmentTransformer {
	return &controlInserter{
		controls: controls,
		insert: func(nf *Fragment, ctrl ast.Value, signals *ast.SignalSet) {
			var body []ast.Statement
			for _, s := range signals.Signals() {
				if s.ResetLess {
					continue
				}
				body = append(body, s.Eq(ast.ConstBig(s.ResetValue(), s.Shape())))
			}
			if len(body) == 0 {
				return
			}
			nf.AddStatements(ast.NewSwitch(ctrl, ast.SwitchCase{Patterns: []string{"1"}, Body: body}))
		},
	}
}

// NewCEInserter returns a pass that holds every signal driven in a domain
// at its current value while that domain's control signal is low.
func NewCEInserter(controls map[string]ast.Value) FragmentTransformer {
	return &controlInserter{
		controls: controls,
		insert: func(nf *Fragment, ctrl ast.Value, signals *ast.SignalSet) {
			var body []ast.Statement
			for _, s := range signals.Signals() {
				body = append(body, s.Eq(s))
			}
			nf.AddStatements(ast.NewSwitch(ctrl, ast.SwitchCase{Patterns: []string{"0"}, Body: body}))
		},
	}
}

// transformed applies fragment passes to an elaboratable when it is
// elaborated.
type transformed struct {
	e      Elaboratable
	passes []FragmentTransformer
}

func (t *transformed) Elaborate(p Platform) (Elaboratable, error) {
	f, err := Get(t.e, p)
	if err != nil {
		return nil, err
	}
	for _, pass := range t.passes {
		if f, err = pass.TransformFragment(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Transform defers passes until e is elaborated.
func Transform(e Elaboratable, passes ...FragmentTransformer) Elaboratable {
	if t, ok := e.(*transformed); ok {
		return &transformed{e: t.e, passes: append(append([]FragmentTransformer(nil), t.passes...), passes...)}
	}
	return &transformed{e: e, passes: passes}
}

// RenameDomains renames the domains of e at elaboration time.
func RenameDomains(a *ast.Arena, e Elaboratable, mapping map[string]string) (Elaboratable, error) {
	dr, err := NewDomainRenamer(a, mapping)
	if err != nil {
		return nil, err
	}
	return Transform(e, dr), nil
}

// InsertResets adds synchronous resets to e at elaboration time.
func InsertResets(e Elaboratable, controls map[string]ast.Value) Elaboratable {
	return Transform(e, NewResetInserter(controls))
}

// InsertEnables adds clock enables to e at elaboration time.
func InsertEnables(e Elaboratable, controls map[string]ast.Value) Elaboratable {
	return Transform(e, NewCEInserter(controls))
}
