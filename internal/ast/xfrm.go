package ast

import "fmt"

// Transformer rewrites values and statements. Each hook, when set, replaces
// the default handling of one value kind; compound values are rebuilt from
// their transformed children and are returned unchanged when no child
// changed. Transformers never mutate their input.
type Transformer struct {
	OnConst       func(*Const) Value
	OnSignal      func(*Signal) Value
	OnClockSignal func(*ClockSignal) Value
	OnResetSignal func(*ResetSignal) Value
	OnSample      func(*Sample) Value
	OnInitial     func(*Initial) Value

	// OnStatement, when set, is consulted before the default handling of each
	// statement. Returning ok=false falls through to the default.
	OnStatement func(Statement) (out []Statement, ok bool)
}

// Value transforms a single value.
func (t *Transformer) Value(v Value) Value {
	switch v := v.(type) {
	case *Const:
		if t.OnConst != nil {
			return t.OnConst(v)
		}
		return v
	case *Signal:
		if t.OnSignal != nil {
			return t.OnSignal(v)
		}
		return v
	case *ClockSignal:
		if t.OnClockSignal != nil {
			return t.OnClockSignal(v)
		}
		return v
	case *ResetSignal:
		if t.OnResetSignal != nil {
			return t.OnResetSignal(v)
		}
		return v
	case *Sample:
		if t.OnSample != nil {
			return t.OnSample(v)
		}
		inner := t.Value(v.Value)
		if inner == v.Value {
			return v
		}
		out := &Sample{Value: inner, Clocks: v.Clocks, Domain: v.Domain}
		out.node = node{self: out, loc: v.loc}
		return out
	case *Initial:
		if t.OnInitial != nil {
			return t.OnInitial(v)
		}
		return v
	case *Operator:
		operands, changed := t.values(v.Operands)
		if !changed {
			return v
		}
		args := make([]any, len(operands))
		for i, o := range operands {
			args[i] = o
		}
		out, err := NewOperator(v.Op, args...)
		if err != nil {
			panic(err)
		}
		out.loc = v.loc
		return out
	case *Slice:
		inner := t.Value(v.Value)
		if inner == v.Value {
			return v
		}
		out := &Slice{Value: inner, Start: v.Start, End: v.End}
		out.node = node{self: out, loc: v.loc}
		return out
	case *Part:
		inner, off := t.Value(v.Value), t.Value(v.Offset)
		if inner == v.Value && off == v.Offset {
			return v
		}
		out := &Part{Value: inner, Offset: off, Width: v.Width, Stride: v.Stride}
		out.node = node{self: out, loc: v.loc}
		return out
	case *CatValue:
		parts, changed := t.values(v.Parts)
		if !changed {
			return v
		}
		out := &CatValue{Parts: parts}
		out.node = node{self: out, loc: v.loc}
		return out
	case *ReplValue:
		inner := t.Value(v.Value)
		if inner == v.Value {
			return v
		}
		out := &ReplValue{Value: inner, Count: v.Count}
		out.node = node{self: out, loc: v.loc}
		return out
	case *ArrayProxy:
		elems, changed := t.values(v.Elems)
		index := t.Value(v.Index)
		if !changed && index == v.Index {
			return v
		}
		out := &ArrayProxy{Elems: elems, Index: index}
		out.node = node{self: out, loc: v.loc}
		return out
	default:
		panic(fmt.Sprintf("ast: unknown value kind %T", v))
	}
}

func (t *Transformer) values(vs []Value) ([]Value, bool) {
	out := make([]Value, len(vs))
	changed := false
	for i, v := range vs {
		out[i] = t.Value(v)
		changed = changed || out[i] != v
	}
	return out, changed
}

// Statement transforms a single statement into zero or more statements.
func (t *Transformer) Statement(s Statement) []Statement {
	if t.OnStatement != nil {
		if out, ok := t.OnStatement(s); ok {
			return out
		}
	}
	switch s := s.(type) {
	case *Assign:
		return []Statement{&Assign{LHS: t.Value(s.LHS), RHS: t.Value(s.RHS), loc: s.loc}}
	case *Switch:
		out := &Switch{Test: t.Value(s.Test), loc: s.loc}
		for _, c := range s.Cases {
			out.Cases = append(out.Cases, SwitchCase{
				Patterns: append([]string(nil), c.Patterns...),
				Body:     t.Statements(c.Body),
			})
		}
		return []Statement{out}
	case *Property:
		return []Statement{&Property{Kind: s.Kind, Test: t.Value(s.Test), Check: s.Check, En: s.En, loc: s.loc}}
	default:
		panic(fmt.Sprintf("ast: unknown statement kind %T", s))
	}
}

// Statements transforms a statement list.
func (t *Transformer) Statements(stmts []Statement) []Statement {
	out := make([]Statement, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, t.Statement(s)...)
	}
	return out
}

// InjectSampleDomain fills in the domain of every Sample in stmts that does
// not name one.
func InjectSampleDomain(domain string, stmts ...Statement) []Statement {
	t := &Transformer{}
	t.OnSample = func(s *Sample) Value {
		inner := t.Value(s.Value)
		if s.Domain != "" && inner == s.Value {
			return s
		}
		d := s.Domain
		if d == "" {
			d = domain
		}
		out := &Sample{Value: inner, Clocks: s.Clocks, Domain: d}
		out.node = node{self: out, loc: s.loc}
		return out
	}
	return t.Statements(stmts)
}

// CleanSwitches drops switch arms with empty bodies and switches left with no
// arms.
func CleanSwitches(stmts []Statement) []Statement {
	out := make([]Statement, 0, len(stmts))
	for _, s := range stmts {
		sw, ok := s.(*Switch)
		if !ok {
			out = append(out, s)
			continue
		}
		cleaned := &Switch{Test: sw.Test, loc: sw.loc}
		for _, c := range sw.Cases {
			body := CleanSwitches(c.Body)
			if len(body) > 0 {
				cleaned.Cases = append(cleaned.Cases, SwitchCase{Patterns: c.Patterns, Body: body})
			}
		}
		if len(cleaned.Cases) > 0 {
			out = append(out, cleaned)
		}
	}
	return out
}

// LHSGroupAnalyzer partitions the signals assigned by a statement list into
// groups that must be driven together: every signal written by a single
// assignment lands in the same group.
type LHSGroupAnalyzer struct {
	parent *SignalDict[Value]
}

// NewLHSGroupAnalyzer returns an empty analyzer.
func NewLHSGroupAnalyzer() *LHSGroupAnalyzer {
	return &LHSGroupAnalyzer{parent: NewSignalDict[Value]()}
}

func (g *LHSGroupAnalyzer) find(s Value) Value {
	p, ok := g.parent.Get(s)
	if !ok {
		g.parent.Set(s, s)
		return s
	}
	if KeyOf(p) == KeyOf(s) {
		return s
	}
	root := g.find(p)
	g.parent.Set(s, root)
	return root
}

func (g *LHSGroupAnalyzer) unify(set *SignalSet) {
	items := set.Items()
	if len(items) == 0 {
		return
	}
	root := g.find(items[0])
	for _, s := range items[1:] {
		r := g.find(s)
		if KeyOf(r) != KeyOf(root) {
			g.parent.Set(r, root)
		}
	}
}

// Analyze adds the assignments in stmts.
func (g *LHSGroupAnalyzer) Analyze(stmts ...Statement) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *Assign, *Property:
			g.unify(s.LHSSignals())
		case *Switch:
			for _, c := range s.Cases {
				g.Analyze(c.Body...)
			}
		default:
			panic(fmt.Sprintf("ast: unknown statement kind %T", s))
		}
	}
}

// Groups returns the groups in order of first appearance.
func (g *LHSGroupAnalyzer) Groups() []*SignalSet {
	var order []SignalKey
	groups := map[SignalKey]*SignalSet{}
	for s := range g.parent.All() {
		root := KeyOf(g.find(s))
		set, ok := groups[root]
		if !ok {
			set = NewSignalSet()
			groups[root] = set
			order = append(order, root)
		}
		set.Add(s)
	}
	out := make([]*SignalSet, len(order))
	for i, k := range order {
		out[i] = groups[k]
	}
	return out
}

// FilterLHS keeps only the statements that assign to a member of signals.
// Switches are kept with filtered arms; combine with CleanSwitches to drop
// the empty ones.
func FilterLHS(signals *SignalSet, stmts ...Statement) []Statement {
	var out []Statement
	for _, s := range stmts {
		switch s := s.(type) {
		case *Assign, *Property:
			for v := range s.LHSSignals().All() {
				if signals.Has(v) {
					out = append(out, s)
					break
				}
			}
		case *Switch:
			filtered := &Switch{Test: s.Test, loc: s.loc}
			for _, c := range s.Cases {
				filtered.Cases = append(filtered.Cases, SwitchCase{Patterns: c.Patterns, Body: FilterLHS(signals, c.Body...)})
			}
			out = append(out, filtered)
		default:
			panic(fmt.Sprintf("ast: unknown statement kind %T", s))
		}
	}
	return out
}
