package ast

import (
	"fmt"
	"math/big"
	"strings"

	"hdlkit/internal/diag"
)

// Statement is a hardware statement. The set of implementations is closed:
// *Assign, *Switch and *Property.
type Statement interface {
	LHSSignals() *SignalSet
	RHSSignals() *SignalSet
	SrcLoc() diag.SrcLoc
	String() string
	isStatement()
}

// LHSSignals returns the signals written when v is assigned to. It panics with
// a *ShapeError when v cannot be assigned to.
func LHSSignals(v Value) *SignalSet {
	switch v := v.(type) {
	case *Signal, *ClockSignal, *ResetSignal:
		return NewSignalSet(v)
	case *Slice:
		return LHSSignals(v.Value)
	case *Part:
		return LHSSignals(v.Value)
	case *CatValue:
		out := NewSignalSet()
		for _, p := range v.Parts {
			out.AddAll(LHSSignals(p))
		}
		return out
	case *ArrayProxy:
		out := NewSignalSet()
		for _, e := range v.Elems {
			out.AddAll(LHSSignals(e))
		}
		return out
	case *Const, *Operator, *ReplValue, *Sample, *Initial:
		panic(&ShapeError{Msg: fmt.Sprintf("value %s cannot be used in assignments", v), Loc: v.SrcLoc()})
	default:
		panic(fmt.Sprintf("ast: unknown value kind %T", v))
	}
}

// Assign sets LHS to RHS.
type Assign struct {
	LHS Value
	RHS Value
	loc diag.SrcLoc
}

// NewAssign returns lhs.eq(rhs). lhs must be assignable.
func NewAssign(lhs, rhs any) *Assign {
	l := Cast(lhs)
	LHSSignals(l)
	return &Assign{LHS: l, RHS: Cast(rhs), loc: diag.Caller(1)}
}

func (a *Assign) isStatement()           {}
func (a *Assign) SrcLoc() diag.SrcLoc    { return a.loc }
func (a *Assign) LHSSignals() *SignalSet { return LHSSignals(a.LHS) }
func (a *Assign) RHSSignals() *SignalSet {
	out := a.RHS.RHSSignals()
	switch lhs := a.LHS.(type) {
	case *Part:
		out.AddAll(lhs.Offset.RHSSignals())
	case *ArrayProxy:
		out.AddAll(lhs.Index.RHSSignals())
	}
	return out
}

// SwitchCase is one arm of a Switch. An arm without patterns is the default.
type SwitchCase struct {
	Patterns []string
	Body     []Statement
}

// IsDefault reports whether the arm matches unconditionally.
func (c SwitchCase) IsDefault() bool { return len(c.Patterns) == 0 }

// Switch executes the body of the first case whose patterns match Test.
type Switch struct {
	Test  Value
	Cases []SwitchCase
	loc   diag.SrcLoc
}

// NewSwitch returns a switch over test. Patterns must be strings of 0, 1 and
// - exactly as wide as test; see Pattern for integers. Arms with identical
// pattern lists replace earlier ones in place.
func NewSwitch(test any, cases ...SwitchCase) *Switch {
	t := Cast(test)
	s := &Switch{Test: t, loc: diag.Caller(1)}
	for _, c := range cases {
		patterns := make([]string, 0, len(c.Patterns))
		for _, p := range c.Patterns {
			norm, ok := NormalizePattern(p, t.Len())
			if !ok {
				panic(shapeErrorf("switch pattern %q is wider than the switch value (width %d)", p, t.Len()))
			}
			patterns = append(patterns, norm)
		}
		s.setCase(SwitchCase{Patterns: patterns, Body: append([]Statement(nil), c.Body...)})
	}
	return s
}

func (s *Switch) setCase(c SwitchCase) {
	key := strings.Join(c.Patterns, "|")
	for i, existing := range s.Cases {
		if strings.Join(existing.Patterns, "|") == key {
			s.Cases[i] = c
			return
		}
	}
	s.Cases = append(s.Cases, c)
}

func (s *Switch) isStatement()        {}
func (s *Switch) SrcLoc() diag.SrcLoc { return s.loc }

func (s *Switch) LHSSignals() *SignalSet {
	out := NewSignalSet()
	for _, c := range s.Cases {
		for _, st := range c.Body {
			out.AddAll(st.LHSSignals())
		}
	}
	return out
}

func (s *Switch) RHSSignals() *SignalSet {
	out := s.Test.RHSSignals()
	for _, c := range s.Cases {
		for _, st := range c.Body {
			out.AddAll(st.RHSSignals())
		}
	}
	return out
}

// Pattern renders key as a binary switch pattern of the given width.
func Pattern(key int64, width int) string {
	p, ok := NormalizePattern(key, width)
	if !ok {
		panic(shapeErrorf("pattern %b is wider than %d bits", key, width))
	}
	return p
}

// NormalizePattern converts an integer or string pattern to canonical form.
// It returns false for integers that cannot fit in width bits; malformed
// strings panic with a *SyntaxError.
func NormalizePattern(p any, width int) (string, bool) {
	switch v := p.(type) {
	case string:
		s := strings.Join(strings.Fields(v), "")
		for _, ch := range s {
			if ch != '0' && ch != '1' && ch != '-' {
				panic(&SyntaxError{Msg: fmt.Sprintf("pattern %q must consist of 0, 1 and - (don't care) bits", v), Loc: diag.Caller(2)})
			}
		}
		if len(s) != width {
			panic(&SyntaxError{Msg: fmt.Sprintf("pattern %q must have the same width as the matched value (which is %d)", v, width), Loc: diag.Caller(2)})
		}
		return s, true
	case int:
		return intPattern(big.NewInt(int64(v)), width)
	case int64:
		return intPattern(big.NewInt(v), width)
	case uint:
		return intPattern(new(big.Int).SetUint64(uint64(v)), width)
	case *big.Int:
		return intPattern(v, width)
	default:
		panic(&SyntaxError{Msg: fmt.Sprintf("pattern must be a string or an integer, not %T", p), Loc: diag.Caller(2)})
	}
}

func intPattern(v *big.Int, width int) (string, bool) {
	if v.Sign() < 0 {
		v = normalize(v, Unsigned(width))
	} else if bitsForBig(v, false) > width && v.Sign() != 0 {
		return "", false
	}
	s := v.Text(2)
	if v.Sign() == 0 {
		s = ""
	}
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s, true
}

// patternMask returns the care mask and value of a canonical pattern.
func patternMask(p string) (mask, value *big.Int) {
	mask, value = new(big.Int), new(big.Int)
	n := len(p)
	for i, ch := range p {
		bit := n - 1 - i
		switch ch {
		case '1':
			mask.SetBit(mask, bit, 1)
			value.SetBit(value, bit, 1)
		case '0':
			mask.SetBit(mask, bit, 1)
		}
	}
	return mask, value
}

// PatternMatches reports whether the bits of v match a canonical pattern.
func PatternMatches(p string, v *big.Int) bool {
	mask, value := patternMask(p)
	got := new(big.Int).And(v, mask)
	return got.Cmp(value) == 0
}

// PropertyKind distinguishes the formal property statements.
type PropertyKind string

const (
	KindAssert PropertyKind = "assert"
	KindAssume PropertyKind = "assume"
	KindCover  PropertyKind = "cover"
)

// Property is a formal verification statement. Check and En are helper
// signals driven when the property is evaluated.
type Property struct {
	Kind  PropertyKind
	Test  Value
	Check *Signal
	En    *Signal
	loc   diag.SrcLoc
}

func (a *Arena) property(kind PropertyKind, test any) *Property {
	t := Cast(test)
	p := &Property{Kind: kind, Test: t, loc: diag.Caller(2)}
	p.Check = a.Signal(Unsigned(1), ResetLess(), Name(fmt.Sprintf("$%s$check", kind)))
	p.En = a.Signal(Unsigned(1), ResetLess(), Name(fmt.Sprintf("$%s$en", kind)))
	return p
}

// Assert returns an assertion that test holds.
func (a *Arena) Assert(test any) *Property { return a.property(KindAssert, test) }

// Assume returns an assumption that test holds.
func (a *Arena) Assume(test any) *Property { return a.property(KindAssume, test) }

// Cover returns a cover point for test.
func (a *Arena) Cover(test any) *Property { return a.property(KindCover, test) }

func (p *Property) isStatement()           {}
func (p *Property) SrcLoc() diag.SrcLoc    { return p.loc }
func (p *Property) LHSSignals() *SignalSet { return NewSignalSet(p.En, p.Check) }
func (p *Property) RHSSignals() *SignalSet { return p.Test.RHSSignals() }
