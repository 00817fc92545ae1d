package ast

import (
	"fmt"
	"math/big"

	"hdlkit/internal/diag"
)

// Value is a hardware expression. The set of implementations is closed:
// *Const, *Signal, *ClockSignal, *ResetSignal, *Operator, *Slice, *Part,
// *Cat, *Repl, *ArrayProxy, *Sample and *Initial.
type Value interface {
	Shape() Shape
	Len() int
	RHSSignals() *SignalSet
	SrcLoc() diag.SrcLoc
	String() string

	Eq(rhs any) *Assign

	Neg() *Operator
	Not() *Operator
	Bool() *Operator
	Any() *Operator
	All() *Operator
	XorReduce() *Operator
	AsUnsigned() *Operator
	AsSigned() *Operator

	Add(b any) *Operator
	Sub(b any) *Operator
	Mul(b any) *Operator
	FloorDiv(b any) *Operator
	Mod(b any) *Operator
	And(b any) *Operator
	Or(b any) *Operator
	Xor(b any) *Operator
	Shl(b any) *Operator
	Shr(b any) *Operator
	Equals(b any) *Operator
	NotEquals(b any) *Operator
	Lt(b any) *Operator
	Le(b any) *Operator
	Gt(b any) *Operator
	Ge(b any) *Operator

	Bit(i int) *Slice
	Slice(start, end int) *Slice
	BitSelect(offset any, width int) Value
	WordSelect(offset any, width int) Value
	Matches(patterns ...any) Value

	isValue()
}

// node carries what every Value variant shares: a back reference used by the
// operator helpers, and the creation location.
type node struct {
	self Value
	loc  diag.SrcLoc
}

func (n node) isValue()            {}
func (n node) SrcLoc() diag.SrcLoc { return n.loc }
func (n node) Len() int            { return n.self.Shape().Width }

func (n node) Eq(rhs any) *Assign { return NewAssign(n.self, rhs) }

func (n node) Neg() *Operator        { return Op("-", n.self) }
func (n node) Not() *Operator        { return Op("~", n.self) }
func (n node) Bool() *Operator       { return Op("b", n.self) }
func (n node) Any() *Operator        { return Op("r|", n.self) }
func (n node) All() *Operator        { return Op("r&", n.self) }
func (n node) XorReduce() *Operator  { return Op("r^", n.self) }
func (n node) AsUnsigned() *Operator { return Op("u", n.self) }
func (n node) AsSigned() *Operator   { return Op("s", n.self) }

func (n node) Add(b any) *Operator       { return Op("+", n.self, b) }
func (n node) Sub(b any) *Operator       { return Op("-", n.self, b) }
func (n node) Mul(b any) *Operator       { return Op("*", n.self, b) }
func (n node) FloorDiv(b any) *Operator  { return Op("//", n.self, b) }
func (n node) Mod(b any) *Operator       { return Op("%", n.self, b) }
func (n node) And(b any) *Operator       { return Op("&", n.self, b) }
func (n node) Or(b any) *Operator        { return Op("|", n.self, b) }
func (n node) Xor(b any) *Operator       { return Op("^", n.self, b) }
func (n node) Shl(b any) *Operator       { return Op("<<", n.self, b) }
func (n node) Shr(b any) *Operator       { return Op(">>", n.self, b) }
func (n node) Equals(b any) *Operator    { return Op("==", n.self, b) }
func (n node) NotEquals(b any) *Operator { return Op("!=", n.self, b) }
func (n node) Lt(b any) *Operator        { return Op("<", n.self, b) }
func (n node) Le(b any) *Operator        { return Op("<=", n.self, b) }
func (n node) Gt(b any) *Operator        { return Op(">", n.self, b) }
func (n node) Ge(b any) *Operator        { return Op(">=", n.self, b) }

func (n node) Bit(i int) *Slice {
	length := n.Len()
	if i < -length || i >= length {
		panic(shapeErrorf("index %d is out of range for value of width %d", i, length))
	}
	if i < 0 {
		i += length
	}
	return NewSlice(n.self, i, i+1)
}

func (n node) Slice(start, end int) *Slice {
	length := n.Len()
	if start < 0 {
		start += length
	}
	if end < 0 {
		end += length
	}
	return NewSlice(n.self, start, end)
}

func (n node) BitSelect(offset any, width int) Value {
	off := Cast(offset)
	if c, ok := off.(*Const); ok && c.value.IsInt64() {
		start := int(c.value.Int64())
		return n.clampedSlice(start, start+width)
	}
	return NewPart(n.self, off, width, 1)
}

func (n node) WordSelect(offset any, width int) Value {
	off := Cast(offset)
	if c, ok := off.(*Const); ok && c.value.IsInt64() {
		start := int(c.value.Int64()) * width
		return n.clampedSlice(start, start+width)
	}
	return NewPart(n.self, off, width, width)
}

// clampedSlice keeps both bounds within the value, so a constant select past
// the end yields an empty slice.
func (n node) clampedSlice(start, end int) *Slice {
	length := n.Len()
	start = min(max(start, 0), length)
	end = min(max(end, start), length)
	return NewSlice(n.self, start, end)
}

// Matches returns a 1-bit value that is true when n matches any of the
// patterns. Patterns are integers or strings of 0, 1 and -.
func (n node) Matches(patterns ...any) Value {
	width := n.Len()
	var terms []Value
	for _, p := range patterns {
		pattern, ok := NormalizePattern(p, width)
		if !ok {
			continue
		}
		mask, value := patternMask(pattern)
		if mask.Sign() == 0 {
			terms = append(terms, ConstBig(big.NewInt(1), Unsigned(1)))
			continue
		}
		masked := Op("&", n.self, ConstBig(mask, Unsigned(width)))
		terms = append(terms, Op("==", masked, ConstBig(value, Unsigned(width))))
	}
	if len(terms) == 0 {
		return C(0, Unsigned(1))
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return Cat(toAny(terms)...).Any()
}

func toAny(vs []Value) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// Cast converts integers, booleans and *big.Int into constants and returns
// values unchanged.
func Cast(x any) Value {
	switch v := x.(type) {
	case Value:
		return v
	case bool:
		if v {
			return C(1, Unsigned(1))
		}
		return C(0, Unsigned(1))
	case int:
		return ConstOf(big.NewInt(int64(v)))
	case int8:
		return ConstOf(big.NewInt(int64(v)))
	case int16:
		return ConstOf(big.NewInt(int64(v)))
	case int32:
		return ConstOf(big.NewInt(int64(v)))
	case int64:
		return ConstOf(big.NewInt(v))
	case uint:
		return ConstOf(new(big.Int).SetUint64(uint64(v)))
	case uint8:
		return ConstOf(big.NewInt(int64(v)))
	case uint16:
		return ConstOf(big.NewInt(int64(v)))
	case uint32:
		return ConstOf(big.NewInt(int64(v)))
	case uint64:
		return ConstOf(new(big.Int).SetUint64(v))
	case *big.Int:
		return ConstOf(v)
	default:
		panic(shapeErrorf("object %v of type %T cannot be converted to a value", x, x))
	}
}

// Const is a constant of a fixed shape.
type Const struct {
	node
	value *big.Int
	shape Shape
}

// NewConstBig returns a constant of shape s holding v in two's complement
// form. Values outside the range of s are masked; negative values require a
// signed shape.
func NewConstBig(v *big.Int, s Shape) (*Const, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if v.Sign() < 0 && !s.Signed {
		return nil, &ShapeError{Msg: fmt.Sprintf("negative constant %s requires a signed shape, not %s", v, s)}
	}
	c := &Const{value: normalize(v, s), shape: s}
	c.node = node{self: c, loc: diag.Caller(1)}
	return c, nil
}

// NewConst is NewConstBig for machine integers.
func NewConst(v int64, s Shape) (*Const, error) {
	return NewConstBig(big.NewInt(v), s)
}

// C returns a constant, panicking with a *ShapeError on invalid input. When no
// shape is given it is inferred from v.
func C(v int64, shape ...Shape) *Const {
	if len(shape) == 0 {
		return ConstOf(big.NewInt(v))
	}
	return ConstBig(big.NewInt(v), shape[0])
}

// ConstBig is the panicking form of NewConstBig.
func ConstBig(v *big.Int, s Shape) *Const {
	c, err := NewConstBig(v, s)
	if err != nil {
		panic(err)
	}
	return c
}

// ConstOf returns a constant whose shape is the smallest that represents v.
func ConstOf(v *big.Int) *Const {
	return ConstBig(v, Shape{Width: bitsForBig(v, false), Signed: v.Sign() < 0})
}

func (c *Const) Shape() Shape { return c.shape }

// Value returns the normalized integer value.
func (c *Const) Value() *big.Int { return new(big.Int).Set(c.value) }

// Int64 returns the value truncated to 64 bits.
func (c *Const) Int64() int64 { return c.value.Int64() }

func (c *Const) RHSSignals() *SignalSet { return NewSignalSet() }

// Signal is a named wire or register. Signals compare by identity.
type Signal struct {
	node
	id        SignalID
	arena     *Arena
	Name      string
	shape     Shape
	reset     *big.Int
	ResetLess bool
	Attrs     map[string]string
	// Decoder renders a value of the signal for display, e.g. FSM state names.
	Decoder func(v int64) string
}

// SignalOption configures a new signal.
type SignalOption func(*Signal)

// Name sets the signal name.
func Name(name string) SignalOption {
	return func(s *Signal) { s.Name = name }
}

// Reset sets the reset value.
func Reset(v int64) SignalOption {
	return func(s *Signal) { s.reset = big.NewInt(v) }
}

// ResetBig sets a reset value wider than 64 bits.
func ResetBig(v *big.Int) SignalOption {
	return func(s *Signal) { s.reset = new(big.Int).Set(v) }
}

// ResetLess marks the signal as unaffected by domain resets.
func ResetLess() SignalOption {
	return func(s *Signal) { s.ResetLess = true }
}

// Attr attaches a synthesis attribute.
func Attr(key, value string) SignalOption {
	return func(s *Signal) {
		if s.Attrs == nil {
			s.Attrs = make(map[string]string)
		}
		s.Attrs[key] = value
	}
}

// WithDecoder sets the display decoder.
func WithDecoder(fn func(int64) string) SignalOption {
	return func(s *Signal) { s.Decoder = fn }
}

// Signal allocates a new signal of the given shape.
func (a *Arena) Signal(shape Shape, opts ...SignalOption) *Signal {
	if err := shape.check(); err != nil {
		panic(err)
	}
	s := &Signal{Name: "$signal", shape: shape, reset: new(big.Int)}
	s.node = node{self: s, loc: diag.Caller(1)}
	for _, opt := range opts {
		opt(s)
	}
	if s.reset.Sign() < 0 && !shape.Signed {
		panic(&ShapeError{Msg: fmt.Sprintf("reset value %s of signal %q requires a signed shape", s.reset, s.Name), Loc: s.loc})
	}
	s.reset = normalize(s.reset, shape)
	a.allocSignal(s)
	return s
}

// SignalLike allocates a signal with the shape of v. When v is a signal its
// reset value, reset-less flag and attributes are copied as well; opts are
// applied afterwards.
func (a *Arena) SignalLike(v Value, opts ...SignalOption) *Signal {
	var base []SignalOption
	if other, ok := v.(*Signal); ok {
		base = append(base, Name(other.Name), ResetBig(other.reset))
		if other.ResetLess {
			base = append(base, ResetLess())
		}
		for k, val := range other.Attrs {
			base = append(base, Attr(k, val))
		}
		if other.Decoder != nil {
			base = append(base, WithDecoder(other.Decoder))
		}
	}
	return a.Signal(v.Shape(), append(base, opts...)...)
}

// ID returns the arena identity of the signal.
func (s *Signal) ID() SignalID { return s.id }

// Arena returns the arena that allocated the signal.
func (s *Signal) Arena() *Arena { return s.arena }

func (s *Signal) Shape() Shape { return s.shape }

// ResetValue returns the normalized reset value.
func (s *Signal) ResetValue() *big.Int { return new(big.Int).Set(s.reset) }

// Reshape changes the shape of a signal while a builder is still sizing it,
// e.g. an FSM state register whose width depends on the number of states.
func (s *Signal) Reshape(shape Shape, reset int64) {
	if err := shape.check(); err != nil {
		panic(err)
	}
	s.shape = shape
	s.reset = normalize(big.NewInt(reset), shape)
}

func (s *Signal) RHSSignals() *SignalSet { return NewSignalSet(s) }

// ClockSignal refers to the clock of a domain by name until it is lowered.
type ClockSignal struct {
	node
	Domain string
}

// NewClockSignal returns a reference to the clock of domain.
func NewClockSignal(domain string) *ClockSignal {
	if domain == CombDomain {
		panic(&DomainError{Msg: "domain 'comb' does not have a clock", Loc: diag.Caller(1)})
	}
	c := &ClockSignal{Domain: domain}
	c.node = node{self: c, loc: diag.Caller(1)}
	return c
}

func (c *ClockSignal) Shape() Shape           { return Unsigned(1) }
func (c *ClockSignal) RHSSignals() *SignalSet { return NewSignalSet(c) }

// ResetSignal refers to the reset of a domain by name until it is lowered.
type ResetSignal struct {
	node
	Domain string
	// AllowResetLess lowers the reset of a reset-less domain to a constant 0
	// instead of failing.
	AllowResetLess bool
}

// NewResetSignal returns a reference to the reset of domain.
func NewResetSignal(domain string, allowResetLess bool) *ResetSignal {
	if domain == CombDomain {
		panic(&DomainError{Msg: "domain 'comb' does not have a reset", Loc: diag.Caller(1)})
	}
	r := &ResetSignal{Domain: domain, AllowResetLess: allowResetLess}
	r.node = node{self: r, loc: diag.Caller(1)}
	return r
}

func (r *ResetSignal) Shape() Shape           { return Unsigned(1) }
func (r *ResetSignal) RHSSignals() *SignalSet { return NewSignalSet(r) }

// Operator applies an operation to one, two or three operands.
type Operator struct {
	node
	Op       string
	Operands []Value
	shape    Shape
}

var operatorArity = map[string][]int{
	"+": {1, 2}, "-": {1, 2}, "~": {1}, "b": {1}, "r|": {1}, "r&": {1}, "r^": {1},
	"u": {1}, "s": {1},
	"*": {2}, "//": {2}, "%": {2}, "&": {2}, "|": {2}, "^": {2}, "<<": {2}, ">>": {2},
	"==": {2}, "!=": {2}, "<": {2}, "<=": {2}, ">": {2}, ">=": {2},
	"m": {3},
}

// NewOperator builds an operator node, reporting malformed arity or shapes.
func NewOperator(op string, operands ...any) (*Operator, error) {
	arities, ok := operatorArity[op]
	if !ok {
		return nil, &ShapeError{Msg: fmt.Sprintf("unknown operator %q", op)}
	}
	if len(operands) < 1 || len(operands) > 3 {
		return nil, &ShapeError{Msg: fmt.Sprintf("operator %q applied to %d operands; only 1, 2 or 3 are supported", op, len(operands))}
	}
	valid := false
	for _, a := range arities {
		valid = valid || a == len(operands)
	}
	if !valid {
		return nil, &ShapeError{Msg: fmt.Sprintf("operator %q cannot be applied to %d operands", op, len(operands))}
	}
	vals := make([]Value, len(operands))
	for i, o := range operands {
		vals[i] = Cast(o)
	}
	shape, err := operatorShape(op, vals)
	if err != nil {
		return nil, err
	}
	o := &Operator{Op: op, Operands: vals, shape: shape}
	o.node = node{self: o, loc: diag.Caller(1)}
	return o, nil
}

// Op is the panicking form of NewOperator.
func Op(op string, operands ...any) *Operator {
	o, err := NewOperator(op, operands...)
	if err != nil {
		if se, ok := err.(*ShapeError); ok && !se.Loc.IsValid() {
			se.Loc = diag.Caller(1)
		}
		panic(err)
	}
	return o
}

func operatorShape(op string, operands []Value) (Shape, error) {
	switch len(operands) {
	case 1:
		a := operands[0].Shape()
		switch op {
		case "+", "~":
			return a, nil
		case "-":
			if !a.Signed {
				return Signed(a.Width + 1), nil
			}
			return a, nil
		case "b", "r|", "r&", "r^":
			return Unsigned(1), nil
		case "u":
			return Unsigned(a.Width), nil
		case "s":
			return Signed(a.Width), nil
		}
	case 2:
		a, b := operands[0].Shape(), operands[1].Shape()
		switch op {
		case "+", "-":
			s := bitwiseShape(a, b)
			return Shape{Width: s.Width + 1, Signed: s.Signed}, nil
		case "*":
			switch {
			case !a.Signed && !b.Signed:
				return Unsigned(a.Width + b.Width), nil
			case a.Signed && b.Signed:
				return Signed(a.Width + b.Width - 1), nil
			default:
				return Signed(a.Width + b.Width), nil
			}
		case "//":
			if a.Signed || b.Signed {
				return Signed(a.Width + 1), nil
			}
			return Unsigned(a.Width), nil
		case "%":
			return a, nil
		case "==", "!=", "<", "<=", ">", ">=":
			return Unsigned(1), nil
		case "&", "|", "^":
			return bitwiseShape(a, b), nil
		case "<<":
			exp := b.Width
			if b.Signed {
				exp--
			}
			if exp > 30 {
				return Shape{}, &ShapeError{Msg: fmt.Sprintf("shift amount of width %d is too wide", b.Width)}
			}
			return Shape{Width: a.Width + (1 << uint(max(exp, 0))) - 1, Signed: a.Signed}, nil
		case ">>":
			extra := 0
			if b.Signed {
				if b.Width-1 > 30 {
					return Shape{}, &ShapeError{Msg: fmt.Sprintf("shift amount of width %d is too wide", b.Width)}
				}
				extra = 1 << uint(max(b.Width-1, 0))
			}
			return Shape{Width: a.Width + extra, Signed: a.Signed}, nil
		}
	case 3:
		if op == "m" {
			return bitwiseShape(operands[1].Shape(), operands[2].Shape()), nil
		}
	}
	return Shape{}, &ShapeError{Msg: fmt.Sprintf("operator %q is not defined for %d operands", op, len(operands))}
}

func (o *Operator) Shape() Shape { return o.shape }

func (o *Operator) RHSSignals() *SignalSet {
	out := NewSignalSet()
	for _, v := range o.Operands {
		out.AddAll(v.RHSSignals())
	}
	return out
}

// Mux selects a when sel is true and b otherwise. sel is reduced to one bit
// when it is wider.
func Mux(sel, a, b any) *Operator {
	s := Cast(sel)
	if s.Len() != 1 {
		s = s.Bool()
	}
	return Op("m", s, a, b)
}

// Slice is a static bit range [Start, End) of a value.
type Slice struct {
	node
	Value      Value
	Start, End int
}

// NewSlice returns value[start:end]. Bounds must satisfy
// 0 <= start <= end <= len(value).
func NewSlice(value any, start, end int) *Slice {
	v := Cast(value)
	n := v.Len()
	if start < 0 || start > n {
		panic(shapeErrorf("slice start %d must be within [0, %d]", start, n))
	}
	if end < start || end > n {
		panic(shapeErrorf("slice end %d must be within [%d, %d]", end, start, n))
	}
	s := &Slice{Value: v, Start: start, End: end}
	s.node = node{self: s, loc: diag.Caller(1)}
	return s
}

func (s *Slice) Shape() Shape           { return Unsigned(s.End - s.Start) }
func (s *Slice) RHSSignals() *SignalSet { return s.Value.RHSSignals() }

// Part is a slice of Width bits starting at Offset*Stride, with a runtime
// offset.
type Part struct {
	node
	Value  Value
	Offset Value
	Width  int
	Stride int
}

// NewPart returns a dynamically indexed part of value.
func NewPart(value, offset any, width, stride int) *Part {
	v, off := Cast(value), Cast(offset)
	if width < 0 {
		panic(shapeErrorf("part width must be a non-negative integer, not %d", width))
	}
	if stride <= 0 {
		panic(shapeErrorf("part stride must be a positive integer, not %d", stride))
	}
	if off.Shape().Signed {
		panic(shapeErrorf("part offset must be unsigned"))
	}
	p := &Part{Value: v, Offset: off, Width: width, Stride: stride}
	p.node = node{self: p, loc: diag.Caller(1)}
	return p
}

func (p *Part) Shape() Shape { return Unsigned(p.Width) }

func (p *Part) RHSSignals() *SignalSet {
	out := p.Value.RHSSignals()
	out.AddAll(p.Offset.RHSSignals())
	return out
}

// CatValue concatenates parts, least significant first.
type CatValue struct {
	node
	Parts []Value
}

// Cat concatenates its arguments; the first argument becomes the least
// significant bits.
func Cat(parts ...any) *CatValue {
	c := &CatValue{Parts: make([]Value, 0, len(parts))}
	for _, p := range parts {
		c.Parts = append(c.Parts, Cast(p))
	}
	c.node = node{self: c, loc: diag.Caller(1)}
	return c
}

func (c *CatValue) Shape() Shape {
	width := 0
	for _, p := range c.Parts {
		width += p.Len()
	}
	return Unsigned(width)
}

func (c *CatValue) RHSSignals() *SignalSet {
	out := NewSignalSet()
	for _, p := range c.Parts {
		out.AddAll(p.RHSSignals())
	}
	return out
}

// ReplValue repeats a value Count times.
type ReplValue struct {
	node
	Value Value
	Count int
}

// Repl replicates value count times.
func Repl(value any, count int) *ReplValue {
	if count < 0 {
		panic(shapeErrorf("replication count must be a non-negative integer, not %d", count))
	}
	r := &ReplValue{Value: Cast(value), Count: count}
	r.node = node{self: r, loc: diag.Caller(1)}
	return r
}

func (r *ReplValue) Shape() Shape           { return Unsigned(r.Value.Len() * r.Count) }
func (r *ReplValue) RHSSignals() *SignalSet { return r.Value.RHSSignals() }

// Sample is the value of Value Clocks cycles ago in Domain. An empty Domain is
// filled in from the statement that uses the sample.
type Sample struct {
	node
	Value  Value
	Clocks int
	Domain string
}

// NewSample returns a sample of value.
func NewSample(value any, clocks int, domain string) *Sample {
	v := Cast(value)
	switch v.(type) {
	case *Signal, *Const, *ClockSignal, *ResetSignal, *Initial:
	default:
		panic(shapeErrorf("sampled value must be a signal or a constant, not %s", v))
	}
	if clocks < 0 {
		panic(shapeErrorf("cannot sample a value %d cycles in the future", -clocks))
	}
	if domain == CombDomain {
		panic(&DomainError{Msg: "domain 'comb' does not support sampling", Loc: diag.Caller(1)})
	}
	s := &Sample{Value: v, Clocks: clocks, Domain: domain}
	s.node = node{self: s, loc: diag.Caller(1)}
	return s
}

func (s *Sample) Shape() Shape           { return s.Value.Shape() }
func (s *Sample) RHSSignals() *SignalSet { return s.Value.RHSSignals() }

// Past is the value of expr clocks cycles ago.
func Past(expr any, clocks int, domain string) *Sample {
	return NewSample(expr, clocks, domain)
}

// Stable is true when expr did not change between the two sampled cycles.
func Stable(expr any, clocks int, domain string) *Operator {
	return NewSample(expr, clocks+1, domain).Equals(NewSample(expr, clocks, domain))
}

// Rose is true when expr went from 0 to 1.
func Rose(expr any, clocks int, domain string) *Operator {
	return NewSample(expr, clocks+1, domain).Not().And(NewSample(expr, clocks, domain))
}

// Fell is true when expr went from 1 to 0.
func Fell(expr any, clocks int, domain string) *Operator {
	return NewSample(expr, clocks+1, domain).And(NewSample(expr, clocks, domain).Not())
}

// Initial is true during the first cycle of a formal verification run.
type Initial struct {
	node
}

// NewInitial returns the initial-cycle indicator.
func NewInitial() *Initial {
	i := &Initial{}
	i.node = node{self: i, loc: diag.Caller(1)}
	return i
}

func (i *Initial) Shape() Shape           { return Unsigned(1) }
func (i *Initial) RHSSignals() *SignalSet { return NewSignalSet() }
