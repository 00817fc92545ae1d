package ast

import (
	"fmt"
	"strings"
)

func (c *Const) String() string {
	if c.shape.Signed {
		return fmt.Sprintf("(const %d'sd%s)", c.shape.Width, c.value)
	}
	return fmt.Sprintf("(const %d'd%s)", c.shape.Width, c.value)
}

func (s *Signal) String() string      { return "(sig " + s.Name + ")" }
func (c *ClockSignal) String() string { return "(clk " + c.Domain + ")" }
func (r *ResetSignal) String() string { return "(rst " + r.Domain + ")" }
func (i *Initial) String() string     { return "(initial)" }
func (r *ReplValue) String() string   { return fmt.Sprintf("(repl %s %d)", r.Value, r.Count) }
func (s *Slice) String() string       { return fmt.Sprintf("(slice %s %d:%d)", s.Value, s.Start, s.End) }
func (p *Part) String() string        { return fmt.Sprintf("(part %s %s %d %d)", p.Value, p.Offset, p.Width, p.Stride) }
func (o *Operator) String() string    { return "(" + o.Op + " " + joinValues(o.Operands) + ")" }
func (c *CatValue) String() string    { return "(cat " + joinValues(c.Parts) + ")" }
func (s *Sample) String() string      { return fmt.Sprintf("(sample %s @ %s[%d])", s.Value, s.Domain, s.Clocks) }
func (a *Assign) String() string      { return fmt.Sprintf("(eq %s %s)", a.LHS, a.RHS) }
func (p *Property) String() string    { return fmt.Sprintf("(%s %s)", p.Kind, p.Test) }

func joinValues(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, " ")
}

func (s *Switch) String() string {
	var b strings.Builder
	b.WriteString("(switch ")
	b.WriteString(s.Test.String())
	for _, c := range s.Cases {
		if c.IsDefault() {
			b.WriteString(" (default")
		} else {
			b.WriteString(" (case ")
			b.WriteString(strings.Join(c.Patterns, " "))
		}
		for _, st := range c.Body {
			b.WriteByte(' ')
			b.WriteString(st.String())
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String()
}

// FormatStatements renders a statement list one statement per line.
func FormatStatements(stmts []Statement) string {
	lines := make([]string, len(stmts))
	for i, st := range stmts {
		lines[i] = st.String()
	}
	return strings.Join(lines, "\n")
}
