package ir

import (
	"fmt"
	"io"
	"strings"

	"hdlkit/internal/ast"
)

// Dump writes a simple human-readable representation of the design.
func Dump(design *Design, w io.Writer) {
	if design == nil || design.TopLevel == nil {
		fmt.Fprintln(w, "<nil design>")
		return
	}
	DumpFragment(design.TopLevel, w)
}

// DumpFragment writes a fragment tree.
func DumpFragment(f *Fragment, w io.Writer) {
	dumpFragment(f, "top", 0, w)
}

func dumpFragment(f *Fragment, name string, depth int, w io.Writer) {
	indent := strings.Repeat("  ", depth)
	if f.Instance != nil {
		fmt.Fprintf(w, "%sinstance %s %s\n", indent, name, f.Instance.Type)
		dumpPorts(f, indent, w)
		dumpInstance(f.Instance, indent, w)
		return
	}
	fmt.Fprintf(w, "%sfragment %s\n", indent, name)
	dumpPorts(f, indent, w)
	dumpDomains(f, indent, w)
	dumpDrivers(f, indent, w)
	dumpStatements(f, indent, w)
	for i, sub := range f.Subfragments {
		dumpFragment(sub.Fragment, f.hierName(i), depth+1, w)
	}
}

func dumpPorts(f *Fragment, indent string, w io.Writer) {
	if f.Ports.Len() == 0 {
		return
	}
	fmt.Fprintf(w, "%s  ports:\n", indent)
	for s, dir := range f.Ports.All() {
		shape := s.Shape()
		fmt.Fprintf(w, "%s    %s %s %db%s\n",
			indent,
			portDirection(dir),
			valueName(s),
			shape.Width,
			signSuffix(shape.Signed),
		)
	}
}

func dumpDomains(f *Fragment, indent string, w io.Writer) {
	domains := f.Domains()
	if len(domains) == 0 {
		return
	}
	fmt.Fprintf(w, "%s  domains:\n", indent)
	for _, cd := range domains {
		rst := "-"
		if cd.Rst != nil {
			rst = cd.Rst.Name
		}
		var flags []string
		if cd.AsyncReset {
			flags = append(flags, "async")
		}
		if cd.NegEdge {
			flags = append(flags, "negedge")
		}
		if cd.Local {
			flags = append(flags, "local")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " " + strings.Join(flags, ",")
		}
		fmt.Fprintf(w, "%s    %-8s clk=%s rst=%s%s\n", indent, cd.Name, cd.Clk.Name, rst, suffix)
	}
}

func dumpDrivers(f *Fragment, indent string, w io.Writer) {
	if len(f.driverOrder) == 0 {
		return
	}
	fmt.Fprintf(w, "%s  drivers:\n", indent)
	for _, d := range f.driverOrder {
		var names []string
		for s := range f.drivers[d].All() {
			names = append(names, valueName(s))
		}
		fmt.Fprintf(w, "%s    %-8s %s\n", indent, d+":", strings.Join(names, " "))
	}
}

func dumpStatements(f *Fragment, indent string, w io.Writer) {
	if len(f.Statements) == 0 {
		return
	}
	fmt.Fprintf(w, "%s  statements:\n", indent)
	for _, st := range f.Statements {
		fmt.Fprintf(w, "%s    %s\n", indent, st)
	}
}

func dumpInstance(inst *Instance, indent string, w io.Writer) {
	for _, p := range inst.Parameters {
		fmt.Fprintf(w, "%s  param %s = %s\n", indent, p.Name, renderParam(p.Value))
	}
	for _, p := range inst.Ports {
		fmt.Fprintf(w, "%s  %s %s = %s\n", indent, portDirection(p.Dir), p.Name, p.Value)
	}
}

func renderParam(v any) string {
	switch p := v.(type) {
	case *ast.Memory:
		return p.Name
	case bool:
		if p {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(v)
	}
}

func valueName(v ast.Value) string {
	if s, ok := v.(*ast.Signal); ok {
		return s.Name
	}
	return v.String()
}

func portDirection(dir PortDirection) string {
	switch dir {
	case Input:
		return "in "
	case Output:
		return "out"
	case InOut:
		return "io "
	default:
		return "?"
	}
}

func signSuffix(signed bool) string {
	if signed {
		return "s"
	}
	return "u"
}
