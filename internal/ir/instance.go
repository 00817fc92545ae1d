package ir

import (
	"fmt"

	"hdlkit/internal/ast"
	"hdlkit/internal/diag"
)

// Parameter is a named instance parameter.
type Parameter struct {
	Name  string
	Value any
}

// NamedPort binds a value to a port of an instance cell.
type NamedPort struct {
	Name  string
	Value ast.Value
	Dir   PortDirection
}

// Instance describes an opaque cell: a primitive or a foreign module.
type Instance struct {
	Type       string
	Parameters []Parameter
	Ports      []NamedPort
}

// InstanceOption configures an instance.
type InstanceOption func(*Instance, *Fragment)

// Param sets a parameter.
func Param(name string, value any) InstanceOption {
	return func(i *Instance, _ *Fragment) {
		for k := range i.Parameters {
			if i.Parameters[k].Name == name {
				i.Parameters[k].Value = value
				return
			}
		}
		i.Parameters = append(i.Parameters, Parameter{Name: name, Value: value})
	}
}

// In binds an input port.
func In(name string, value any) InstanceOption {
	return portOption(name, value, Input)
}

// Out binds an output port. The value must be assignable.
func Out(name string, value any) InstanceOption {
	return portOption(name, value, Output)
}

// InOutPort binds a bidirectional port. The value must be assignable.
func InOutPort(name string, value any) InstanceOption {
	return portOption(name, value, InOut)
}

// InstanceAttr attaches an attribute to the instance fragment.
func InstanceAttr(key, value string) InstanceOption {
	return func(_ *Instance, f *Fragment) { f.Attrs[key] = value }
}

func portOption(name string, value any, dir PortDirection) InstanceOption {
	return func(i *Instance, _ *Fragment) {
		v := ast.Cast(value)
		if dir != Input {
			ast.LHSSignals(v)
		}
		for _, p := range i.Ports {
			if p.Name == name {
				panic(&ast.NameError{Msg: fmt.Sprintf("instance port '%s' is bound twice", name), Loc: diag.Caller(3)})
			}
		}
		i.Ports = append(i.Ports, NamedPort{Name: name, Value: v, Dir: dir})
	}
}

// NewInstance returns a fragment wrapping an instance of cell typ.
func NewInstance(typ string, opts ...InstanceOption) *Fragment {
	f := NewFragment()
	f.Loc = diag.Caller(1)
	inst := &Instance{Type: typ}
	for _, opt := range opts {
		opt(inst, f)
	}
	f.Instance = inst
	return f
}

// Param returns the value of a parameter.
func (i *Instance) Param(name string) (any, bool) {
	for _, p := range i.Parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Port returns the binding of a named port.
func (i *Instance) Port(name string) (NamedPort, bool) {
	for _, p := range i.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return NamedPort{}, false
}

// memory returns the memory accessed by a $memrd/$memwr cell.
func (i *Instance) memory() *ast.Memory {
	if i.Type != "$memrd" && i.Type != "$memwr" {
		return nil
	}
	v, _ := i.Param("MEMID")
	m, _ := v.(*ast.Memory)
	return m
}

func (i *Instance) transform(t *ast.Transformer) *Instance {
	out := &Instance{Type: i.Type, Parameters: append([]Parameter(nil), i.Parameters...)}
	for _, p := range i.Ports {
		out.Ports = append(out.Ports, NamedPort{Name: p.Name, Value: t.Value(p.Value), Dir: p.Dir})
	}
	return out
}
