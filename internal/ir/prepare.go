package ir

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"hdlkit/internal/ast"
	"hdlkit/internal/diag"
)

// ConflictMode selects how cross-fragment driver conflicts are reported.
// The hierarchy is flattened in every mode except ConflictError.
type ConflictMode int

const (
	ConflictWarn ConflictMode = iota
	ConflictSilent
	ConflictError
)

// ParseConflictMode parses "silent", "warn" or "error".
func ParseConflictMode(s string) (ConflictMode, error) {
	switch s {
	case "warn", "":
		return ConflictWarn, nil
	case "silent":
		return ConflictSilent, nil
	case "error":
		return ConflictError, nil
	}
	return 0, errors.Errorf("unknown conflict mode %q", s)
}

func (m ConflictMode) String() string {
	switch m {
	case ConflictSilent:
		return "silent"
	case ConflictError:
		return "error"
	default:
		return "warn"
	}
}

type prepareConfig struct {
	ports      []ast.Value
	ensureSync bool
	conflicts  ConflictMode
	reporter   *diag.Reporter
}

// PrepareOption configures Prepare.
type PrepareOption func(*prepareConfig)

// WithPorts requests signals as top-level ports.
func WithPorts(ports ...ast.Value) PrepareOption {
	return func(c *prepareConfig) { c.ports = append(c.ports, ports...) }
}

// EnsureSync controls whether a default "sync" domain is created when the
// design defines none. It is on by default.
func EnsureSync(on bool) PrepareOption {
	return func(c *prepareConfig) { c.ensureSync = on }
}

// WithConflicts sets the driver conflict mode.
func WithConflicts(m ConflictMode) PrepareOption {
	return func(c *prepareConfig) { c.conflicts = m }
}

// WithReporter routes warnings to r.
func WithReporter(r *diag.Reporter) PrepareOption {
	return func(c *prepareConfig) { c.reporter = r }
}

// Design is a prepared fragment tree, ready for an emitter.
type Design struct {
	TopLevel *Fragment
	Names    *NameMap
}

// Prepare elaborates e and runs the lowering pipeline: sample lowering,
// domain propagation, hierarchy conflict resolution, reset insertion, domain
// signal lowering and port propagation.
func Prepare(a *ast.Arena, e Elaboratable, opts ...PrepareOption) (*Design, error) {
	cfg := prepareConfig{ensureSync: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.reporter == nil {
		cfg.reporter = diag.Discard()
	}

	top, err := Get(e, nil)
	if err != nil {
		return nil, errors.Wrap(err, "prepare: elaborate")
	}
	f, err := NewSampleLowerer(a).TransformFragment(top)
	if err != nil {
		return nil, errors.Wrap(err, "prepare: lower samples")
	}
	if err := f.propagateDomains(a, cfg.ensureSync); err != nil {
		return nil, errors.Wrap(err, "prepare: propagate domains")
	}
	if _, _, err := f.resolveHierarchyConflicts([]string{"top"}, cfg.conflicts, cfg.reporter); err != nil {
		return nil, errors.Wrap(err, "prepare: resolve hierarchy conflicts")
	}
	if f, err = f.insertDomainResets(); err != nil {
		return nil, errors.Wrap(err, "prepare: insert resets")
	}
	if f, err = (DomainLowerer{}).TransformFragment(f); err != nil {
		return nil, errors.Wrap(err, "prepare: lower domains")
	}
	f.propagatePorts(ast.NewSignalSet(cfg.ports...))
	return &Design{TopLevel: f, Names: AssignNames(f)}, nil
}

// propagateDomains runs up-propagation, creates the default domain when
// requested, then runs down-propagation.
func (f *Fragment) propagateDomains(a *ast.Arena, ensureSync bool) error {
	if err := f.propagateDomainsUp(a, []string{"top"}); err != nil {
		return err
	}
	if ensureSync {
		if _, ok := f.Domain(ast.SyncDomain); !ok {
			if err := f.AddDomains(a.ClockDomain(ast.SyncDomain)); err != nil {
				return err
			}
		}
	}
	return f.propagateDomainsDown()
}

type domainDefiner struct {
	index int
	name  string
	cd    *ast.ClockDomain
}

// propagateDomainsUp makes the non-local domains of every subfragment visible
// in f, renaming a domain inside each child when several children define
// distinct domains under one name.
func (f *Fragment) propagateDomainsUp(a *ast.Arena, hierarchy []string) error {
	var order []string
	definers := map[string][]domainDefiner{}
	for i, sub := range f.Subfragments {
		if err := sub.Fragment.propagateDomainsUp(a, append(slices.Clip(hierarchy), f.hierName(i))); err != nil {
			return err
		}
		for _, cd := range sub.Fragment.Domains() {
			if cd.Local {
				continue
			}
			if _, ok := definers[cd.Name]; !ok {
				order = append(order, cd.Name)
			}
			definers[cd.Name] = append(definers[cd.Name], domainDefiner{index: i, name: sub.Name, cd: cd})
		}
	}

	for _, domain := range order {
		defs := definers[domain]
		if len(defs) == 1 || sameDomain(defs) {
			continue
		}
		var names []string
		anonymous := false
		for _, d := range defs {
			if d.name == "" {
				anonymous = true
			}
			names = append(names, d.name)
		}
		if anonymous {
			var labels []string
			for _, d := range defs {
				if d.name == "" {
					labels = append(labels, fmt.Sprintf("<unnamed #%d>", d.index))
				} else {
					labels = append(labels, fmt.Sprintf("'%s'", d.name))
				}
			}
			slices.Sort(labels)
			return &ast.DomainError{Msg: fmt.Sprintf(
				"domain '%s' is defined by subfragments %s of fragment '%s'; it is necessary to either rename subfragment domains explicitly, or give names to subfragments",
				domain, strings.Join(labels, ", "), strings.Join(hierarchy, "."))}
		}
		if len(slices.Compact(slices.Sorted(slices.Values(names)))) != len(names) {
			var labels []string
			for _, d := range defs {
				labels = append(labels, fmt.Sprintf("#%d", d.index))
			}
			slices.Sort(labels)
			return &ast.DomainError{Msg: fmt.Sprintf(
				"domain '%s' is defined by subfragments %s of fragment '%s', some of which have identical names; it is necessary to either rename subfragment domains explicitly, or give distinct names to subfragments",
				domain, strings.Join(labels, ", "), strings.Join(hierarchy, "."))}
		}
		for _, d := range defs {
			dr, err := NewDomainRenamer(a, map[string]string{domain: d.name + "_" + domain})
			if err != nil {
				return err
			}
			renamed, err := dr.TransformFragment(f.Subfragments[d.index].Fragment)
			if err != nil {
				return err
			}
			f.Subfragments[d.index].Fragment = renamed
		}
	}

	for _, sub := range f.Subfragments {
		for _, cd := range sub.Fragment.Domains() {
			if cd.Local {
				continue
			}
			if existing, ok := f.Domain(cd.Name); ok && existing.ID != cd.ID {
				return &ast.DomainError{Msg: fmt.Sprintf(
					"domain '%s' is defined by fragment '%s' and by its subfragment '%s'",
					cd.Name, strings.Join(hierarchy, "."), sub.Name), Loc: cd.Loc}
			}
			if err := f.AddDomains(cd); err != nil {
				return err
			}
		}
	}
	return nil
}

func sameDomain(defs []domainDefiner) bool {
	for _, d := range defs[1:] {
		if d.cd.ID != defs[0].cd.ID {
			return false
		}
	}
	return true
}

// propagateDomainsDown makes every domain of f visible in all descendants.
func (f *Fragment) propagateDomainsDown() error {
	for _, sub := range f.Subfragments {
		for _, cd := range f.Domains() {
			if existing, ok := sub.Fragment.Domain(cd.Name); ok {
				if existing.ID != cd.ID {
					return &ast.DomainError{Msg: fmt.Sprintf(
						"domain '%s' of subfragment '%s' differs from the domain of the same name in its parent", cd.Name, sub.Name), Loc: existing.Loc}
				}
				continue
			}
			if err := sub.Fragment.AddDomains(cd); err != nil {
				return err
			}
		}
		if err := sub.Fragment.propagateDomainsDown(); err != nil {
			return err
		}
	}
	return nil
}

type claim struct {
	frag      *Fragment // nil for the fragment itself
	hierarchy []string
}

func (c claim) path() string { return strings.Join(c.hierarchy, ".") }

// claimRegistry maps signals or memories to the fragments claiming them, in
// first-claim order.
type claimRegistry[K comparable] struct {
	order  []K
	label  map[K]string
	loc    map[K]diag.SrcLoc
	claims map[K][]claim
}

func newClaimRegistry[K comparable]() *claimRegistry[K] {
	return &claimRegistry[K]{label: map[K]string{}, loc: map[K]diag.SrcLoc{}, claims: map[K][]claim{}}
}

func (r *claimRegistry[K]) add(key K, label string, loc diag.SrcLoc, c claim) {
	existing, ok := r.claims[key]
	if !ok {
		r.order = append(r.order, key)
		r.label[key] = label
		r.loc[key] = loc
	}
	for _, e := range existing {
		if e.frag == c.frag && e.path() == c.path() {
			return
		}
	}
	r.claims[key] = append(existing, c)
}

func signalLabel(v ast.Value) string {
	if s, ok := v.(*ast.Signal); ok {
		return s.Name
	}
	return v.String()
}

// resolveHierarchyConflicts flattens subfragments until no signal is driven
// from, and no memory accessed from, more than one fragment. It returns the
// signals driven and memories accessed by f and its descendants.
func (f *Fragment) resolveHierarchyConflicts(hierarchy []string, mode ConflictMode, r *diag.Reporter) (*ast.SignalSet, []*ast.Memory, error) {
	drivers := newClaimRegistry[ast.SignalKey]()
	driven := ast.NewSignalDict[ast.Value]()
	memories := newClaimRegistry[ast.MemoryID]()
	memByID := map[ast.MemoryID]*ast.Memory{}

	addSignal := func(s ast.Value, c claim) {
		switch v := s.(type) {
		case *ast.ClockSignal:
			if cd, ok := f.Domain(v.Domain); ok {
				s = cd.Clk
			}
		case *ast.ResetSignal:
			if cd, ok := f.Domain(v.Domain); ok && cd.Rst != nil {
				s = cd.Rst
			}
		}
		if !driven.Has(s) {
			driven.Set(s, s)
		}
		drivers.add(ast.KeyOf(s), signalLabel(s), s.SrcLoc(), c)
	}
	addMemory := func(m *ast.Memory, c claim) {
		memByID[m.ID] = m
		memories.add(m.ID, m.Name, m.Loc, c)
	}

	for _, s := range f.IterDrivers() {
		addSignal(s, claim{hierarchy: hierarchy})
	}

	type flattenEntry struct {
		frag      *Fragment
		hierarchy []string
	}
	var flatten []flattenEntry
	markFlatten := func(frag *Fragment, h []string) {
		for _, e := range flatten {
			if e.frag == frag {
				return
			}
		}
		flatten = append(flatten, flattenEntry{frag: frag, hierarchy: h})
	}

	for i, sub := range f.Subfragments {
		subHier := append(slices.Clip(hierarchy), f.hierName(i))
		if sub.Fragment.Flatten {
			markFlatten(sub.Fragment, subHier)
		}
		if inst := sub.Fragment.Instance; inst != nil {
			// Memory port cells belong to the fragment holding them.
			if m := inst.memory(); m != nil {
				addMemory(m, claim{hierarchy: hierarchy})
			}
			continue
		}
		subDriven, subMemories, err := sub.Fragment.resolveHierarchyConflicts(subHier, mode, r)
		if err != nil {
			return nil, nil, err
		}
		for s := range subDriven.All() {
			addSignal(s, claim{frag: sub.Fragment, hierarchy: subHier})
		}
		for _, m := range subMemories {
			addMemory(m, claim{frag: sub.Fragment, hierarchy: subHier})
		}
	}

	conflict := func(claims []claim) []string {
		if len(claims) == 1 {
			return nil
		}
		var paths []string
		for _, c := range claims {
			if c.frag != nil {
				markFlatten(c.frag, c.hierarchy)
			}
			paths = append(paths, c.path())
		}
		slices.Sort(paths)
		return paths
	}
	report := func(kind, label, verb string, loc diag.SrcLoc, paths []string) error {
		msg := fmt.Sprintf("%s '%s' is %s from multiple fragments: %s", kind, label, verb, strings.Join(paths, ", "))
		switch mode {
		case ConflictError:
			return &ast.DriverConflictError{Msg: msg, Loc: loc}
		case ConflictWarn:
			r.Warning(loc, msg+"; hierarchy will be flattened")
		}
		return nil
	}
	for _, key := range drivers.order {
		if paths := conflict(drivers.claims[key]); paths != nil {
			if err := report("Signal", drivers.label[key], "driven", drivers.loc[key], paths); err != nil {
				return nil, nil, err
			}
		}
	}
	for _, key := range memories.order {
		if paths := conflict(memories.claims[key]); paths != nil {
			if err := report("Memory", memories.label[key], "accessed", memories.loc[key], paths); err != nil {
				return nil, nil, err
			}
		}
	}

	slices.SortStableFunc(flatten, func(a, b flattenEntry) int {
		return slices.Compare(a.hierarchy, b.hierarchy)
	})
	for _, e := range flatten {
		f.mergeSubfragment(e.frag)
	}
	if len(flatten) > 0 {
		return f.resolveHierarchyConflicts(hierarchy, mode, r)
	}

	out := ast.NewSignalSet()
	for _, s := range driven.All() {
		out.Add(s)
	}
	var mems []*ast.Memory
	for _, id := range memories.order {
		mems = append(mems, memByID[id])
	}
	return out, mems, nil
}

// insertDomainResets makes every domain reset clear the registers driven in
// that domain.
func (f *Fragment) insertDomainResets() (*Fragment, error) {
	controls := map[string]ast.Value{}
	for _, cd := range f.Domains() {
		if cd.Rst != nil {
			controls[cd.Name] = cd.Rst
		}
	}
	return NewResetInserter(controls).TransformFragment(f)
}

// propagatePorts computes the ports of f and its descendants. ports are the
// signals requested from f; the input, output and inout ports of f are
// returned.
func (f *Fragment) propagatePorts(ports *ast.SignalSet) (ins, outs, inouts *ast.SignalSet) {
	selfDriven := ast.NewSignalSet()
	selfUsed := ast.NewSignalSet()
	if inst := f.Instance; inst != nil {
		for _, p := range inst.Ports {
			switch p.Dir {
			case Input:
				selfUsed.AddAll(p.Value.RHSSignals())
			case Output:
				selfDriven.AddAll(ast.LHSSignals(p.Value))
			case InOut:
				f.AddPorts(InOut, ast.LHSSignals(p.Value).Items()...)
			}
		}
	} else {
		for _, st := range f.Statements {
			selfDriven.AddAll(st.LHSSignals())
			selfUsed.AddAll(st.RHSSignals())
		}
		for d := range f.syncDomains() {
			cd, ok := f.Domain(d)
			if !ok {
				continue
			}
			selfUsed.Add(cd.Clk)
			if cd.Rst != nil {
				selfUsed.Add(cd.Rst)
			}
		}
	}

	// Inputs over-approximate: a child may drive some of them. Outputs
	// under-approximate: a child may drive more of the requested signals.
	ins = selfUsed.Difference(selfDriven)
	outs = ports.Intersection(selfDriven)

	request := selfUsed.Union(ports)
	for _, sub := range f.Subfragments {
		subIns, subOuts, subInouts := sub.Fragment.propagatePorts(request)
		ins = ins.Difference(subOuts)
		ins.AddAll(subIns.Difference(selfDriven))
		outs.AddAll(ports.Intersection(subOuts))
		f.AddPorts(InOut, subInouts.Items()...)
	}

	f.AddPorts(Input, ins.Items()...)
	f.AddPorts(Output, outs.Items()...)
	return f.portSet(Input), f.portSet(Output), f.portSet(InOut)
}

// syncDomains yields the synchronous domains f drives signals in.
func (f *Fragment) syncDomains() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, d := range f.driverOrder {
			if d == ast.CombDomain {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}
