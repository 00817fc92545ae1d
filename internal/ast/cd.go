package ast

import (
	"fmt"

	"hdlkit/internal/diag"
)

const (
	// CombDomain is the pseudo-domain of combinational statements.
	CombDomain = "comb"
	// SyncDomain is the default synchronous domain.
	SyncDomain = "sync"
)

// ClockDomain is a named pair of clock and optional reset signals.
type ClockDomain struct {
	ID         DomainID
	Name       string
	Clk        *Signal
	Rst        *Signal // nil for reset-less domains
	NegEdge    bool
	AsyncReset bool
	// Local domains are visible only in the fragment that defines them and
	// its children.
	Local bool
	Loc   diag.SrcLoc
}

// DomainOption configures a new clock domain.
type DomainOption func(*domainConfig)

type domainConfig struct {
	resetLess  bool
	negEdge    bool
	asyncReset bool
	local      bool
}

// ResetLessDomain creates the domain without a reset signal.
func ResetLessDomain() DomainOption { return func(c *domainConfig) { c.resetLess = true } }

// NegEdge makes the domain sensitive to the falling clock edge.
func NegEdge() DomainOption { return func(c *domainConfig) { c.negEdge = true } }

// AsyncReset makes the domain reset asynchronous.
func AsyncReset() DomainOption { return func(c *domainConfig) { c.asyncReset = true } }

// Local keeps the domain from being propagated to the parent fragment.
func Local() DomainOption { return func(c *domainConfig) { c.local = true } }

// ClockDomain allocates a domain record and its clock and reset signals.
func (a *Arena) ClockDomain(name string, opts ...DomainOption) *ClockDomain {
	loc := diag.Caller(1)
	if name == "" {
		panic(&DomainError{Msg: "clock domain name must be specified", Loc: loc})
	}
	if name == CombDomain {
		panic(&DomainError{Msg: "domain 'comb' may not be clocked", Loc: loc})
	}
	var cfg domainConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	clkName, rstName := domainSignalNames(name)
	cd := &ClockDomain{
		ID:         a.allocDomain(),
		Name:       name,
		NegEdge:    cfg.negEdge,
		AsyncReset: cfg.asyncReset,
		Local:      cfg.local,
		Loc:        loc,
	}
	cd.Clk = a.Signal(Unsigned(1), Name(clkName))
	if !cfg.resetLess {
		cd.Rst = a.Signal(Unsigned(1), Name(rstName), ResetLess())
	}
	return cd
}

func domainSignalNames(name string) (clk, rst string) {
	if name == SyncDomain {
		return "clk", "rst"
	}
	return name + "_clk", name + "_rst"
}

// ResetLess reports whether the domain has no reset signal.
func (cd *ClockDomain) ResetLess() bool { return cd.Rst == nil }

// Renamed returns a new domain record called name that shares the clock and
// reset signals of cd. The shared signals are renamed in place to follow the
// new domain, so cd's Clk and Rst report the new names as well.
func (cd *ClockDomain) Renamed(a *Arena, name string) *ClockDomain {
	if name == CombDomain {
		panic(&DomainError{Msg: "domain 'comb' may not be clocked", Loc: diag.Caller(1)})
	}
	out := *cd
	out.ID = a.allocDomain()
	out.Name = name
	clkName, rstName := domainSignalNames(name)
	out.Clk.Name = clkName
	if out.Rst != nil {
		out.Rst.Name = rstName
	}
	return &out
}

func (cd *ClockDomain) String() string {
	return fmt.Sprintf("(domain %s #%d)", cd.Name, cd.ID)
}
