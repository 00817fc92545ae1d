package dsl

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"hdlkit/internal/ast"
	"hdlkit/internal/ir"
)

func TestFSM(t *testing.T) {
	a := ast.NewArena()
	start, done := bit(a, "start"), bit(a, "done")
	busy := bit(a, "busy")

	m := NewModule(a)
	fsm := m.FSM(func(fsm *FSM) {
		m.State("IDLE", func() {
			m.If(start, func() { m.Next("RUN") })
		})
		m.State("RUN", func() {
			m.Comb(busy.Eq(1))
			m.If(done, func() { m.Next("DONE") })
		})
		m.State("DONE", func() { m.Next("IDLE") })
	})

	if diff := cmp.Diff([]string{"IDLE", "RUN", "DONE"}, fsm.States()); diff != "" {
		t.Fatalf("unexpected states (-want +got):\n%s", diff)
	}
	if fsm.State.Name != "fsm_state" || fsm.State.Len() != 2 {
		t.Fatalf("expected 2-bit fsm_state, got %s of width %d", fsm.State.Name, fsm.State.Len())
	}
	if fsm.State.ResetValue().Int64() != 0 {
		t.Fatalf("expected reset state encoding 0, got %s", fsm.State.ResetValue())
	}
	if got := fsm.State.Decoder(1); got != "RUN/1" {
		t.Fatalf("expected RUN/1, got %s", got)
	}

	want := "(switch (sig fsm_state)" +
		" (case 00 (switch (cat (sig start)) (case 1 (eq (sig fsm_state) (const 1'd1)))))" +
		" (case 01 (eq (sig busy) (const 1'd1)) (switch (cat (sig done)) (case 1 (eq (sig fsm_state) (const 2'd2)))))" +
		" (case 10 (eq (sig fsm_state) (const 1'd0))))"
	if got := ast.FormatStatements(m.statements); got != want {
		t.Fatalf("unexpected statements:\nwant %s\ngot  %s", want, got)
	}

	f, err := ir.Get(m, nil)
	require.NoError(t, err)
	if !f.DriversOf("sync").Has(fsm.State) {
		t.Fatalf("expected the state register to be driven from sync")
	}
	g, err := f.FindGenerated("fsm")
	require.NoError(t, err)
	require.Same(t, fsm, g)
}

func TestFSMResetState(t *testing.T) {
	a := ast.NewArena()
	m := NewModule(a)
	fsm := m.FSM(func(fsm *FSM) {
		m.State("A", func() { m.Next("B") })
		m.State("B", func() { m.Next("A") })
	}, FSMReset("B"), FSMName("ctl"), FSMDomain("pix"))

	if enc, _ := fsm.Encoding("B"); enc != 0 {
		t.Fatalf("expected reset state B to be encoded as 0, got %d", enc)
	}
	if fsm.State.Name != "ctl_state" || fsm.State.Len() != 1 {
		t.Fatalf("expected 1-bit ctl_state, got %s of width %d", fsm.State.Name, fsm.State.Len())
	}
	if !m.driving.Has(fsm.State) {
		t.Fatalf("expected the state register to be driven")
	}
	if d, _ := m.driving.Get(fsm.State); d != "pix" {
		t.Fatalf("expected state register in domain pix, got %s", d)
	}
}

func TestFSMOngoing(t *testing.T) {
	a := ast.NewArena()
	o := bit(a, "o")
	m := NewModule(a)
	fsm := m.FSM(func(f *FSM) {
		m.State("A", func() {
			m.Comb(o.Eq(f.Ongoing("B")))
			m.Next("B")
		})
		m.State("B", nil)
	})
	if got := fsm.Ongoing("A").String(); got != "(== (sig fsm_state) (const 1'd0))" {
		t.Fatalf("unexpected ongoing expression %s", got)
	}
}

func TestFSMErrors(t *testing.T) {
	a := ast.NewArena()

	t.Run("undefined state", func(t *testing.T) {
		m := NewModule(a)
		err := catch(func() {
			m.FSM(func(*FSM) {
				m.State("A", func() { m.Next("B") })
			})
		})
		var nameErr *ast.NameError
		if !errors.As(err, &nameErr) || nameErr.Msg != "FSM state 'B' is referenced but not defined" {
			t.Fatalf("expected undefined state error, got %v", err)
		}
	})

	t.Run("duplicate state", func(t *testing.T) {
		m := NewModule(a)
		err := catch(func() {
			m.FSM(func(*FSM) {
				m.State("A", nil)
				m.State("A", nil)
			})
		})
		var nameErr *ast.NameError
		if !errors.As(err, &nameErr) {
			t.Fatalf("expected duplicate state error, got %v", err)
		}
	})

	t.Run("next outside state", func(t *testing.T) {
		m := NewModule(a)
		err := catch(func() {
			m.FSM(func(*FSM) { m.Next("A") })
		})
		var syn *ast.SyntaxError
		if !errors.As(err, &syn) || syn.Msg != "Next is only permitted inside an FSM state" {
			t.Fatalf("expected Next syntax error, got %v", err)
		}
	})

	t.Run("comb domain", func(t *testing.T) {
		m := NewModule(a)
		err := catch(func() { m.FSM(nil, FSMDomain(ast.CombDomain)) })
		var domErr *ast.DomainError
		if !errors.As(err, &domErr) {
			t.Fatalf("expected domain error, got %v", err)
		}
	})
}
