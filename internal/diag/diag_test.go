package diag

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, "text")
	r.Warning(SrcLoc{File: "/src/top.go", Line: 12}, "unused signal")
	r.Errorf("domain '%s' is used but not defined", "sync")

	want := "top.go:12: warning: unused signal\nerror: domain 'sync' is used but not defined\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("unexpected output (-want +got):\n%s", diff)
	}
	require.True(t, r.HasErrors())
	require.Equal(t, 1, r.Count(SeverityWarning))
	require.Equal(t, 1, r.Count(SeverityError))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, "json")
	r.Warningf("pattern %s is wider than %d", "0101", 3)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got))
	require.Equal(t, "warning", got["severity"])
	require.Equal(t, "pattern 0101 is wider than 3", got["message"])
	require.False(t, r.HasErrors())
}

func TestUnknownFormatFallsBackToText(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(&buf, "xml").Warningf("w")
	if buf.String() != "warning: w\n" {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestDiscardAndNil(t *testing.T) {
	r := Discard()
	r.Warningf("kept")
	if diff := cmp.Diff([]Diagnostic{{Severity: SeverityWarning, Message: "kept"}}, r.Diagnostics()); diff != "" {
		t.Fatalf("unexpected diagnostics (-want +got):\n%s", diff)
	}

	var nilReporter *Reporter
	nilReporter.Warningf("dropped")
	require.False(t, nilReporter.HasErrors())
	require.Zero(t, nilReporter.Count(SeverityWarning))
	require.Nil(t, nilReporter.Diagnostics())
}

func TestCaller(t *testing.T) {
	loc := Caller(0)
	if !strings.HasSuffix(loc.File, "diag_test.go") || loc.Line == 0 {
		t.Fatalf("expected a location in diag_test.go, got %v", loc)
	}
	require.Equal(t, "<unknown>", SrcLoc{}.String())
}
