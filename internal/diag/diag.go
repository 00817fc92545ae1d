package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// SrcLoc identifies the user source line that created a design object.
type SrcLoc struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// IsValid reports whether the location was captured.
func (l SrcLoc) IsValid() bool {
	return l.File != ""
}

func (l SrcLoc) String() string {
	if !l.IsValid() {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(l.File), l.Line)
}

// Caller returns the location of the frame skip levels above its caller.
// Frames inside the hdlkit packages are skipped so the location points at the
// design code that invoked the library.
func Caller(skip int) SrcLoc {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var first SrcLoc
	for {
		frame, more := frames.Next()
		loc := SrcLoc{File: frame.File, Line: frame.Line}
		if !first.IsValid() {
			first = loc
		}
		if !isLibraryFrame(frame.Function, frame.File) {
			return loc
		}
		if !more {
			break
		}
	}
	return first
}

func isLibraryFrame(fn, file string) bool {
	if strings.HasSuffix(file, "_test.go") {
		return false
	}
	for _, pkg := range []string{"hdlkit/internal/ast.", "hdlkit/internal/dsl.", "hdlkit/internal/ir."} {
		if strings.HasPrefix(fn, pkg) {
			return true
		}
	}
	return false
}

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// MarshalText renders the severity for the json format.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Diagnostic is a single reported message.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Loc      SrcLoc   `json:"loc"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Loc.IsValid() {
		return fmt.Sprintf("%s: %s: %s", d.Loc, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// Reporter collects diagnostics and mirrors them to a writer in text or json
// form. A nil writer only records.
type Reporter struct {
	mu       sync.Mutex
	w        io.Writer
	format   string
	diags    []Diagnostic
	errors   int
	warnings int
}

// NewReporter constructs a reporter writing to w. format is "text" or "json";
// anything else falls back to text.
func NewReporter(w io.Writer, format string) *Reporter {
	if format != "json" {
		format = "text"
	}
	return &Reporter{w: w, format: format}
}

// Discard returns a reporter that records diagnostics without printing them.
func Discard() *Reporter {
	return NewReporter(nil, "text")
}

// Warning reports a non-fatal diagnostic.
func (r *Reporter) Warning(loc SrcLoc, msg string) {
	r.report(Diagnostic{Severity: SeverityWarning, Loc: loc, Message: msg})
}

// Warningf reports a formatted warning without a location.
func (r *Reporter) Warningf(format string, args ...interface{}) {
	r.Warning(SrcLoc{}, fmt.Sprintf(format, args...))
}

// Error reports a fatal diagnostic.
func (r *Reporter) Error(loc SrcLoc, msg string) {
	r.report(Diagnostic{Severity: SeverityError, Loc: loc, Message: msg})
}

// Errorf reports a formatted error without a location.
func (r *Reporter) Errorf(format string, args ...interface{}) {
	r.Error(SrcLoc{}, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any error was recorded.
func (r *Reporter) HasErrors() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors > 0
}

// Count returns the number of diagnostics recorded with severity s.
func (r *Reporter) Count(s Severity) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == SeverityError {
		return r.errors
	}
	return r.warnings
}

// Diagnostics returns a copy of everything recorded so far.
func (r *Reporter) Diagnostics() []Diagnostic {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.diags))
	copy(out, r.diags)
	return out
}

func (r *Reporter) report(d Diagnostic) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diags = append(r.diags, d)
	if d.Severity == SeverityError {
		r.errors++
	} else {
		r.warnings++
	}
	if r.w == nil {
		return
	}
	if r.format == "json" {
		data, err := json.Marshal(d)
		if err != nil {
			fmt.Fprintln(r.w, d.String())
			return
		}
		fmt.Fprintln(r.w, string(data))
		return
	}
	fmt.Fprintln(r.w, d.String())
}
