// Package diagnostics runs the build tool in JSON message mode and turns
// its output into ordered, level-partitioned compiler diagnostics.
package diagnostics

import (
	"fmt"
	"sort"
)

// Level is the severity reported by the compiler for a diagnostic.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
	LevelHelp    Level = "help"
)

// Span is a source location attached to a diagnostic.
type Span struct {
	File                 string `json:"file_name"`
	Line                 int    `json:"line_start"`
	SuggestedReplacement string `json:"suggested_replacement,omitempty"`
}

// Diagnostic is one structured compiler message.
type Diagnostic struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Spans   []Span `json:"spans,omitempty"`
}

// PrimarySpan returns the first span, if any.
func (d Diagnostic) PrimarySpan() (Span, bool) {
	if len(d.Spans) == 0 {
		return Span{}, false
	}
	return d.Spans[0], true
}

// Render formats the diagnostic the way it is handed to external
// collaborators: message first, then code and location when present.
func (d Diagnostic) Render() string {
	out := d.Message
	if d.Code != "" {
		out += fmt.Sprintf(" [%s]", d.Code)
	}
	if span, ok := d.PrimarySpan(); ok {
		out += fmt.Sprintf(" (%s:%d)", span.File, span.Line)
	}
	return out
}

// Report holds one build invocation's diagnostics, partitioned by level.
// Both partitions are ordered: diagnostics with spans first, ascending by
// the first span's line, span-less diagnostics last.
type Report struct {
	Errors   []Diagnostic
	Warnings []Diagnostic
}

// HasErrors reports whether any error-level diagnostics were collected.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}

// newReport partitions raw diagnostics by level and orders each partition.
// Levels other than error and warning carry no actionable issue and are
// dropped here.
func newReport(all []Diagnostic) *Report {
	r := &Report{}
	for _, d := range all {
		switch d.Level {
		case LevelError:
			r.Errors = append(r.Errors, d)
		case LevelWarning:
			r.Warnings = append(r.Warnings, d)
		}
	}
	sortDiagnostics(r.Errors)
	sortDiagnostics(r.Warnings)
	return r
}

// sortDiagnostics orders a partition deterministically: span-less entries
// sort after everything else, the rest ascend by first-span line. The sort
// is stable so equal keys keep their stream order.
func sortDiagnostics(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		si, iok := diags[i].PrimarySpan()
		sj, jok := diags[j].PrimarySpan()
		if iok != jok {
			return iok
		}
		if !iok {
			return false
		}
		return si.Line < sj.Line
	})
}
