// Package triage picks the next issue to work on, classifies it, and
// derives the cache signature the knowledge store is keyed by.
package triage

import (
	"strings"

	"rustmend/internal/diagnostics"
)

// Class is the heuristic category assigned to an issue. It steers which
// repair path the controller takes; it is a hint, not a verdict.
type Class string

const (
	// ClassCodeDefect is an error in project source code, the common case.
	ClassCodeDefect Class = "code_defect"
	// ClassManifestProblem is a missing-dependency symptom pointing at the
	// package manifest rather than the code.
	ClassManifestProblem Class = "manifest_problem"
	// ClassLinkerProblem is a link-stage failure.
	ClassLinkerProblem Class = "linker_problem"
	// ClassUnknown is anything no rule matched.
	ClassUnknown Class = "unknown"
)

// Rule maps a message substring to a classification.
type Rule struct {
	Substring string
	Class     Class
}

// classificationRules is the ordered rule table. First match wins, so more
// specific symptoms go first. Extend here rather than inlining string
// checks at call sites.
var classificationRules = []Rule{
	{Substring: "cannot find crate", Class: ClassManifestProblem},
	{Substring: "can't find crate", Class: ClassManifestProblem},
	{Substring: "unresolved import", Class: ClassManifestProblem},
	{Substring: "no such extern crate", Class: ClassManifestProblem},
	{Substring: "cannot find derive macro", Class: ClassManifestProblem},
	{Substring: "linking with", Class: ClassLinkerProblem},
	{Substring: "undefined reference", Class: ClassLinkerProblem},
	{Substring: "linker `", Class: ClassLinkerProblem},
}

// Classify tests a diagnostic's message against the rule table. Anything
// that matches nothing defaults to a code defect.
func Classify(d diagnostics.Diagnostic) Class {
	for _, rule := range classificationRules {
		if strings.Contains(d.Message, rule.Substring) {
			return rule.Class
		}
	}
	return ClassCodeDefect
}

// Issue is a diagnostic paired with its classification.
type Issue struct {
	Diagnostic diagnostics.Diagnostic
	Class      Class
}

// Select returns the earliest issue from an ordered error list, or false
// when there is nothing actionable.
func Select(errors []diagnostics.Diagnostic) (Issue, bool) {
	if len(errors) == 0 {
		return Issue{}, false
	}
	first := errors[0]
	return Issue{Diagnostic: first, Class: Classify(first)}, true
}
