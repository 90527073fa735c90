package triage

import "strings"

// genericCode stands in for diagnostics that carry no error code.
const genericCode = "generic"

// Signature derives the knowledge-cache key for an issue: the error code
// (or "generic") plus the message's first sentence. File paths and the
// message tail are deliberately excluded so the same structural error in
// different places hits the same cache entry.
func Signature(code, message string) string {
	if code == "" {
		code = genericCode
	}
	firstSentence, _, _ := strings.Cut(message, ".")
	return code + ":" + strings.TrimSpace(firstSentence)
}

// IssueSignature is Signature applied to a selected issue.
func IssueSignature(issue Issue) string {
	return Signature(issue.Diagnostic.Code, issue.Diagnostic.Message)
}
