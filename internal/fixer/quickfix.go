package fixer

import "strings"

const serdeImportLine = "use serde::{Serialize, Deserialize};"

// applySerdeImportFix handles the single most common missing-import
// case mechanically, before spending an advisor call: a file deriving
// Serialize or Deserialize without importing serde gets the import
// inserted after any leading comments and module attributes.
//
// The fix is produced as a candidate, never written directly; it goes
// through the same sandbox verification as everything else.
func applySerdeImportFix(content string) (string, bool) {
	usesDerive := strings.Contains(content, "derive(Serialize") ||
		strings.Contains(content, "derive(Deserialize")
	hasImport := strings.Contains(content, "use serde::Serialize") ||
		strings.Contains(content, "use serde::{Serialize, Deserialize}") ||
		strings.Contains(content, "use serde::{Deserialize, Serialize}")
	if !usesDerive || hasImport {
		return content, false
	}

	lines := strings.Split(content, "\n")
	insertAt := 0
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "//") || strings.HasPrefix(t, "#![") || strings.HasPrefix(t, "#[allow") {
			continue
		}
		insertAt = i
		break
	}

	out := make([]string, 0, len(lines)+2)
	out = append(out, lines[:insertAt]...)
	out = append(out, serdeImportLine, "")
	out = append(out, lines[insertAt:]...)
	return strings.Join(out, "\n"), true
}
