package diagnostics

import (
	"encoding/json"
	"strings"
)

// envelope mirrors the build tool's newline-delimited JSON record shape.
// Only compiler messages carry a payload we care about.
type envelope struct {
	Reason  string   `json:"reason"`
	Message *payload `json:"message"`
}

type payload struct {
	Message string `json:"message"`
	Level   Level  `json:"level"`
	Code    *struct {
		Code string `json:"code"`
	} `json:"code"`
	Spans []Span `json:"spans"`
}

const reasonCompilerMessage = "compiler-message"

// ParseLine decodes one output line into a Diagnostic. It returns false
// for anything that is not a well-formed compiler message: human-readable
// progress lines, other record reasons, records with no payload, and
// malformed JSON are all skipped, never surfaced as errors.
func ParseLine(line string) (Diagnostic, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return Diagnostic{}, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Diagnostic{}, false
	}
	if env.Reason != reasonCompilerMessage || env.Message == nil {
		return Diagnostic{}, false
	}

	d := Diagnostic{
		Level:   env.Message.Level,
		Message: env.Message.Message,
		Spans:   env.Message.Spans,
	}
	if env.Message.Code != nil {
		d.Code = env.Message.Code.Code
	}
	return d, true
}
