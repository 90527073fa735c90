package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// AnalysisPlan is the advisor's triage of a compiler error: a summary,
// search queries for the context provider, and the external crate
// involved, if any.
type AnalysisPlan struct {
	ErrorSummary  string   `json:"error_summary"`
	SearchQueries []string `json:"search_queries"`
	InvolvedCrate string   `json:"involved_crate"`
}

// Advisor turns diagnostics into analysis plans and full-file fix
// candidates via the configured LLM.
type Advisor struct {
	client LLMClient
	logger *zap.Logger
}

// New creates an advisor on top of an LLM client.
func New(client LLMClient, logger *zap.Logger) *Advisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advisor{client: client, logger: logger}
}

const analyzePrompt = `You are a Rust compiler expert. Your task is to analyze a compiler error and create a plan for finding a solution.

**CRITICAL RULES:**
1.  Summarize the error in one simple sentence.
2.  Generate a JSON array of 3 distinct, natural-language search queries a human would type to solve this. The queries should cover different angles of the problem.
3.  If the error mentions an external crate, identify it. Otherwise, set "involved_crate" to null.
4.  Your output MUST be a valid JSON object with the keys "error_summary", "search_queries" (string array), and "involved_crate". Return ONLY the JSON object.

**Compiler Error:**
"%s"
`

// Analyze asks the model for an analysis plan of the given error text.
func (a *Advisor) Analyze(ctx context.Context, errorMessage string) (*AnalysisPlan, error) {
	raw, err := a.client.Complete(ctx, fmt.Sprintf(analyzePrompt, errorMessage))
	if err != nil {
		return nil, fmt.Errorf("analysis request: %w", err)
	}

	var plan AnalysisPlan
	if err := json.Unmarshal([]byte(StripFences(raw)), &plan); err != nil {
		return nil, fmt.Errorf("parse analysis plan: %w", err)
	}
	a.logger.Debug("analysis plan",
		zap.String("summary", plan.ErrorSummary),
		zap.Strings("queries", plan.SearchQueries))
	return &plan, nil
}

const fixPrompt = `You are an expert Rust programmer. Your task is to fix a piece of Rust code.

**CRITICAL RULES:**
1.  You will be given the full source code of a file and a compiler error.
2.  Fix the code to resolve the error. You might need to change a different line than the one reported, or add/remove lines.
3.  **Your output MUST BE ONLY the complete, corrected, full source code for the file.** No explanations, no markdown code blocks, no other text.

--- COMPILER ERROR ---
%s

--- FULL SOURCE CODE ---
%s

--- ADDITIONAL CONTEXT (for your reference) ---
%s

---
Your Corrected Full Source Code:
`

// GenerateFix asks the model for a complete replacement of the broken
// file. The result is plain source text, never a diff.
func (a *Advisor) GenerateFix(ctx context.Context, errorMessage, fullCode, extraContext string) (string, error) {
	raw, err := a.client.Complete(ctx, fmt.Sprintf(fixPrompt, errorMessage, fullCode, extraContext))
	if err != nil {
		return "", fmt.Errorf("fix request: %w", err)
	}
	fix := StripFences(raw)
	if strings.TrimSpace(fix) == "" {
		return "", fmt.Errorf("model returned an empty fix")
	}
	return fix, nil
}

const manifestPrompt = `You are a Rust build expert. A compiler error points at a missing or misconfigured dependency.

**CRITICAL RULES:**
1.  You will be given the compiler error and the project's current Cargo.toml.
2.  Produce a corrected Cargo.toml that resolves the error, usually by adding or fixing a dependency entry.
3.  **Your output MUST BE ONLY the complete, corrected Cargo.toml.** If no manifest change is needed, return the manifest unchanged.

--- COMPILER ERROR ---
%s

--- CURRENT Cargo.toml ---
%s

---
Your Corrected Cargo.toml:
`

// GenerateManifestFix asks the model for a corrected dependency
// manifest. Returning the input unchanged signals "not a manifest
// problem after all".
func (a *Advisor) GenerateManifestFix(ctx context.Context, errorMessage, manifest string) (string, error) {
	raw, err := a.client.Complete(ctx, fmt.Sprintf(manifestPrompt, errorMessage, manifest))
	if err != nil {
		return "", fmt.Errorf("manifest fix request: %w", err)
	}
	fix := StripFences(raw)
	if strings.TrimSpace(fix) == "" {
		return "", fmt.Errorf("model returned an empty manifest")
	}
	return fix, nil
}

// StripFences removes a wrapping markdown code fence from model output.
// Models add them no matter how firmly the prompt forbids it.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence, e.g. ```rust or ```json.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine != "" && !strings.ContainsAny(firstLine, " \t") && len(firstLine) <= 16 {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
