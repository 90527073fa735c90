package fixer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rustmend/internal/advisor"
	"rustmend/internal/diagnostics"
	"rustmend/internal/sandbox"
	"rustmend/internal/triage"
)

// fakeCollector returns scripted reports, one per build pass.
type fakeCollector struct {
	reports []*diagnostics.Report
	calls   int
}

func (f *fakeCollector) Run(context.Context) (*diagnostics.Report, error) {
	f.calls++
	if len(f.reports) == 0 {
		return &diagnostics.Report{}, nil
	}
	r := f.reports[0]
	f.reports = f.reports[1:]
	return r, nil
}

// fakeAdvisor returns scripted candidates and records invocations.
type fakeAdvisor struct {
	fixes        []string
	manifestFix  string
	fixErr       error
	analyzeCalls int
	fixCalls     int
	lastErrorArg string
}

func (f *fakeAdvisor) Analyze(context.Context, string) (*advisor.AnalysisPlan, error) {
	f.analyzeCalls++
	return &advisor.AnalysisPlan{
		ErrorSummary:  "summary",
		SearchQueries: []string{"how to fix it"},
	}, nil
}

func (f *fakeAdvisor) GenerateFix(_ context.Context, errorMessage, _, _ string) (string, error) {
	f.fixCalls++
	f.lastErrorArg = errorMessage
	if f.fixErr != nil {
		return "", f.fixErr
	}
	fix := f.fixes[0]
	if len(f.fixes) > 1 {
		f.fixes = f.fixes[1:]
	}
	return fix, nil
}

func (f *fakeAdvisor) GenerateManifestFix(context.Context, string, string) (string, error) {
	return f.manifestFix, nil
}

// fakeVerifier returns scripted outcomes and counts invocations.
type fakeVerifier struct {
	outcomes []sandbox.Outcome
	requests []sandbox.Request
}

func (f *fakeVerifier) Verify(_ context.Context, req sandbox.Request) (sandbox.Outcome, error) {
	f.requests = append(f.requests, req)
	if len(f.outcomes) == 0 {
		return sandbox.Outcome{Passed: true}, nil
	}
	o := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return o, nil
}

// memCache is an in-memory SolutionCache.
type memCache struct {
	entries map[string]string
	lookups int
}

func newMemCache() *memCache { return &memCache{entries: map[string]string{}} }

func (m *memCache) Lookup(sig string) (string, bool, error) {
	m.lookups++
	v, ok := m.entries[sig]
	return v, ok, nil
}

func (m *memCache) Store(sig, solution string) error {
	m.entries[sig] = solution
	return nil
}

// fakeWeb records queries and returns a fixed blob.
type fakeWeb struct {
	calls int
	err   error
}

func (f *fakeWeb) Investigate(context.Context, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "--- Source: test ---\ncontext\n\n", nil
}

func errorDiag(msg, code, file string, line int) diagnostics.Diagnostic {
	return diagnostics.Diagnostic{
		Level:   diagnostics.LevelError,
		Message: msg,
		Code:    code,
		Spans:   []diagnostics.Span{{File: file, Line: line}},
	}
}

func writeTarget(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// One error, the advisor's first candidate passes; the real
// file is overwritten and the cache holds the candidate.
func TestRunFirstCandidatePasses(t *testing.T) {
	root := t.TempDir()
	target := writeTarget(t, root, "a.rs", "fn main() { broken }\n")

	diag := errorDiag("cannot find value `x` in this scope", "E0425", "a.rs", 10)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
		{}, // clean after the fix
	}}
	adv := &fakeAdvisor{fixes: []string{"fn main() { let x = 1; }\n"}}
	verifier := &fakeVerifier{}
	cache := newMemCache()

	c := New(Options{
		Root:            root,
		Collector:       collector,
		Advisor:         adv,
		ContextProvider: &fakeWeb{},
		Verifier:        verifier,
		Cache:           cache,
		MaxAttempts:     2,
		Logger:          zap.NewNop(),
	})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.IssuesFixed)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "fn main() { let x = 1; }\n", string(got))

	sig := triage.Signature("E0425", "cannot find value `x` in this scope")
	stored, ok := cache.entries[sig]
	require.True(t, ok, "verified fresh candidate must be cached")
	assert.Equal(t, "fn main() { let x = 1; }\n", stored)
}

// Zero errors means no collaborator is ever invoked.
func TestRunCleanProjectTouchesNothing(t *testing.T) {
	collector := &fakeCollector{reports: []*diagnostics.Report{{}}}
	adv := &fakeAdvisor{}
	verifier := &fakeVerifier{}
	web := &fakeWeb{}

	c := New(Options{
		Root:            t.TempDir(),
		Collector:       collector,
		Advisor:         adv,
		ContextProvider: web,
		Verifier:        verifier,
		Cache:           newMemCache(),
		Logger:          zap.NewNop(),
	})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.IssuesFixed)
	assert.Zero(t, adv.analyzeCalls)
	assert.Zero(t, adv.fixCalls)
	assert.Zero(t, web.calls)
	assert.Empty(t, verifier.requests)
}

// Every candidate fails; the controller feeds the new
// diagnostic into the next attempt, gives up at the bound, and leaves
// the real file untouched.
func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	root := t.TempDir()
	before := "fn main() { broken }\n"
	target := writeTarget(t, root, "a.rs", before)

	diag := errorDiag("mismatched types", "E0308", "a.rs", 10)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
	}}
	adv := &fakeAdvisor{fixes: []string{"attempt one\n", "attempt two\n"}}
	failure := errorDiag("still mismatched", "E0308", "a.rs", 11)
	verifier := &fakeVerifier{outcomes: []sandbox.Outcome{
		{Failure: &failure},
		{Failure: &failure},
	}}

	c := New(Options{
		Root:        root,
		Collector:   collector,
		Advisor:     adv,
		Verifier:    verifier,
		MaxAttempts: 2,
		Logger:      zap.NewNop(),
	})

	summary, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.Equal(t, 0, summary.IssuesFixed)
	assert.Len(t, verifier.requests, 2, "verifier bounded by max attempts")
	assert.Contains(t, adv.lastErrorArg, "still mismatched",
		"attempt 2 must see the verifier's failure, not the original issue")

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, before, string(got), "GiveUp must leave the real file byte-identical")
}

// A cache hit skips the advisor entirely and verifies the
// stored content directly.
func TestRunCacheHitSkipsAdvisor(t *testing.T) {
	root := t.TempDir()
	target := writeTarget(t, root, "a.rs", "fn main() { broken }\n")

	diag := errorDiag("cannot find value `x` in this scope", "E0425", "a.rs", 3)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
		{},
	}}
	cache := newMemCache()
	sig := triage.Signature("E0425", "cannot find value `x` in this scope")
	require.NoError(t, cache.Store(sig, "cached fix\n"))

	adv := &fakeAdvisor{}
	verifier := &fakeVerifier{}

	c := New(Options{
		Root:        root,
		Collector:   collector,
		Advisor:     adv,
		Verifier:    verifier,
		Cache:       cache,
		MaxAttempts: 2,
		Logger:      zap.NewNop(),
	})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.IssuesFixed)
	assert.Equal(t, 1, summary.CacheHits)
	assert.Zero(t, adv.analyzeCalls, "cache hit must not consult the advisor")
	assert.Zero(t, adv.fixCalls)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "cached fix\n", string(got))
}

// A failing cache hit consumes an attempt, then falls through to the
// advisor.
func TestRunFailedCacheHitConsumesAttempt(t *testing.T) {
	root := t.TempDir()
	writeTarget(t, root, "a.rs", "fn main() { broken }\n")

	diag := errorDiag("mismatched types", "E0308", "a.rs", 5)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
		{},
	}}
	cache := newMemCache()
	sig := triage.Signature("E0308", "mismatched types")
	require.NoError(t, cache.Store(sig, "stale cached fix\n"))

	failure := errorDiag("still broken", "E0308", "a.rs", 5)
	verifier := &fakeVerifier{outcomes: []sandbox.Outcome{
		{Failure: &failure}, // cached content fails
		{Passed: true},      // fresh candidate passes
	}}
	adv := &fakeAdvisor{fixes: []string{"fresh fix\n"}}

	c := New(Options{
		Root:        root,
		Collector:   collector,
		Advisor:     adv,
		Verifier:    verifier,
		Cache:       cache,
		MaxAttempts: 2,
		Logger:      zap.NewNop(),
	})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.IssuesFixed)
	assert.Equal(t, 1, adv.fixCalls)
	assert.Len(t, verifier.requests, 2)
	assert.Equal(t, "fresh fix\n", cache.entries[sig], "fresh success overwrites the stale entry")
}

// Without a cache configured, lookups and stores are skipped entirely.
func TestRunCacheDisabled(t *testing.T) {
	root := t.TempDir()
	writeTarget(t, root, "a.rs", "fn main() { broken }\n")

	diag := errorDiag("mismatched types", "E0308", "a.rs", 5)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
		{},
	}}
	adv := &fakeAdvisor{fixes: []string{"fix\n"}}

	c := New(Options{
		Root:        root,
		Collector:   collector,
		Advisor:     adv,
		Verifier:    &fakeVerifier{},
		Cache:       nil,
		MaxAttempts: 2,
		Logger:      zap.NewNop(),
	})

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, adv.fixCalls)
}

// An advisor failure halts the run: there is no alternate candidate
// source.
func TestRunAdvisorFailureHalts(t *testing.T) {
	root := t.TempDir()
	writeTarget(t, root, "a.rs", "fn main() { broken }\n")

	diag := errorDiag("mismatched types", "E0308", "a.rs", 5)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
	}}
	adv := &fakeAdvisor{fixErr: errors.New("model unavailable")}

	c := New(Options{
		Root:      root,
		Collector: collector,
		Advisor:   adv,
		Verifier:  &fakeVerifier{},
		Logger:    zap.NewNop(),
	})

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAdvisorUnusable)
}

// Context provider failures degrade to empty context and never halt.
func TestRunContextProviderFailureTolerated(t *testing.T) {
	root := t.TempDir()
	writeTarget(t, root, "a.rs", "fn main() { broken }\n")

	diag := errorDiag("mismatched types", "E0308", "a.rs", 5)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
		{},
	}}

	c := New(Options{
		Root:            root,
		Collector:       collector,
		Advisor:         &fakeAdvisor{fixes: []string{"fix\n"}},
		ContextProvider: &fakeWeb{err: errors.New("network down")},
		Verifier:        &fakeVerifier{},
		MaxAttempts:     2,
		Logger:          zap.NewNop(),
	})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.IssuesFixed)
}

// An issue without a span cannot be patched.
func TestRunSpanlessIssueHalts(t *testing.T) {
	diag := diagnostics.Diagnostic{Level: diagnostics.LevelError, Message: "mysterious failure"}
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
	}}

	c := New(Options{
		Root:      t.TempDir(),
		Collector: collector,
		Advisor:   &fakeAdvisor{},
		Verifier:  &fakeVerifier{},
		Logger:    zap.NewNop(),
	})

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoLocation)
}

// Manifest problems go through the manifest expert and commit only the
// manifest.
func TestRunManifestProblem(t *testing.T) {
	root := t.TempDir()
	manifest := writeTarget(t, root, "Cargo.toml", "[package]\nname = \"demo\"\n")
	writeTarget(t, root, "src/main.rs", "use serde::Serialize;\n")

	diag := errorDiag("cannot find crate for `serde`", "E0463", "src/main.rs", 1)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
		{},
	}}
	fixed := "[package]\nname = \"demo\"\n\n[dependencies]\nserde = \"1\"\n"
	adv := &fakeAdvisor{manifestFix: fixed}
	verifier := &fakeVerifier{}

	c := New(Options{
		Root:      root,
		Collector: collector,
		Advisor:   adv,
		Verifier:  verifier,
		Logger:    zap.NewNop(),
	})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.IssuesFixed)

	got, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Equal(t, fixed, string(got))

	require.Len(t, verifier.requests, 1)
	assert.True(t, verifier.requests[0].RemoveLockFile,
		"manifest verification needs a fresh dependency resolution")
	assert.Zero(t, adv.fixCalls, "no code candidate for a handled manifest issue")
}

// A no-op manifest suggestion falls back to the code-defect path.
func TestRunManifestNoOpFallsBackToCodePath(t *testing.T) {
	root := t.TempDir()
	original := "[package]\nname = \"demo\"\n"
	writeTarget(t, root, "Cargo.toml", original)
	writeTarget(t, root, "src/main.rs", "use serde::Serialize;\n")

	diag := errorDiag("unresolved import `serde`", "E0432", "src/main.rs", 1)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
		{},
	}}
	adv := &fakeAdvisor{manifestFix: original, fixes: []string{"fixed code\n"}}

	c := New(Options{
		Root:        root,
		Collector:   collector,
		Advisor:     adv,
		Verifier:    &fakeVerifier{},
		MaxAttempts: 2,
		Logger:      zap.NewNop(),
	})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.IssuesFixed)
	assert.Equal(t, 1, adv.fixCalls, "unchanged manifest suggestion falls through to the code path")
}

// Warnings are only attacked once errors are gone and the warnings pass
// is requested.
func TestRunWarningsPass(t *testing.T) {
	root := t.TempDir()
	writeTarget(t, root, "src/lib.rs", "fn lib() { let unused = 1; }\n")

	warn := diagnostics.Diagnostic{
		Level:   diagnostics.LevelWarning,
		Message: "unused variable: `unused`",
		Spans:   []diagnostics.Span{{File: "src/lib.rs", Line: 1}},
	}
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Warnings: []diagnostics.Diagnostic{warn}},
		{},
	}}
	adv := &fakeAdvisor{fixes: []string{"fn lib() {}\n"}}

	t.Run("disabled", func(t *testing.T) {
		c := New(Options{
			Root:      root,
			Collector: &fakeCollector{reports: []*diagnostics.Report{{Warnings: []diagnostics.Diagnostic{warn}}}},
			Advisor:   &fakeAdvisor{},
			Verifier:  &fakeVerifier{},
			Logger:    zap.NewNop(),
		})
		summary, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, summary.IssuesFixed)
	})

	t.Run("enabled", func(t *testing.T) {
		c := New(Options{
			Root:        root,
			Collector:   collector,
			Advisor:     adv,
			Verifier:    &fakeVerifier{},
			MaxAttempts: 2,
			FixWarnings: true,
			Logger:      zap.NewNop(),
		})
		summary, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.IssuesFixed)
	})
}

// Signatures ignore location, so a structurally identical error in a
// different file is a fresh issue for the loop guard, not a persisted
// one.
func TestRunSameSignatureAcrossFiles(t *testing.T) {
	root := t.TempDir()
	writeTarget(t, root, "a.rs", "fn a() { broken }\n")
	writeTarget(t, root, "b.rs", "fn b() { broken }\n")

	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{errorDiag("mismatched types", "E0308", "a.rs", 2)}},
		{Errors: []diagnostics.Diagnostic{errorDiag("mismatched types", "E0308", "b.rs", 7)}},
		{},
	}}

	c := New(Options{
		Root:        root,
		Collector:   collector,
		Advisor:     &fakeAdvisor{fixes: []string{"fn fixed() {}\n"}},
		Verifier:    &fakeVerifier{},
		MaxAttempts: 2,
		Logger:      zap.NewNop(),
	})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.IssuesFixed)

	for _, rel := range []string{"a.rs", "b.rs"} {
		got, err := os.ReadFile(filepath.Join(root, rel))
		require.NoError(t, err)
		assert.Equal(t, "fn fixed() {}\n", string(got))
	}
}

// A committed fix that does not make its issue go away stops the loop
// instead of burning advisor calls forever.
func TestRunPersistentIssueStopsLoop(t *testing.T) {
	root := t.TempDir()
	writeTarget(t, root, "a.rs", "fn main() { broken }\n")

	diag := errorDiag("mismatched types", "E0308", "a.rs", 5)
	collector := &fakeCollector{reports: []*diagnostics.Report{
		{Errors: []diagnostics.Diagnostic{diag}},
		{Errors: []diagnostics.Diagnostic{diag}}, // same issue after commit
	}}

	c := New(Options{
		Root:        root,
		Collector:   collector,
		Advisor:     &fakeAdvisor{fixes: []string{"fix\n"}},
		Verifier:    &fakeVerifier{},
		MaxAttempts: 2,
		Logger:      zap.NewNop(),
	})

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisted")
}

func TestApplySerdeImportFix(t *testing.T) {
	t.Run("inserts import", func(t *testing.T) {
		in := "// header comment\n#[derive(Serialize)]\nstruct S;\n"
		out, applied := applySerdeImportFix(in)
		require.True(t, applied)
		assert.Contains(t, out, serdeImportLine)
		lines := []string{"// header comment", serdeImportLine, "", "#[derive(Serialize)]", "struct S;", ""}
		assert.Equal(t, lines, strings.Split(out, "\n"))
	})

	t.Run("no derive no change", func(t *testing.T) {
		in := "fn main() {}\n"
		out, applied := applySerdeImportFix(in)
		assert.False(t, applied)
		assert.Equal(t, in, out)
	})

	t.Run("import already present", func(t *testing.T) {
		in := "use serde::{Serialize, Deserialize};\n#[derive(Serialize)]\nstruct S;\n"
		_, applied := applySerdeImportFix(in)
		assert.False(t, applied)
	})
}
