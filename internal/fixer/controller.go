// Package fixer drives the self-correction loop: pick an issue, obtain a
// candidate from the cache or the advisor, verify it in a sandbox, and
// commit or retry with the verifier's feedback.
package fixer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rustmend/internal/advisor"
	"rustmend/internal/analyzer"
	"rustmend/internal/diagnostics"
	"rustmend/internal/sandbox"
	"rustmend/internal/triage"
)

var (
	// ErrMaxAttemptsExceeded is returned when no candidate survived
	// verification within the attempt budget.
	ErrMaxAttemptsExceeded = errors.New("max fix attempts exceeded")
	// ErrAdvisorUnusable is returned when the advisor cannot supply a
	// candidate; there is no alternate source, so the run halts.
	ErrAdvisorUnusable = errors.New("advisor produced no usable candidate")
	// ErrNoLocation is returned for an issue without any source span;
	// without a target file there is nothing to patch.
	ErrNoLocation = errors.New("diagnostic carries no source location")
)

// Advisor is the fix-generating collaborator.
type Advisor interface {
	Analyze(ctx context.Context, errorMessage string) (*advisor.AnalysisPlan, error)
	GenerateFix(ctx context.Context, errorMessage, fullCode, extraContext string) (string, error)
	GenerateManifestFix(ctx context.Context, errorMessage, manifest string) (string, error)
}

// ContextProvider supplies supplementary text for a query.
type ContextProvider interface {
	Investigate(ctx context.Context, query string) (string, error)
}

// Verifier checks a candidate in isolation.
type Verifier interface {
	Verify(ctx context.Context, req sandbox.Request) (sandbox.Outcome, error)
}

// SolutionCache is the durable signature -> solution store.
type SolutionCache interface {
	Lookup(signature string) (string, bool, error)
	Store(signature, solution string) error
}

// Collector produces a fresh diagnostics report for the real project.
type Collector interface {
	Run(ctx context.Context) (*diagnostics.Report, error)
}

// SymbolFinder locates a symbol's defining file in the project.
type SymbolFinder interface {
	FindSymbol(ctx context.Context, symbol string) (string, string, bool)
}

// Options wires a Controller. Cache, ContextProvider, and Symbols are
// optional; a nil cache means caching is disabled and is skipped
// entirely, not attempted and ignored.
type Options struct {
	Root            string
	Collector       Collector
	Advisor         Advisor
	ContextProvider ContextProvider
	Verifier        Verifier
	Cache           SolutionCache
	Symbols         SymbolFinder
	MaxAttempts     int
	FixWarnings     bool
	Logger          *zap.Logger
}

// Summary reports what a run accomplished.
type Summary struct {
	IssuesFixed int
	CacheHits   int
}

// Controller owns the outer processing loop and the per-issue state
// machine. Verification runs are never parallelized: each candidate
// depends on the previous verification's feedback.
type Controller struct {
	root        string
	collector   Collector
	advisor     Advisor
	webContext  ContextProvider
	verifier    Verifier
	cache       SolutionCache
	symbols     SymbolFinder
	maxAttempts int
	fixWarnings bool
	logger      *zap.Logger
	runID       string
}

// New creates a controller from options.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	runID := uuid.NewString()
	return &Controller{
		root:        opts.Root,
		collector:   opts.Collector,
		advisor:     opts.Advisor,
		webContext:  opts.ContextProvider,
		verifier:    opts.Verifier,
		cache:       opts.Cache,
		symbols:     opts.Symbols,
		maxAttempts: maxAttempts,
		fixWarnings: opts.FixWarnings,
		logger:      logger.With(zap.String("run_id", runID)),
		runID:       runID,
	}
}

// Run rebuilds and repairs one issue at a time until the project is
// clean or an issue cannot be resolved. Giving up on any issue halts
// the loop rather than moving on: compounding edits on top of an
// unresolved failure only make things worse.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	lastCommitted := ""

	for {
		report, err := c.collector.Run(ctx)
		if err != nil {
			return summary, err
		}

		pool := report.Errors
		if !report.HasErrors() && c.fixWarnings {
			pool = report.Warnings
		}
		issue, ok := triage.Select(pool)
		if !ok {
			c.logger.Info("no actionable issue, project is clean",
				zap.Int("fixed", summary.IssuesFixed))
			return summary, nil
		}

		sig := triage.IssueSignature(issue)
		// Signatures deliberately ignore location, so two files can raise
		// the same one. Only a reappearance at the same spot means the
		// committed fix did not take.
		guardKey := sig
		if span, ok := issue.Diagnostic.PrimarySpan(); ok {
			guardKey = sig + "@" + span.File
		}
		if guardKey == lastCommitted {
			return summary, fmt.Errorf("issue %q persisted after a committed fix, stopping", sig)
		}
		if err := c.fixIssue(ctx, issue, sig, summary); err != nil {
			return summary, err
		}
		summary.IssuesFixed++
		lastCommitted = guardKey
	}
}

// candidateSource records where the content under verification came
// from; only freshly generated content is cached on success.
type candidateSource int

const (
	sourceCache candidateSource = iota
	sourceQuickFix
	sourceAdvisor
)

// state is a node of the per-issue machine.
type state int

const (
	stateTryCache state = iota
	stateRequestCandidate
	stateVerify
	stateCommit
	stateGiveUp
)

// fixIssue runs the state machine for one selected issue.
//
// A cache hit that fails verification consumes one attempt from the
// retry budget: the verifier is the expensive resource being bounded,
// regardless of where the candidate came from.
func (c *Controller) fixIssue(ctx context.Context, issue triage.Issue, sig string, summary *Summary) error {
	diag := issue.Diagnostic
	c.logger.Info("working issue",
		zap.String("class", string(issue.Class)),
		zap.String("signature", sig),
		zap.String("message", diag.Message))

	if issue.Class == triage.ClassManifestProblem {
		handled, err := c.fixManifest(ctx, diag)
		if err != nil || handled {
			return err
		}
		// The advisor saw no manifest change to make; treat it as a code
		// defect after all.
	}

	span, ok := diag.PrimarySpan()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoLocation, diag.Message)
	}
	target := span.File
	absTarget := filepath.Join(c.root, target)
	original, err := os.ReadFile(absTarget)
	if err != nil {
		return fmt.Errorf("read target %s: %w", target, err)
	}

	var (
		attempts      int
		candidate     string
		source        candidateSource
		extraContext  string
		gatheredExtra bool
		quickFixTried bool
	)
	activeError := diag.Render()

	st := stateRequestCandidate
	if c.cache != nil {
		st = stateTryCache
	}

	for {
		switch st {
		case stateTryCache:
			solution, hit, lookupErr := c.cache.Lookup(sig)
			if lookupErr != nil {
				c.logger.Warn("cache lookup failed", zap.Error(lookupErr))
			}
			if hit {
				c.logger.Info("cache hit, verifying stored solution", zap.String("signature", sig))
				candidate, source = solution, sourceCache
				st = stateVerify
				continue
			}
			st = stateRequestCandidate

		case stateRequestCandidate:
			if !quickFixTried {
				quickFixTried = true
				if fixed, applied := applySerdeImportFix(string(original)); applied {
					c.logger.Info("trying mechanical serde-import fix", zap.String("target", target))
					candidate, source = fixed, sourceQuickFix
					st = stateVerify
					continue
				}
			}
			if !gatheredExtra {
				gatheredExtra = true
				var ctxErr error
				extraContext, ctxErr = c.gatherContext(ctx, diag)
				if ctxErr != nil {
					return ctxErr
				}
			}
			fix, genErr := c.advisor.GenerateFix(ctx, activeError, string(original), extraContext)
			if genErr != nil {
				return fmt.Errorf("%w: %v", ErrAdvisorUnusable, genErr)
			}
			candidate, source = fix, sourceAdvisor
			st = stateVerify

		case stateVerify:
			attempts++
			c.logger.Info("verifying candidate",
				zap.Int("attempt", attempts), zap.Int("max_attempts", c.maxAttempts))
			outcome, verifyErr := c.verifier.Verify(ctx, sandbox.Request{
				TargetFile: target,
				Content:    candidate,
			})
			if verifyErr != nil {
				return verifyErr
			}
			if outcome.Passed {
				st = stateCommit
				continue
			}
			activeError = outcome.Failure.Render()
			c.logger.Info("verification failed", zap.String("new_error", outcome.Failure.Message))
			if attempts >= c.maxAttempts {
				st = stateGiveUp
				continue
			}
			st = stateRequestCandidate

		case stateCommit:
			c.logDiff(string(original), candidate, target)
			if writeErr := os.WriteFile(absTarget, []byte(candidate), 0o644); writeErr != nil {
				return fmt.Errorf("commit fix to %s: %w", target, writeErr)
			}
			if source == sourceCache {
				summary.CacheHits++
			} else if c.cache != nil {
				if storeErr := c.cache.Store(sig, candidate); storeErr != nil {
					c.logger.Warn("failed to store verified solution", zap.Error(storeErr))
				}
			}
			c.logger.Info("fix committed", zap.String("target", target))
			return nil

		case stateGiveUp:
			return fmt.Errorf("%w for %s after %d attempts, last error: %s",
				ErrMaxAttemptsExceeded, target, attempts, activeError)
		}
	}
}

// gatherContext assembles supplementary material for the advisor: the
// analysis plan's search results and the defining source of a symbol
// named by the diagnostic. Context gathering is best-effort apart from
// the analysis itself, which has no fallback.
func (c *Controller) gatherContext(ctx context.Context, diag diagnostics.Diagnostic) (string, error) {
	plan, err := c.advisor.Analyze(ctx, diag.Render())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAdvisorUnusable, err)
	}

	var sb strings.Builder
	if c.webContext != nil {
		for _, query := range plan.SearchQueries {
			blob, webErr := c.webContext.Investigate(ctx, query)
			if webErr != nil {
				c.logger.Warn("context provider failed, continuing without",
					zap.String("query", query), zap.Error(webErr))
				continue
			}
			sb.WriteString(blob)
		}
	}

	// A local symbol definition only helps when the error is not about an
	// external crate.
	if c.symbols != nil && strings.TrimSpace(plan.InvolvedCrate) == "" {
		if name := analyzer.ExtractSymbol(diag.Message); name != "" {
			if path, content, found := c.symbols.FindSymbol(ctx, name); found {
				fmt.Fprintf(&sb, "--- Definition of %s (%s) ---\n%s\n\n",
					name, path, truncate(content, 2000))
			}
		}
	}
	return sb.String(), nil
}

// logDiff records a line-level structural diff of the committed change
// for auditability. It has no bearing on the pass/fail contract.
func (c *Controller) logDiff(before, after, target string) {
	if entry := c.logger.Check(zap.DebugLevel, "committing fix"); entry != nil {
		diff := cmp.Diff(strings.Split(before, "\n"), strings.Split(after, "\n"))
		entry.Write(zap.String("target", target), zap.String("line_diff", diff))
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n... [truncated]"
}
