// Package sandbox verifies candidate fixes in an ephemeral copy of the
// project, so nothing touches the real tree until a fix has passed both
// the check and test stages.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"rustmend/internal/diagnostics"
)

// Request describes one verification run.
type Request struct {
	// TargetFile is the project-relative path of the file being replaced.
	TargetFile string
	// Content is the candidate full-file replacement.
	Content string
	// RemoveLockFile drops the dependency lock file from the copy before
	// building. Manifest fixes need a fresh resolution to take effect.
	RemoveLockFile bool
}

// Outcome is the verdict of one verification run.
type Outcome struct {
	Passed bool
	// Failure is the first error-level diagnostic of the failing stage,
	// in partition order. Nil when Passed.
	Failure *diagnostics.Diagnostic
}

// Verifier materializes sandbox copies of a project and runs the build
// tool's check and test stages inside them.
type Verifier struct {
	root      string
	tool      string
	lockFile  string
	skipFiles map[string]bool
	logger    *zap.Logger
}

// New creates a verifier for the project at root. excludeFiles lists base
// names (such as the knowledge cache database) that must never be copied
// into a sandbox.
func New(root, tool string, excludeFiles []string, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	skip := make(map[string]bool, len(excludeFiles))
	for _, name := range excludeFiles {
		skip[name] = true
	}
	return &Verifier{
		root:      root,
		tool:      tool,
		lockFile:  "Cargo.lock",
		skipFiles: skip,
		logger:    logger,
	}
}

// Verify copies the project into an ephemeral directory, swaps in the
// candidate, and runs check then test. The stages are strictly
// sequential: a failing check makes the test stage pointless. The
// ephemeral directory is removed on every exit path.
//
// A copy or spawn failure aborts the attempt with an error; a failing
// build is not an error but a Failure outcome carrying the first
// error-level diagnostic.
func (v *Verifier) Verify(ctx context.Context, req Request) (Outcome, error) {
	dir, err := os.MkdirTemp("", "rustmend-sandbox-")
	if err != nil {
		return Outcome{}, fmt.Errorf("create sandbox dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			v.logger.Warn("failed to remove sandbox dir",
				zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	if err := copyTree(v.root, dir, v.skipFiles); err != nil {
		return Outcome{}, fmt.Errorf("copy project into sandbox: %w", err)
	}

	target := filepath.Join(dir, req.TargetFile)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Outcome{}, fmt.Errorf("prepare candidate path: %w", err)
	}
	if err := os.WriteFile(target, []byte(req.Content), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("write candidate: %w", err)
	}

	if req.RemoveLockFile {
		if err := os.Remove(filepath.Join(dir, v.lockFile)); err != nil && !os.IsNotExist(err) {
			return Outcome{}, fmt.Errorf("remove lock file: %w", err)
		}
	}

	v.logger.Debug("sandbox materialized",
		zap.String("dir", dir), zap.String("target", req.TargetFile))

	for _, stage := range []string{"check", "test"} {
		report, err := v.runStage(ctx, dir, stage)
		if err != nil {
			return Outcome{}, err
		}
		if report.HasErrors() {
			first := report.Errors[0]
			v.logger.Debug("sandbox stage failed",
				zap.String("stage", stage), zap.String("error", first.Message))
			return Outcome{Failure: &first}, nil
		}
		v.logger.Debug("sandbox stage clean", zap.String("stage", stage))
	}

	return Outcome{Passed: true}, nil
}

func (v *Verifier) runStage(ctx context.Context, dir, stage string) (*diagnostics.Report, error) {
	collector := diagnostics.NewCollector(diagnostics.Command{
		Binary: v.tool,
		Args:   []string{stage, "--message-format=json"},
		Dir:    dir,
	}, v.logger)
	report, err := collector.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("sandbox %s stage: %w", stage, err)
	}
	return report, nil
}
