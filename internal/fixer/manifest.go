package fixer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"rustmend/internal/diagnostics"
	"rustmend/internal/sandbox"
)

const manifestFileName = "Cargo.toml"

// fixManifest handles issues classified as dependency-manifest problems:
// it asks the advisor for a corrected manifest, verifies the suggestion
// in a sandbox with the lock file removed so dependencies re-resolve,
// and commits on success.
//
// Returns handled=false when the advisor leaves the manifest unchanged,
// signalling that the issue should go down the code-defect path instead.
func (c *Controller) fixManifest(ctx context.Context, diag diagnostics.Diagnostic) (bool, error) {
	manifestPath := filepath.Join(c.root, manifestFileName)
	original, err := os.ReadFile(manifestPath)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", manifestFileName, err)
	}

	c.logger.Info("engaging manifest expert", zap.String("message", diag.Message))
	suggested, err := c.advisor.GenerateManifestFix(ctx, diag.Render(), string(original))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAdvisorUnusable, err)
	}
	if strings.TrimSpace(suggested) == strings.TrimSpace(string(original)) {
		c.logger.Info("advisor suggested no manifest change, falling back to code path")
		return false, nil
	}

	outcome, err := c.verifier.Verify(ctx, sandbox.Request{
		TargetFile:     manifestFileName,
		Content:        suggested,
		RemoveLockFile: true,
	})
	if err != nil {
		return false, err
	}
	if !outcome.Passed {
		return false, fmt.Errorf("manifest fix failed verification: %s", outcome.Failure.Render())
	}

	c.logDiff(string(original), suggested, manifestFileName)
	if err := os.WriteFile(manifestPath, []byte(suggested), 0o644); err != nil {
		return false, fmt.Errorf("commit manifest fix: %w", err)
	}
	c.logger.Info("manifest fix committed")
	return true, nil
}
