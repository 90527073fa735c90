package diagnostics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxLineBytes bounds a single JSON record. Compiler messages embedding
// rendered snippets can run long, so the scanner buffer is generous.
const maxLineBytes = 4 * 1024 * 1024

// Command describes one build tool invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
}

func (c Command) String() string {
	out := c.Binary
	for _, a := range c.Args {
		out += " " + a
	}
	return out
}

// Collector spawns the build tool and drains both output streams
// concurrently into a single accumulator.
type Collector struct {
	tool   Command
	logger *zap.Logger
}

// NewCollector creates a collector for the given build tool invocation.
func NewCollector(tool Command, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{tool: tool, logger: logger}
}

// Run executes the build tool and returns its diagnostics, partitioned and
// ordered. The child's stdout and stderr are drained by two goroutines
// appending into one mutex-guarded slice; Run blocks until the process has
// exited and both drains have finished, so no buffered record is lost.
//
// A process that cannot be spawned is a fatal error. A nonzero exit status
// is not: the build tool exits nonzero exactly when it reports errors, and
// those errors are the product here.
func (c *Collector) Run(ctx context.Context) (*Report, error) {
	cmd := exec.CommandContext(ctx, c.tool.Binary, c.tool.Args...)
	cmd.Dir = c.tool.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	c.logger.Debug("spawning build tool",
		zap.String("command", c.tool.String()),
		zap.String("dir", c.tool.Dir))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", c.tool.Binary, err)
	}

	var (
		mu        sync.Mutex
		collected []Diagnostic
	)
	drain := func(r io.Reader) error {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			d, ok := ParseLine(scanner.Text())
			if !ok {
				continue
			}
			mu.Lock()
			collected = append(collected, d)
			mu.Unlock()
		}
		return scanner.Err()
	}

	var g errgroup.Group
	g.Go(func() error { return drain(stdout) })
	g.Go(func() error { return drain(stderr) })

	drainErr := g.Wait()
	waitErr := cmd.Wait()

	if drainErr != nil {
		return nil, fmt.Errorf("drain build output: %w", drainErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("wait for %s: %w", c.tool.Binary, waitErr)
	}

	report := newReport(collected)
	c.logger.Debug("build tool finished",
		zap.Int("errors", len(report.Errors)),
		zap.Int("warnings", len(report.Warnings)))
	return report, nil
}
