package webctx

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// BrowserFetcher renders pages in a headless browser before extracting
// their HTML, for documentation sites that are empty without JS.
type BrowserFetcher struct {
	browser *rod.Browser
	cleanup func()
	logger  *zap.Logger
}

// NewBrowserFetcher launches a headless browser. Callers must Close it.
func NewBrowserFetcher(logger *zap.Logger) (*BrowserFetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &BrowserFetcher{browser: browser, cleanup: l.Cleanup, logger: logger}, nil
}

// Fetch navigates to the page, waits for it to settle, and returns the
// rendered HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	page, err := f.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			f.logger.Debug("failed to close page", zap.Error(closeErr))
		}
	}()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for page load: %w", err)
	}
	return page.HTML()
}

// Close shuts the browser down and removes its temp profile.
func (f *BrowserFetcher) Close() error {
	err := f.browser.Close()
	if f.cleanup != nil {
		f.cleanup()
	}
	return err
}
