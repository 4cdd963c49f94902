// internal/surface/driver.go
package surface

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/xkilldash9x/gleaner/internal/executor"
)

// Tab is one live browser tab. It extends the executor's page primitives
// with the lifecycle operations the manager needs for its
// reuse-vs-recreate decisions. The production implementation is
// chromedp-backed; tests substitute fakes.
type Tab interface {
	executor.Page

	// TargetID identifies the underlying browser target.
	TargetID() string
	// Alive probes whether the tab still exists and responds.
	Alive(ctx context.Context) bool
	// CurrentURL reports the tab's current address.
	CurrentURL(ctx context.Context) (string, error)
	// Navigate starts loading the given URL. It returns once navigation
	// has been initiated; readiness is polled separately.
	Navigate(ctx context.Context, rawURL string) error
	// CaptureScreenshot returns an encoded image of the current page,
	// or an error when the tab has no renderable window.
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	// Close tears the tab down. Best effort.
	Close(ctx context.Context) error
}

// Driver creates tabs. One driver per process; it owns the browser.
type Driver interface {
	// NewTab opens a new background (non-focused) tab at the given URL.
	NewTab(ctx context.Context, rawURL string) (Tab, error)
	// Shutdown closes the browser and everything in it.
	Shutdown(ctx context.Context) error
}

// Origin reduces a URL to its scheme://host[:port] origin, the unit of
// comparison for surface reuse.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q has no origin", rawURL)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}
