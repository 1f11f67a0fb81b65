// internal/engine/nav.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// abortedNavigation is how the DevTools protocol reports a navigation that
// the page intercepted, typically a single-page app rewriting the route or
// a hash-only change. The view still updates, so it is not a failure.
const abortedNavigation = "net::ERR_ABORTED"

// NavPage is the subset of Page the controller drives. The spider's
// narrower crawl page satisfies it too.
type NavPage interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
}

// NavController performs navigations and keeps track of the URL the page
// actually landed on, which can differ from the configured one after
// redirects or client-side routing.
type NavController struct {
	page   NavPage
	poll   time.Duration
	logger *zap.Logger

	currentURL string
}

// NewNavController builds a NavController over the given page.
func NewNavController(page NavPage, poll time.Duration, logger *zap.Logger) *NavController {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &NavController{page: page, poll: poll, logger: logger}
}

// Goto navigates to url, tolerating intercepted navigations. On an
// intercepted navigation it polls briefly for the location to move off the
// previous URL; if the location never changes, readiness checks downstream
// decide whether the view is usable. Any other navigation error is fatal
// for the target.
func (n *NavController) Goto(ctx context.Context, url string, tolerance time.Duration) error {
	prev, err := n.page.CurrentURL(ctx)
	if err != nil {
		prev = n.currentURL
	}

	navErr := n.page.Navigate(ctx, url)
	if navErr != nil {
		if !strings.Contains(navErr.Error(), abortedNavigation) {
			return fmt.Errorf("%w: %s: %v", ErrNavigationFailed, url, navErr)
		}
		n.logger.Debug("Navigation intercepted by page, polling for URL change.",
			zap.String("url", url), zap.String("previous", prev))
		n.pollURLChange(ctx, prev, tolerance)
	}

	if resolved, err := n.page.CurrentURL(ctx); err == nil && resolved != "" {
		n.currentURL = resolved
	} else {
		n.currentURL = url
	}
	return nil
}

// pollURLChange waits up to tolerance for the location to differ from prev.
// Timing out is fine: hash and in-place route changes may keep the URL.
func (n *NavController) pollURLChange(ctx context.Context, prev string, tolerance time.Duration) {
	deadline := time.Now().Add(tolerance)
	for time.Now().Before(deadline) {
		if url, err := n.page.CurrentURL(ctx); err == nil && url != prev {
			return
		}
		if sleepCtx(ctx, n.poll) != nil {
			return
		}
	}
}

// CurrentURL is the URL of the last completed navigation as observed on the
// page, falling back to the requested URL when the page could not report.
func (n *NavController) CurrentURL() string {
	return n.currentURL
}

// AdoptCurrentURL refreshes the tracked URL from the live page. Pre-action
// steps that change the route call this so metadata records where the
// capture really happened.
func (n *NavController) AdoptCurrentURL(ctx context.Context) {
	if url, err := n.page.CurrentURL(ctx); err == nil && url != "" {
		n.currentURL = url
	}
}
