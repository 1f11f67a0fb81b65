// internal/browser/context.go
package browser

import "context"

// combineContext derives a context from sessionCtx (which carries the CDP
// target) that is additionally canceled when opCtx is. chromedp operations
// must run on the session context to reach the tab, while the caller's
// context carries the operational deadline; this honors both.
func combineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(sessionCtx)
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
