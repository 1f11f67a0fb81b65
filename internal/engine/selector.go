// internal/engine/selector.go
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Resolver turns an ordered candidate list into the first selector that
// reaches the wanted state. All candidates share one time budget: the
// fallback chain never multiplies the wait.
type Resolver struct {
	page   Page
	poll   time.Duration
	logger *zap.Logger
}

// NewResolver creates a Resolver polling at the given cadence.
func NewResolver(page Page, poll time.Duration, logger *zap.Logger) *Resolver {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Resolver{page: page, poll: poll, logger: logger}
}

// Resolve polls each candidate in priority order until one satisfies the
// wanted state or the shared budget runs out. It returns the candidate that
// matched. A candidate failing a pass costs nothing extra: the next one is
// probed in the same sweep.
func (r *Resolver) Resolve(ctx context.Context, candidates []string, want MatchState, budget time.Duration) (string, error) {
	if len(candidates) == 0 {
		return "", &selectorError{Want: want, Budget: budget}
	}

	deadline := time.Now().Add(budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		for _, sel := range candidates {
			state, err := r.page.Query(ctx, sel)
			if err != nil {
				if ctx.Err() != nil {
					return "", &selectorError{Candidates: candidates, Want: want, Budget: budget}
				}
				r.logger.Debug("Selector query failed, continuing sweep.",
					zap.String("selector", sel), zap.Error(err))
				continue
			}
			if state.Satisfies(want) {
				return sel, nil
			}
		}
		if time.Now().After(deadline) {
			return "", &selectorError{Candidates: candidates, Want: want, Budget: budget}
		}
		if err := sleepCtx(ctx, r.poll); err != nil {
			return "", &selectorError{Candidates: candidates, Want: want, Budget: budget}
		}
	}
}

// WaitGone polls until the selector is no longer visible, for elements such
// as loading overlays that must clear before a capture is trustworthy.
func (r *Resolver) WaitGone(ctx context.Context, selector string, budget time.Duration) error {
	deadline := time.Now().Add(budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		state, err := r.page.Query(ctx, selector)
		if err == nil && (!state.Found || !state.Visible) {
			return nil
		}
		if time.Now().After(deadline) {
			return &selectorError{Candidates: []string{selector}, Want: MatchVisible, Budget: budget}
		}
		if err := sleepCtx(ctx, r.poll); err != nil {
			return &selectorError{Candidates: []string{selector}, Want: MatchVisible, Budget: budget}
		}
	}
}
