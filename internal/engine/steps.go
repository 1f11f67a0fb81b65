// internal/engine/steps.go
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cfavre/baswatch/internal/config"
)

// StepExecutor runs a target's pre-action steps in order: expanding
// accordions, switching tabs, dismissing banners. Steps run after
// navigation and before the readiness wait, so a step that reroutes the
// page is still validated by the root selector downstream.
type StepExecutor struct {
	page     Page
	resolver *Resolver
	nav      *NavController
	timeout  time.Duration
	logger   *zap.Logger
}

// NewStepExecutor builds a StepExecutor over the given page.
func NewStepExecutor(page Page, resolver *Resolver, nav *NavController, timeout time.Duration, logger *zap.Logger) *StepExecutor {
	return &StepExecutor{page: page, resolver: resolver, nav: nav, timeout: timeout, logger: logger}
}

// Run executes every step of the target in order. The first failing step
// aborts the sequence with a StepError identifying it; the target is then
// failed without retrying.
func (e *StepExecutor) Run(ctx context.Context, target config.TargetSpec) error {
	for i, step := range target.Steps {
		e.logger.Debug("Running pre-action step.",
			zap.String("target", target.Name),
			zap.Int("step", i),
			zap.String("action", string(step.Action)),
			zap.String("selector", step.Selector))
		if err := e.runStep(ctx, step); err != nil {
			return &StepError{Index: i, Action: step.Action, Err: err}
		}
		if wait := step.WaitAfter(); wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return &StepError{Index: i, Action: step.Action, Err: err}
			}
		}
		if target.TrustStepURL() {
			e.nav.AdoptCurrentURL(ctx)
		}
	}
	return nil
}

func (e *StepExecutor) runStep(ctx context.Context, step config.PreActionStep) error {
	switch step.Action {
	case config.StepClick:
		sel, err := e.resolver.Resolve(ctx, step.Candidates(), MatchEnabled, e.timeout)
		if err != nil {
			return err
		}
		return e.page.Click(ctx, sel, step.Index)
	case config.StepDoubleClick:
		sel, err := e.resolver.Resolve(ctx, step.Candidates(), MatchEnabled, e.timeout)
		if err != nil {
			return err
		}
		return e.page.DoubleClick(ctx, sel, step.Index)
	case config.StepWaitVisible:
		_, err := e.resolver.Resolve(ctx, step.Candidates(), MatchVisible, e.timeout)
		return err
	case config.StepWaitHidden:
		return e.resolver.WaitGone(ctx, step.Selector, e.timeout)
	default:
		return fmt.Errorf("unknown step action %q", step.Action)
	}
}
