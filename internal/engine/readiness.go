// internal/engine/readiness.go
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cfavre/baswatch/internal/config"
)

// ReadinessDetector decides when a target view is trustworthy enough to
// capture. BAS dashboards render point values asynchronously after the
// document loads, so readiness is two phases: the root selector becomes
// visible with the document complete, then a fixed settle period lets the
// widgets finish painting. The settle is additive, never a substitute for
// the visibility wait.
type ReadinessDetector struct {
	page          Page
	resolver      *Resolver
	timeout       time.Duration
	defaultSettle time.Duration
	logger        *zap.Logger
}

// NewReadinessDetector builds a detector. timeout bounds the visibility
// phase; defaultSettle applies to targets that configure no settle of
// their own.
func NewReadinessDetector(page Page, resolver *Resolver, timeout, defaultSettle time.Duration, logger *zap.Logger) *ReadinessDetector {
	return &ReadinessDetector{
		page:          page,
		resolver:      resolver,
		timeout:       timeout,
		defaultSettle: defaultSettle,
		logger:        logger,
	}
}

// WaitReady blocks until the target is ready for capture and returns the
// root selector candidate that matched. It fails with ErrTargetNotReady
// when no candidate becomes visible within the timeout.
func (d *ReadinessDetector) WaitReady(ctx context.Context, target config.TargetSpec) (string, error) {
	matched, err := d.resolver.Resolve(ctx, target.RootCandidates(), MatchVisible, d.timeout)
	if err != nil {
		return "", fmt.Errorf("%w: target %q: %v", ErrTargetNotReady, target.Name, err)
	}

	if err := d.waitDocumentComplete(ctx); err != nil {
		return "", fmt.Errorf("%w: target %q: %v", ErrTargetNotReady, target.Name, err)
	}

	settle := target.Settle(d.defaultSettle)
	if settle > 0 {
		d.logger.Debug("Root visible, settling.",
			zap.String("target", target.Name),
			zap.String("root_selector", matched),
			zap.Duration("settle", settle))
		if err := sleepCtx(ctx, settle); err != nil {
			return "", fmt.Errorf("%w: target %q: %v", ErrTargetNotReady, target.Name, err)
		}
	}
	return matched, nil
}

// waitDocumentComplete polls document.readyState until "complete". The
// budget is the detector timeout; in practice the document is complete well
// before the root selector shows up and this returns on the first poll.
func (d *ReadinessDetector) waitDocumentComplete(ctx context.Context) error {
	deadline := time.Now().Add(d.timeout)
	for {
		ready, err := d.page.DocumentReady(ctx)
		if err == nil && ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("document never reached readyState complete")
		}
		if err := sleepCtx(ctx, d.resolver.poll); err != nil {
			return err
		}
	}
}
