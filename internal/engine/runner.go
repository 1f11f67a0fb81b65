// internal/engine/runner.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cfavre/baswatch/internal/config"
)

// runStampLayout is the run directory timestamp, second resolution UTC.
const runStampLayout = "20060102-150405"

// TargetStatus summarizes the outcome of one target's capture.
type TargetStatus string

const (
	// StatusSuccess means the full artifact set was written.
	StatusSuccess TargetStatus = "success"
	// StatusPartial means the capture ran but at least one artifact failed.
	StatusPartial TargetStatus = "partial"
	// StatusFailed means the target never reached capture.
	StatusFailed TargetStatus = "failed"
)

// TargetOutcome records what happened to one configured target.
type TargetOutcome struct {
	Target      string       `json:"target"`
	Status      TargetStatus `json:"status"`
	ResolvedURL string       `json:"resolved_url,omitempty"`
	Dir         string       `json:"dir,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// RunResult is the summary of one full capture run. It always holds exactly
// one outcome per configured target, in configuration order.
type RunResult struct {
	RunID         string          `json:"run_id"`
	Site          string          `json:"site"`
	StartedAt     time.Time       `json:"started_at"`
	Stamp         string          `json:"stamp"`
	OutputDir     string          `json:"output_dir"`
	Authenticated bool            `json:"authenticated"`
	Targets       []TargetOutcome `json:"targets"`
}

// Failed reports whether any target fell short of a full capture.
func (r *RunResult) Failed() bool {
	if !r.Authenticated {
		return true
	}
	for _, t := range r.Targets {
		if t.Status != StatusSuccess {
			return true
		}
	}
	return false
}

// Runner orchestrates one capture run: open a session, authenticate once,
// then walk every target sequentially on that session. Targets fail
// independently; only a session-level failure aborts the run.
type Runner struct {
	browser Browser
	capture config.CaptureConfig
	logger  *zap.Logger
}

// NewRunner builds a Runner for the given browser and capture settings.
func NewRunner(browser Browser, capture config.CaptureConfig, logger *zap.Logger) *Runner {
	return &Runner{browser: browser, capture: capture, logger: logger}
}

// Run performs one capture run for the site. Existing run directories are
// never reused: a stamp collision is an error, not an overwrite.
func (r *Runner) Run(ctx context.Context, site *config.SiteConfig) (*RunResult, error) {
	started := time.Now().UTC()
	result := &RunResult{
		RunID:     uuid.NewString(),
		Site:      site.Name,
		StartedAt: started,
		Stamp:     started.Format(runStampLayout),
	}
	logger := r.logger.With(zap.String("run_id", result.RunID), zap.String("site", site.Name))

	runDir, err := r.makeRunDir(site.Name, result.Stamp)
	if err != nil {
		return result, err
	}
	result.OutputDir = runDir
	logger.Info("Capture run starting.",
		zap.String("output_dir", runDir),
		zap.Int("targets", len(site.Targets)))

	page, err := r.browser.NewPage(ctx)
	if err != nil {
		return result, fmt.Errorf("acquiring browser page: %w", err)
	}
	defer func() {
		if err := page.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to close browser page.", zap.Error(err))
		}
	}()

	if rec, ok := page.(VideoRecorder); ok && r.capture.RecordVideo {
		videoDir := filepath.Join(runDir, "video")
		if err := os.MkdirAll(videoDir, 0o755); err != nil {
			logger.Warn("Cannot create video directory, recording skipped.", zap.Error(err))
		} else if err := rec.StartVideo(ctx, videoDir); err != nil {
			logger.Warn("Screencast recording failed to start.", zap.Error(err))
		} else {
			defer func() {
				if err := rec.StopVideo(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("Screencast recording failed to stop.", zap.Error(err))
				}
			}()
		}
	}

	resolver := NewResolver(page, r.capture.Poll, logger)
	nav := NewNavController(page, r.capture.Poll, logger)
	auth := NewAuthenticator(page, resolver, r.capture.Timeout, logger)
	readiness := NewReadinessDetector(page, resolver, r.capture.Timeout, r.capture.Settle, logger)
	steps := NewStepExecutor(page, resolver, nav, r.capture.Timeout, logger)
	writer := NewCaptureWriter(page, logger)

	if err := nav.Goto(ctx, site.BaseURL, r.capture.Timeout); err != nil {
		err = fmt.Errorf("%w: reaching login page: %v", ErrLoginFailed, err)
		r.failAll(result, site, err)
		return result, err
	}
	if err := auth.Authenticate(ctx, site.Login); err != nil {
		r.failAll(result, site, err)
		return result, err
	}
	result.Authenticated = true

	for _, target := range site.Targets {
		outcome := r.captureTarget(ctx, runDir, started, target, nav, readiness, steps, writer, logger)
		result.Targets = append(result.Targets, outcome)
		if ctx.Err() != nil {
			// Mark the rest as failed so the result stays complete.
			for i := len(result.Targets); i < len(site.Targets); i++ {
				result.Targets = append(result.Targets, TargetOutcome{
					Target: site.Targets[i].Name,
					Status: StatusFailed,
					Error:  ctx.Err().Error(),
				})
			}
			break
		}
	}

	logger.Info("Capture run finished.",
		zap.Bool("failed", result.Failed()),
		zap.Int("targets", len(result.Targets)))
	return result, nil
}

// failAll marks every configured target failed with a session-level error,
// keeping the one-outcome-per-target shape of the result.
func (r *Runner) failAll(result *RunResult, site *config.SiteConfig, err error) {
	for _, target := range site.Targets {
		result.Targets = append(result.Targets, TargetOutcome{
			Target: target.Name,
			Status: StatusFailed,
			Error:  err.Error(),
		})
	}
}

// captureTarget runs the full pipeline for one target. Every failure is
// contained here: the returned outcome is the only way a target influences
// the run.
func (r *Runner) captureTarget(
	ctx context.Context,
	runDir string,
	started time.Time,
	target config.TargetSpec,
	nav *NavController,
	readiness *ReadinessDetector,
	steps *StepExecutor,
	writer *CaptureWriter,
	logger *zap.Logger,
) TargetOutcome {
	outcome := TargetOutcome{Target: target.Name}
	tlog := logger.With(zap.String("target", target.Name))

	targetDir := filepath.Join(runDir, SanitizeName(target.Name))
	if err := os.Mkdir(targetDir, 0o755); err != nil {
		outcome.Status = StatusFailed
		outcome.Error = fmt.Sprintf("creating target directory: %v", err)
		return outcome
	}
	outcome.Dir = targetDir

	meta := TargetMeta{
		Target:        target.Name,
		ConfiguredURL: target.URL,
		RunStartedAt:  started.Format(time.RFC3339),
	}

	// On failure the metadata still records where the session actually
	// was, which for navigation failures is the last page that loaded.
	fail := func(err error) TargetOutcome {
		tlog.Warn("Target capture failed.", zap.Error(err))
		outcome.Status = StatusFailed
		outcome.Error = err.Error()
		meta.Error = err.Error()
		meta.ResolvedURL = nav.CurrentURL()
		outcome.ResolvedURL = meta.ResolvedURL
		if werr := writer.WriteFailure(targetDir, target, meta); werr != nil {
			tlog.Warn("Could not record failure metadata.", zap.Error(werr))
		}
		return outcome
	}

	if err := nav.Goto(ctx, target.URL, r.capture.Timeout); err != nil {
		return fail(err)
	}
	if err := steps.Run(ctx, target); err != nil {
		return fail(err)
	}
	matched, err := readiness.WaitReady(ctx, target)
	if err != nil {
		return fail(err)
	}

	meta.ResolvedURL = nav.CurrentURL()
	meta.MatchedSelector = &matched
	meta.Success = true
	outcome.ResolvedURL = meta.ResolvedURL

	if err := writer.Write(ctx, targetDir, target, meta); err != nil {
		tlog.Warn("Artifact set is partial.", zap.Error(err))
		outcome.Status = StatusPartial
		outcome.Error = err.Error()
		return outcome
	}

	tlog.Info("Target captured.", zap.String("dir", targetDir))
	outcome.Status = StatusSuccess
	return outcome
}

// makeRunDir creates <output-root>/<site>/<stamp>. The final component is
// created with Mkdir so that a second run inside the same second fails
// instead of writing into an existing evidence directory.
func (r *Runner) makeRunDir(site, stamp string) (string, error) {
	siteDir := filepath.Join(r.capture.OutputRoot, SanitizeName(site))
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		return "", fmt.Errorf("creating site directory: %w", err)
	}
	runDir := filepath.Join(siteDir, stamp)
	if err := os.Mkdir(runDir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("run directory %s already exists, refusing to overwrite", runDir)
		}
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return runDir, nil
}
