// internal/engine/writer.go
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cfavre/baswatch/internal/config"
)

const (
	screenshotFile = "screenshot.png"
	domFile        = "dom.json"
	metaFile       = "meta.json"
)

// TargetMeta is the metadata record written beside every capture. It is the
// audit trail: what was requested, where the page actually was, when, and
// whether the capture is complete.
type TargetMeta struct {
	Target        string   `json:"target"`
	ConfiguredURL string   `json:"configured_url"`
	ResolvedURL   string   `json:"resolved_url"`
	RunStartedAt  string   `json:"run_started_at"`
	CapturedAt    string   `json:"captured_at"`
	Success       bool     `json:"success"`
	// MatchedSelector is the root candidate that resolved, or null when
	// every candidate was exhausted.
	MatchedSelector *string  `json:"matched_selector"`
	Artifacts       []string `json:"artifacts"`
	Error           string   `json:"error,omitempty"`
}

// CaptureWriter persists the artifact set for one target into its directory.
// It always attempts all three artifacts: a screenshot that fails to encode
// must not cost the DOM snapshot.
type CaptureWriter struct {
	page   Page
	logger *zap.Logger
}

// NewCaptureWriter builds a writer over the given page.
func NewCaptureWriter(page Page, logger *zap.Logger) *CaptureWriter {
	return &CaptureWriter{page: page, logger: logger}
}

// Write captures and persists the artifact set into dir, which must already
// exist. meta.Artifacts and meta.Success are filled in before the metadata
// itself is written, so meta.json always reflects what is actually on disk
// beside it. A non-nil error wraps ErrArtifactWriteFailed and means the set
// is partial.
func (w *CaptureWriter) Write(ctx context.Context, dir string, target config.TargetSpec, meta TargetMeta) error {
	var errs []error
	var written []string

	if data, err := w.screenshot(ctx, target); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	} else if err := os.WriteFile(filepath.Join(dir, screenshotFile), data, 0o644); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	} else {
		written = append(written, screenshotFile)
	}

	rootSel := target.RootCandidates()[0]
	if meta.MatchedSelector != nil {
		rootSel = *meta.MatchedSelector
	}
	if snap, err := w.page.Snapshot(ctx, rootSel); err != nil {
		errs = append(errs, fmt.Errorf("dom snapshot: %w", err))
	} else if err := writeJSON(filepath.Join(dir, domFile), snap); err != nil {
		errs = append(errs, fmt.Errorf("dom snapshot: %w", err))
	} else {
		written = append(written, domFile)
	}

	meta.Artifacts = written
	meta.Success = meta.Success && len(errs) == 0
	if len(errs) > 0 {
		meta.Error = errors.Join(errs...).Error()
	}
	meta.CapturedAt = time.Now().UTC().Format(time.RFC3339)
	if err := writeJSON(filepath.Join(dir, metaFile), meta); err != nil {
		errs = append(errs, fmt.Errorf("metadata: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: target %q: %v", ErrArtifactWriteFailed, target.Name, errors.Join(errs...))
	}
	return nil
}

// WriteFailure records metadata for a target whose capture never happened,
// so every configured target leaves a trace in the run directory.
func (w *CaptureWriter) WriteFailure(dir string, target config.TargetSpec, meta TargetMeta) error {
	meta.Success = false
	meta.Artifacts = []string{}
	meta.CapturedAt = time.Now().UTC().Format(time.RFC3339)
	if err := writeJSON(filepath.Join(dir, metaFile), meta); err != nil {
		return fmt.Errorf("%w: target %q: %v", ErrArtifactWriteFailed, target.Name, err)
	}
	return nil
}

func (w *CaptureWriter) screenshot(ctx context.Context, target config.TargetSpec) ([]byte, error) {
	opts := ScreenshotOptions{FullPage: true}
	if target.Screenshot.Mode == config.ScreenshotElement {
		opts = ScreenshotOptions{Selector: target.Screenshot.Selector}
	}
	return w.page.Screenshot(ctx, opts)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// SanitizeName maps an operator-supplied name onto a filesystem-safe
// directory name. Letters, digits, dash, underscore and dot pass through;
// everything else becomes an underscore.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
