// internal/engine/page.go
package engine

import (
	"context"
	"time"
)

// ElementState describes what a selector query observed on the live page.
type ElementState struct {
	Found   bool `json:"found"`
	Visible bool `json:"visible"`
	Enabled bool `json:"enabled"`
	Count   int  `json:"count"`
}

// Satisfies reports whether the observed state meets the required match state.
func (s ElementState) Satisfies(want MatchState) bool {
	switch want {
	case MatchExists:
		return s.Found
	case MatchVisible:
		return s.Found && s.Visible
	case MatchEnabled:
		return s.Found && s.Visible && s.Enabled
	}
	return false
}

// MatchState is the state a selector candidate must reach to be considered resolved.
type MatchState int

const (
	// MatchExists requires the element to be attached to the document.
	MatchExists MatchState = iota
	// MatchVisible additionally requires a non-zero rendered box.
	MatchVisible
	// MatchEnabled additionally requires the element not to be disabled.
	MatchEnabled
)

func (m MatchState) String() string {
	switch m {
	case MatchExists:
		return "exists"
	case MatchVisible:
		return "visible"
	case MatchEnabled:
		return "enabled"
	}
	return "unknown"
}

// ScreenshotOptions selects between a full-page capture and the bounding box
// of a single element.
type ScreenshotOptions struct {
	FullPage bool
	Selector string
}

// ElementFacts is the observed state of one stateful element inside the
// capture root. Pointer fields distinguish "absent" from "empty".
type ElementFacts struct {
	Tag          string  `json:"tag"`
	ID           *string `json:"id"`
	Name         *string `json:"name"`
	Type         *string `json:"type"`
	Class        *string `json:"class"`
	Text         string  `json:"text"`
	Value        *string `json:"value"`
	Checked      *bool   `json:"checked"`
	AriaChecked  *string `json:"ariaChecked"`
	AriaValueNow *string `json:"ariaValueNow"`
	DataState    *string `json:"dataState"`
}

// DOMSnapshot is the structured extract of a settled page: everything the
// post-run analyzer needs without re-parsing raw HTML.
type DOMSnapshot struct {
	Title        string         `json:"title"`
	URL          string         `json:"url"`
	RootSelector string         `json:"rootSelector"`
	RootTag      string         `json:"rootTag"`
	Text         string         `json:"text"`
	States       []ElementFacts `json:"states"`
}

// Page is the minimal set of browser primitives the engine drives. The
// production implementation sits on chromedp; tests substitute a scripted
// fake so the state machines can be exercised without a running Chrome.
type Page interface {
	// Navigate issues a raw navigation. Errors are returned unclassified;
	// the NavController decides which ones are tolerable.
	Navigate(ctx context.Context, url string) error
	// CurrentURL reads the live location of the page.
	CurrentURL(ctx context.Context) (string, error)
	// DocumentReady reports whether document.readyState is "complete".
	DocumentReady(ctx context.Context) (bool, error)
	// Query observes the state of the first element matching selector.
	Query(ctx context.Context, selector string) (ElementState, error)
	// Click clicks the index-th element matching selector (0-based).
	Click(ctx context.Context, selector string, index int) error
	// DoubleClick double-clicks the index-th element matching selector.
	DoubleClick(ctx context.Context, selector string, index int) error
	// Fill focuses the element and replaces its value.
	Fill(ctx context.Context, selector, value string) error
	// Screenshot captures the page or one element as PNG bytes.
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	// Snapshot extracts visible text and element states under rootSelector.
	Snapshot(ctx context.Context, rootSelector string) (*DOMSnapshot, error)
	// Close releases the underlying tab. Safe to call more than once.
	Close(ctx context.Context) error
}

// Browser opens pages. The run orchestrator acquires exactly one page per run
// and owns it for the run's whole lifetime.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// VideoRecorder is optionally implemented by pages that can record a
// debugging screencast of the session. The engine probes for it with a type
// assertion and silently skips recording when absent.
type VideoRecorder interface {
	StartVideo(ctx context.Context, dir string) error
	StopVideo(ctx context.Context) error
}

// sleepCtx blocks for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
