// internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	cdruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/cfavre/baswatch/internal/config"
	"github.com/cfavre/baswatch/internal/engine"
)

// Session is one browser tab implementing engine.Page. All operations run
// on the tab's own context combined with the caller's deadline.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	onClose   func()
	closeOnce sync.Once

	screencast *screencast
}

var _ engine.Page = (*Session)(nil)
var _ engine.VideoRecorder = (*Session)(nil)

// newSession opens a tab on the allocator and applies the viewport.
func newSession(allocatorCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	ctx, cancel := chromedp.NewContext(allocatorCtx)
	s := &Session{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.Named("session"),
	}

	if err := chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}
	return s, nil
}

// SetViewport overrides the tab's viewport, for sites that declare one.
func (s *Session) SetViewport(ctx context.Context, width, height int) error {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()
	return chromedp.Run(opCtx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()
	s.logger.Debug("Navigating.", zap.String("url", url))
	return chromedp.Run(opCtx, chromedp.Navigate(url))
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()
	var url string
	if err := chromedp.Run(opCtx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Title reads the document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.evaluate(ctx, `document.title`, &title)
	return title, err
}

// ExtractLinks collects the href targets of every element matching the
// given selectors, resolved to absolute URLs, duplicates removed.
func (s *Session) ExtractLinks(ctx context.Context, selectors []string) ([]string, error) {
	if len(selectors) == 0 {
		selectors = []string{"a[href]"}
	}
	sels, _ := json.Marshal(selectors)
	script := fmt.Sprintf(`(() => {
		const seen = new Set();
		const out = [];
		for (const sel of %s) {
			for (const el of document.querySelectorAll(sel)) {
				const href = el.href || el.getAttribute("href");
				if (!href) continue;
				let abs;
				try { abs = new URL(href, window.location.href).href; } catch (e) { continue; }
				if (seen.has(abs)) continue;
				seen.add(abs);
				out.push(abs);
			}
		}
		return out;
	})()`, string(sels))

	var links []string
	if err := s.evaluate(ctx, script, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (s *Session) DocumentReady(ctx context.Context) (bool, error) {
	var ready bool
	err := s.evaluate(ctx, `document.readyState === "complete"`, &ready)
	return ready, err
}

func (s *Session) Query(ctx context.Context, selector string) (engine.ElementState, error) {
	script := fmt.Sprintf(`(() => {
		const nodes = document.querySelectorAll(%s);
		if (nodes.length === 0) {
			return { found: false, visible: false, enabled: false, count: 0 };
		}
		const el = nodes[0];
		const style = window.getComputedStyle(el);
		const rect = el.getBoundingClientRect();
		const visible = style.display !== "none" &&
			style.visibility !== "hidden" &&
			rect.width > 0 && rect.height > 0;
		return {
			found: true,
			visible: visible,
			enabled: !el.disabled,
			count: nodes.length,
		};
	})()`, jsString(selector))

	var state engine.ElementState
	if err := s.evaluate(ctx, script, &state); err != nil {
		return engine.ElementState{}, err
	}
	return state, nil
}

func (s *Session) Click(ctx context.Context, selector string, index int) error {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()
	if index == 0 {
		return chromedp.Run(opCtx, chromedp.Click(selector, chromedp.ByQuery))
	}
	return s.nthClick(ctx, selector, index, 1)
}

func (s *Session) DoubleClick(ctx context.Context, selector string, index int) error {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()
	if index == 0 {
		return chromedp.Run(opCtx, chromedp.DoubleClick(selector, chromedp.ByQuery))
	}
	return s.nthClick(ctx, selector, index, 2)
}

// nthClick dispatches click events on the index-th match via script;
// chromedp's click actions only target the first match of a query.
func (s *Session) nthClick(ctx context.Context, selector string, index, clicks int) error {
	script := fmt.Sprintf(`(() => {
		const nodes = document.querySelectorAll(%s);
		if (nodes.length <= %d) {
			throw new Error("selector matched " + nodes.length + " element(s), index %d out of range");
		}
		const el = nodes[%d];
		el.scrollIntoView({ block: "center" });
		for (let i = 0; i < %d; i++) el.click();
		if (%d > 1) {
			el.dispatchEvent(new MouseEvent("dblclick", { bubbles: true, cancelable: true }));
		}
		return true;
	})()`, jsString(selector), index, index, index, clicks, clicks)

	var ok bool
	return s.evaluate(ctx, script, &ok)
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()
	return chromedp.Run(opCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (s *Session) Screenshot(ctx context.Context, opts engine.ScreenshotOptions) ([]byte, error) {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	var buf []byte
	if opts.Selector != "" && !opts.FullPage {
		if err := chromedp.Run(opCtx, chromedp.Screenshot(opts.Selector, &buf, chromedp.ByQuery)); err != nil {
			return nil, err
		}
		return buf, nil
	}
	if err := chromedp.Run(opCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Session) Snapshot(ctx context.Context, rootSelector string) (*engine.DOMSnapshot, error) {
	script := fmt.Sprintf(extractTemplate, jsString(rootSelector))
	var snap engine.DOMSnapshot
	if err := s.evaluate(ctx, script, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.screencast != nil {
			if err := s.screencast.stop(combineOrBackground(s.ctx, ctx)); err != nil {
				s.logger.Debug("Screencast stop during close failed.", zap.Error(err))
			}
		}
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// evaluate runs script in the page and decodes the result into out.
func (s *Session) evaluate(ctx context.Context, script string, out any) error {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()
	return chromedp.Run(opCtx, chromedp.Evaluate(script, out,
		func(p *cdruntime.EvaluateParams) *cdruntime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}))
}

// jsString safely embeds a Go string as a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func combineOrBackground(sessionCtx, ctx context.Context) context.Context {
	if ctx == nil {
		return sessionCtx
	}
	combined, _ := combineContext(sessionCtx, ctx)
	return combined
}

// extractTemplate is the in-page extraction script: visible text of the
// capture root, plus per-element state of everything stateful underneath
// it. Bounded so a pathological page cannot balloon the snapshot.
const extractTemplate = `(() => {
	const MAX_ELEMENTS = 3000;
	const MAX_TEXT = 1000;

	const rootSelector = %s;
	const root = document.querySelector(rootSelector) || document.body;

	const attr = (el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null;
	const clip = (s) => {
		s = (s || "").replace(/\s+/g, " ").trim();
		return s.length > MAX_TEXT ? s.slice(0, MAX_TEXT) : s;
	};

	const states = [];
	const selector = "input, select, textarea, button, [role], [aria-checked], [data-state]";
	const nodes = root.querySelectorAll(selector);
	for (let i = 0; i < nodes.length && states.length < MAX_ELEMENTS; i++) {
		const el = nodes[i];
		const entry = {
			tag: el.tagName.toLowerCase(),
			id: attr(el, "id"),
			name: attr(el, "name"),
			type: attr(el, "type"),
			class: attr(el, "class"),
			text: clip(el.innerText || el.textContent),
			value: ("value" in el) ? String(el.value) : null,
			checked: ("checked" in el) ? Boolean(el.checked) : null,
			ariaChecked: attr(el, "aria-checked"),
			ariaValueNow: attr(el, "aria-valuenow"),
			dataState: attr(el, "data-state"),
		};
		states.push(entry);
	}

	return {
		title: document.title,
		url: window.location.href,
		rootSelector: rootSelector,
		rootTag: root.tagName.toLowerCase(),
		text: (root.innerText || "").trim(),
		states: states,
	};
})()`
