// internal/spider/spider.go
package spider

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/cfavre/baswatch/internal/config"
	"github.com/cfavre/baswatch/internal/engine"
)

// Page is the browser surface the spider needs. browser.Session satisfies
// it; tests use a scripted fake.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, opts engine.ScreenshotOptions) ([]byte, error)
	ExtractLinks(ctx context.Context, selectors []string) ([]string, error)
}

// PageVisit records one crawled page in the report.
type PageVisit struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Depth      int    `json:"depth"`
	Links      int    `json:"links"`
	Screenshot string `json:"screenshot,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Report is the crawl result, written as spider_report.json.
type Report struct {
	BaseURL   string      `json:"base_url"`
	StartedAt string      `json:"started_at"`
	Pages     []PageVisit `json:"pages"`
	Truncated bool        `json:"truncated"`
}

// Spider explores a dashboard breadth-first after login, screenshotting
// each reachable view. It only ever reads: the link harvest is restricted
// to href targets, never buttons or forms.
type Spider struct {
	page   Page
	nav    *engine.NavController
	cfg    config.SpiderConfig
	logger *zap.Logger
}

// abortPollWindow bounds the wait for a hash route to settle after an
// intercepted navigation.
const abortPollWindow = 2 * time.Second

// New builds a Spider over the given page.
func New(page Page, cfg config.SpiderConfig, logger *zap.Logger) *Spider {
	logger = logger.Named("spider")
	return &Spider{
		page:   page,
		nav:    engine.NewNavController(page, 0, logger),
		cfg:    cfg,
		logger: logger,
	}
}

type queueItem struct {
	url   string
	depth int
}

// Crawl explores from baseURL and writes screenshots plus the report into
// outDir. Individual page failures are recorded and the crawl continues.
func (s *Spider) Crawl(ctx context.Context, baseURL, outDir string) (*Report, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spider output directory: %w", err)
	}

	report := &Report{
		BaseURL:   baseURL,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	visited := map[string]bool{}
	queue := []queueItem{{url: normalizeURL(baseURL), depth: 0}}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			report.Truncated = true
			break
		}
		if len(report.Pages) >= s.cfg.MaxPages {
			report.Truncated = true
			s.logger.Info("Page budget reached, stopping crawl.", zap.Int("max_pages", s.cfg.MaxPages))
			break
		}

		item := queue[0]
		queue = queue[1:]
		if visited[item.url] {
			continue
		}
		visited[item.url] = true

		visit := s.visit(ctx, item, len(report.Pages), outDir)
		report.Pages = append(report.Pages, visit)
		if visit.Error != "" || item.depth >= s.cfg.MaxDepth {
			continue
		}

		links, err := s.page.ExtractLinks(ctx, s.cfg.NavSelectors)
		if err != nil {
			s.logger.Warn("Link extraction failed.", zap.String("url", item.url), zap.Error(err))
			continue
		}
		for _, link := range links {
			norm := normalizeURL(link)
			if norm == "" || visited[norm] {
				continue
			}
			if s.cfg.SameDomainOnly && !sameDomain(base, norm) {
				continue
			}
			queue = append(queue, queueItem{url: norm, depth: item.depth + 1})
		}

		if s.cfg.PageDelay > 0 {
			t := time.NewTimer(s.cfg.PageDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}

	reportPath := filepath.Join(outDir, "spider_report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return report, err
	}
	if err := os.WriteFile(reportPath, data, 0o644); err != nil {
		return report, fmt.Errorf("writing spider report: %w", err)
	}
	s.logger.Info("Crawl finished.",
		zap.Int("pages", len(report.Pages)),
		zap.Bool("truncated", report.Truncated),
		zap.String("report", reportPath))
	return report, nil
}

// visit navigates to one page and screenshots it. Navigation goes through
// the engine's controller so hash-routed views, which chromedp reports as
// aborted navigations, are crawled like any other page.
func (s *Spider) visit(ctx context.Context, item queueItem, seq int, outDir string) PageVisit {
	visit := PageVisit{URL: item.url, Depth: item.depth}
	s.logger.Debug("Visiting page.", zap.String("url", item.url), zap.Int("depth", item.depth))

	if err := s.nav.Goto(ctx, item.url, abortPollWindow); err != nil {
		visit.Error = err.Error()
		return visit
	}
	if title, err := s.page.Title(ctx); err == nil {
		visit.Title = title
	}
	if resolved := s.nav.CurrentURL(); resolved != "" {
		visit.URL = resolved
	}

	if s.cfg.Screenshots {
		data, err := s.page.Screenshot(ctx, engine.ScreenshotOptions{FullPage: true})
		if err != nil {
			visit.Error = err.Error()
			return visit
		}
		name := fmt.Sprintf("%03d_%s.png", seq, engine.SanitizeName(pageSlug(item.url)))
		if err := os.WriteFile(filepath.Join(outDir, name), data, 0o644); err != nil {
			visit.Error = err.Error()
			return visit
		}
		visit.Screenshot = name
	}
	return visit
}

// normalizeURL canonicalizes a link for the visited set. Fragments are
// kept: hash routes are distinct views on single-page dashboards.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return ""
	}
	u.Host = strings.ToLower(u.Host)
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// sameDomain reports whether raw stays inside the crawl scope. Exact host
// always qualifies, and IP-hosted dashboards only ever match themselves.
// Named hosts qualify when they share a registrable domain, so an
// auth.plant.example.com hop from bms.plant.example.com stays in scope.
func sameDomain(base *url.URL, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	baseHost, host := base.Hostname(), u.Hostname()
	if strings.EqualFold(baseHost, host) {
		return true
	}
	if net.ParseIP(baseHost) != nil || net.ParseIP(host) != nil {
		return false
	}
	baseDomain, berr := publicsuffix.EffectiveTLDPlusOne(baseHost)
	domain, derr := publicsuffix.EffectiveTLDPlusOne(host)
	if berr != nil || derr != nil {
		return false
	}
	return strings.EqualFold(baseDomain, domain)
}

// pageSlug derives a short name for a page's screenshot from its URL.
func pageSlug(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "page"
	}
	slug := strings.Trim(u.Path, "/")
	if u.Fragment != "" {
		slug += "_" + u.Fragment
	}
	if slug == "" {
		return "index"
	}
	if len(slug) > 80 {
		slug = slug[:80]
	}
	return slug
}
