// cmd/spider.go
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cfavre/baswatch/internal/browser"
	"github.com/cfavre/baswatch/internal/config"
	"github.com/cfavre/baswatch/internal/engine"
	"github.com/cfavre/baswatch/internal/observability"
	"github.com/cfavre/baswatch/internal/spider"
)

// newSpiderCmd creates the `spider` command: log in and explore the
// dashboard breadth-first, screenshotting every reachable view. Useful
// when commissioning a new site config to discover target URLs.
func newSpiderCmd() *cobra.Command {
	spiderCmd := &cobra.Command{
		Use:   "spider <site-config.json>",
		Short: "Explores a dashboard after login and maps its reachable views",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("spider.max_depth", cmd.Flags().Lookup("depth")); err != nil {
				return err
			}
			return viper.BindPFlag("spider.max_pages", cmd.Flags().Lookup("max-pages"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			site, err := config.LoadSiteConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading site config: %w", err)
			}

			report, err := runSpider(ctx, cfg, site, logger)
			if err != nil {
				return err
			}
			cmd.Printf("Crawled %d page(s) from %s\n", len(report.Pages), report.BaseURL)
			if report.Truncated {
				cmd.Println("Crawl was truncated by its depth or page budget.")
			}
			return nil
		},
	}

	spiderCmd.Flags().Int("depth", 3, "maximum link depth from the base URL")
	spiderCmd.Flags().Int("max-pages", 50, "maximum number of pages to visit")
	return spiderCmd
}

func runSpider(ctx context.Context, cfg *config.Config, site *config.SiteConfig, logger *zap.Logger) (*spider.Report, error) {
	manager, err := browser.NewManager(ctx, siteBrowserConfig(cfg.Browser, site), logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGracePeriod)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown reported an error.", zap.Error(err))
		}
	}()

	page, err := manager.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close(context.WithoutCancel(ctx))

	// Authenticate with the same machinery the capture engine uses.
	resolver := engine.NewResolver(page, cfg.Capture.Poll, logger)
	nav := engine.NewNavController(page, cfg.Capture.Poll, logger)
	auth := engine.NewAuthenticator(page, resolver, cfg.Capture.Timeout, logger)
	if err := nav.Goto(ctx, site.BaseURL, cfg.Capture.Timeout); err != nil {
		return nil, err
	}
	if err := auth.Authenticate(ctx, site.Login); err != nil {
		return nil, err
	}

	crawlPage, ok := page.(spider.Page)
	if !ok {
		return nil, fmt.Errorf("browser session does not support crawling")
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	outDir := filepath.Join(cfg.Capture.OutputRoot, engine.SanitizeName(site.Name), "spider-"+stamp)
	return spider.New(crawlPage, cfg.Spider, logger).Crawl(ctx, site.BaseURL, outDir)
}
