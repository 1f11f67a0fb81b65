// cmd/capture.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cfavre/baswatch/internal/browser"
	"github.com/cfavre/baswatch/internal/config"
	"github.com/cfavre/baswatch/internal/engine"
	"github.com/cfavre/baswatch/internal/observability"
)

const shutdownGracePeriod = 15 * time.Second

// newCaptureCmd creates the `capture` command: one full run over a site.
func newCaptureCmd() *cobra.Command {
	captureCmd := &cobra.Command{
		Use:   "capture <site-config.json>",
		Short: "Runs one evidence capture over every configured target of a site",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("capture.output_root", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			if err := viper.BindPFlag("capture.record_video", cmd.Flags().Lookup("record-video")); err != nil {
				return err
			}
			return viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless"))
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

			result, err := runCapture(ctx, cfg, site, logger)
			if result != nil {
				printRunSummary(cmd, result)
			}
			if err != nil {
				return err
			}
			if result.Failed() {
				return fmt.Errorf("run completed with failures")
			}
			return nil
		},
	}

	captureCmd.Flags().StringP("output", "o", "data", "root directory for capture runs")
	captureCmd.Flags().Bool("record-video", false, "record a screencast of the session")
	captureCmd.Flags().Bool("headless", true, "run the browser headless")
	return captureCmd
}

// siteBrowserConfig overlays a site's browser preferences onto the app
// config so every command renders the site the same way.
func siteBrowserConfig(base config.BrowserConfig, site *config.SiteConfig) config.BrowserConfig {
	if site.IgnoreHTTPSErrors {
		base.IgnoreTLSErrors = true
	}
	if site.Viewport.Width > 0 && site.Viewport.Height > 0 {
		base.ViewportWidth = site.Viewport.Width
		base.ViewportHeight = site.Viewport.Height
	}
	return base
}

// runCapture launches a browser, performs one run, and shuts the browser
// down regardless of the outcome.
func runCapture(ctx context.Context, cfg *config.Config, site *config.SiteConfig, logger *zap.Logger) (*engine.RunResult, error) {
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

	runner := engine.NewRunner(manager, cfg.Capture, logger)
	return runner.Run(ctx, site)
}

func printRunSummary(cmd *cobra.Command, result *engine.RunResult) {
	cmd.Printf("Run %s (%s)\n", result.RunID, result.Site)
	cmd.Printf("  Output: %s\n", result.OutputDir)
	for _, t := range result.Targets {
		line := fmt.Sprintf("  [%s] %s", t.Status, t.Target)
		if t.Error != "" {
			line += " - " + t.Error
		}
		cmd.Println(line)
	}
}
