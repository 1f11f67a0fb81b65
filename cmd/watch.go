// cmd/watch.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cfavre/baswatch/internal/config"
	"github.com/cfavre/baswatch/internal/observability"
)

// newWatchCmd creates the `watch` command: capture runs on a fixed
// interval until interrupted.
func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch <site-config.json>",
		Short: "Runs evidence captures on a fixed interval until interrupted",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("capture.output_root", cmd.Flags().Lookup("output"))
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

			interval, err := cmd.Flags().GetDuration("interval")
			if err != nil {
				return err
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}
			maxRuns, err := cmd.Flags().GetInt("max-runs")
			if err != nil {
				return err
			}

			// The limiter paces runs at one per interval; the first run
			// starts immediately.
			limiter := rate.NewLimiter(rate.Every(interval), 1)
			logger.Info("Watch mode starting.",
				zap.String("site", site.Name),
				zap.Duration("interval", interval))

			runs := 0
			for {
				if err := limiter.Wait(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						logger.Info("Watch mode stopped.", zap.Int("runs", runs))
						return nil
					}
					return err
				}

				result, err := runCapture(ctx, cfg, site, logger)
				runs++
				switch {
				case err != nil && ctx.Err() != nil:
					logger.Info("Watch mode stopped.", zap.Int("runs", runs))
					return nil
				case err != nil:
					// A failed run never stops the watch; the next
					// interval gets a fresh browser.
					logger.Error("Capture run failed.", zap.Error(err))
				default:
					printRunSummary(cmd, result)
				}

				if maxRuns > 0 && runs >= maxRuns {
					logger.Info("Run budget reached, stopping watch.", zap.Int("runs", runs))
					return nil
				}
			}
		},
	}

	watchCmd.Flags().StringP("output", "o", "data", "root directory for capture runs")
	watchCmd.Flags().DurationP("interval", "i", 15*time.Minute, "time between run starts")
	watchCmd.Flags().Int("max-runs", 0, "stop after this many runs (0 = run until interrupted)")
	return watchCmd
}
