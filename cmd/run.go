package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/app"
	"github.com/JakeFAU/pcspec-crawler/internal/config"
	"github.com/JakeFAU/pcspec-crawler/internal/orchestrator"
)

// crawlRunner is the part of app.App the run command drives.
type crawlRunner interface {
	Run(ctx context.Context) (orchestrator.Summary, error)
}

// buildRunner is swapped in tests.
var buildRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (crawlRunner, error) {
	return app.Build(ctx, cfg, logger, opts)
}

func newRunCmd() *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl the enabled sources once",
		Long: `Crawls every enabled source concurrently: listing pages first, then
every discovered product page. Records are written in batches; each batch
rewrites the source's JSON snapshot. Exits non-zero if any source failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			runner, err := buildRunner(cmd.Context(), rt.cfg, rt.logger, app.Options{
				Sources: sources,
				Version: Version,
			})
			if err != nil {
				return fmt.Errorf("build crawl: %w", err)
			}
			summary, err := runner.Run(cmd.Context())
			if len(summary.Sources) > 0 {
				printSummary(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				return err
			}
			if summary.Failed() {
				return fmt.Errorf("one or more sources failed")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "crawl only these sources (repeatable)")
	return cmd
}

func printSummary(w io.Writer, summary orchestrator.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tRECORDS\tDETAIL URLS\tFAILURES\tSNAPSHOT\tERROR")
	for _, s := range summary.Sources {
		errText := ""
		if s.Err != nil {
			errText = s.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
			s.Source, s.Records, s.Stats.DetailURLs, s.Stats.DetailFailures, s.Location, errText)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "run %s finished in %s\n", summary.RunID, summary.Duration.Round(time.Millisecond))
}
