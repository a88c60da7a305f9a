package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/internal/output"
	"github.com/sells-group/research-crawler/internal/pipeline"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Research every configured seed site",
	Long:  "Runs the resolver for each site in campaign.sites and appends one row per question to the output CSV.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyCampaignFlags(cmd)
		limit, _ := cmd.Flags().GetInt("limit")
		sites := selectSites(cfg.Campaign.Sites, limit)

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			return writeSeedTable(cmd.OutOrStdout(), sites)
		}

		env, err := initEnv(ctx, "campaign")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := output.OpenCSV(cfg.Campaign.Output)
		if err != nil {
			return err
		}
		defer out.Close() //nolint:errcheck

		zap.L().Info("campaign: starting",
			zap.Int("sites", len(sites)),
			zap.Int("concurrency", cfg.Campaign.Concurrency),
			zap.Int("max_retries", cfg.Resolve.MaxRetries),
			zap.String("output", out.Path()),
		)

		c := pipeline.NewCampaign(env.Scraper, env.Oracle, out, pipeline.CampaignOptions{
			MaxRetries:  cfg.Resolve.MaxRetries,
			Concurrency: cfg.Campaign.Concurrency,
			Store:       env.Store,
			Metrics:     env.Metrics,
		})
		results, err := c.Run(ctx, sites)
		formatCampaignSummary(cmd.OutOrStdout(), results)
		if err != nil {
			return eris.Wrap(err, "campaign")
		}
		return nil
	},
}

func init() {
	campaignCmd.Flags().String("output", "", "output CSV path (overrides campaign.output)")
	campaignCmd.Flags().Int("concurrency", 0, "sites processed in parallel (overrides campaign.concurrency)")
	campaignCmd.Flags().Int("limit", 0, "process only the first N sites (0 = all)")
	campaignCmd.Flags().Bool("dry-run", false, "print the seed table as YAML and exit")
	rootCmd.AddCommand(campaignCmd)
}

// applyCampaignFlags copies explicitly set flags over the loaded config.
func applyCampaignFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("output") {
		cfg.Campaign.Output, _ = cmd.Flags().GetString("output")
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Campaign.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
}

// selectSites applies limit to the configured seed table.
func selectSites(sites []model.Site, limit int) []model.Site {
	if limit > 0 && len(sites) > limit {
		return sites[:limit]
	}
	return sites
}

// writeSeedTable prints sites in the same shape as campaign.sites.
func writeSeedTable(w io.Writer, sites []model.Site) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]model.Site{"sites": sites}); err != nil {
		return eris.Wrap(err, "encode seed table")
	}
	return enc.Close()
}

// formatCampaignSummary writes one line per site with its answer count.
func formatCampaignSummary(out io.Writer, results []pipeline.SiteResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SITE\tANSWERED\tVISITED\tITERATIONS\tCOST\tERROR")
	for _, r := range results {
		answered, visited, iterations, cost := "-", 0, 0, 0.0
		if r.Result != nil {
			answered = fmt.Sprintf("%d/%d", r.Result.Ledger.CompletedCount(), len(r.Result.Ledger))
			visited = len(r.Result.Visited)
			iterations = r.Result.Iterations
			cost = r.Result.Usage.Cost
		}
		errText := ""
		if r.Err != nil {
			errText = truncate(r.Err.Error(), 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%.4f\t%s\n", r.Site.URL, answered, visited, iterations, cost, errText)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
