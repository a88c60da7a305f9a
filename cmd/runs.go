package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run history",
	Long:  "Commands for listing, viewing, and summarizing site runs.",
}

// openHistory validates the config and opens the store for read commands.
func openHistory(cmd *cobra.Command) (store.Store, error) {
	if err := cfg.Validate("history"); err != nil {
		return nil, err
	}
	st, err := initStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("run history is disabled (store.driver is none)")
	}
	return st, nil
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List site runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		site, _ := cmd.Flags().GetString("site")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(cmd.Context(), store.RunFilter{
			Status:  model.RunStatus(status),
			SiteURL: site,
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

// runDetail is the JSON shape printed by runs show.
type runDetail struct {
	*model.Run
	Steps []model.Step `json:"steps"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its resolver trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		steps, err := st.ListSteps(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "runs show: steps")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{Run: run, Steps: steps})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(cmd.Context(), store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		since, _ := cmd.Flags().GetDuration("since")
		stats := computeRunStats(runs, since, time.Now())
		formatRunStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, seeding, resolving, complete, failed)")
	runsListCmd.Flags().String("site", "", "filter by seed site URL")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (0 = all runs)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total       int
	Complete    int
	Failed      int
	Other       int
	Answered    int
	Questions   int
	CostUSD     float64
	AvgDurSecs  float64
	AvgVisited  float64
	FullySolved int
}

// computeRunStats aggregates runs created within since of now. A zero
// since includes every run.
func computeRunStats(runs []model.Run, since time.Duration, now time.Time) runStats {
	var s runStats
	var totalDur time.Duration
	var visited, finished int

	for _, r := range runs {
		if since > 0 && r.CreatedAt.Before(now.Add(-since)) {
			continue
		}
		s.Total++
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Other++
		}
		if r.Result != nil {
			finished++
			s.Answered += r.Result.Completed
			s.Questions += r.Result.Total
			s.CostUSD += r.Result.TokenUsage.Cost
			visited += len(r.Result.Visited)
			if r.Result.Total > 0 && r.Result.Completed == r.Result.Total {
				s.FullySolved++
			}
		}
	}

	if s.Complete > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(s.Complete)
	}
	if finished > 0 {
		s.AvgVisited = float64(visited) / float64(finished)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSITE\tSTATUS\tANSWERED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		answered := "-"
		if r.Result != nil {
			answered = fmt.Sprintf("%d/%d", r.Result.Completed, r.Result.Total)
		}

		site := r.Site.URL
		if len(site) > 40 {
			site = site[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			site,
			r.Status,
			answered,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Other:\t%d\n", s.Other)
	if s.Questions > 0 {
		_, _ = fmt.Fprintf(w, "Questions answered:\t%d/%d (%.0f%%)\n", s.Answered, s.Questions, 100*float64(s.Answered)/float64(s.Questions))
		_, _ = fmt.Fprintf(w, "Fully solved sites:\t%d\n", s.FullySolved)
		_, _ = fmt.Fprintf(w, "Avg pages visited:\t%.1f\n", s.AvgVisited)
	}
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_, _ = fmt.Fprintf(w, "Estimated cost:\t$%.4f\n", s.CostUSD)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
