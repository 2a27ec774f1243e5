package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jholhewres/archivebot/pkg/archivebot/journal"
)

// newJournalCmd creates the `archivebot journal` command group.
func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the outcome journal",
		Long: `Read the SQLite journal of runs and reply cycles.

Examples:
  archivebot journal stats
  archivebot journal stats --since 7d
  archivebot journal recent --limit 50`,
	}
	cmd.AddCommand(newJournalStatsCmd(), newJournalRecentCmd())
	return cmd
}

func openJournal(cmd *cobra.Command) (*journal.Store, error) {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return nil, fmt.Errorf("no journal at %s: %w", cfg.Journal.Path, err)
	}
	return journal.Open(cfg.Journal.Path, nil)
}

func newJournalStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize runs and cycles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, _ := cmd.Flags().GetString("since")
			window, err := parseSince(raw)
			if err != nil {
				return err
			}

			store, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Stats(cmd.Context(), time.Now().Add(-window))
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().String("since", "24h", "time window (e.g. 90m, 24h, 7d)")
	return cmd
}

func newJournalRecentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the latest cycles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			store, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			cycles, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tCHAT\tUNREAD\tOUTCOME\tREASON\tTOOK")
			for _, c := range cycles {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
					humanize.Time(c.StartedAt), c.Chat, c.Unread, c.Outcome, c.Reason, c.Duration)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "number of cycles to show")
	return cmd
}

// parseSince accepts Go durations plus a whole-day suffix ("7d").
func parseSince(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid --since %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid --since %q", s)
	}
	return d, nil
}

func printStats(w io.Writer, st journal.Stats) {
	fmt.Fprintf(w, "Since:       %s (%s)\n", st.Since.Format(time.RFC3339), humanize.Time(st.Since))
	fmt.Fprintf(w, "Runs:        %s\n", humanize.Comma(int64(st.Runs)))
	fmt.Fprintf(w, "Scans:       %s\n", humanize.Comma(int64(st.Scans)))
	fmt.Fprintf(w, "Cycles:      %s (replied %d, skipped %d, failed %d)\n",
		humanize.Comma(int64(st.Cycles)),
		st.ByOutcome["replied"], st.ByOutcome["skipped"], st.ByOutcome["failed"])
	if len(st.ByReason) > 0 {
		fmt.Fprintf(w, "Reasons:     %s\n", formatCounts(st.ByReason))
	}
	fmt.Fprintf(w, "Recoveries:  %s\n", humanize.Comma(int64(st.Recoveries)))
	if st.Cycles > 0 {
		fmt.Fprintf(w, "Avg cycle:   %s\n", st.AvgCycle.Round(100*time.Millisecond))
		fmt.Fprintf(w, "Last cycle:  %s\n", humanize.Time(st.LastCycleAt))
	}
}

// formatCounts renders counts largest first, ties by name.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}
