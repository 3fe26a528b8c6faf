package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/marketmind/internal/aggregate"
	"github.com/sells-group/marketmind/internal/analysis"
	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/monitoring"
	"github.com/sells-group/marketmind/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect stored research records",
	Long:  "Commands for listing, viewing, and summarizing finalized research records.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("records")
	},
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List research records, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		company, _ := cmd.Flags().GetString("company")
		minComplete, _ := cmd.Flags().GetFloat64("min-completeness")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RecordFilter{MinCompleteness: minComplete, Limit: limit}
		if company != "" {
			key, err := aggregate.CompanyKey(company)
			if err != nil {
				return eris.Wrap(err, "records list")
			}
			filter.CompanyKey = key
		}

		recs, err := st.ListRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records list")
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatRecordList(os.Stdout, recs, time.Now())
		return nil
	},
}

// -- records show --

var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show a stored record with its analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetRecord(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "records show")
		}

		report := analysis.Analyze(rec)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(researchOutput{Record: rec, Analysis: report})
		}

		formatRecord(os.Stdout, rec)
		fmt.Fprintln(os.Stdout)
		formatAnalysis(os.Stdout, report)
		return nil
	},
}

// -- records stats --

var recordsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-source outcome counts across stored records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		history, err := st.SourceHistory(ctx)
		if err != nil {
			return eris.Wrap(err, "records stats")
		}
		formatSourceHistory(os.Stdout, history)
		return nil
	},
}

// -- records health --

var recordsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Evaluate source health over recent records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mc := cfg.Monitoring
		if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
			mc.LookbackWindowHours = int(since.Hours())
		}

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, mc.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "records health")
		}
		alerter := monitoring.NewAlerter(mc)
		alerts := alerter.Evaluate(snap)
		formatHealth(os.Stdout, snap, alerts)

		if notify, _ := cmd.Flags().GetBool("notify"); notify {
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(os.Stderr, "%s sent.\n", english.Plural(sent, "alert", ""))
		}
		return nil
	},
}

func init() {
	recordsListCmd.Flags().String("company", "", "filter by company name")
	recordsListCmd.Flags().Float64("min-completeness", 0, "only records at or above this completeness (0-1)")
	recordsListCmd.Flags().Int("limit", 50, "max number of records to display")

	recordsShowCmd.Flags().Bool("json", false, "print the record and analysis as JSON")

	recordsHealthCmd.Flags().Duration("since", 0, "lookback window (default monitoring.lookback_window_hours)")
	recordsHealthCmd.Flags().Bool("notify", false, "send triggered alerts to monitoring.webhook_url")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsStatsCmd)
	recordsCmd.AddCommand(recordsHealthCmd)
	rootCmd.AddCommand(recordsCmd)
}

// formatRecordList writes a tabular list of record summaries to out.
func formatRecordList(out io.Writer, recs []store.RecordSummary, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tCOMPLETE\tMISSING\tFAILED\tFINALIZED")
	_, _ = fmt.Fprintln(w, "--\t-------\t--------\t-------\t------\t---------")

	for _, r := range recs {
		complete := fmt.Sprintf("%.0f%%", r.Completeness*100)
		if r.DeadlineExceeded {
			complete += "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncate(r.CompanyID, 30),
			complete,
			joinSources(r.Missing),
			joinSources(r.Failed),
			humanize.RelTime(r.FinalizedAt, now, "ago", "from now"),
		)
	}
	_ = w.Flush()
}

// formatSourceHistory writes per-source status counts to out.
func formatSourceHistory(out io.Writer, history map[model.Source]map[model.Status]int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSUCCESS\tPARTIAL\tFAILURE\tSUCCESS RATE")
	_, _ = fmt.Fprintln(w, "------\t-------\t-------\t-------\t------------")

	for _, src := range slices.Sorted(maps.Keys(history)) {
		counts := history[src]
		ok := counts[model.StatusSuccess]
		partial := counts[model.StatusPartialFailure]
		failed := counts[model.StatusFailure]
		rate := "-"
		if total := ok + partial + failed; total > 0 {
			rate = fmt.Sprintf("%.0f%%", float64(ok)/float64(total)*100)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			src,
			humanize.Comma(int64(ok)),
			humanize.Comma(int64(partial)),
			humanize.Comma(int64(failed)),
			rate,
		)
	}
	_ = w.Flush()
}

// formatHealth writes a monitoring snapshot and its alerts to out.
func formatHealth(out io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Records:\t%s\n", humanize.Comma(int64(snap.Records)))
	_, _ = fmt.Fprintf(w, "Avg completeness:\t%.0f%%\n", snap.AvgCompleteness*100)
	_, _ = fmt.Fprintf(w, "Deadline exceeded:\t%d\n", snap.DeadlineExceeded)
	_ = w.Flush()

	if len(snap.Sources) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SOURCE\tFAILED\tMISSING\tUNAVAILABLE")
		for _, src := range slices.Sorted(maps.Keys(snap.Sources)) {
			h := snap.Sources[src]
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.0f%%\n", src, h.Failed, h.Missing, h.UnavailableRate*100)
		}
		_ = w.Flush()
	}

	_, _ = fmt.Fprintln(out)
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
