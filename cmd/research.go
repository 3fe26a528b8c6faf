package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marketmind/internal/analysis"
	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/store"
)

var researchCmd = &cobra.Command{
	Use:   "research <company>",
	Short: "Research one company and print the merged record",
	Long:  "Reads every source document for the company from the data directory, merges them into a research record, stores it and prints the record with its market analysis.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			cfg.Collect.DataDir = dir
		}
		if err := cfg.Validate("research"); err != nil {
			return err
		}

		var st store.Store
		if noSave, _ := cmd.Flags().GetBool("no-save"); !noSave {
			s, err := initStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s
		}

		runner, err := newRunner(cfg, st, nil)
		if err != nil {
			return err
		}
		defer runner.Wait()

		sources, err := model.ParseSources(cfg.Aggregate.ExpectedSources)
		if err != nil {
			return eris.Wrap(err, "research")
		}

		rec, err := runner.Research(ctx, args[0], collaborators(cfg.Collect, sources))
		if err != nil {
			if rec == nil {
				return eris.Wrap(err, "research")
			}
			zap.L().Warn("research: record not saved", zap.Error(err))
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

func init() {
	researchCmd.Flags().String("data-dir", "", "directory of per-company source documents (default from config)")
	researchCmd.Flags().Bool("json", false, "print the record and analysis as JSON")
	researchCmd.Flags().Bool("no-save", false, "do not store the finalized record")
	rootCmd.AddCommand(researchCmd)
}

// researchOutput is the JSON shape shared by the CLI and POST /research.
type researchOutput struct {
	Record   *model.CompanyRecord `json:"record"`
	Analysis analysis.Analysis    `json:"analysis"`
}

// formatRecord writes a human-readable summary of rec to out.
func formatRecord(out io.Writer, rec *model.CompanyRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Record:\t%s\n", rec.ID)
	_, _ = fmt.Fprintf(w, "Company:\t%s (%s)\n", rec.CompanyID, rec.CompanyKey)
	_, _ = fmt.Fprintf(w, "Completeness:\t%.0f%%\n", rec.Completeness*100)
	if rec.DeadlineExceeded {
		_, _ = fmt.Fprintf(w, "Deadline:\texceeded\n")
	}
	if len(rec.Missing) > 0 {
		_, _ = fmt.Fprintf(w, "Missing:\t%s\n", joinSources(rec.Missing))
	}
	if len(rec.Failed) > 0 {
		_, _ = fmt.Fprintf(w, "Failed:\t%s\n", joinSources(rec.Failed))
	}
	_ = w.Flush()

	if len(rec.Fields) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tVALUE\tSOURCE\tCONFIDENCE\tAGE")
	_, _ = fmt.Fprintln(w, "-----\t-----\t------\t----------\t---")
	for _, key := range rec.FieldKeys() {
		fv := rec.Fields[key]
		age := humanize.RelTime(fv.FetchedAt, rec.GeneratedAt, "old", "ahead")
		if fv.Stale {
			age += " (stale)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
			key,
			displayValue(fv.Value),
			fv.Source,
			fv.Confidence,
			age,
		)
	}
	_ = w.Flush()

	if len(rec.Articles) > 0 {
		_, _ = fmt.Fprintf(out, "\nArticles: %d\n", len(rec.Articles))
		for _, a := range rec.Articles {
			_, _ = fmt.Fprintf(out, "  - %s\n", truncate(a.Title, 80))
		}
	}
}

// formatAnalysis writes the derived findings to out.
func formatAnalysis(out io.Writer, a analysis.Analysis) {
	section := func(title string, findings []analysis.Finding) {
		if len(findings) == 0 {
			return
		}
		_, _ = fmt.Fprintf(out, "%s:\n", title)
		for _, f := range findings {
			_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", f.Level, f.Type, f.Description)
		}
	}
	section("Market trends", a.MarketTrends)
	section("Opportunities", a.Opportunities)
	section("Risks", a.Risks)

	if len(a.Competitors) > 0 {
		_, _ = fmt.Fprintln(out, "Competitors:")
		for _, c := range a.Competitors {
			_, _ = fmt.Fprintf(out, "  [%s] %s (%s)\n", c.Relevance, c.Name, english.Plural(c.Mentions, "mention", ""))
		}
	}
	if a.DataQuality != "" {
		_, _ = fmt.Fprintf(out, "Data quality: %s\n", a.DataQuality)
	}
}

// displayValue renders numbers with thousands separators.
func displayValue(v model.Value) string {
	if !v.IsNumeric() {
		return truncate(v.Text, 60)
	}
	return humanize.CommafWithDigits(v.Number.InexactFloat64(), 2)
}

func joinSources(srcs []model.Source) string {
	names := make([]string, len(srcs))
	for i, s := range srcs {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
