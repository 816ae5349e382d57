package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect chunk build history",
	Long:  "Commands for listing and viewing chunk build runs and their attrition.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chunk build runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		}
		if cmd.Flags().Changed("chunk") {
			chunkID, _ := cmd.Flags().GetInt64("chunk")
			filter.ChunkID = &chunkID
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs attrition --

var runsAttritionCmd = &cobra.Command{
	Use:   "attrition <run-id>",
	Short: "Count rejected persons of a run by reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		summary, err := st.AttritionSummary(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs attrition")
		}

		formatAttrition(os.Stdout, summary)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int64("chunk", 0, "filter by chunk id")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsAttritionCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCHUNK\tVENDOR\tSTATUS\tACCEPTED\tREJECTED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t------\t--------\t--------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		accepted, rejected := "-", "-"
		if r.Result != nil {
			accepted = fmt.Sprint(r.Result.Accepted)
			rejected = fmt.Sprint(r.Result.Rejected)
		}

		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.ChunkID,
			r.Vendor,
			r.Status,
			accepted,
			rejected,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatAttrition writes per-reason rejection counts to w, largest first.
func formatAttrition(out io.Writer, summary map[model.Attrition]int) {
	reasons := make([]model.Attrition, 0, len(summary))
	total := 0
	for reason, n := range summary {
		reasons = append(reasons, reason)
		total += n
	}
	slices.SortFunc(reasons, func(a, b model.Attrition) int {
		if c := cmp.Compare(summary[b], summary[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, reason := range reasons {
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", reason, summary[reason])
	}
	_, _ = fmt.Fprintf(w, "Total rejected:\t%d\n", total)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
