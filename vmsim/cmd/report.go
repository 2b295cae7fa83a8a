package cmd

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/mem/trace"
)

var reportCmd = &cobra.Command{
	Use:   "report <trace.sqlite3>",
	Short: "Summarize a trace database recorded with run --trace-db.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}

		defer func() {
			if err := reader.Close(); err != nil {
				logger.WithError(err).Error("closing trace database")
			}
		}()

		summary, err := trace.Summarize(cmd.Context(), reader)
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		return writeSummary(cmd.OutOrStdout(), summary)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func writeSummary(out io.Writer, s trace.Summary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	writeCounts(w, "fault", s.Faults)
	writeCounts(w, "frame", s.Frames)
	writeCounts(w, "", s.Lifecycle)

	return w.Flush()
}

func writeCounts(w io.Writer, prefix string, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		label := name
		if prefix != "" {
			label = prefix + " " + name
		}

		fmt.Fprintf(w, "%s\t%d\n", label, counts[name])
	}
}
