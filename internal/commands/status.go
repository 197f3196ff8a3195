package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/MrLemur/retcon/pkg/helpers"
	"github.com/spf13/cobra"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <spec.toml>",
		Short: "Show the reconstruction state of every commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			closer, err := setupCommandLogging(cmd, g)
			if err != nil {
				return err
			}
			defer closer.Close()

			store, err := loadStore(args[0])
			if err != nil {
				return err
			}
			writeStatus(cmd.OutOrStdout(), store.Spec())
			return nil
		},
	}
}

func commitState(c models.CommitSpec) string {
	switch c.Last().(type) {
	case models.Complete:
		return "complete"
	case models.Stuck:
		return "stuck"
	case models.Resolved:
		return "resolved"
	case models.CommitCreated:
		return "in progress"
	case nil:
		return "pending"
	default:
		return "unknown"
	}
}

func writeStatus(out io.Writer, spec models.HistorySpec) {
	fmt.Fprintf(out, "Source:  %s\nRemote:  %s\nCleaned: %s\n\n", spec.Source, spec.Remote, spec.Cleaned)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTATE\tCOMMITS\tMESSAGE")
	for i, c := range spec.Commits {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, commitState(c), len(c.CreatedCommits()), helpers.TruncateString(c.Message, 72))
	}
	tw.Flush()

	index, pending := spec.ResumeIndex()
	if !pending {
		fmt.Fprintln(out, "\nAll commits complete.")
		return
	}
	commit := spec.Commits[index]
	if commit.IsStuck() {
		fmt.Fprintf(out, "\nCommit %d is stuck: %s\nRun `retcon resolve --note \"...\"` once the problem is fixed.\n", index+1, commit.StuckSummary())
		return
	}
	if note := commit.ResolutionNote(); note != "" {
		fmt.Fprintf(out, "\nCommit %d was resolved: %s\n", index+1, note)
	}
	fmt.Fprintf(out, "\nNext: commit %d (%s)\n", index+1, commit.Message)
}
