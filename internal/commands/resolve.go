package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/spf13/cobra"
)

func newResolveCmd(g *globalFlags) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "resolve <spec.toml>",
		Short: "Mark the stuck commit as resolved so execute can resume",
		Long: `Resolve appends a resolved entry to the history of the stuck commit. Run it after
fixing whatever blocked the reconstruction, describing the fix in --note.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(note) == "" {
				return errors.New("--note is required")
			}
			closer, err := setupCommandLogging(cmd, g)
			if err != nil {
				return err
			}
			defer closer.Close()

			store, err := loadStore(args[0])
			if err != nil {
				return err
			}
			spec := store.Spec()
			index, pending := spec.ResumeIndex()
			if !pending || !spec.Commits[index].IsStuck() {
				return errors.New("no stuck commit to resolve")
			}
			if err := store.Append(index, models.Resolved{Note: note}); err != nil {
				return classify(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Commit %d (%s) marked as resolved.\n", index+1, spec.Commits[index].Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "What was changed to unblock the commit")
	return cmd
}
