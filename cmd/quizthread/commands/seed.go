package commands

import (
	"encoding/json"
	"fmt"

	"quizthread/internal/seed"

	"github.com/spf13/cobra"
)

// NewSeedCommand writes a generated conversation into a thread.
func NewSeedCommand() *cobra.Command {
	var opts seed.Options
	cmd := &cobra.Command{
		Use:   "seed <threadKey>",
		Short: "Fill a thread with a generated conversation (development only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ReportChance < 0 || opts.ReportChance > 100 {
				return fmt.Errorf("--report-chance must be between 0 and 100")
			}
			rt, stop, err := startRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			res, err := seed.NewSeeder(rt.Comments, opts).Conversation(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("seed %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVar(&opts.Roots, "roots", 5, "number of top-level comments")
	cmd.Flags().IntVar(&opts.MaxReplies, "max-replies", 3, "maximum replies per top-level comment")
	cmd.Flags().IntVar(&opts.Voters, "voters", 4, "number of distinct voting users")
	cmd.Flags().IntVar(&opts.ReportChance, "report-chance", 10, "percentage of comments that receive a report")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed; 0 picks one")
	return cmd
}
