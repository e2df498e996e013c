package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// TokensCommand returns the tokens command
func TokensCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "List the stored token records of an owner",
		Long:  `List every channel record the backend holds for --owner, including revoked and unavailable ones.`,
		RunE:  runTokens(opts),
	}
}

func runTokens(opts *Options) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		owner, err := opts.owner()
		if err != nil {
			return err
		}
		store, closeStore, err := opts.openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		records, err := store.FetchTokens(cmd.Context(), owner)
		if err != nil {
			return fmt.Errorf("fetch tokens: %w", err)
		}
		if len(records) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No token records for %s\n", owner.String())
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHANNEL\tPLATFORM\tSTATUS\tTOKEN\tREASON\tUPDATED")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.Channel.String(), rec.Platform, rec.Status, rec.Token.Redacted(), rec.Reason,
				rec.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	}
}
