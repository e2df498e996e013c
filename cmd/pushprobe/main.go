// Command pushprobe plays the backend for a single installation: it lists
// the tokens the push agent forwarded and sends test pushes to them.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-push-delivery/cmd/pushprobe/commands"
)

func main() {
	opts := &commands.Options{}

	rootCmd := &cobra.Command{
		Use:   "pushprobe",
		Short: "Inspect and exercise push tokens of an installation",
		Long: `pushprobe reads the tokens a push agent forwarded to the backend
and sends test pushes through APNs or FCM.

Available commands:
  tokens    - List the stored token records of an owner
  send      - Send a test push to the owner's active tokens`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.ProjectID, "project", os.Getenv("PROJECT_ID"), "Google Cloud project holding the token store")
	rootCmd.PersistentFlags().StringVar(&opts.Owner, "owner", os.Getenv("OWNER_URN"), "installation owner URN")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging to stderr")

	rootCmd.AddCommand(commands.TokensCommand(opts))
	rootCmd.AddCommand(commands.SendCommand(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
