package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-push-delivery/internal/platform"
	"github.com/tinywideclouds/go-push-delivery/internal/platform/apns"
	"github.com/tinywideclouds/go-push-delivery/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-delivery/internal/probe"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

type sendFlags struct {
	channels []string
	title    string
	body     string
	data     map[string]string

	apnsKeyFile  string
	apnsKeyID    string
	apnsTeamID   string
	apnsBundleID string
	apnsSandbox  bool
	fcm          bool
}

// SendCommand returns the send command
func SendCommand(opts *Options) *cobra.Command {
	f := &sendFlags{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a test push to the owner's active tokens",
		Long: `Send a test push to every active token of --owner.

APNs is used when --apns-key is given; FCM when --fcm is set, with
credentials from the environment (GOOGLE_APPLICATION_CREDENTIALS).
Tokens the provider rejects are revoked in the store.

Use --channel to limit the push to user_notification or silent_wake.`,
		RunE: runSend(opts, f),
	}

	cmd.Flags().StringSliceVar(&f.channels, "channel", nil, "channels to push on (default all)")
	cmd.Flags().StringVar(&f.title, "title", "pushprobe", "alert title")
	cmd.Flags().StringVar(&f.body, "body", "test notification", "alert body")
	cmd.Flags().StringToStringVar(&f.data, "data", nil, "custom payload keys, key=value")
	cmd.Flags().StringVar(&f.apnsKeyFile, "apns-key", "", "path to the APNs .p8 signing key")
	cmd.Flags().StringVar(&f.apnsKeyID, "apns-key-id", "", "APNs key id")
	cmd.Flags().StringVar(&f.apnsTeamID, "apns-team-id", "", "Apple developer team id")
	cmd.Flags().StringVar(&f.apnsBundleID, "apns-bundle-id", "", "app bundle id, the APNs topic")
	cmd.Flags().BoolVar(&f.apnsSandbox, "development", false, "use the APNs sandbox gateway")
	cmd.Flags().BoolVar(&f.fcm, "fcm", false, "send FCM tokens through Firebase")

	return cmd
}

func runSend(opts *Options, f *sendFlags) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		owner, err := opts.owner()
		if err != nil {
			return err
		}
		channels, err := parseChannels(f.channels)
		if err != nil {
			return err
		}
		senders, err := buildSenders(ctx, opts, f)
		if err != nil {
			return err
		}

		store, closeStore, err := opts.openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		msg := platform.Message{
			EventID: uuid.NewString(),
			Title:   f.title,
			Body:    f.body,
			Data:    f.data,
		}
		results, err := probe.New(store, senders, opts.Logger).Probe(ctx, owner, msg, channels...)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintf(out, "No active tokens for %s\n", owner.String())
			return nil
		}
		failed := 0
		for _, res := range results {
			line := fmt.Sprintf("%-5s %-18s %s revoked:%d", res.Platform, res.Channel.String(), res.Receipt.String(), res.Revoked)
			if res.Err != nil {
				failed++
				line += " error: " + res.Err.Error()
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "event %s\n", msg.EventID)
		if failed > 0 {
			return fmt.Errorf("%d of %d batches failed", failed, len(results))
		}
		return nil
	}
}

func parseChannels(names []string) ([]push.Channel, error) {
	channels := make([]push.Channel, 0, len(names))
	for _, name := range names {
		ch, err := push.ParseChannel(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func buildSenders(ctx context.Context, opts *Options, f *sendFlags) (map[string]platform.Sender, error) {
	senders := make(map[string]platform.Sender)

	if f.apnsKeyFile != "" {
		key, err := os.ReadFile(f.apnsKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read APNs key: %w", err)
		}
		sender, err := apns.NewSender(apns.Config{
			KeyID:        f.apnsKeyID,
			TeamID:       f.apnsTeamID,
			BundleID:     f.apnsBundleID,
			P8KeyContent: string(key),
			Development:  f.apnsSandbox,
		}, opts.Logger)
		if err != nil {
			return nil, err
		}
		senders[push.PlatformAPNs] = sender
	}

	if f.fcm {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: opts.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("firebase app: %w", err)
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase messaging: %w", err)
		}
		senders[push.PlatformFCM] = fcm.NewSender(client, opts.Logger)
	}

	if len(senders) == 0 {
		return nil, fmt.Errorf("no sender configured: pass --apns-key or --fcm")
	}
	return senders, nil
}
