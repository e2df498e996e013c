// Package probe plays the backend: it addresses a push at the tokens an
// installation submitted and revokes the ones the provider rejects.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-delivery/internal/platform"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Store is the part of push.TokenStore the prober needs.
type Store interface {
	FetchTokens(ctx context.Context, owner urn.URN) ([]push.TokenRecord, error)
	RevokeToken(ctx context.Context, owner urn.URN, channel push.Channel, reason string) error
}

// Result is the outcome for one platform and channel.
type Result struct {
	Platform string
	Channel  push.Channel
	Receipt  platform.Receipt
	Revoked  int
	Err      error
}

type Prober struct {
	store   Store
	senders map[string]platform.Sender
	logger  *slog.Logger
}

// New takes senders keyed by platform name (push.PlatformAPNs,
// push.PlatformFCM). Records for a platform without a sender are skipped.
func New(store Store, senders map[string]platform.Sender, logger *slog.Logger) *Prober {
	return &Prober{
		store:   store,
		senders: senders,
		logger:  logger.With("component", "Prober"),
	}
}

type batchKey struct {
	platform string
	channel  push.Channel
}

// Probe sends msg to every active token of owner on the given channels, or
// on all channels when none are given. Per-batch failures are reported in
// the results; the error is only for a failed fetch.
func (p *Prober) Probe(ctx context.Context, owner urn.URN, msg platform.Message, channels ...push.Channel) ([]Result, error) {
	records, err := p.store.FetchTokens(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("fetch tokens for %s: %w", owner.String(), err)
	}

	wanted := make(map[push.Channel]bool, len(channels))
	for _, ch := range channels {
		wanted[ch] = true
	}

	batches := make(map[batchKey][]push.Token)
	for _, rec := range records {
		if rec.Status != push.TokenActive || rec.Token.IsEmpty() {
			continue
		}
		if len(wanted) > 0 && !wanted[rec.Channel] {
			continue
		}
		key := batchKey{platform: rec.Platform, channel: rec.Channel}
		batches[key] = append(batches[key], rec.Token)
	}

	keys := make([]batchKey, 0, len(batches))
	for k := range batches {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].platform != keys[j].platform {
			return keys[i].platform < keys[j].platform
		}
		return keys[i].channel < keys[j].channel
	})

	results := make([]Result, 0, len(keys))
	for _, key := range keys {
		results = append(results, p.send(ctx, owner, key, batches[key], msg))
	}
	return results, nil
}

func (p *Prober) send(ctx context.Context, owner urn.URN, key batchKey, tokens []push.Token, msg platform.Message) Result {
	res := Result{Platform: key.platform, Channel: key.channel}
	log := p.logger.With("platform", key.platform, "channel", key.channel.String(), "tokens", len(tokens))

	sender, ok := p.senders[key.platform]
	if !ok {
		res.Err = fmt.Errorf("no sender configured for platform %q", key.platform)
		log.Warn("Skipping batch", "err", res.Err)
		return res
	}

	receipt, err := sender.Send(ctx, key.channel, tokens, msg)
	res.Receipt = receipt
	if err != nil {
		res.Err = err
		log.Error("Probe send failed", "err", err)
		return res
	}

	// One record per channel, so any invalid token is the channel's token.
	if len(receipt.Invalid) > 0 {
		reason := fmt.Sprintf("rejected by %s", key.platform)
		if err := p.store.RevokeToken(ctx, owner, key.channel, reason); err != nil {
			res.Err = fmt.Errorf("revoke %s token: %w", key.channel, err)
			log.Error("Failed to revoke rejected token", "err", err)
		} else {
			res.Revoked = len(receipt.Invalid)
		}
	}
	log.Info("Probe sent", "receipt", receipt.String(), "revoked", res.Revoked)
	return res
}
