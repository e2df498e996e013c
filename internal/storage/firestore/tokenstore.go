package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

const installationsCollection = "installations"

// FirestoreStore implements push.TokenStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

var _ push.TokenStore = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) *FirestoreStore {
	return &FirestoreStore{client: client, logger: logger.With("component", "FirestoreTokenStore")}
}

// channelRecord is the stored document. The token is kept in hex so it reads
// the same in the console as in the logs.
type channelRecord struct {
	Channel   string    `firestore:"channel"`
	Platform  string    `firestore:"platform"`
	Token     string    `firestore:"token,omitempty"`
	Status    string    `firestore:"status"`
	Reason    string    `firestore:"reason,omitempty"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// PutToken overwrites the channel document with an active token.
func (s *FirestoreStore) PutToken(ctx context.Context, owner urn.URN, rec push.TokenRecord) error {
	if rec.Token.IsEmpty() {
		return fmt.Errorf("put token %s: %w", rec.Channel, push.ErrEmptyToken)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	doc := channelRecord{
		Channel:   rec.Channel.String(),
		Platform:  rec.Platform,
		Token:     rec.Token.Hex(),
		Status:    string(push.TokenActive),
		UpdatedAt: updated.UTC(),
	}
	if _, err := s.channelRef(owner, rec.Channel).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to store %s token: %w", rec.Channel, err)
	}
	return nil
}

// RevokeToken drops the token and marks the channel revoked. There is nothing
// to revoke when the document does not exist.
func (s *FirestoreStore) RevokeToken(ctx context.Context, owner urn.URN, channel push.Channel, reason string) error {
	return s.update(ctx, owner, channel, []firestore.Update{
		{Path: "status", Value: string(push.TokenRevoked)},
		{Path: "reason", Value: reason},
		{Path: "token", Value: firestore.Delete},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
}

// MarkUnavailable flags that the OS could not issue a token. The stored
// token, if any, is left in place.
func (s *FirestoreStore) MarkUnavailable(ctx context.Context, owner urn.URN, channel push.Channel, reason string) error {
	return s.update(ctx, owner, channel, []firestore.Update{
		{Path: "status", Value: string(push.TokenUnavailable)},
		{Path: "reason", Value: reason},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
}

func (s *FirestoreStore) update(ctx context.Context, owner urn.URN, channel push.Channel, updates []firestore.Update) error {
	_, err := s.channelRef(owner, channel).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		s.logger.Debug("No stored token to update", "owner", owner.String(), "channel", channel.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update %s token: %w", channel, err)
	}
	return nil
}

// FetchTokens returns every channel record of owner, whatever its status.
func (s *FirestoreStore) FetchTokens(ctx context.Context, owner urn.URN) ([]push.TokenRecord, error) {
	iter := s.channelsCollection(owner).Documents(ctx)
	defer iter.Stop()

	records := make([]push.TokenRecord, 0, len(push.Channels))
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var stored channelRecord
		if err := doc.DataTo(&stored); err != nil {
			s.logger.Warn("Skipping unreadable token document", "doc", doc.Ref.ID, "err", err)
			continue
		}
		channel, err := push.ParseChannel(stored.Channel)
		if err != nil {
			s.logger.Warn("Skipping token document with unknown channel", "doc", doc.Ref.ID, "channel", stored.Channel)
			continue
		}
		var token push.Token
		if stored.Token != "" {
			if token, err = push.ParseHexToken(stored.Token); err != nil {
				s.logger.Warn("Skipping token document with bad token", "doc", doc.Ref.ID, "err", err)
				continue
			}
		}
		records = append(records, push.TokenRecord{
			Channel:   channel,
			Platform:  stored.Platform,
			Token:     token,
			Status:    push.TokenStatus(stored.Status),
			Reason:    stored.Reason,
			UpdatedAt: stored.UpdatedAt,
		})
	}
	return records, nil
}

// channelRef: installations/{owner}/channels/{channel}
func (s *FirestoreStore) channelRef(owner urn.URN, channel push.Channel) *firestore.DocumentRef {
	return s.channelsCollection(owner).Doc(channel.String())
}

func (s *FirestoreStore) channelsCollection(owner urn.URN) *firestore.CollectionRef {
	return s.client.Collection(installationsCollection).Doc(owner.String()).Collection("channels")
}
