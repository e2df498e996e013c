package push

import (
	"context"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// TokenStatus is the backend's view of a stored token.
type TokenStatus string

const (
	TokenActive      TokenStatus = "active"
	TokenRevoked     TokenStatus = "revoked"
	TokenUnavailable TokenStatus = "unavailable"
)

// Platforms a token can be addressed through.
const (
	PlatformAPNs = "apns"
	PlatformFCM  = "fcm"
)

// TokenRecord is one channel's token as held by the backend.
type TokenRecord struct {
	Channel   Channel     `json:"channel"`
	Platform  string      `json:"platform"`
	Token     Token       `json:"token,omitempty"`
	Status    TokenStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TokenStore persists the tokens of an installation, identified by owner.
type TokenStore interface {
	PutToken(ctx context.Context, owner urn.URN, record TokenRecord) error
	RevokeToken(ctx context.Context, owner urn.URN, channel Channel, reason string) error
	MarkUnavailable(ctx context.Context, owner urn.URN, channel Channel, reason string) error
	FetchTokens(ctx context.Context, owner urn.URN) ([]TokenRecord, error)
}
