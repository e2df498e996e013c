// Package commands provides the pushprobe subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	fsStore "github.com/tinywideclouds/go-push-delivery/internal/storage/firestore"
)

// Options are the flags shared by every subcommand.
type Options struct {
	ProjectID string
	Owner     string
	Verbose   bool
	Logger    *slog.Logger
}

func (o *Options) owner() (owner urn.URN, err error) {
	if o.Owner == "" {
		return owner, errors.New("--owner is required")
	}
	owner, err = urn.Parse(o.Owner)
	if err != nil {
		return owner, fmt.Errorf("invalid --owner: %w", err)
	}
	return owner, nil
}

// openStore returns the token store and a func closing its client.
func (o *Options) openStore(ctx context.Context) (*fsStore.FirestoreStore, func(), error) {
	if o.ProjectID == "" {
		return nil, nil, errors.New("--project is required")
	}
	client, err := firestore.NewClient(ctx, o.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("firestore client: %w", err)
	}
	return fsStore.NewFirestoreStore(client, o.Logger), func() { _ = client.Close() }, nil
}
