package client

import (
	"context"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
)

// Client is the remote side of a sync cycle.
type Client interface {
	// Pull returns every record changed after since, or a full snapshot
	// when since is nil.
	Pull(ctx context.Context, since *time.Time) (*models.PullResponse, error)

	// Push submits local changes in one batch and returns per-record
	// acknowledgements.
	Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error)
}
