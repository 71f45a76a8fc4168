package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/entities"
)

// WatermarkLoader returns the current pull watermark, nil before the first
// completed pull. *metadata.Watermark implements it.
type WatermarkLoader interface {
	Load(ctx context.Context) (*time.Time, error)
}

type EntityStatus struct {
	Entity          models.EntityType
	Total           int
	Unsynced        int
	PendingDeletion int
}

type Report struct {
	Watermark  *time.Time
	Entities   []EntityStatus
	Rejections []entities.Rejection
}

// Pending returns the number of local changes not yet acknowledged.
func (r *Report) Pending() int {
	n := 0
	for _, e := range r.Entities {
		n += e.Unsynced + e.PendingDeletion
	}
	return n
}

// Collect reads the sync state of every entity type, in pull order.
func Collect(ctx context.Context, repo entities.Repository, wm WatermarkLoader) (*Report, error) {
	since, err := wm.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}

	r := &Report{Watermark: since}
	for _, t := range models.PullOrder {
		st := EntityStatus{Entity: t}

		if st.Total, err = repo.Count(ctx, t); err != nil {
			return nil, err
		}
		unsynced, err := repo.ListUnsynced(ctx, t)
		if err != nil {
			return nil, err
		}
		st.Unsynced = len(unsynced)

		deleted, err := repo.ListDeletedPending(ctx, t)
		if err != nil {
			return nil, err
		}
		st.PendingDeletion = len(deleted)

		r.Entities = append(r.Entities, st)
	}

	if r.Rejections, err = repo.ListRejections(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Write prints r as aligned plain-text tables.
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	watermark := "never"
	if r.Watermark != nil {
		watermark = r.Watermark.UTC().Format(time.RFC3339Nano)
	}
	fmt.Fprintf(tw, "last pull:\t%s\n", watermark)
	fmt.Fprintf(tw, "pending changes:\t%d\n\n", r.Pending())

	fmt.Fprintln(tw, "ENTITY\tROWS\tUNSYNCED\tDELETING")
	for _, e := range r.Entities {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", e.Entity, e.Total, e.Unsynced, e.PendingDeletion)
	}

	if len(r.Rejections) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "REJECTED\tCLIENT ID\tAT\tERROR")
		for _, rej := range r.Rejections {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				rej.Entity, rej.ClientID, rej.RejectedAt.UTC().Format(time.RFC3339), rej.Error)
		}
	}

	return tw.Flush()
}
