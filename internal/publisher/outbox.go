package publisher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jgoulah/dtumonitor/internal/database"
	"github.com/jgoulah/dtumonitor/pkg/models"
)

// OutboxRetention is how long readings stay in the outbox
const OutboxRetention = 24 * time.Hour

// Target receives readings drained from the outbox
type Target interface {
	Publish(ctx context.Context, r models.Reading) error
}

// Outbox records every reading in the database before publishing it so that
// readings missed while Home Assistant is unreachable can be sent later
type Outbox struct {
	db     *database.DB
	target Target
	logger *zap.Logger
}

// NewOutbox creates an outbox that publishes to target. target may be nil, in
// which case readings are only recorded.
func NewOutbox(db *database.DB, target Target, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{db: db, target: target, logger: logger}
}

// Notify records r, drains the outbox and prunes old rows
func (o *Outbox) Notify(ctx context.Context, r models.Reading) error {
	if err := o.db.InsertReading(r); err != nil {
		return err
	}

	var drainErr error
	if o.target != nil {
		_, drainErr = o.Drain(ctx, 0)
	}

	if n, err := o.db.PruneBefore(r.Timestamp.Add(-OutboxRetention)); err != nil {
		o.logger.Warn("could not prune outbox", zap.Error(err))
	} else if n > 0 {
		o.logger.Debug("pruned outbox", zap.Int64("rows", n))
	}

	return drainErr
}

// Drain publishes unpublished readings oldest first and marks them published.
// A limit of 0 means no limit. It stops at the first failure so ordering is
// kept, and returns how many readings were published.
func (o *Outbox) Drain(ctx context.Context, limit int) (int, error) {
	if o.target == nil {
		return 0, fmt.Errorf("no publishing target configured")
	}

	records, err := o.db.ListUnpublishedReadings()
	if err != nil {
		return 0, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	published := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if err := o.target.Publish(ctx, rec.Reading); err != nil {
			return published, fmt.Errorf("publishing reading from %s: %w", rec.Reading.Timestamp.Format(time.RFC3339), err)
		}
		if err := o.db.MarkPublished(rec.ID); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
