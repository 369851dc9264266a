package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"slotwise/backend/internal/domain"
)

type OutboxRepo struct {
	db  *bun.DB
	now func() time.Time
}

func NewOutboxRepo(db *bun.DB) *OutboxRepo {
	return &OutboxRepo{db: db, now: time.Now}
}

// PublishBatch locks up to limit unpublished events, oldest first, and hands
// them to fn. Rows are marked published only if fn succeeds; other workers
// skip the locked rows.
func (r *OutboxRepo) PublishBatch(ctx context.Context, limit int, fn func(ctx context.Context, events []domain.SlotEvent) error) (int, error) {
	var published int
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var events []domain.SlotEvent
		err := tx.NewSelect().
			Model(&events).
			Where("published_at IS NULL").
			OrderExpr("id ASC").
			Limit(limit).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		if err := fn(ctx, events); err != nil {
			return err
		}

		ids := make([]int64, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		_, err = tx.NewUpdate().
			Model((*domain.SlotEvent)(nil)).
			Set("published_at = ?", r.now().UTC()).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return err
		}
		published = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}
