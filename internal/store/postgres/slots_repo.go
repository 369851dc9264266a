package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/store"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
	pgSerialization      = "40001"
	pgDeadlock           = "40P01"
	pgLockNotAvailable   = "55P03"

	overlapConstraint = "time_slots_no_overlap"
)

type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialInterval: 50 * time.Millisecond, MaxInterval: 500 * time.Millisecond}
}

type SlotRepo struct {
	db    *bun.DB
	retry RetryConfig
}

type SlotRepoOption func(*SlotRepo)

func WithRetry(cfg RetryConfig) SlotRepoOption {
	return func(r *SlotRepo) {
		if cfg.MaxAttempts > 0 {
			r.retry = cfg
		}
	}
}

func NewSlotRepo(db *bun.DB, opts ...SlotRepoOption) *SlotRepo {
	r := &SlotRepo{db: db, retry: defaultRetryConfig()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type slotTx struct {
	tx bun.Tx
}

func (r *SlotRepo) InOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx store.SlotTx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retry.InitialInterval
	b.MaxInterval = r.retry.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := lockOwnerSlots(ctx, tx, ownerID); err != nil {
				return err
			}
			return fn(ctx, slotTx{tx: tx})
		})
		if err == nil {
			return struct{}{}, nil
		}
		if isTransient(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(mapError(err))
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.retry.MaxAttempts))
	if err != nil && isTransient(err) {
		return fmt.Errorf("owner transaction retries exhausted: %w", err)
	}
	return err
}

func lockOwnerSlots(ctx context.Context, tx bun.Tx, ownerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", ownerID).Exec(ctx)
	return err
}

func (r *SlotRepo) Get(ctx context.Context, id uuid.UUID) (domain.Slot, error) {
	var s domain.Slot
	err := r.db.NewSelect().Model(&s).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return domain.Slot{}, mapError(err)
	}
	return s, nil
}

func (r *SlotRepo) List(ctx context.Context, ownerID string, filter store.ListFilter) ([]domain.Slot, error) {
	var rows []domain.Slot
	q := r.db.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID)
	if !filter.From.IsZero() {
		q = q.Where("start_time >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("start_time < ?", filter.To)
	}
	if !filter.StartAfter.IsZero() {
		q = q.Where("start_time > ?", filter.StartAfter)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Weekday != nil {
		tz := filter.Timezone
		if tz == "" {
			tz = "UTC"
		}
		// ISODOW is 1=Mon..7=Sun.
		q = q.Where("EXTRACT(ISODOW FROM start_time AT TIME ZONE ?)::int - 1 = ?", tz, int(*filter.Weekday))
	}
	err := q.OrderExpr("start_time ASC, id ASC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SlotRepo) CountByStatus(ctx context.Context, ownerID string) (map[domain.SlotStatus]int, error) {
	var rows []struct {
		Status domain.SlotStatus `bun:"status"`
		N      int               `bun:"n"`
	}
	err := r.db.NewSelect().
		Model((*domain.Slot)(nil)).
		Column("status").
		ColumnExpr("count(*) AS n").
		Where("owner_id = ?", ownerID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.SlotStatus]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

func (r *SlotRepo) CountStartingAfter(ctx context.Context, ownerID string, after time.Time) (int, error) {
	return r.db.NewSelect().
		Model((*domain.Slot)(nil)).
		Where("owner_id = ?", ownerID).
		Where("start_time > ?", after).
		Count(ctx)
}

func (r *SlotRepo) RecentlyCreated(ctx context.Context, ownerID string, limit int) ([]domain.Slot, error) {
	var rows []domain.Slot
	err := r.db.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID).
		OrderExpr("created_at DESC, id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t slotTx) GetSlot(ctx context.Context, id uuid.UUID) (domain.Slot, error) {
	var s domain.Slot
	err := t.tx.NewSelect().
		Model(&s).
		Where("id = ?", id).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Slot{}, mapError(err)
	}
	return s, nil
}

func (t slotTx) ListOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID uuid.UUID) ([]domain.Slot, error) {
	var rows []domain.Slot
	q := t.tx.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID).
		Where("start_time < ?", end).
		Where("end_time > ?", start)
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.OrderExpr("start_time ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t slotTx) InsertSlots(ctx context.Context, slots []domain.Slot) ([]domain.Slot, error) {
	if len(slots) == 0 {
		return nil, nil
	}
	rows := make([]domain.Slot, len(slots))
	copy(rows, slots)
	if _, err := t.tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (t slotTx) UpdateSlot(ctx context.Context, slot domain.Slot, expected domain.SlotStatus) (domain.Slot, error) {
	m := slot
	res, err := t.tx.NewUpdate().
		Model(&m).
		Column("start_time", "end_time", "timezone", "duration_minutes", "title", "description", "status", "updated_at").
		WherePK().
		Where("owner_id = ?", slot.OwnerID).
		Where("status = ?", expected).
		Exec(ctx)
	if err != nil {
		return domain.Slot{}, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Slot{}, err
	}
	if affected == 0 {
		return domain.Slot{}, store.ErrStatusChanged
	}
	return m, nil
}

func (t slotTx) DeleteSlot(ctx context.Context, ownerID string, id uuid.UUID) error {
	res, err := t.tx.NewDelete().
		Model((*domain.Slot)(nil)).
		Where("owner_id = ?", ownerID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t slotTx) AppendEvents(ctx context.Context, events []domain.SlotEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]domain.SlotEvent, len(events))
	copy(rows, events)
	_, err := t.tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

// mapError translates driver errors into store sentinels. Errors that are
// already sentinels pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == overlapConstraint:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		case pgErr.Code == pgUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.Message)
		}
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgSerialization, pgDeadlock, pgLockNotAvailable:
		return true
	}
	return false
}
