package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

// OutboxRepository stores notification and domain events pending delivery.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, event ports.OutboxEvent) error {
	row := outboxFromEvent(event)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("enqueue outbox event %s: %w", event.EventType, err)
	}
	return nil
}

// ClaimUnpublished picks up to limit deliverable rows and stamps them with the
// worker's claim token. SKIP LOCKED keeps concurrent workers off each other's
// batches; expired claims are reclaimed.
func (r *OutboxRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	var models []outboxModel
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Raw(`
			SELECT * FROM notification_outbox
			WHERE published_at IS NULL
			  AND dead_lettered_at IS NULL
			  AND (claim_until IS NULL OR claim_until < ?)
			ORDER BY created_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED`, now, limit).Scan(&models).Error
		if err != nil {
			return fmt.Errorf("select unpublished: %w", err)
		}
		if len(models) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.OutboxID)
		}
		err = tx.Model(&outboxModel{}).
			Where("outbox_id IN ?", ids).
			Updates(map[string]any{
				"claim_token": claimToken,
				"claim_until": claimUntil.UTC(),
			}).Error
		if err != nil {
			return fmt.Errorf("stamp claims: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	records := make([]ports.OutboxRecord, 0, len(models))
	for _, m := range models {
		records = append(records, outboxToRecord(m))
	}
	return records, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&outboxModel{}).
		Where("outbox_id = ? AND claim_token = ?", outboxID, claimToken).
		Updates(map[string]any{
			"published_at": at.UTC(),
			"claim_token":  nil,
			"claim_until":  nil,
		})
	if res.Error != nil {
		return fmt.Errorf("mark published: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("outbox row %s not held by claim", outboxID)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&outboxModel{}).
		Where("outbox_id = ? AND claim_token = ?", outboxID, claimToken).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_error":    errMsg,
			"last_error_at": at.UTC(),
			"claim_token":   nil,
			"claim_until":   nil,
		})
	if res.Error != nil {
		return fmt.Errorf("mark failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("outbox row %s not held by claim", outboxID)
	}
	return nil
}

func (r *OutboxRepository) MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&outboxModel{}).
		Where("outbox_id = ? AND claim_token = ?", outboxID, claimToken).
		Updates(map[string]any{
			"retry_count":      gorm.Expr("retry_count + 1"),
			"last_error":       errMsg,
			"last_error_at":    at.UTC(),
			"dead_lettered_at": at.UTC(),
			"claim_token":      nil,
			"claim_until":      nil,
		})
	if res.Error != nil {
		return fmt.Errorf("mark dead lettered: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("outbox row %s not held by claim", outboxID)
	}
	return nil
}
