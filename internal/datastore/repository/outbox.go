package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/nccevidence/evidencedesk/internal/datastore/entities"
	"gorm.io/gorm"
)

// ErrSubmissionNotFound is returned when a queued submission does not exist.
var ErrSubmissionNotFound = errors.New("queued submission not found")

// OutboxRepository persists submissions waiting for background sync.
type OutboxRepository interface {
	Enqueue(ctx context.Context, sub *entities.QueuedSubmission) error
	// List returns queued submissions oldest first, with their files.
	// limit <= 0 returns everything.
	List(ctx context.Context, limit int) ([]entities.QueuedSubmission, error)
	Get(ctx context.Context, id string) (*entities.QueuedSubmission, error)
	Delete(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id, lastError string) error
	Count(ctx context.Context) (int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

// Enqueue stores a submission and its files in one transaction.
func (r *outboxRepository) Enqueue(ctx context.Context, sub *entities.QueuedSubmission) error {
	if sub.ID == "" {
		return fmt.Errorf("failed to enqueue submission: missing ID")
	}
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to enqueue submission: %w", err)
	}
	return nil
}

func (r *outboxRepository) List(ctx context.Context, limit int) ([]entities.QueuedSubmission, error) {
	var subs []entities.QueuedSubmission
	query := r.db.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list queued submissions: %w", err)
	}
	return subs, nil
}

func (r *outboxRepository) Get(ctx context.Context, id string) (*entities.QueuedSubmission, error) {
	var sub entities.QueuedSubmission
	err := r.db.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		First(&sub, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get queued submission %s: %w", id, err)
	}
	return &sub, nil
}

// Delete removes a submission and its files.
func (r *outboxRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", id).Delete(&entities.QueuedFile{}).Error; err != nil {
			return fmt.Errorf("failed to delete queued files: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&entities.QueuedSubmission{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete queued submission %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrSubmissionNotFound
		}
		return nil
	})
}

// RecordFailure increments the attempt counter and stores the last error.
func (r *outboxRepository) RecordFailure(ctx context.Context, id, lastError string) error {
	if len(lastError) > 1000 {
		lastError = lastError[:1000]
	}
	result := r.db.WithContext(ctx).Model(&entities.QueuedSubmission{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + ?", 1),
			"last_error": lastError,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record failure for %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func (r *outboxRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.QueuedSubmission{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count queued submissions: %w", err)
	}
	return count, nil
}
