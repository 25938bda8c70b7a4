package repository

import (
	"context"
	"time"

	"github.com/archivist/gateway/internal/models"
	"github.com/archivist/gateway/internal/storage"
)

type ThrottleEventRepository struct {
	db *storage.Postgres
}

func NewThrottleEventRepository(db *storage.Postgres) *ThrottleEventRepository {
	return &ThrottleEventRepository{db: db}
}

// Inserts a batch of events in one statement
func (r *ThrottleEventRepository) CreateBatch(ctx context.Context, events []models.ThrottleEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}

type EventFilter struct {
	Identity string
	Outcome  string
}

// Retrieves events in a time range, newest first
func (r *ThrottleEventRepository) Find(ctx context.Context, filter EventFilter, from, to time.Time, limit, offset int) ([]models.ThrottleEvent, error) {
	var events []models.ThrottleEvent

	q := r.db.DB.WithContext(ctx).
		Where("occurred_at BETWEEN ? AND ?", from, to)
	if filter.Identity != "" {
		q = q.Where("identity = ?", filter.Identity)
	}
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", filter.Outcome)
	}

	err := q.Order("occurred_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error

	return events, err
}

func (r *ThrottleEventRepository) CountByOutcome(ctx context.Context, outcome string, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.ThrottleEvent{}).
		Where("outcome = ? AND occurred_at BETWEEN ? AND ?", outcome, from, to).
		Count(&count).Error

	return count, err
}

type IdentityCount struct {
	Identity string `json:"identity"`
	Count    int64  `json:"count"`
}

// Returns the identities rejected most often
func (r *ThrottleEventRepository) TopIdentities(ctx context.Context, from, to time.Time, limit int) ([]IdentityCount, error) {
	var results []IdentityCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.ThrottleEvent{}).
		Select("identity, COUNT(*) AS count").
		Where("outcome = ? AND occurred_at BETWEEN ? AND ?", models.OutcomeRejected, from, to).
		Group("identity").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

type HourlyCount struct {
	Hour     time.Time `json:"hour"`
	Rejected int64     `json:"rejected"`
	FailOpen int64     `json:"fail_open"`
}

// Returns event counts per hour and outcome
func (r *ThrottleEventRepository) HourlyCounts(ctx context.Context, from, to time.Time) ([]HourlyCount, error) {
	var results []HourlyCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.ThrottleEvent{}).
		Select(`DATE_TRUNC('hour', occurred_at) AS hour,
			COUNT(*) FILTER (WHERE outcome = ?) AS rejected,
			COUNT(*) FILTER (WHERE outcome = ?) AS fail_open`,
			models.OutcomeRejected, models.OutcomeFailOpen).
		Where("occurred_at BETWEEN ? AND ?", from, to).
		Group("hour").
		Order("hour ASC").
		Scan(&results).Error

	return results, err
}

// Deletes events older than the specified time
func (r *ThrottleEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("occurred_at < ?", before).
		Delete(&models.ThrottleEvent{})

	return result.RowsAffected, result.Error
}
