package service

import (
	"context"
	"errors"
	"time"

	"github.com/archivist/gateway/internal/models"
	"github.com/archivist/gateway/internal/repository"
)

var ErrInvalidOutcome = errors.New("outcome must be rejected or fail_open")

type ThrottleEventStore interface {
	Find(ctx context.Context, filter repository.EventFilter, from, to time.Time, limit, offset int) ([]models.ThrottleEvent, error)
	CountByOutcome(ctx context.Context, outcome string, from, to time.Time) (int64, error)
	TopIdentities(ctx context.Context, from, to time.Time, limit int) ([]repository.IdentityCount, error)
	HourlyCounts(ctx context.Context, from, to time.Time) ([]repository.HourlyCount, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type ThrottleStatsService struct {
	repository ThrottleEventStore
	now        func() time.Time
}

func NewThrottleStatsService(repo ThrottleEventStore) *ThrottleStatsService {
	return &ThrottleStatsService{
		repository: repo,
		now:        time.Now,
	}
}

type ThrottleSummary struct {
	From          time.Time                  `json:"from"`
	To            time.Time                  `json:"to"`
	Rejected      int64                      `json:"rejected"`
	FailOpen      int64                      `json:"fail_open"`
	TopIdentities []repository.IdentityCount `json:"top_identities"`
	Hourly        []repository.HourlyCount   `json:"hourly"`
}

// Aggregates throttle events for a time range
func (s *ThrottleStatsService) Summary(ctx context.Context, from, to time.Time) (*ThrottleSummary, error) {
	summary := &ThrottleSummary{
		From:          from,
		To:            to,
		TopIdentities: []repository.IdentityCount{},
		Hourly:        []repository.HourlyCount{},
	}

	rejected, err := s.repository.CountByOutcome(ctx, models.OutcomeRejected, from, to)
	if err != nil {
		return nil, err
	}
	summary.Rejected = rejected

	failOpen, err := s.repository.CountByOutcome(ctx, models.OutcomeFailOpen, from, to)
	if err != nil {
		return nil, err
	}
	summary.FailOpen = failOpen

	if rejected+failOpen == 0 {
		return summary, nil
	}

	top, err := s.repository.TopIdentities(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	if top != nil {
		summary.TopIdentities = top
	}

	hourly, err := s.repository.HourlyCounts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if hourly != nil {
		summary.Hourly = hourly
	}

	return summary, nil
}

type EventQuery struct {
	From     time.Time
	To       time.Time
	Identity string
	Outcome  string
	Limit    int
	Offset   int
}

// Lists events with pagination, filtered by identity or outcome
func (s *ThrottleStatsService) Events(ctx context.Context, q EventQuery) ([]models.ThrottleEvent, error) {
	if q.Outcome != "" && q.Outcome != models.OutcomeRejected && q.Outcome != models.OutcomeFailOpen {
		return nil, ErrInvalidOutcome
	}

	filter := repository.EventFilter{Identity: q.Identity, Outcome: q.Outcome}
	events, err := s.repository.Find(ctx, filter, q.From, q.To, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}

	if events == nil {
		events = []models.ThrottleEvent{}
	}
	return events, nil
}

// Deletes events older than the retention period
func (s *ThrottleStatsService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("retention must be at least one day")
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	return s.repository.DeleteOlderThan(ctx, cutoff)
}
