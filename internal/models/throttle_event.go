package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OutcomeRejected = "rejected"
	OutcomeFailOpen = "fail_open"
)

// A request that was throttled, or admitted without a limit check because
// the counting store was unavailable
type ThrottleEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	OccurredAt time.Time `gorm:"index;not null" json:"occurred_at"`
	Identity   string    `gorm:"index;not null" json:"identity"`
	Outcome    string    `gorm:"index;not null" json:"outcome"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Count      int64     `json:"count,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	RetryAfter int       `json:"retry_after,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func (e *ThrottleEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (ThrottleEvent) TableName() string {
	return "throttle_events"
}
