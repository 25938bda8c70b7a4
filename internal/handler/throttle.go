package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archivist/gateway/internal/models"
	"github.com/archivist/gateway/internal/service"
)

const defaultRetentionDays = 30

type ThrottleStats interface {
	Summary(ctx context.Context, from, to time.Time) (*service.ThrottleSummary, error)
	Events(ctx context.Context, q service.EventQuery) ([]models.ThrottleEvent, error)
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

type ThrottleHandler struct {
	service ThrottleStats
}

func NewThrottleHandler(service ThrottleStats) *ThrottleHandler {
	return &ThrottleHandler{service: service}
}

// Handles GET /admin/throttle/summary
func (h *ThrottleHandler) Summary(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/throttle/events
func (h *ThrottleHandler) Events(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	events, err := h.service.Events(c.Request.Context(), service.EventQuery{
		From:     from,
		To:       to,
		Identity: c.Query("identity"),
		Outcome:  c.Query("outcome"),
		Limit:    limit,
		Offset:   offset,
	})
	if errors.Is(err, service.ErrInvalidOutcome) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}

// Handles DELETE /admin/throttle/events?before_days=N
func (h *ThrottleHandler) Cleanup(c *gin.Context) {
	days := defaultRetentionDays
	if daysStr := c.Query("before_days"); daysStr != "" {
		d, err := strconv.Atoi(daysStr)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before_days must be a positive integer"})
			return
		}
		days = d
	}

	deleted, err := h.service.Cleanup(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted":     deleted,
		"before_days": days,
	})
}

// Parses 'from' and 'to' query parameters, RFC3339 or Unix seconds.
// Defaults to the last 24 hours.
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseTimestamp(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseTimestamp(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("'from' must be before 'to'")
	}
	return from, to, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("invalid timestamp: " + s)
	}
	return time.Unix(ts, 0), nil
}
