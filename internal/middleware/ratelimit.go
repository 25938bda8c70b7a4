package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/archivist/gateway/internal/circuitbreaker"
	"github.com/archivist/gateway/internal/models"
	"github.com/archivist/gateway/internal/ratelimit"
)

const identityKey = "client_identity"

// Admitter decides whether one request from identity may pass.
type Admitter interface {
	Admit(ctx context.Context, identity string) (ratelimit.Decision, error)
	Limit() int
}

// EventRecorder receives throttle events. Record must not block.
type EventRecorder interface {
	Record(event models.ThrottleEvent)
}

// RateLimit admits or rejects requests per client IP. When the counting
// store fails the request is let through without rate-limit headers.
func RateLimit(limiter Admitter, recorder EventRecorder, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("ratelimit")
	openCircuitLog := rate.Sometimes{Interval: 5 * time.Second}

	return func(c *gin.Context) {
		identity := RequestIdentity(c)

		decision, err := limiter.Admit(c.Request.Context(), identity)
		if err != nil && c.Request.Context().Err() != nil {
			// The client is gone; there is nobody to admit.
			logger.Debug("client went away before admission",
				zap.String("identity", identity),
				zap.Error(err))
			c.Abort()
			return
		}
		if err != nil {
			fields := []zap.Field{
				zap.String("identity", identity),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString("request_id")),
				zap.Error(err),
			}
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				openCircuitLog.Do(func() {
					logger.Error("rate limit store circuit open, allowing requests", fields...)
				})
			} else {
				logger.Error("rate limit check failed, allowing request", fields...)
			}

			record(recorder, c, identity, models.ThrottleEvent{
				Outcome: models.OutcomeFailOpen,
				Limit:   limiter.Limit(),
				Error:   err.Error(),
			})
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := decision.RetryAfterSeconds()

			record(recorder, c, identity, models.ThrottleEvent{
				Outcome:    models.OutcomeRejected,
				Count:      decision.Count,
				Limit:      decision.Limit,
				RetryAfter: retryAfter,
			})

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too Many Requests",
				"message":    fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s allowed.", decision.Limit, windowText(decision.Window)),
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// windowText renders a window for the 429 message, "minute" for the
// default 60 s window.
func windowText(window time.Duration) string {
	switch {
	case window == time.Minute:
		return "minute"
	case window == time.Second:
		return "second"
	case window > time.Minute && window%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(window/time.Minute))
	case window > 0:
		return fmt.Sprintf("%d seconds", int(window/time.Second))
	default:
		return "window"
	}
}

// RequestIdentity returns the client identity used for rate limiting,
// resolving and caching it on the context on first use.
func RequestIdentity(c *gin.Context) string {
	if identity := c.GetString(identityKey); identity != "" {
		return identity
	}

	identity := ratelimit.ClientIdentity(c.GetHeader("X-Forwarded-For"), c.ClientIP(), c.Request.RemoteAddr)
	c.Set(identityKey, identity)
	return identity
}

func record(recorder EventRecorder, c *gin.Context, identity string, event models.ThrottleEvent) {
	if recorder == nil {
		return
	}

	event.OccurredAt = time.Now()
	event.Identity = identity
	event.Method = c.Request.Method
	event.Path = c.Request.URL.Path
	event.RequestID = c.GetString("request_id")
	event.UserAgent = c.Request.UserAgent()
	recorder.Record(event)
}
