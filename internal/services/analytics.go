package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnalyticsStream is the Redis stream analytics events are appended to
const AnalyticsStream = "analytics:events"

// analyticsStreamMaxLen caps the stream; older entries are trimmed
const analyticsStreamMaxLen = 100000

// AnalyticsEvent is one product analytics event
type AnalyticsEvent struct {
	Name       string                 `json:"name"`
	DistinctID string                 `json:"distinct_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Analytics captures product events. Capture is best effort.
type Analytics interface {
	Capture(ctx context.Context, event AnalyticsEvent) error
}

// RedisAnalytics appends events to a Redis stream for downstream consumers
type RedisAnalytics struct {
	client *redis.Client
}

// NewRedisAnalytics creates a stream-backed analytics client
func NewRedisAnalytics(client *redis.Client) *RedisAnalytics {
	return &RedisAnalytics{client: client}
}

// Capture implements Analytics
func (a *RedisAnalytics) Capture(ctx context.Context, event AnalyticsEvent) error {
	props, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}
	return a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: AnalyticsStream,
		MaxLen: analyticsStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"name":        event.Name,
			"distinct_id": event.DistinctID,
			"properties":  string(props),
			"timestamp":   event.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// NopAnalytics drops every event
type NopAnalytics struct{}

// Capture implements Analytics
func (NopAnalytics) Capture(context.Context, AnalyticsEvent) error { return nil }
