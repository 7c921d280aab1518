// Package cache holds the Redis fast path in front of the payment store.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"carrental-backend/internal/logger"
)

const webhookKeyPrefix = "carrental:webhook:"

// WebhookDeduplicator drops redelivered gateway events. The payment store
// stays authoritative, so a Redis outage only costs a duplicate no-op.
type WebhookDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewWebhookDeduplicator(client *redis.Client, ttl time.Duration) *WebhookDeduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &WebhookDeduplicator{client: client, ttl: ttl}
}

// Claim reports whether the caller is the first to see eventID.
func (d *WebhookDeduplicator) Claim(ctx context.Context, eventID string) bool {
	ok, err := d.client.SetNX(ctx, webhookKeyPrefix+eventID, "processing", d.ttl).Result()
	if err != nil {
		logger.Warn("Webhook dedup unavailable, processing anyway", "eventID", eventID, "error", err)
		return true
	}
	return ok
}

// Release forgets eventID so a failed delivery can be retried by the gateway.
func (d *WebhookDeduplicator) Release(ctx context.Context, eventID string) {
	if err := d.client.Del(ctx, webhookKeyPrefix+eventID).Err(); err != nil {
		logger.Warn("Failed to release webhook claim", "eventID", eventID, "error", err)
	}
}

// Ping checks the connection at startup.
func Ping(ctx context.Context, client *redis.Client) error {
	logger.ExternalServiceCall("redis", "ping")
	err := client.Ping(ctx).Err()
	logger.ExternalServiceResult("redis", "ping", err)
	return err
}
