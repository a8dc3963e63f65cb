package subscription

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/AcademyPlans/app/models"
)

// HistoryChannel is the Redis channel carrying committed history records.
const HistoryChannel = "subscription:history"

// RedisPublisher fans history records out over Redis pub/sub for
// notification and audit consumers.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: HistoryChannel}
}

func (p *RedisPublisher) Publish(ctx context.Context, rec *models.SubscriptionHistoryRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, payload).Err()
}

// PublisherFunc adapts a function to HistoryPublisher.
type PublisherFunc func(ctx context.Context, rec *models.SubscriptionHistoryRecord) error

func (f PublisherFunc) Publish(ctx context.Context, rec *models.SubscriptionHistoryRecord) error {
	return f(ctx, rec)
}
