// Package publish fans session output out to Redis.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trade_sim/internal/domain"

	"github.com/redis/go-redis/v9"
)

// latestTTL bounds how long the latest estimate/metrics keys outlive a session.
const latestTTL = time.Hour

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// EstimateMessage is the pub/sub payload.
type EstimateMessage struct {
	SessionID string               `json:"session_id"`
	Symbol    string               `json:"symbol"`
	Estimate  *domain.CostEstimate `json:"estimate,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// RedisPublisher publishes estimates on a channel and keeps the latest
// estimate and metrics of each session under plain keys.
//
// Key schema:
//
//	trade_sim:{session}:estimate - JSON EstimateMessage
//	trade_sim:{session}:metrics  - JSON MetricsSnapshot
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher connects and pings. It returns an error if Redis is unreachable.
func NewRedisPublisher(ctx context.Context, cfg ClientConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisPublisher{rdb: rdb, channel: cfg.Channel}, nil
}

func estimateKey(sessionID string) string { return "trade_sim:" + sessionID + ":estimate" }
func metricsKey(sessionID string) string  { return "trade_sim:" + sessionID + ":metrics" }

// PublishEstimate publishes msg and stores it as the session's latest estimate.
func (p *RedisPublisher) PublishEstimate(ctx context.Context, msg EstimateMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: marshal estimate: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Publish(ctx, p.channel, payload)
	pipe.Set(ctx, estimateKey(msg.SessionID), payload, latestTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", p.channel, err)
	}
	return nil
}

// StoreMetrics saves the session's latest metrics snapshot.
func (p *RedisPublisher) StoreMetrics(ctx context.Context, sessionID string, m domain.MetricsSnapshot) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal metrics: %w", err)
	}
	if err := p.rdb.Set(ctx, metricsKey(sessionID), payload, latestTTL).Err(); err != nil {
		return fmt.Errorf("redis: set metrics: %w", err)
	}
	return nil
}

// LatestEstimate reads the latest estimate stored for a session.
func (p *RedisPublisher) LatestEstimate(ctx context.Context, sessionID string) (EstimateMessage, bool, error) {
	var msg EstimateMessage
	raw, err := p.rdb.Get(ctx, estimateKey(sessionID)).Bytes()
	if err == redis.Nil {
		return msg, false, nil
	}
	if err != nil {
		return msg, false, fmt.Errorf("redis: get estimate: %w", err)
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, false, fmt.Errorf("redis: decode estimate: %w", err)
	}
	return msg, true, nil
}

// Subscribe returns published payloads until ctx is cancelled; the channel is
// closed at that point.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := p.rdb.Subscribe(ctx, p.channel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", p.channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
