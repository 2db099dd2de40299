package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records which subjects hold at least one live connection.
type Tracker interface {
	Connected(ctx context.Context, subjectID, connID string) error
	Disconnected(ctx context.Context, subjectID, connID string) error
	IsOnline(ctx context.Context, subjectID string) (bool, error)
}

const defaultTTL = 24 * time.Hour

// RedisTracker keeps one set of connection ids per subject. The TTL bounds
// stale entries left behind by a crashed process.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client, ttl: defaultTTL}
}

func key(subjectID string) string {
	return "presence:" + subjectID
}

func (t *RedisTracker) Connected(ctx context.Context, subjectID, connID string) error {
	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, key(subjectID), connID)
	pipe.Expire(ctx, key(subjectID), t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence connect %s: %w", subjectID, err)
	}
	return nil
}

func (t *RedisTracker) Disconnected(ctx context.Context, subjectID, connID string) error {
	if err := t.client.SRem(ctx, key(subjectID), connID).Err(); err != nil {
		return fmt.Errorf("presence disconnect %s: %w", subjectID, err)
	}
	return nil
}

func (t *RedisTracker) IsOnline(ctx context.Context, subjectID string) (bool, error) {
	n, err := t.client.SCard(ctx, key(subjectID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup %s: %w", subjectID, err)
	}
	return n > 0, nil
}

// ConnectionCounter is satisfied by the connection registry.
type ConnectionCounter interface {
	ConnectionsOf(subjectID string) int
}

// LocalTracker answers from the in-process registry when Redis is not configured.
type LocalTracker struct {
	counter ConnectionCounter
}

func NewLocalTracker(c ConnectionCounter) *LocalTracker {
	return &LocalTracker{counter: c}
}

func (t *LocalTracker) Connected(context.Context, string, string) error    { return nil }
func (t *LocalTracker) Disconnected(context.Context, string, string) error { return nil }

func (t *LocalTracker) IsOnline(_ context.Context, subjectID string) (bool, error) {
	return t.counter.ConnectionsOf(subjectID) > 0, nil
}
