package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdempotencyCache remembers which appointment an idempotency key produced,
// so replays skip the database lookup. The database index stays the source
// of truth; entries only ever point at committed appointments.
type IdempotencyCache struct {
	client *redis.Client
	prefix string
}

func NewIdempotencyCache(client *redis.Client) *IdempotencyCache {
	return &IdempotencyCache{client: client, prefix: "idem:booking"}
}

func (c *IdempotencyCache) key(facilityID uuid.UUID, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, facilityID.String(), key)
}

// Lookup returns the appointment id stored for the key, if any.
func (c *IdempotencyCache) Lookup(ctx context.Context, facilityID uuid.UUID, key string) (uuid.UUID, bool, error) {
	val, err := c.client.Get(ctx, c.key(facilityID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("get idempotency key: %w", err)
	}

	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("idempotency entry %q is not an appointment id: %w", val, err)
	}
	return id, true, nil
}

// Remember stores the mapping unless one already exists. The first writer
// wins, matching the unique index behind it.
func (c *IdempotencyCache) Remember(ctx context.Context, facilityID uuid.UUID, key string, appointmentID uuid.UUID, ttl time.Duration) error {
	if _, err := c.client.SetNX(ctx, c.key(facilityID, key), appointmentID.String(), ttl).Result(); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

// Forget drops a mapping if it still points at appointmentID.
func (c *IdempotencyCache) Forget(ctx context.Context, facilityID uuid.UUID, key string, appointmentID uuid.UUID) error {
	_, err := forgetScript.Run(ctx, c.client, []string{c.key(facilityID, key)}, appointmentID.String()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("forget idempotency key: %w", err)
	}
	return nil
}

var forgetScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)
