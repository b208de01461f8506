package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/robertarktes/group-seat-bookings/internal/idempotency"
)

const pendingMarker = "pending"

// Idempotency stores replayable responses under idemp:<key>.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

func (i *Idempotency) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if string(val) == pendingMarker {
		return nil, idempotency.ErrInFlight
	}
	var resp idempotency.Response
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, errors.Wrap(err, "decode stored response")
	}
	return &resp, nil
}

// Reserve marks key as in flight. It reports false when the key is already
// reserved or completed.
func (i *Idempotency) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return i.client.SetNX(ctx, "idemp:"+key, pendingMarker, ttl).Result()
}

func (i *Idempotency) Set(ctx context.Context, key string, resp idempotency.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, "idemp:"+key, data, ttl).Err()
}

func (i *Idempotency) Forget(ctx context.Context, key string) error {
	return i.client.Del(ctx, "idemp:"+key).Err()
}
