package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight is returned when the same key is already being processed.
var ErrInFlight = errors.New("dispatch: request with this idempotency key is in flight")

const inFlightMarker = "in-flight"

// IdempotencyStore remembers dispatch responses per sender and key.
type IdempotencyStore interface {
	// Reserve claims the key. When a response was already stored it is
	// returned with ok=false and no claim is made.
	Reserve(ctx context.Context, senderID, key string) (cached *Response, ok bool, err error)
	Save(ctx context.Context, senderID, key string, resp *Response) error
	Release(ctx context.Context, senderID, key string) error
}

// RedisIdempotency keeps the in-flight marker for inFlightTTL and a saved
// response for ttl, so a crashed dispatch frees its key quickly.
type RedisIdempotency struct {
	client      *redis.Client
	ttl         time.Duration
	inFlightTTL time.Duration
}

func NewRedisIdempotency(client *redis.Client, ttl, inFlightTTL time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if inFlightTTL <= 0 {
		inFlightTTL = 15 * time.Minute
	}
	inFlightTTL = min(inFlightTTL, ttl)
	return &RedisIdempotency{client: client, ttl: ttl, inFlightTTL: inFlightTTL}
}

func idempotencyKey(senderID, key string) string {
	return fmt.Sprintf("eresults:idem:%s:%s", senderID, key)
}

func (s *RedisIdempotency) Reserve(ctx context.Context, senderID, key string) (*Response, bool, error) {
	k := idempotencyKey(senderID, key)
	claimed, err := s.client.SetNX(ctx, k, inFlightMarker, s.inFlightTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("dispatch: reserve idempotency key: %w", err)
	}
	if claimed {
		return nil, true, nil
	}

	raw, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		claimed, err = s.client.SetNX(ctx, k, inFlightMarker, s.inFlightTTL).Result()
		if err != nil {
			return nil, false, fmt.Errorf("dispatch: reserve idempotency key: %w", err)
		}
		if claimed {
			return nil, true, nil
		}
		return nil, false, ErrInFlight
	}
	if err != nil {
		return nil, false, fmt.Errorf("dispatch: read idempotency key: %w", err)
	}
	if raw == inFlightMarker {
		return nil, false, ErrInFlight
	}

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, false, fmt.Errorf("dispatch: decode cached response: %w", err)
	}
	return &resp, false, nil
}

func (s *RedisIdempotency) Save(ctx context.Context, senderID, key string, resp *Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("dispatch: encode response: %w", err)
	}
	if err := s.client.Set(ctx, idempotencyKey(senderID, key), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("dispatch: save idempotency key: %w", err)
	}
	return nil
}

func (s *RedisIdempotency) Release(ctx context.Context, senderID, key string) error {
	if err := s.client.Del(ctx, idempotencyKey(senderID, key)).Err(); err != nil {
		return fmt.Errorf("dispatch: release idempotency key: %w", err)
	}
	return nil
}
