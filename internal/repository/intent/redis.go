package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cartsync/internal/domain"
	"github.com/redis/go-redis/v9"
)

type redisRepo struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis keeps hand-off records as plain keys with a native TTL, so expired
// intents disappear without a sweep.
func NewRedis(client *redis.Client) Repository {
	return &redisRepo{client: client, now: time.Now}
}

func (r *redisRepo) Save(ctx context.Context, in domain.CheckoutIntent) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	var ttl time.Duration
	if !in.ExpiresAt.IsZero() {
		ttl = in.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return domain.ErrIntentExpired
		}
	}
	return r.client.Set(ctx, Key(in.Owner), payload, ttl).Err()
}

func (r *redisRepo) Load(ctx context.Context, owner string) (*domain.CheckoutIntent, error) {
	payload, err := r.client.Get(ctx, Key(owner)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return decodeIntent(payload, r.now())
}

func (r *redisRepo) Delete(ctx context.Context, owner string) error {
	return r.client.Del(ctx, Key(owner)).Err()
}
