package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cartsync/internal/domain"
	"cartsync/internal/errors"
)

// RedisSnapshotRepository stores snapshots as JSON strings that expire after
// ttl. A zero ttl keeps them forever.
type RedisSnapshotRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotRepository(client *redis.Client, ttl time.Duration) *RedisSnapshotRepository {
	return &RedisSnapshotRepository{client: client, ttl: ttl}
}

func generateSnapshotKey(key string) string {
	return fmt.Sprintf("cart:snapshot:%s", key)
}

func (r *RedisSnapshotRepository) Find(ctx context.Context, key string) (*domain.Cart, error) {
	payload, err := r.client.Get(ctx, generateSnapshotKey(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.NewNotFoundError(fmt.Sprintf("cart snapshot for %s not found", key))
	}
	if err != nil {
		return nil, fmt.Errorf("getting cart snapshot: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(payload, &cart); err != nil {
		return nil, fmt.Errorf("decoding cart snapshot: %w", err)
	}
	return &cart, nil
}

func (r *RedisSnapshotRepository) Save(ctx context.Context, key string, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encoding cart snapshot: %w", err)
	}
	if err := r.client.Set(ctx, generateSnapshotKey(key), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("saving cart snapshot: %w", err)
	}
	return nil
}

func (r *RedisSnapshotRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, generateSnapshotKey(key)).Err(); err != nil {
		return fmt.Errorf("deleting cart snapshot: %w", err)
	}
	return nil
}
