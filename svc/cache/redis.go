package cache

import (
	"context"
	"time"
)

const redisKeyPrefix = "pobbin:edge:"

type ByteStore interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Redis stores cbor-encoded responses in a shared byte store so every
// instance behind the load balancer sees the same cache.
type Redis struct {
	store ByteStore
}

func NewRedis(store ByteStore) *Redis {
	return &Redis{store: store}
}

func (r *Redis) Get(ctx context.Context, key string) (*Response, error) {
	b, err := r.store.GetBytes(ctx, redisKeyPrefix+key)
	if err != nil || b == nil {
		return nil, err
	}
	resp, err := Unmarshal(b)
	if err != nil {
		return nil, err
	}
	if resp.Expired(time.Now()) {
		return nil, nil
	}
	return resp, nil
}

func (r *Redis) Put(ctx context.Context, key string, resp *Response, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := Marshal(resp)
	if err != nil {
		return err
	}
	return r.store.SetBytes(ctx, redisKeyPrefix+key, b, ttl)
}
