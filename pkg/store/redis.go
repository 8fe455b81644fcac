package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	accountKeyPrefix = "mj:account:"
	accountIndexKey  = "mj:accounts"
)

// RedisStore persists accounts in Redis so several proxy processes can share
// one pool definition.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed store from a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client (tests use miniredis).
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) List(ctx context.Context) ([]*Account, error) {
	ids, err := s.client.SMembers(ctx, accountIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]*Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if err == ErrAccountNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Account, error) {
	data, err := s.client.Get(ctx, accountKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return &a, nil
}

func (s *RedisStore) Save(ctx context.Context, account *Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", account.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, accountKeyPrefix+account.ID, data, 0)
	pipe.SAdd(ctx, accountIndexKey, account.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save account %s: %w", account.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, accountKeyPrefix+id)
	pipe.SRem(ctx, accountIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	return nil
}
