package livestate

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

var _ Mirror = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func entryKey(username string) string {
	return "phasecore:live:" + username
}

const allLiveKey = "phasecore:live"

func (r *RedisStore) SetEntry(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, entryKey(e.Username), data, 0)
	pipe.SAdd(ctx, allLiveKey, e.Username)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) RemoveEntry(ctx context.Context, username string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, entryKey(username))
	pipe.SRem(ctx, allLiveKey, username)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) ListEntries(ctx context.Context) ([]Entry, error) {
	names, err := r.client.SMembers(ctx, allLiveKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	entries := make([]Entry, 0, len(names))
	for _, n := range names {
		data, err := r.client.Get(ctx, entryKey(n)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisStore) FlushAll(ctx context.Context) error {
	names, err := r.client.SMembers(ctx, allLiveKey).Result()
	if err != nil {
		return err
	}
	for _, n := range names {
		r.client.Del(ctx, entryKey(n))
	}
	return r.client.Del(ctx, allLiveKey).Err()
}
