package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisIndexer keeps entity summaries in redis: one JSON value per href plus
// a child set per collection path for fast listing.
type RedisIndexer struct {
	client *redis.Client
	prefix string
}

// NewRedisIndexer constructs an indexer over an existing client.
func NewRedisIndexer(client *redis.Client, keyPrefix string) *RedisIndexer {
	if keyPrefix == "" {
		keyPrefix = "calcore"
	}
	return &RedisIndexer{client: client, prefix: keyPrefix}
}

func (r *RedisIndexer) entityKey(href string) string {
	return fmt.Sprintf("%s:ent:%s", r.prefix, href)
}

func (r *RedisIndexer) childrenKey(path string) string {
	return fmt.Sprintf("%s:children:%s", r.prefix, path)
}

// IndexEntity implements Indexer.
func (r *RedisIndexer) IndexEntity(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entityKey(entry.Href), payload, 0)
	pipe.SAdd(ctx, r.childrenKey(entry.Path), entry.Href)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index entity %s: %w", entry.Href, err)
	}
	return nil
}

// UnindexEntity implements Indexer.
func (r *RedisIndexer) UnindexEntity(ctx context.Context, href string) error {
	raw, err := r.client.Get(ctx, r.entityKey(href)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("unindex lookup %s: %w", href, err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return fmt.Errorf("decode index entry %s: %w", href, err)
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.entityKey(href))
	pipe.SRem(ctx, r.childrenKey(entry.Path), href)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unindex entity %s: %w", href, err)
	}
	return nil
}

// UnindexContained implements Indexer: removes everything under a path
// prefix, used when a subtree is deleted or moved.
func (r *RedisIndexer) UnindexContained(ctx context.Context, pathPrefix string) error {
	pattern := fmt.Sprintf("%s:ent:%s/*", r.prefix, pathPrefix)
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("unindex contained: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan contained: %w", err)
	}
	childPattern := fmt.Sprintf("%s:children:%s*", r.prefix, pathPrefix)
	iter = r.client.Scan(ctx, 0, childPattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("unindex child sets: %w", err)
		}
	}
	return iter.Err()
}

// FetchChildren implements Indexer.
func (r *RedisIndexer) FetchChildren(ctx context.Context, path string) ([]Entry, error) {
	hrefs, err := r.client.SMembers(ctx, r.childrenKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch children %s: %w", path, err)
	}
	entries := make([]Entry, 0, len(hrefs))
	for _, href := range hrefs {
		raw, err := r.client.Get(ctx, r.entityKey(href)).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("fetch child %s: %w", href, err)
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decode child %s: %w", href, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FetchCollection implements Indexer.
func (r *RedisIndexer) FetchCollection(ctx context.Context, path string) (*Entry, FetchResult, error) {
	raw, err := r.client.Get(ctx, r.entityKey(path)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, FetchNotFound, nil
		}
		return nil, FetchNotFound, fmt.Errorf("fetch collection %s: %w", path, err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, FetchNotFound, fmt.Errorf("decode collection %s: %w", path, err)
	}
	if entry.Kind != "collection" {
		return nil, FetchNotFound, nil
	}
	return &entry, FetchOK, nil
}
