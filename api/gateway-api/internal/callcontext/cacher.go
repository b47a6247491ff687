// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"context"
	"fmt"
	"time"

	"github.com/go-gorm/caches/v4"
	"github.com/redis/go-redis/v9"
)

// cacheTTL bounds staleness of cached context reads. Writes invalidate the
// whole namespace through the plugin, so the TTL only matters for rows
// mutated outside this process.
const cacheTTL = 5 * time.Minute

// redisCacher adapts the shared redis client to the gorm caches plugin.
// Query results are keyed by the plugin; this type only moves bytes.
type redisCacher struct {
	client *redis.Client
}

func newRedisCacher(client *redis.Client) *redisCacher {
	return &redisCacher{client: client}
}

func (c *redisCacher) Get(ctx context.Context, key string, q *caches.Query[any]) (*caches.Query[any], error) {
	res, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := q.Unmarshal([]byte(res)); err != nil {
		return nil, err
	}
	return q, nil
}

func (c *redisCacher) Store(ctx context.Context, key string, val *caches.Query[any]) error {
	res, err := val.Marshal()
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, res, cacheTTL).Err()
}

func (c *redisCacher) Invalidate(ctx context.Context) error {
	var (
		cursor uint64
		keys   []string
	)
	for {
		var (
			page []string
			err  error
		)
		page, cursor, err = c.client.Scan(ctx, cursor, fmt.Sprintf("%s*", caches.IdentifierPrefix), 0).Result()
		if err != nil {
			return err
		}
		keys = append(keys, page...)
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
