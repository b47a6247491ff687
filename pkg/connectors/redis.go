// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/configs"
	"github.com/redis/go-redis/v9"
)

// RedisConnector hands out the shared redis client used by the call-context
// read-through cache.
type RedisConnector interface {
	Client() *redis.Client
	Close() error
}

type redisConnector struct {
	logger commons.Logger
	client *redis.Client
}

func NewRedisConnector(cfg configs.RedisConfig, logger commons.Logger) (RedisConnector, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.Db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	logger.Infow("redis connected", "addr", cfg.Addr())
	return &redisConnector{logger: logger, client: client}, nil
}

func (c *redisConnector) Client() *redis.Client {
	return c.client
}

func (c *redisConnector) Close() error {
	return c.client.Close()
}
