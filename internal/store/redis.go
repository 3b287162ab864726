// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// RedisKeyPrefix namespaces the cache entries in redis.
	RedisKeyPrefix = "peercdn:torrents:"

	fieldDescriptor = "descriptor"
	fieldCreatedAt  = "created_at"
	fieldExpiresAt  = "expires_at"
)

// redisStore is a Store backed by redis hashes.
type redisStore struct {
	client *redis.Client
	log    zerolog.Logger
}

var _ Store = &redisStore{}

// newRedisStore connects to the redis server at url.
func newRedisStore(ctx context.Context, url string) (*redisStore, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "store").Str("dialect", "redis").Logger()

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDSN, err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrIO, err)
	}

	log.Debug().Str("addr", opts.Addr).Msg("cache store ready")
	return &redisStore{client: client, log: log}, nil
}

// Lookup returns the entry for key, or nil if there is none.
func (s *redisStore) Lookup(ctx context.Context, key string) (*Entry, error) {
	vals, err := s.client.HGetAll(ctx, RedisKeyPrefix+key).Result()
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("cache lookup error")
		return nil, fmt.Errorf("%w: lookup %v: %v", ErrIO, key, err)
	}

	if len(vals) == 0 {
		return nil, nil
	}

	created, err := strconv.ParseInt(vals[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %v: created_at: %v", ErrIO, key, err)
	}
	expires, err := strconv.ParseInt(vals[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %v: expires_at: %v", ErrIO, key, err)
	}

	return &Entry{
		Key:        key,
		Descriptor: []byte(vals[fieldDescriptor]),
		CreatedAt:  time.Unix(created, 0),
		ExpiresAt:  time.Unix(expires, 0),
	}, nil
}

// Upsert writes all fields of the entry with a single HSET, which redis applies atomically.
func (s *redisStore) Upsert(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	err := s.client.HSet(ctx, RedisKeyPrefix+e.Key,
		fieldDescriptor, e.Descriptor,
		fieldCreatedAt, e.CreatedAt.Unix(),
		fieldExpiresAt, e.ExpiresAt.Unix(),
	).Err()
	if err != nil {
		s.log.Error().Err(err).Str("key", e.Key).Msg("cache upsert error")
		return fmt.Errorf("%w: upsert %v: %v", ErrIO, e.Key, err)
	}

	return nil
}

// Close closes the client.
func (s *redisStore) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
