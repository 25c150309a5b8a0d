// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore shares offline licenses between daemon instances.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis license store")
	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) GetLicense(ctx context.Context, contentID string) (*model.OfflineLicense, error) {
	val, err := s.client.Get(ctx, licenseKey(contentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", contentID, err)
	}
	var lic model.OfflineLicense
	if err := json.Unmarshal(val, &lic); err != nil {
		return nil, fmt.Errorf("decode license %q: %w", contentID, err)
	}
	return &lic, nil
}

func (s *RedisStore) PutLicense(ctx context.Context, lic *model.OfflineLicense) error {
	if err := validate(lic); err != nil {
		return err
	}
	data, err := json.Marshal(stamp(lic))
	if err != nil {
		return err
	}
	return s.client.Set(ctx, licenseKey(lic.ContentID), data, 0).Err()
}

func (s *RedisStore) DeleteLicense(ctx context.Context, contentID string) error {
	return s.client.Del(ctx, licenseKey(contentID)).Err()
}

func (s *RedisStore) ListLicenses(ctx context.Context) ([]*model.OfflineLicense, error) {
	var out []*model.OfflineLicense
	iter := s.client.Scan(ctx, 0, licenseKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var lic model.OfflineLicense
		if err := json.Unmarshal(val, &lic); err != nil {
			s.logger.Warn().Err(err).Str("key", iter.Val()).Msg("skipping undecodable license")
			continue
		}
		out = append(out, &lic)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// HealthCheck checks if Redis is available.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
