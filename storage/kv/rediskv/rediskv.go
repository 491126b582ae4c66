// Package rediskv keeps string key/values in redis, under a per-client prefix.
package rediskv

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the keys of one client, e.g. "guest:<device id>:".
	Prefix string
}

type Store struct {
	rdb    *redis.Client
	prefix string
}

// Open connects to redis and pings it.
func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", opts.Addr)
	}
	return New(rdb, opts.Prefix), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis GET %s", key)
	}
	return v, true, nil
}

func (s *Store) SetItem(ctx context.Context, key, value string) error {
	return errors.Wrapf(s.rdb.Set(ctx, s.prefix+key, value, 0).Err(), "redis SET %s", key)
}

func (s *Store) RemoveItem(ctx context.Context, key string) error {
	return errors.Wrapf(s.rdb.Del(ctx, s.prefix+key).Err(), "redis DEL %s", key)
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
