package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSessionPrefix = "corkboard:session:"

// redisSessionStore keeps sessions in Redis with a key TTL, so expiry does
// not depend on the janitor.
type redisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func connectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func newRedisSessionStore(client *redis.Client, ttl time.Duration) *redisSessionStore {
	return &redisSessionStore{client: client, ttl: ttl, now: time.Now}
}

func (s *redisSessionStore) Create(ctx context.Context, username string, isAdmin bool) (Session, error) {
	for {
		token, err := generateToken()
		if err != nil {
			return Session{}, err
		}

		session := Session{
			ID:        token,
			Username:  username,
			IsAdmin:   isAdmin,
			CreatedAt: s.now(),
		}
		data, err := json.Marshal(session)
		if err != nil {
			return Session{}, fmt.Errorf("encoding session: %w", err)
		}

		ok, err := s.client.SetNX(ctx, redisSessionPrefix+token, data, s.ttl).Result()
		if err != nil {
			return Session{}, fmt.Errorf("storing session: %w", err)
		}
		if ok {
			return session, nil
		}
	}
}

func (s *redisSessionStore) Lookup(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}

	data, err := s.client.Get(ctx, redisSessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if s.now().Sub(session.CreatedAt) > s.ttl {
		return nil, nil
	}
	return &session, nil
}

func (s *redisSessionStore) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisSessionPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis evicts keys once their TTL passes.
func (s *redisSessionStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
