package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/repaircoin/backend/internal/models"
)

// IdempotencyStore reserves reward idempotency keys.
type IdempotencyStore interface {
	// Reserve returns false if key is already held.
	Reserve(ctx context.Context, key, rewardID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MintQueue hands mint jobs to the downstream token minter.
type MintQueue interface {
	Enqueue(ctx context.Context, job models.MintJob) error
}

type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

func NewRedisIdempotencyStore(client *redis.Client, prefix string) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key, rewardID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, rewardID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

type RedisMintQueue struct {
	client *redis.Client
	key    string
}

func NewRedisMintQueue(client *redis.Client, key string) *RedisMintQueue {
	return &RedisMintQueue{client: client, key: key}
}

func (q *RedisMintQueue) Enqueue(ctx context.Context, job models.MintJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode mint job: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, string(payload)).Err(); err != nil {
		return fmt.Errorf("enqueue mint job %s: %w", job.RewardID, err)
	}
	return nil
}

// MemoryIdempotencyStore is the fallback when Redis is unavailable. Reservations expire lazily.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryIdempotencyStore) Reserve(ctx context.Context, key, rewardID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiresAt, ok := s.keys[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.keys[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// MemoryMintQueue buffers jobs in process. Nothing drains it; it exists so a Redis-less
// deployment can still issue rewards.
type MemoryMintQueue struct {
	mu   sync.Mutex
	jobs []models.MintJob
}

func NewMemoryMintQueue() *MemoryMintQueue {
	return &MemoryMintQueue{}
}

func (q *MemoryMintQueue) Enqueue(ctx context.Context, job models.MintJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *MemoryMintQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

var (
	_ IdempotencyStore = (*RedisIdempotencyStore)(nil)
	_ IdempotencyStore = (*MemoryIdempotencyStore)(nil)
	_ MintQueue        = (*RedisMintQueue)(nil)
	_ MintQueue        = (*MemoryMintQueue)(nil)
)
