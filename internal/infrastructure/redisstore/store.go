package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-verify-handoff/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Each record is a hash: attempt, state and created_at drive the scripts,
// data holds the JSON encoded record. Keys expire RecordTTL after created_at.

var putIfAbsentScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
  return 0
end
redis.call("HSET", key, "attempt", ARGV[1], "state", ARGV[2], "created_at", ARGV[3], "data", ARGV[4])
redis.call("PEXPIRE", key, ARGV[5])
return 1
`)

var takeIfScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("HGET", key, "attempt") ~= ARGV[1] then
  return false
end
local current = redis.call("HGET", key, "state")
for i = 2, #ARGV do
  if ARGV[i] == current then
    local data = redis.call("HGET", key, "data")
    redis.call("DEL", key)
    return data
  end
end
return false
`)

var transitionScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("HGET", key, "attempt") ~= ARGV[1] then
  return 0
end
local current = redis.call("HGET", key, "state")
for i = 4, #ARGV do
  if ARGV[i] == current then
    redis.call("HSET", key, "state", ARGV[2], "data", ARGV[3])
    return 1
  end
end
return 0
`)

var sweepScript = redis.NewScript(`
local key = KEYS[1]
local created = tonumber(redis.call("HGET", key, "created_at"))
if created and created < tonumber(ARGV[1]) then
  redis.call("DEL", key)
  return 1
end
return 0
`)

// Store keeps verification records in Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "verification"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// NewClient parses a redis:// URL into a client.
func NewClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (s *Store) key(token string) string {
	return s.prefix + ":" + token
}

// expiry is the remaining lifetime of rec, never below one millisecond.
func (s *Store) expiry(rec *domain.VerificationRecord) time.Duration {
	d := s.ttl - s.now().Sub(rec.CreatedAt)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (s *Store) Put(ctx context.Context, rec *domain.VerificationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}
	key := s.key(rec.Token)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"attempt", rec.Attempt,
			"state", string(rec.State),
			"created_at", rec.CreatedAt.UnixMilli(),
			"data", data,
		)
		pipe.PExpire(ctx, key, s.expiry(rec))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put verification: %w", err)
	}
	return nil
}

func (s *Store) PutIfAbsent(ctx context.Context, rec *domain.VerificationRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal verification: %w", err)
	}
	n, err := putIfAbsentScript.Run(ctx, s.client, []string{s.key(rec.Token)},
		rec.Attempt,
		string(rec.State),
		rec.CreatedAt.UnixMilli(),
		data,
		s.expiry(rec).Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis put-if-absent verification: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Get(ctx context.Context, token string) (*domain.VerificationRecord, error) {
	data, err := s.client.HGet(ctx, s.key(token), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("verification %q: %w", token, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get verification: %w", err)
	}
	return decode(data)
}

func (s *Store) TakeIf(ctx context.Context, token, attempt string, states ...domain.State) (*domain.VerificationRecord, bool, error) {
	args := []interface{}{attempt}
	for _, st := range states {
		args = append(args, string(st))
	}
	raw, err := takeIfScript.Run(ctx, s.client, []string{s.key(token)}, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis take verification: %w", err)
	}
	data, ok := raw.(string)
	if !ok {
		return nil, false, fmt.Errorf("unexpected redis take result type %T", raw)
	}
	rec, err := decode([]byte(data))
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *Store) Transition(ctx context.Context, next *domain.VerificationRecord) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("marshal verification: %w", err)
	}
	args := []interface{}{next.Attempt, string(next.State), data}
	for _, prev := range next.State.Predecessors() {
		args = append(args, string(prev))
	}
	n, err := transitionScript.Run(ctx, s.client, []string{s.key(next.Token)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis transition verification: %w", err)
	}
	return n == 1, nil
}

// SweepExpired deletes records created more than maxAge ago. Key expiry already
// covers RecordTTL; this honours shorter ages and keys written without a TTL.
func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := strconv.FormatInt(s.now().Add(-maxAge).UnixMilli(), 10)
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := sweepScript.Run(ctx, s.client, []string{iter.Val()}, cutoff).Int()
		if err != nil {
			return removed, fmt.Errorf("redis sweep %s: %w", iter.Val(), err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan verifications: %w", err)
	}
	return removed, nil
}

func decode(data []byte) (*domain.VerificationRecord, error) {
	var rec domain.VerificationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal verification: %w", err)
	}
	return &rec, nil
}
