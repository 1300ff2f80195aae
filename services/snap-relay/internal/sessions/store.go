// Package sessions is the Redis adapter for login sessions and one-time codes.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionTTL is how long a session hash lives after creation.
	SessionTTL = 180 * 24 * time.Hour
	// OTPTTL is how long a one-time code stays valid.
	OTPTTL = 15 * time.Minute

	FieldUserID          = "user_id"
	FieldThumbnailImgURL = "thumbnail_img_url"
	FieldCreatedAt       = "created_at"
)

// ErrNotFound is returned by reads when the key does not exist or expired.
var ErrNotFound = errors.New("session not found")

type redisAPI interface {
	redis.Scripter
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// hsetIfExists keeps a field update from resurrecting an expired hash without a TTL.
var hsetIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
`)

type Store struct {
	rdb redisAPI
}

func New(rdb redisAPI) *Store {
	if rdb == nil {
		panic("redis client is required")
	}
	return &Store{rdb: rdb}
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	if err := s.rdb.HSet(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// HashSetExisting sets one field only if key exists. It reports whether the hash was there.
func (s *Store) HashSetExisting(ctx context.Context, key, field, value string) (bool, error) {
	n, err := hsetIfExists.Run(ctx, s.rdb, []string{key}, field, value).Int64()
	if err != nil {
		return false, fmt.Errorf("hset existing %s: %w", key, err)
	}
	return n >= 0, nil
}

// HashGet returns every field of key, ErrNotFound when the hash is absent.
func (s *Store) HashGet(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Session is the read model of a session hash.
type Session struct {
	UserID          string `json:"user_id"`
	ThumbnailImgURL string `json:"thumbnail_img_url"`
	CreatedAt       string `json:"created_at"`
}

// GetSession reads a session hash by its full key ("session:<id>").
func (s *Store) GetSession(ctx context.Context, sessionKey string) (Session, error) {
	fields, err := s.HashGet(ctx, sessionKey)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:          fields[FieldUserID],
		ThumbnailImgURL: fields[FieldThumbnailImgURL],
		CreatedAt:       fields[FieldCreatedAt],
	}, nil
}

// GetOTP returns the pending one-time code for email.
func (s *Store) GetOTP(ctx context.Context, email string) (string, error) {
	return s.Get(ctx, OTPKey(email))
}

func SessionKey(id string) string {
	return "session:" + id
}

func OTPKey(email string) string {
	return "otp:" + email
}
