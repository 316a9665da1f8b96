package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suffus/reedi-media-service/internal/apperr"
)

// RedisSessionStore keeps upload sessions in redis so part uploads can land
// on any instance behind the load balancer.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSessionStore) key(uploadID string) string { return s.prefix + ":upload:" + uploadID }

func (s *RedisSessionStore) Put(ctx context.Context, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(sess.UploadID), b, s.ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, uploadID string) (*Session, error) {
	b, err := s.client.Get(ctx, s.key(uploadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrUploadSession
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisSessionStore) SavePart(ctx context.Context, uploadID string, partNumber int32, eTag string) error {
	sess, err := s.Get(ctx, uploadID)
	if err != nil {
		return err
	}
	if sess.Parts == nil {
		sess.Parts = make(map[int32]string)
	}
	sess.Parts[partNumber] = eTag
	return s.Put(ctx, sess)
}

func (s *RedisSessionStore) Delete(ctx context.Context, uploadID string) error {
	return s.client.Del(ctx, s.key(uploadID)).Err()
}
