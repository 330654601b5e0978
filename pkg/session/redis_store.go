package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/orcherrors"
)

const activeSetKey = "sessions:active"

func sessionKey(id string) string { return "session:" + id }

// RedisStore is the Store implementation backed by a single opaque Redis
// value per session (`session:{id}`). Backend failures are classified and
// returned, never swallowed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Store backed by client, extending TTL to ttl on
// every save.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) Create(ctx context.Context, id string) (*Session, error) {
	existing, ok, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		return existing, nil
	}

	sess := NewSession(id, s.now())
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, bool, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, orcherrors.Wrap(orcherrors.KindStoreUnavailable, "get session", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false, orcherrors.Wrap(orcherrors.KindInternal, "decode session", err)
	}

	// Every read-or-write touch advances last_activity.
	sess.Touch(s.now())
	if err := s.save(ctx, &sess); err != nil {
		return nil, false, err
	}
	return &sess, true, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	sess.Touch(s.now())
	return s.save(ctx, sess)
}

// save persists sess without advancing LastActivity again (callers have
// already touched it), refreshing the TTL and membership in the active set.
func (s *RedisStore) save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "encode session", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), raw, s.ttl)
	pipe.SAdd(ctx, activeSetKey, sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return orcherrors.Wrap(orcherrors.KindStoreUnavailable, "save session", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, activeSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return orcherrors.Wrap(orcherrors.KindStoreUnavailable, "delete session", err)
	}
	return nil
}

func (s *RedisStore) ListActive(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindStoreUnavailable, "list active sessions", err)
	}
	return ids, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, id string, msg Message) (*Session, error) {
	sess, ok, err := s.getNoTouch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		sess = NewSession(id, s.now())
	}

	if !sess.HasMessage(msg.ID) {
		sess.Messages = append(sess.Messages, msg)
	}
	sess.Touch(s.now())
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) UpdateContext(ctx context.Context, id string, patch func(*Session)) (*Session, error) {
	sess, ok, err := s.getNoTouch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		sess = NewSession(id, s.now())
	}

	patch(sess)
	sess.Touch(s.now())
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) History(ctx context.Context, id string, limit int) ([]Message, error) {
	sess, ok, err := s.getNoTouch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orcherrors.ErrNotFound
	}

	if limit <= 0 || limit >= len(sess.Messages) {
		return sess.Messages, nil
	}
	return sess.Messages[len(sess.Messages)-limit:], nil
}

func (s *RedisStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := s.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		sess, ok, err := s.getNoTouch(ctx, id)
		if err != nil {
			return removed, err
		}
		if !ok {
			// Expired by Redis TTL already; drop the stale set entry.
			_ = s.client.SRem(ctx, activeSetKey, id).Err()
			continue
		}
		if sess.LastActivity.Before(olderThan) {
			if err := s.Delete(ctx, id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// getNoTouch reads a session without advancing LastActivity or re-saving —
// used internally by operations that are themselves about to save a
// freshly-touched copy, to avoid a redundant round trip.
func (s *RedisStore) getNoTouch(ctx context.Context, id string) (*Session, bool, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, orcherrors.Wrap(orcherrors.KindStoreUnavailable, "get session", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false, orcherrors.Wrap(orcherrors.KindInternal, "decode session", err)
	}
	return &sess, true, nil
}

// NewRedisClient builds a *redis.Client from the REDIS_HOST/PORT/PASSWORD/DB
// configuration surface.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

var _ Store = (*RedisStore)(nil)
