package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"authplane/internal/session/domain"
)

const (
	sessionKeyPrefix = "authplane:session:"
	userIndexPrefix  = "authplane:user_sessions:"
)

// rotateScript performs the generation compare-and-swap server-side so
// concurrent rotations against one Redis node serialize. Returns the new
// generation, or -1 when the session is missing, revoked, expired, or the
// presented generation is stale.
var rotateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local h = redis.call('HMGET', KEYS[1], 'gen', 'revoked_at_ms', 'expires_at_ms')
if tonumber(h[2]) ~= 0 then return -1 end
if tonumber(h[3]) <= tonumber(ARGV[2]) then return -1 end
if tonumber(h[1]) ~= tonumber(ARGV[1]) then return -1 end
local gen = tonumber(h[1]) + 1
redis.call('HSET', KEYS[1], 'gen', gen, 'last_refreshed_at_ms', ARGV[2], 'expires_at_ms', ARGV[3])
redis.call('PEXPIREAT', KEYS[1], ARGV[3])
return gen
`)

// revokeScript sets revoked_at_ms once. Missing and already-revoked sessions
// are left untouched.
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if tonumber(redis.call('HGET', KEYS[1], 'revoked_at_ms')) ~= 0 then return 0 end
redis.call('HSET', KEYS[1], 'revoked_at_ms', ARGV[1])
return 1
`)

// RedisRepository stores sessions as hashes keyed by session id, with a
// per-user set indexing the user's session ids. Session keys expire with the
// session; revoked sessions stay until expiry so token reuse after revocation
// is still observable.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	key := sessionKeyPrefix + s.ID
	fields := map[string]interface{}{
		"user_id":              s.UserID,
		"gen":                  s.Generation,
		"expires_at_ms":        s.ExpiresAt.UnixMilli(),
		"revoked_at_ms":        msOrZero(s.RevokedAt),
		"last_refreshed_at_ms": msOrZero(s.LastRefreshedAt),
		"created_at_ms":        s.CreatedAt.UnixMilli(),
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.PExpireAt(ctx, key, s.ExpiresAt)
	pipe.SAdd(ctx, userIndexPrefix+s.UserID, s.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return hashToSession(id, fields)
}

func (r *RedisRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, userIndexPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	var out []*domain.Session
	for _, id := range ids {
		s, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			// Session key expired; the index entry is cleaned up lazily.
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisRepository) IsCurrent(ctx context.Context, id string, generation int64, now time.Time) (bool, error) {
	s, err := r.GetByID(ctx, id)
	if err != nil || s == nil {
		return false, err
	}
	return s.Live(now) && s.Generation == generation, nil
}

func (r *RedisRepository) Rotate(ctx context.Context, id string, generation int64, now, expiresAt time.Time) (int64, error) {
	res, err := rotateScript.Run(ctx, r.client,
		[]string{sessionKeyPrefix + id},
		generation, now.UnixMilli(), expiresAt.UnixMilli(),
	).Int64()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, ErrStaleOrRevoked
	}
	return res, nil
}

func (r *RedisRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	return revokeScript.Run(ctx, r.client,
		[]string{sessionKeyPrefix + id}, at.UnixMilli(),
	).Err()
}

func (r *RedisRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	ids, err := r.client.SMembers(ctx, userIndexPrefix+userID).Result()
	if err != nil {
		return 0, err
	}
	var revoked int64
	for _, id := range ids {
		n, err := revokeScript.Run(ctx, r.client,
			[]string{sessionKeyPrefix + id}, at.UnixMilli(),
		).Int64()
		if err != nil {
			return revoked, err
		}
		revoked += n
	}
	return revoked, nil
}

// DeleteExpired prunes user-index entries whose session hash has already been
// expired by Redis. The hashes themselves carry a TTL, so only the index needs
// sweeping.
func (r *RedisRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var pruned int64
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, userIndexPrefix+"*", 100).Result()
		if err != nil {
			return pruned, err
		}
		for _, key := range keys {
			ids, err := r.client.SMembers(ctx, key).Result()
			if err != nil {
				return pruned, err
			}
			for _, id := range ids {
				exists, err := r.client.Exists(ctx, sessionKeyPrefix+id).Result()
				if err != nil {
					return pruned, err
				}
				if exists == 0 {
					if err := r.client.SRem(ctx, key, id).Err(); err != nil {
						return pruned, err
					}
					pruned++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return pruned, nil
		}
	}
}

func hashToSession(id string, fields map[string]string) (*domain.Session, error) {
	gen, err := strconv.ParseInt(fields["gen"], 10, 64)
	if err != nil {
		return nil, err
	}
	expiresMs, err := strconv.ParseInt(fields["expires_at_ms"], 10, 64)
	if err != nil {
		return nil, err
	}
	createdMs, err := strconv.ParseInt(fields["created_at_ms"], 10, 64)
	if err != nil {
		return nil, err
	}
	s := &domain.Session{
		ID:         id,
		UserID:     fields["user_id"],
		Generation: gen,
		ExpiresAt:  time.UnixMilli(expiresMs).UTC(),
		CreatedAt:  time.UnixMilli(createdMs).UTC(),
	}
	if ms, err := strconv.ParseInt(fields["revoked_at_ms"], 10, 64); err == nil && ms != 0 {
		t := time.UnixMilli(ms).UTC()
		s.RevokedAt = &t
	}
	if ms, err := strconv.ParseInt(fields["last_refreshed_at_ms"], 10, 64); err == nil && ms != 0 {
		t := time.UnixMilli(ms).UTC()
		s.LastRefreshedAt = &t
	}
	return s, nil
}

func msOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
