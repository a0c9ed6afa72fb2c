// Package lock provides named advisory locks shared by every worker.
//
// Locks are non-blocking: TryLock either takes the key for ttl or fails
// with ErrContention. The returned release func only deletes the key while
// it still holds the token written by TryLock, so a lock that expired and
// was taken by another worker is never released by the old holder.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrContention is returned when the key is held by someone else.
var ErrContention = errors.New("lock contention")

// Release frees a lock taken by TryLock.
type Release func(ctx context.Context) error

// Locker takes named locks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Release, error)
	// Unlock drops key whoever holds it. It is for handing a lock from
	// the request that took it to the task that finishes the work.
	Unlock(ctx context.Context, key string) error
}

// Keys used across services.
const (
	KeyPrefix = "extractd:lock:"
)

// QuestionPostPipe is the lock serialising submissions and predictions of
// one question.
func QuestionPostPipe(qid int64) string {
	return fmt.Sprintf("question_post_pipe:%d", qid)
}

// ParseFile guards the single parse of a file hash.
func ParseFile(hash string) string {
	return "convert_or_parse_file:" + hash
}

// MoldOnline guards re-prediction of a mold after a version is enabled.
func MoldOnline(moldID, vid int64) string {
	return fmt.Sprintf("preset_answers_for_mold_online_%d_%d", moldID, vid)
}

// Training guards the training chain of a version.
func Training(moldID, vid int64) string {
	return fmt.Sprintf("training_%d_%d", moldID, vid)
}

// Jitter returns base plus a uniform offset in [-spread, spread].
func Jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	return base - spread + rand.N(2*spread+1)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implements Locker on a Redis server.
type Redis struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedis creates a Redis locker.
func NewRedis(client redis.UniversalClient, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}
}

// TryLock sets key with NX and the given ttl.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, KeyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContention, key)
	}
	r.logger.Debug("lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{KeyPrefix + key}, token).Err(); err != nil {
			return fmt.Errorf("unlock %s: %w", key, err)
		}
		return nil
	}, nil
}

// Unlock deletes key unconditionally.
func (r *Redis) Unlock(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, KeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	return nil
}
