package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	release, err := m.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, m.Held("k"))

	_, err = m.TryLock(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrContention)

	now = now.Add(2 * time.Minute)
	second, err := m.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err, "expired locks can be retaken")

	require.NoError(t, release(ctx))
	assert.True(t, m.Held("k"), "a stale holder does not release the new lock")
	require.NoError(t, second(ctx))
	assert.False(t, m.Held("k"))
}

func TestMemory_Unlock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	release, err := m.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Unlock(ctx, "k"))
	assert.False(t, m.Held("k"))
	_, err = m.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err, "unlocked keys can be retaken")
	require.NoError(t, release(ctx))
	assert.True(t, m.Held("k"), "the first token no longer owns the key")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "question_post_pipe:42", QuestionPostPipe(42))
	assert.Equal(t, "preset_answers_for_mold_online_3_7", MoldOnline(3, 7))
	assert.Equal(t, "convert_or_parse_file:abc", ParseFile("abc"))
}

func TestJitter(t *testing.T) {
	for range 200 {
		d := Jitter(600*time.Second, 10*time.Second)
		assert.GreaterOrEqual(t, d, 590*time.Second)
		assert.LessOrEqual(t, d, 610*time.Second)
	}
	assert.Equal(t, time.Second, Jitter(time.Second, 0))
}

func TestRedis_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	_, err := NewRedis(client, nil).TryLock(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrContention, "transport errors are not contention")
}
