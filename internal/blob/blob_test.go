package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, InterdocKey("abc"), []byte("payload")))
	ok, err := s.Exists(ctx, "interdoc/abc")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "interdoc/abc")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	got[0] = 'X'
	again, _ := s.Get(ctx, "interdoc/abc")
	assert.Equal(t, "payload", string(again), "stored bytes must not alias")

	require.NoError(t, s.Delete(ctx, "interdoc/abc"))
	ok, _ = s.Exists(ctx, "interdoc/abc")
	assert.False(t, ok)
}

func TestSealer(t *testing.T) {
	s, err := NewSealer("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := s.Seal("files/a", []byte("secret document"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret document")

	plain, err := s.Open("files/a", sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret document", string(plain))

	t.Run("bound to key", func(t *testing.T) {
		_, err := s.Open("files/b", sealed)
		require.ErrorIs(t, err, ErrSealed)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewSealer("another secret")
		require.NoError(t, err)
		_, err = other.Open("files/a", sealed)
		require.ErrorIs(t, err, ErrSealed)
	})

	t.Run("plaintext rejected", func(t *testing.T) {
		_, err := s.Open("files/a", []byte("plain"))
		require.ErrorIs(t, err, ErrSealed)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := NewSealer("")
		require.Error(t, err)
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "files/h1", FileKey("h1"))
	assert.Equal(t, "models/3/7.zip", ModelArchiveKey(3, 7))
}
