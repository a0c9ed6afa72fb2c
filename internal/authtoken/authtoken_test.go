package authtoken

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	q := url.Values{"b": {"2", "1"}, "a": {"x"}, paramToken: {"ignored"}}
	assert.Equal(t, "/p?a=x&b=1&b=2", canonical("/p", q))
	assert.Equal(t, "/p", canonical("/p", nil))

	a := Token("/p", q, "app", "secret", 100)
	b := Token("/p", url.Values{"a": {"x"}, "b": {"1", "2"}}, "app", "secret", 100)
	assert.Equal(t, a, b, "order of query values does not matter")
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, Token("/p", q, "app", "other", 100))
}

func TestEncodeURL_Verify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	signed, err := EncodeURL("https://parser.example/api/v1/preprocess?fid=42", "app", "secret", now)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "parser.example", u.Host)
	assert.Equal(t, "42", u.Query().Get("fid"))
	assert.Equal(t, "1700000000", u.Query().Get(paramTimestamp))

	tests := []struct {
		name   string
		mutate func(u *url.URL)
		secret string
		at     time.Time
		want   error
	}{
		{name: "valid", secret: "secret", at: now},
		{name: "host is not signed", secret: "secret", at: now, mutate: func(u *url.URL) { u.Host = "other" }},
		{name: "wrong secret", secret: "nope", at: now, want: ErrInvalidToken},
		{name: "expired", secret: "secret", at: now.Add(time.Hour), want: ErrExpired},
		{
			name:   "tampered query",
			secret: "secret",
			at:     now,
			mutate: func(u *url.URL) {
				q := u.Query()
				q.Set("fid", "43")
				u.RawQuery = q.Encode()
			},
			want: ErrInvalidToken,
		},
		{
			name:   "missing token",
			secret: "secret",
			at:     now,
			mutate: func(u *url.URL) { u.RawQuery = "fid=42" },
			want:   ErrMissingToken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *u
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			err := Verify(&c, "app", tt.secret, tt.at, 0)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
