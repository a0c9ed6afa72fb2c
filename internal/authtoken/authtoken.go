// Package authtoken signs and verifies URLs with an app_id/secret pair.
//
// The token is md5("<path>?<sorted query>#<app_id>#<secret>#<timestamp>")
// where the query excludes _token and _timestamp. A signed URL carries
// _timestamp and _token as extra query parameters.
package authtoken

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	paramToken     = "_token"
	paramTimestamp = "_timestamp"
)

// DefaultMaxSkew bounds the age of a signed URL accepted by Verify.
const DefaultMaxSkew = 10 * time.Minute

var (
	// ErrMissingToken is returned when a URL carries no signature.
	ErrMissingToken = errors.New("authtoken: missing token")
	// ErrInvalidToken is returned when the signature does not match.
	ErrInvalidToken = errors.New("authtoken: invalid token")
	// ErrExpired is returned when the timestamp is outside the skew window.
	ErrExpired = errors.New("authtoken: token expired")
)

// canonical renders path and query with keys and values sorted, skipping
// the signature parameters.
func canonical(path string, q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if k == paramToken || k == paramTimestamp {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var parts []string
	for _, k := range keys {
		vals := slices.Clone(q[k])
		slices.Sort(vals)
		for _, v := range vals {
			parts = append(parts, url.Values{k: {v}}.Encode())
		}
	}
	if len(parts) == 0 {
		return path
	}
	return path + "?" + strings.Join(parts, "&")
}

// Token computes the signature of path and query at ts.
func Token(path string, q url.Values, appID, secret string, ts int64) string {
	src := fmt.Sprintf("%s#%s#%s#%d", canonical(path, q), appID, secret, ts)
	sum := md5.Sum([]byte(src))
	return hex.EncodeToString(sum[:])
}

// EncodeURL returns raw with _timestamp and _token appended. The scheme
// and host are kept in the result but excluded from the signature.
func EncodeURL(raw, appID, secret string, now time.Time) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("authtoken: %w", err)
	}
	q := u.Query()
	ts := now.Unix()
	q.Set(paramTimestamp, strconv.FormatInt(ts, 10))
	q.Set(paramToken, Token(u.Path, q, appID, secret, ts))
	u.RawQuery = canonicalQuery(q)
	return u.String(), nil
}

func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var parts []string
	for _, k := range keys {
		for _, v := range q[k] {
			parts = append(parts, url.Values{k: {v}}.Encode())
		}
	}
	return strings.Join(parts, "&")
}

// Verify checks the signature of a request URL. maxSkew <= 0 selects
// DefaultMaxSkew.
func Verify(u *url.URL, appID, secret string, now time.Time, maxSkew time.Duration) error {
	q := u.Query()
	tok := q.Get(paramToken)
	if tok == "" {
		return ErrMissingToken
	}
	ts, err := strconv.ParseInt(q.Get(paramTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidToken)
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if d := now.Sub(time.Unix(ts, 0)); d > maxSkew || d < -maxSkew {
		return ErrExpired
	}
	want := Token(u.Path, q, appID, secret, ts)
	if subtle.ConstantTimeCompare([]byte(want), []byte(tok)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
