// Package securecookie signs cookie values so tampering is detectable.
//
// Wire format: base64(value)|expiryEpochMillis|hex(HMAC-SHA1(secret, base64(value)+expiryEpochMillis))
//
// Values are signed, not encrypted: anyone holding the cookie can read it.
package securecookie

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const separator = "|"

var (
	// ErrMalformed is returned for values that are not three well-formed parts.
	ErrMalformed = errors.New("securecookie: malformed value")
	// ErrSignatureMismatch is returned when the HMAC does not verify.
	ErrSignatureMismatch = errors.New("securecookie: signature mismatch")
	// ErrExpired is returned once the embedded expiry has passed.
	ErrExpired = errors.New("securecookie: expired")
)

// Codec encodes and decodes signed, expiring values.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// NewCodec creates a codec. A zero ttl means one calendar month.
func NewCodec(secret []byte, ttl time.Duration) Codec {
	return Codec{secret: secret, ttl: ttl}
}

// Expiry returns when a value encoded at now stops decoding.
func (c Codec) Expiry(now time.Time) time.Time {
	if c.ttl == 0 {
		return now.AddDate(0, 1, 0)
	}
	return now.Add(c.ttl)
}

// Encode signs value and stamps it with its expiry.
func (c Codec) Encode(value []byte, now time.Time) string {
	payload := base64.URLEncoding.EncodeToString(value)
	expiry := strconv.FormatInt(c.Expiry(now).UnixMilli(), 10)
	return strings.Join([]string{payload, expiry, c.mac(payload, expiry)}, separator)
}

// Decode verifies cookie and returns the original value. The signature is
// checked before the expiry so an attacker cannot learn anything from the
// error about a forged value.
func (c Codec) Decode(cookie string, now time.Time) ([]byte, error) {
	parts := strings.Split(cookie, separator)
	if len(parts) != 3 {
		return nil, ErrMalformed
	}
	payload, expiry, signature := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(c.mac(payload, expiry)), []byte(signature)) {
		return nil, ErrSignatureMismatch
	}

	expiresAt, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	if now.UnixMilli() > expiresAt {
		return nil, ErrExpired
	}

	value, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrMalformed
	}
	return value, nil
}

func (c Codec) mac(payload, expiry string) string {
	h := hmac.New(sha1.New, c.secret)
	h.Write([]byte(payload))
	h.Write([]byte(expiry))
	return hex.EncodeToString(h.Sum(nil))
}
