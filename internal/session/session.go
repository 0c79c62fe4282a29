// Package session carries the signed-in identity in a signed cookie. There is
// no server-side session store: the cookie is the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/traduwiki/internal/cookie"
	"github.com/dgellow/traduwiki/internal/cookiejar"
	"github.com/dgellow/traduwiki/internal/securecookie"
)

// ErrNoSession means the request carried no session cookie.
var ErrNoSession = errors.New("no session cookie")

// Session is the identity minted at the end of a successful handshake.
type Session struct {
	UID      string `json:"uid"`
	Nickname string `json:"nickname"`
}

// Encode renders the session as the form-encoded cookie payload.
func (s Session) Encode() []byte {
	return []byte(url.Values{"uid": {s.UID}, "nickname": {s.Nickname}}.Encode())
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (Session, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", securecookie.ErrMalformed, err)
	}
	s := Session{UID: values.Get("uid"), Nickname: values.Get("nickname")}
	if s.UID == "" {
		return Session{}, fmt.Errorf("%w: missing uid", securecookie.ErrMalformed)
	}
	return s, nil
}

// Manager mints, verifies and clears session cookies.
type Manager struct {
	codec securecookie.Codec
	name  string
	now   func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager signing with secret. Sessions last one
// calendar month. An empty name selects the default cookie name.
func NewManager(secret []byte, name string, opts ...Option) *Manager {
	if name == "" {
		name = cookie.DefaultSessionCookie
	}
	m := &Manager{
		codec: securecookie.NewCodec(secret, 0),
		name:  name,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the session cookie name.
func (m *Manager) Name() string {
	return m.name
}

// Issue mints a session cookie for s.
func (m *Manager) Issue(s Session) *http.Cookie {
	now := m.now()
	return cookie.Session(m.name, m.codec.Encode(s.Encode(), now), m.codec.Expiry(now))
}

// FromRequest verifies the session cookie on r. Errors are ErrNoSession or
// one of the securecookie sentinels; every one of them means unauthenticated.
func (m *Manager) FromRequest(r *http.Request) (Session, error) {
	jar, ok := cookiejar.FromRequest(r)
	if !ok {
		return Session{}, ErrNoSession
	}
	raw, ok := jar.Get(m.name)
	if !ok || raw == "" {
		return Session{}, ErrNoSession
	}

	payload, err := m.codec.Decode(raw, m.now())
	if err != nil {
		return Session{}, err
	}
	return Decode(payload)
}

// Clear returns the cookie that logs the user agent out.
func (m *Manager) Clear() *http.Cookie {
	return cookie.Clear(m.name)
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by NewContext.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok
}
