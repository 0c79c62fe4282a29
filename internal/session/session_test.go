package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgellow/traduwiki/internal/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestSession_EncodeDecode(t *testing.T) {
	s := Session{UID: "12345", Nickname: "ada & co"}

	got, err := Decode(s.Encode())
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = Decode([]byte("nickname=ada"))
	assert.ErrorIs(t, err, securecookie.ErrMalformed)

	_, err = Decode([]byte("uid=%zz"))
	assert.ErrorIs(t, err, securecookie.ErrMalformed)
}

func TestManager_IssueAndVerify(t *testing.T) {
	issuedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewManager([]byte("secret"), "", WithClock(fixedClock(issuedAt)))

	c := issuer.Issue(Session{UID: "42", Nickname: "ada"})
	assert.Equal(t, "traduwiki", c.Name)
	assert.Equal(t, issuedAt.AddDate(0, 1, 0), c.Expires)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", "_xsrf=abc; "+c.Name+"="+c.Value)

	t.Run("valid", func(t *testing.T) {
		verifier := NewManager([]byte("secret"), "", WithClock(fixedClock(issuedAt.Add(time.Hour))))
		s, err := verifier.FromRequest(req)
		require.NoError(t, err)
		assert.Equal(t, Session{UID: "42", Nickname: "ada"}, s)
	})

	t.Run("expired", func(t *testing.T) {
		verifier := NewManager([]byte("secret"), "", WithClock(fixedClock(issuedAt.AddDate(0, 1, 0).Add(time.Second))))
		_, err := verifier.FromRequest(req)
		assert.ErrorIs(t, err, securecookie.ErrExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		verifier := NewManager([]byte("rotated"), "", WithClock(fixedClock(issuedAt)))
		_, err := verifier.FromRequest(req)
		assert.ErrorIs(t, err, securecookie.ErrSignatureMismatch)
	})
}

func TestManager_FromRequest_NoSession(t *testing.T) {
	m := NewManager([]byte("secret"), "app_session")

	t.Run("no cookie header", func(t *testing.T) {
		_, err := m.FromRequest(httptest.NewRequest("GET", "/", nil))
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("other cookies only", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Cookie", "traduwiki=x")
		_, err := m.FromRequest(req)
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("malformed value", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Cookie", "app_session=garbage")
		_, err := m.FromRequest(req)
		assert.ErrorIs(t, err, securecookie.ErrMalformed)
	})
}

func TestManager_Clear(t *testing.T) {
	m := NewManager([]byte("secret"), "")
	c := m.Clear()
	assert.Equal(t, "traduwiki", c.Name)
	assert.True(t, strings.Contains(c.String(), "Max-Age=0"))
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := NewContext(context.Background(), Session{UID: "1", Nickname: "n"})
	s, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", s.UID)
}
