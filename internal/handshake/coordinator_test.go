package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/traduwiki/internal/config"
	"github.com/dgellow/traduwiki/internal/cookie"
	"github.com/dgellow/traduwiki/internal/oauth1"
	"github.com/dgellow/traduwiki/internal/session"
)

const (
	testCookieSecret = "0123456789abcdef0123456789abcdef"
	testCallback     = "https://traduwiki.example.com/auth/fake/callback"
)

var testNow = time.Unix(1000000, 0)

// fakeProvider is an OAuth 1.0a provider that checks every signature it
// receives against the expected consumer secret.
type fakeProvider struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	nonces  []string
	headers []map[string]string

	requestCalls atomic.Int32
	accessCalls  atomic.Int32

	requestToken func(w http.ResponseWriter, r *http.Request, call int32)
	accessToken  func(w http.ResponseWriter, r *http.Request, call int32)
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{t: t}
	fp.requestToken = func(w http.ResponseWriter, r *http.Request, call int32) {
		fmt.Fprint(w, "oauth_token=rt&oauth_token_secret=rts&oauth_callback_confirmed=true")
	}
	fp.accessToken = func(w http.ResponseWriter, r *http.Request, call int32) {
		fmt.Fprint(w, "oauth_token=at&oauth_token_secret=ats&user_id=42&screen_name=ada")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/request_token", func(w http.ResponseWriter, r *http.Request) {
		call := fp.requestCalls.Add(1)
		fp.record(r, "")
		fp.requestToken(w, r, call)
	})
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		call := fp.accessCalls.Add(1)
		fp.record(r, "rts")
		fp.accessToken(w, r, call)
	})
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProvider) record(r *http.Request, tokenSecret string) {
	fields := parseAuthorization(fp.t, r.Header.Get("Authorization"))

	signed := oauth1.Request{
		Method:         r.Method,
		URL:            fp.srv.URL + r.URL.Path,
		ConsumerKey:    fields["oauth_consumer_key"],
		ConsumerSecret: "s3cr3t",
		Token:          fields["oauth_token"],
		TokenSecret:    tokenSecret,
		Verifier:       fields["oauth_verifier"],
		Nonce:          fields["oauth_nonce"],
		Timestamp:      fields["oauth_timestamp"],
	}
	assert.Equal(fp.t, signed.Signature(), fields["oauth_signature"], "signature must verify")

	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.nonces = append(fp.nonces, fields["oauth_nonce"])
	fp.headers = append(fp.headers, fields)
}

func (fp *fakeProvider) config() config.ProviderConfig {
	return config.ProviderConfig{
		Host:             strings.TrimPrefix(fp.srv.URL, "http://"),
		Scheme:           "http",
		RequestTokenPath: "/oauth/request_token",
		AccessTokenPath:  "/oauth/access_token",
		AuthorizePath:    "/oauth/authorize",
	}
}

func parseAuthorization(t *testing.T, header string) map[string]string {
	t.Helper()
	require.True(t, strings.HasPrefix(header, "OAuth "), "authorization header: %q", header)
	fields := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(header, "OAuth "), ", ") {
		key, value, ok := strings.Cut(part, "=")
		require.True(t, ok, "bad header part %q", part)
		unquoted, err := url.PathUnescape(strings.Trim(value, `"`))
		require.NoError(t, err)
		fields[key] = unquoted
	}
	return fields
}

type recordingUsers struct {
	mu    sync.Mutex
	users map[string]string
	err   error
}

func (u *recordingUsers) Upsert(_ context.Context, uid, nickname string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.users == nil {
		u.users = map[string]string{}
	}
	u.users[uid] = nickname
	return u.err
}

func counterNonce() func() (string, error) {
	var n atomic.Int32
	return func() (string, error) {
		return fmt.Sprintf("nonce%d", n.Add(1)), nil
	}
}

func newTestCoordinator(fp *fakeProvider, opts ...Option) (*Coordinator, *session.Manager) {
	clock := func() time.Time { return testNow }
	sessions := session.NewManager([]byte(testCookieSecret), "", session.WithClock(clock))
	creds := config.Credentials{
		ConsumerKey:    "ck123",
		ConsumerSecret: "s3cr3t",
		CallbackURL:    testCallback,
		CookieSecret:   testCookieSecret,
	}
	base := []Option{
		WithClock(clock),
		WithNonceSource(counterNonce()),
		WithRetryDelay(time.Millisecond),
		WithTimeout(2 * time.Second),
	}
	c := NewCoordinator(config.Providers{"fake": fp.config()}, creds, sessions, append(base, opts...)...)
	return c, sessions
}

func pendingFrom(t *testing.T, res Result) string {
	t.Helper()
	c, ok := res.Response.Cookie(cookie.PendingCookie)
	require.True(t, ok, "pending cookie must be set")
	require.NotEmpty(t, c.Value)
	return c.Value
}

func assertFailedToLogin(t *testing.T, res Result) {
	t.Helper()
	assert.Equal(t, Failed, res.State)
	assert.Error(t, res.Err)
	assert.Equal(t, http.StatusFound, res.Response.Status())
	assert.Equal(t, "/login?error=handshake_failed", res.Response.Location())
	_, hasSession := res.Response.Cookie(cookie.DefaultSessionCookie)
	assert.False(t, hasSession, "failed handshake must not mint a session")
	if c, ok := res.Response.Cookie(cookie.PendingCookie); ok {
		assert.Empty(t, c.Value, "failed handshake may only clear the pending cookie")
	}
}

func TestBegin_RedirectsToAuthorize(t *testing.T) {
	fp := newFakeProvider(t)
	c, _ := newTestCoordinator(fp)

	res := c.Begin(context.Background(), "fake", "/me")
	require.NoError(t, res.Err)
	assert.Equal(t, AwaitingAuthorization, res.State)
	assert.Equal(t, http.StatusFound, res.Response.Status())

	loc, err := url.Parse(res.Response.Location())
	require.NoError(t, err)
	assert.Equal(t, fp.srv.URL+"/oauth/authorize", loc.Scheme+"://"+loc.Host+loc.Path)
	assert.Equal(t, "rt", loc.Query().Get("oauth_token"))
	assert.Equal(t, testCallback, loc.Query().Get("oauth_callback"))

	pendingFrom(t, res)

	require.Len(t, fp.headers, 1)
	h := fp.headers[0]
	assert.Equal(t, "ck123", h["oauth_consumer_key"])
	assert.Equal(t, "HMAC-SHA1", h["oauth_signature_method"])
	assert.Equal(t, "1.0", h["oauth_version"])
	assert.Equal(t, "1000000", h["oauth_timestamp"])
	assert.Equal(t, "", h["realm"])
	assert.NotContains(t, h, "oauth_token", "request-token call carries no token")
}

func TestBegin_Failures(t *testing.T) {
	tests := []struct {
		name         string
		handler      func(w http.ResponseWriter, r *http.Request, call int32)
		wantErr      error
		wantAttempts int32
	}{
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request, call int32) {
				fmt.Fprint(w, "<html>maintenance</html>")
			},
			wantErr:      ErrMalformedResponse,
			wantAttempts: 1,
		},
		{
			name: "missing secret",
			handler: func(w http.ResponseWriter, r *http.Request, call int32) {
				fmt.Fprint(w, "oauth_token=rt")
			},
			wantErr:      ErrMalformedResponse,
			wantAttempts: 1,
		},
		{
			name: "rejected is not retried",
			handler: func(w http.ResponseWriter, r *http.Request, call int32) {
				http.Error(w, "bad consumer key", http.StatusUnauthorized)
			},
			wantErr:      ErrProviderRejected,
			wantAttempts: 1,
		},
		{
			name: "server error is retried once",
			handler: func(w http.ResponseWriter, r *http.Request, call int32) {
				http.Error(w, "down", http.StatusBadGateway)
			},
			wantErr:      ErrProviderUnreachable,
			wantAttempts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			fp.requestToken = tt.handler
			c, _ := newTestCoordinator(fp)

			res := c.Begin(context.Background(), "fake", "")
			assertFailedToLogin(t, res)
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.Equal(t, tt.wantAttempts, fp.requestCalls.Load())
		})
	}
}

func TestBegin_RetrySucceedsWithFreshNonce(t *testing.T) {
	fp := newFakeProvider(t)
	fp.requestToken = func(w http.ResponseWriter, r *http.Request, call int32) {
		if call == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "oauth_token=rt&oauth_token_secret=rts")
	}
	c, _ := newTestCoordinator(fp)

	res := c.Begin(context.Background(), "fake", "")
	require.NoError(t, res.Err)
	assert.Equal(t, AwaitingAuthorization, res.State)
	assert.Equal(t, int32(2), fp.requestCalls.Load())
	require.Len(t, fp.nonces, 2)
	assert.NotEqual(t, fp.nonces[0], fp.nonces[1], "retries must be re-signed")
}

func TestBegin_Timeout(t *testing.T) {
	fp := newFakeProvider(t)
	fp.requestToken = func(w http.ResponseWriter, r *http.Request, call int32) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	c, _ := newTestCoordinator(fp, WithTimeout(50*time.Millisecond))

	start := time.Now()
	res := c.Begin(context.Background(), "fake", "")
	assertFailedToLogin(t, res)
	assert.ErrorIs(t, res.Err, ErrProviderUnreachable)
	assert.Equal(t, int32(2), fp.requestCalls.Load())
	assert.Less(t, time.Since(start), time.Second, "per-attempt timeout bounds the handshake")
}

func TestBegin_ClientGone(t *testing.T) {
	fp := newFakeProvider(t)
	c, _ := newTestCoordinator(fp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Begin(ctx, "fake", "")
	assertFailedToLogin(t, res)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.LessOrEqual(t, fp.requestCalls.Load(), int32(1))
}

func TestBegin_UnknownProvider(t *testing.T) {
	fp := newFakeProvider(t)
	c, _ := newTestCoordinator(fp)

	res := c.Begin(context.Background(), "myspace", "")
	assertFailedToLogin(t, res)
	assert.ErrorIs(t, res.Err, ErrUnknownProvider)
	assert.Equal(t, int32(0), fp.requestCalls.Load())
}

func TestComplete_MintsSession(t *testing.T) {
	fp := newFakeProvider(t)
	users := &recordingUsers{}
	c, sessions := newTestCoordinator(fp, WithUserStore(users))

	begin := c.Begin(context.Background(), "fake", "/me")
	require.NoError(t, begin.Err)

	res := c.Complete(context.Background(), "fake", Callback{
		Token:    "rt",
		Verifier: "v123",
		Pending:  pendingFrom(t, begin),
	})
	require.NoError(t, res.Err)
	assert.Equal(t, Authenticated, res.State)
	assert.Equal(t, session.Session{UID: "42", Nickname: "ada"}, res.Session)
	assert.Equal(t, "/me", res.Response.Location())

	sc, ok := res.Response.Cookie(cookie.DefaultSessionCookie)
	require.True(t, ok)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sc)
	got, err := sessions.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "42", got.UID)
	assert.Equal(t, "ada", got.Nickname)

	pc, ok := res.Response.Cookie(cookie.PendingCookie)
	require.True(t, ok)
	assert.Equal(t, -1, pc.MaxAge, "pending cookie is cleared")

	require.Len(t, fp.headers, 2)
	access := fp.headers[1]
	assert.Equal(t, "rt", access["oauth_token"])
	assert.Equal(t, "v123", access["oauth_verifier"])

	assert.Equal(t, map[string]string{"42": "ada"}, users.users)
}

func TestComplete_DefaultsHome(t *testing.T) {
	fp := newFakeProvider(t)
	c, _ := newTestCoordinator(fp)

	begin := c.Begin(context.Background(), "fake", "https://evil.example.com/")
	require.NoError(t, begin.Err)

	res := c.Complete(context.Background(), "fake", Callback{Token: "rt", Pending: pendingFrom(t, begin)})
	require.NoError(t, res.Err)
	assert.Equal(t, "/", res.Response.Location())
}

func TestComplete_UserStoreFailureDoesNotFailSignIn(t *testing.T) {
	fp := newFakeProvider(t)
	users := &recordingUsers{err: errors.New("firestore unavailable")}
	c, _ := newTestCoordinator(fp, WithUserStore(users))

	begin := c.Begin(context.Background(), "fake", "")
	res := c.Complete(context.Background(), "fake", Callback{Token: "rt", Pending: pendingFrom(t, begin)})
	require.NoError(t, res.Err)
	assert.Equal(t, Authenticated, res.State)
}

func TestComplete_Failures(t *testing.T) {
	fp := newFakeProvider(t)
	c, _ := newTestCoordinator(fp)
	begin := c.Begin(context.Background(), "fake", "")
	require.NoError(t, begin.Err)
	validPending := pendingFrom(t, begin)

	tests := []struct {
		name     string
		provider string
		cb       Callback
		wantErr  error
	}{
		{
			name:     "denied",
			provider: "fake",
			cb:       Callback{Denied: "rt", Pending: validPending},
			wantErr:  ErrAuthorizationDenied,
		},
		{
			name:     "missing token",
			provider: "fake",
			cb:       Callback{Pending: validPending},
			wantErr:  ErrMalformedResponse,
		},
		{
			name:     "token not issued here",
			provider: "fake",
			cb:       Callback{Token: "forged", Pending: validPending},
			wantErr:  ErrTokenMismatch,
		},
		{
			name:     "no pending cookie",
			provider: "fake",
			cb:       Callback{Token: "rt"},
			wantErr:  ErrNoPendingHandshake,
		},
		{
			name:     "tampered pending cookie",
			provider: "fake",
			cb:       Callback{Token: "rt", Pending: validPending + "0"},
			wantErr:  ErrTokenMismatch,
		},
		{
			name:     "unknown provider",
			provider: "myspace",
			cb:       Callback{Token: "rt", Pending: validPending},
			wantErr:  ErrUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := fp.accessCalls.Load()
			res := c.Complete(context.Background(), tt.provider, tt.cb)
			assertFailedToLogin(t, res)
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.Equal(t, before, fp.accessCalls.Load(), "no access-token call on a rejected callback")
		})
	}
}

func TestComplete_MalformedAccessToken(t *testing.T) {
	fp := newFakeProvider(t)
	fp.accessToken = func(w http.ResponseWriter, r *http.Request, call int32) {
		fmt.Fprint(w, "oauth_token=at&oauth_token_secret=ats")
	}
	c, _ := newTestCoordinator(fp)

	begin := c.Begin(context.Background(), "fake", "")
	res := c.Complete(context.Background(), "fake", Callback{Token: "rt", Pending: pendingFrom(t, begin)})
	assertFailedToLogin(t, res)
	assert.ErrorIs(t, res.Err, ErrMalformedResponse)
}

func TestComplete_DuplicateCallbacksShareOneCall(t *testing.T) {
	fp := newFakeProvider(t)
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	fp.accessToken = func(w http.ResponseWriter, r *http.Request, call int32) {
		entered <- struct{}{}
		<-release
		fmt.Fprint(w, "oauth_token=at&oauth_token_secret=ats&user_id=42&screen_name=ada")
	}
	c, _ := newTestCoordinator(fp)

	begin := c.Begin(context.Background(), "fake", "")
	cb := Callback{Token: "rt", Pending: pendingFrom(t, begin)}

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Complete(context.Background(), "fake", cb)
		}(i)
		if i == 0 {
			<-entered
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fp.accessCalls.Load())
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, "42", res.Session.UID)
	}
}

func TestComplete_DuplicateCallbackSurvivesFirstClientLeaving(t *testing.T) {
	fp := newFakeProvider(t)
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	fp.accessToken = func(w http.ResponseWriter, r *http.Request, call int32) {
		entered <- struct{}{}
		<-release
		fmt.Fprint(w, "oauth_token=at&oauth_token_secret=ats&user_id=42&screen_name=ada")
	}
	c, _ := newTestCoordinator(fp)

	begin := c.Begin(context.Background(), "fake", "")
	cb := Callback{Token: "rt", Pending: pendingFrom(t, begin)}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan Result, 1)
	go func() { first <- c.Complete(firstCtx, "fake", cb) }()
	<-entered

	second := make(chan Result, 1)
	go func() { second <- c.Complete(context.Background(), "fake", cb) }()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	var res Result
	select {
	case res = <-first:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("cancelled caller kept waiting on the shared call")
	}
	assertFailedToLogin(t, res)
	assert.ErrorIs(t, res.Err, ErrProviderUnreachable)
	assert.ErrorIs(t, res.Err, context.Canceled)

	close(release)
	res = <-second
	require.NoError(t, res.Err)
	assert.Equal(t, Authenticated, res.State)
	assert.Equal(t, "42", res.Session.UID)
	assert.Equal(t, int32(1), fp.accessCalls.Load())
}

func TestCallbackFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/fake/callback?oauth_token=rt&oauth_verifier=v", nil)
	req.Header.Set("Cookie", cookie.PendingCookie+"=abc|1|ff; other=1")

	cb := CallbackFromRequest(req)
	assert.Equal(t, Callback{Token: "rt", Verifier: "v", Pending: "abc|1|ff"}, cb)

	bare := CallbackFromRequest(httptest.NewRequest(http.MethodGet, "/auth/fake/callback?denied=rt", nil))
	assert.Equal(t, Callback{Denied: "rt"}, bare)
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                     "",
		"/":                    "/",
		"/me?tab=1":            "/me?tab=1",
		"//evil.example.com":   "",
		"/\\evil.example.com":  "",
		"https://evil.example": "",
		"me":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeNext(in), "SafeNext(%q)", in)
	}
}
