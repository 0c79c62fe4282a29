// Package handshake runs the three-legged OAuth 1.0a sign-in against an
// identity provider and turns its outcome into a response to write.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/sync/singleflight"

	"github.com/dgellow/traduwiki/internal/config"
	"github.com/dgellow/traduwiki/internal/cookie"
	"github.com/dgellow/traduwiki/internal/cookiejar"
	"github.com/dgellow/traduwiki/internal/ioutil"
	"github.com/dgellow/traduwiki/internal/log"
	"github.com/dgellow/traduwiki/internal/oauth1"
	"github.com/dgellow/traduwiki/internal/response"
	"github.com/dgellow/traduwiki/internal/securecookie"
	"github.com/dgellow/traduwiki/internal/session"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetries    = 1
	DefaultRetryDelay = 250 * time.Millisecond

	// FailureCode is appended to the login URL as ?error= on failure.
	FailureCode = "handshake_failed"

	maxBodySize = 64 * 1024
)

// UserStore records users that completed the handshake.
type UserStore interface {
	Upsert(ctx context.Context, uid, nickname string) error
}

// Result is the outcome of one leg. Response is complete and ready to be
// written; callers never add to a failed result.
type Result struct {
	State    State
	Response response.Builder
	Session  session.Session
	Err      error
}

// Callback is what the provider sent back to the callback URL, plus the
// pending cookie if the user agent still has it.
type Callback struct {
	Token    string
	Verifier string
	Denied   string
	Pending  string
}

// CallbackFromRequest extracts the callback parameters and pending cookie.
func CallbackFromRequest(r *http.Request) Callback {
	q := r.URL.Query()
	cb := Callback{
		Token:    q.Get("oauth_token"),
		Verifier: q.Get("oauth_verifier"),
		Denied:   q.Get("denied"),
	}
	if jar, ok := cookiejar.FromRequest(r); ok {
		cb.Pending, _ = jar.Get(cookie.PendingCookie)
	}
	return cb
}

// Coordinator drives handshakes. It is safe for concurrent use and holds no
// per-user state.
type Coordinator struct {
	providers config.Providers
	creds     config.Credentials
	sessions  *session.Manager
	pending   securecookie.Codec

	client     *http.Client
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	now        func() time.Time
	nonce      func() (string, error)
	users      UserStore
	loginURL   string
	homeURL    string

	// inflight collapses duplicate callbacks for the same request token.
	inflight singleflight.Group
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithHTTPClient replaces the pooled client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) {
		c.client = client
	}
}

// WithTimeout bounds each outbound attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a failed call is retried.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.retryDelay = d
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithNonceSource overrides nonce generation (for testing).
func WithNonceSource(nonce func() (string, error)) Option {
	return func(c *Coordinator) {
		c.nonce = nonce
	}
}

// WithUserStore records authenticated users.
func WithUserStore(users UserStore) Option {
	return func(c *Coordinator) {
		c.users = users
	}
}

// WithLoginURL sets where failed handshakes are redirected.
func WithLoginURL(u string) Option {
	return func(c *Coordinator) {
		c.loginURL = u
	}
}

// WithHomeURL sets where successful handshakes land by default.
func WithHomeURL(u string) Option {
	return func(c *Coordinator) {
		c.homeURL = u
	}
}

// NewCoordinator creates a coordinator for the given provider table.
func NewCoordinator(providers config.Providers, creds config.Credentials, sessions *session.Manager, opts ...Option) *Coordinator {
	c := &Coordinator{
		providers:  providers,
		creds:      creds,
		sessions:   sessions,
		pending:    securecookie.NewCodec([]byte(creds.CookieSecret), PendingTTL),
		client:     cleanhttp.DefaultPooledClient(),
		timeout:    DefaultTimeout,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		nonce:      oauth1.NewNonce,
		loginURL:   config.DefaultLoginURL,
		homeURL:    "/",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin runs the first leg: obtain a request token and send the user agent
// to the provider's authorize page. next is where to land after sign-in.
func (c *Coordinator) Begin(ctx context.Context, providerName, next string) Result {
	m := &machine{state: Init}
	if err := m.to(RequestTokenPending); err != nil {
		return c.fail(m, providerName, err)
	}

	p, ok := c.providers.Get(providerName)
	if !ok {
		return c.fail(m, providerName, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName))
	}

	values, err := c.call(ctx, providerName, p, p.RequestTokenURL(), "", "", "")
	if err != nil {
		return c.fail(m, providerName, err)
	}
	token := RequestToken{Token: values.Get("oauth_token"), TokenSecret: values.Get("oauth_token_secret")}
	if token.Token == "" || token.TokenSecret == "" {
		return c.fail(m, providerName, fmt.Errorf("%w: request token missing oauth_token or oauth_token_secret", ErrMalformedResponse))
	}

	if err := m.to(AwaitingAuthorization); err != nil {
		return c.fail(m, providerName, err)
	}

	authorize, err := url.Parse(p.AuthorizeURL())
	if err != nil {
		return c.fail(m, providerName, fmt.Errorf("parsing authorize URL: %w", err))
	}
	q := authorize.Query()
	q.Set("oauth_token", token.Token)
	q.Set("oauth_callback", c.creds.CallbackFor(p))
	authorize.RawQuery = q.Encode()

	now := c.now()
	state := pending{Provider: providerName, Token: token, Next: SafeNext(next)}
	pendingCookie := cookie.Pending(c.pending.Encode(state.encode(), now), c.pending.Expiry(now))

	log.LogInfoWithFields("handshake", "Redirecting to provider for authorization", map[string]any{
		"provider": providerName,
	})

	return Result{
		State:    m.state,
		Response: response.New().WithCookie(pendingCookie).Redirect(authorize.String()),
	}
}

// Complete runs the second leg: trade the authorized request token for an
// access token, record the user and mint the session cookie.
func (c *Coordinator) Complete(ctx context.Context, providerName string, cb Callback) Result {
	m := &machine{state: Init}
	if err := m.to(AccessTokenPending); err != nil {
		return c.fail(m, providerName, err)
	}

	p, ok := c.providers.Get(providerName)
	if !ok {
		return c.fail(m, providerName, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName))
	}
	if cb.Denied != "" {
		return c.fail(m, providerName, ErrAuthorizationDenied)
	}
	if cb.Token == "" {
		return c.fail(m, providerName, fmt.Errorf("%w: callback without oauth_token", ErrMalformedResponse))
	}

	if cb.Pending == "" {
		return c.fail(m, providerName, fmt.Errorf("%w: %w", ErrTokenMismatch, ErrNoPendingHandshake))
	}
	state, err := decodePending(c.pending, cb.Pending, c.now())
	if err != nil {
		return c.fail(m, providerName, fmt.Errorf("%w: %v", ErrTokenMismatch, err))
	}
	if state.Provider != providerName || state.Token.Token != cb.Token {
		return c.fail(m, providerName, ErrTokenMismatch)
	}

	v, shared, err := c.sharedAccessToken(ctx, providerName, p, cb, state.Token.TokenSecret)
	if err != nil {
		return c.fail(m, providerName, err)
	}
	access := v.(AccessToken)
	if shared {
		log.LogDebugWithFields("handshake", "Shared access token call with concurrent callback", map[string]any{
			"provider": providerName,
		})
	}

	if err := m.to(Authenticated); err != nil {
		return c.fail(m, providerName, err)
	}

	s := session.Session{UID: access.UserID, Nickname: access.ScreenName}
	if c.users != nil {
		if err := c.users.Upsert(ctx, s.UID, s.Nickname); err != nil {
			log.LogErrorWithFields("handshake", "Failed to record user", map[string]any{
				"provider": providerName,
				"uid":      s.UID,
				"error":    err.Error(),
			})
		}
	}

	log.LogInfoWithFields("handshake", "User authenticated", map[string]any{
		"provider": providerName,
		"uid":      s.UID,
		"nickname": s.Nickname,
	})

	target := c.homeURL
	if state.Next != "" {
		target = state.Next
	}
	return Result{
		State:   m.state,
		Session: s,
		Response: response.New().
			WithCookie(c.sessions.Issue(s)).
			WithCookie(cookie.Clear(cookie.PendingCookie)).
			Redirect(target),
	}
}

// sharedAccessToken collapses concurrent callbacks for the same token into
// one provider call. The call is detached from any single caller's context
// so one client going away never fails the others; each caller still stops
// waiting when its own ctx is done.
func (c *Coordinator) sharedAccessToken(ctx context.Context, providerName string, p config.ProviderConfig, cb Callback, tokenSecret string) (any, bool, error) {
	key := providerName + "\x00" + cb.Token
	ch := c.inflight.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout*time.Duration(c.retries+1)+c.retryDelay*time.Duration(c.retries))
		defer cancel()
		return c.accessToken(callCtx, providerName, p, cb, tokenSecret)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%w: %w", ErrProviderUnreachable, ctx.Err())
	}
}

func (c *Coordinator) accessToken(ctx context.Context, providerName string, p config.ProviderConfig, cb Callback, tokenSecret string) (AccessToken, error) {
	values, err := c.call(ctx, providerName, p, p.AccessTokenURL(), cb.Token, tokenSecret, cb.Verifier)
	if err != nil {
		return AccessToken{}, err
	}
	access := AccessToken{
		Token:       values.Get("oauth_token"),
		TokenSecret: values.Get("oauth_token_secret"),
		UserID:      values.Get("user_id"),
		ScreenName:  values.Get("screen_name"),
	}
	if access.UserID == "" {
		return AccessToken{}, fmt.Errorf("%w: access token missing user_id", ErrMalformedResponse)
	}
	return access, nil
}

// call issues one signed GET, retrying network errors and 5xx answers. Each
// attempt is signed again so nonce and timestamp are never reused.
func (c *Coordinator) call(ctx context.Context, providerName string, p config.ProviderConfig, endpoint, token, tokenSecret, verifier string) (url.Values, error) {
	attempt := 0
	operation := func() (url.Values, error) {
		attempt++
		values, err := c.attempt(ctx, p, endpoint, token, tokenSecret, verifier)
		if err != nil {
			log.LogWarnWithFields("handshake", "Provider call failed", map[string]any{
				"provider": providerName,
				"endpoint": endpoint,
				"attempt":  attempt,
				"error":    err.Error(),
			})
		}
		return values, err
	}

	values, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(uint(c.retries+1)),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrProviderUnreachable) {
			return nil, fmt.Errorf("%w: %w", ErrProviderUnreachable, ctxErr)
		}
		return nil, err
	}
	return values, nil
}

func (c *Coordinator) attempt(ctx context.Context, p config.ProviderConfig, endpoint, token, tokenSecret, verifier string) (url.Values, error) {
	nonce, err := c.nonce()
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	signed := oauth1.Request{
		Method:         http.MethodGet,
		URL:            endpoint,
		ConsumerKey:    c.creds.ConsumerKey,
		ConsumerSecret: string(c.creds.ConsumerSecret),
		Token:          token,
		TokenSecret:    tokenSecret,
		Verifier:       verifier,
		Nonce:          nonce,
		Timestamp:      oauth1.Timestamp(c.now(), p.TimestampMillis),
		SortParams:     p.SortParams,
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, signed.Method, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building provider request: %w", err))
	}
	req.Header.Set("Authorization", signed.AuthorizationHeader())

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrProviderUnreachable, ctx.Err()))
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnreachable, resp.StatusCode, ioutil.ReadLimited(resp.Body, 512))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrProviderRejected, resp.StatusCode, ioutil.ReadLimited(resp.Body, 512)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrProviderUnreachable, err)
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	return values, nil
}

// fail moves m to Failed and redirects to the login page. No authorize
// redirect and no session cookie are ever part of a failed result.
func (c *Coordinator) fail(m *machine, providerName string, err error) Result {
	// Init has no edge to Failed; a leg that fails before starting still ends there.
	_ = m.to(Failed)

	log.LogErrorWithFields("handshake", "Handshake failed", map[string]any{
		"provider": providerName,
		"error":    err.Error(),
	})

	target := FailureCode
	if u, perr := url.Parse(c.loginURL); perr == nil {
		q := u.Query()
		q.Set("error", FailureCode)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	return Result{
		State:    Failed,
		Err:      err,
		Response: response.New().WithCookie(cookie.Clear(cookie.PendingCookie)).Redirect(target),
	}
}
