// Package csrf issues the per-client anti-forgery token and checks it on
// state-changing requests.
//
// The token lives in the _xsrf cookie. Once issued it is reused verbatim for
// as long as the cookie lives; it is never rotated mid-session.
package csrf

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/dgellow/traduwiki/internal/cookie"
	"github.com/dgellow/traduwiki/internal/cookiejar"
	jsonwriter "github.com/dgellow/traduwiki/internal/json"
	"github.com/dgellow/traduwiki/internal/log"
	"github.com/dgellow/traduwiki/internal/response"
	"github.com/google/uuid"
)

const (
	// FieldName is the form field forms embed the token in.
	FieldName = "xsrf"
	// HeaderName lets scripts send the token without a form body.
	HeaderName = "X-XSRF-Token"
)

var (
	ErrMissingCookie = errors.New("csrf: no _xsrf cookie")
	ErrMissingToken  = errors.New("csrf: no token submitted")
	ErrMismatch      = errors.New("csrf: token mismatch")
)

// Manager issues and verifies tokens.
type Manager struct {
	now      func() time.Time
	newToken func() (string, error)
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a token manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now:      time.Now,
		newToken: NewToken,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewToken returns hex(sha256(uuid)).
func NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	sum := sha256.Sum256([]byte(id.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Token returns the token bound to r's _xsrf cookie. When the request has no
// such cookie a new token is generated and the returned builder sets it for
// one month.
func (m *Manager) Token(r *http.Request, rb response.Builder) (string, response.Builder, error) {
	if jar, ok := cookiejar.FromRequest(r); ok {
		if token, ok := jar.Get(cookie.CSRFCookie); ok && token != "" {
			return token, rb, nil
		}
	}

	token, err := m.newToken()
	if err != nil {
		return "", rb, err
	}
	log.LogTraceWithFields("csrf", "Issued new token", nil)
	return token, rb.WithCookie(cookie.CSRF(token, m.now().AddDate(0, 1, 0))), nil
}

// HiddenField renders the token as a hidden form input.
func HiddenField(token string) template.HTML {
	return template.HTML(`<input type="hidden" name="` + FieldName + `" value="` + template.HTMLEscapeString(token) + `"/>`)
}

// Verify checks that r submitted the token bound to its _xsrf cookie, either
// in the X-XSRF-Token header or the xsrf form field.
func (m *Manager) Verify(r *http.Request) error {
	jar, ok := cookiejar.FromRequest(r)
	if !ok {
		return ErrMissingCookie
	}
	expected, ok := jar.Get(cookie.CSRFCookie)
	if !ok || expected == "" {
		return ErrMissingCookie
	}

	submitted := r.Header.Get(HeaderName)
	if submitted == "" {
		submitted = r.PostFormValue(FieldName)
	}
	if submitted == "" {
		return ErrMissingToken
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) != 1 {
		return ErrMismatch
	}
	return nil
}

// Middleware rejects state-changing requests that fail Verify with 403.
// Safe methods pass through untouched.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}

		if err := m.Verify(r); err != nil {
			log.LogWarnWithFields("csrf", "Rejected request", map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"error":  err.Error(),
			})
			jsonwriter.WriteForbidden(w, "Invalid or missing xsrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
