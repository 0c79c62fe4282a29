package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/traduwiki/internal/envutil"
	"github.com/dgellow/traduwiki/internal/log"
)

// Cookie names used by traduwiki
const (
	DefaultSessionCookie = "traduwiki"
	CSRFCookie           = "_xsrf"
	PendingCookie        = "_oauth_pending"
)

// Session builds the signed session cookie. It is HttpOnly and expires
// together with the signature embedded in value.
func Session(name, value string, expires time.Time) *http.Cookie {
	secure := !envutil.IsDev()
	log.LogTraceWithFields("cookie", "Session cookie built", map[string]any{
		"name":    name,
		"expires": expires.UTC().Format(http.TimeFormat),
		"secure":  secure,
	})
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// CSRF builds the anti-forgery cookie. Scripts may read it so they can echo
// it in the X-XSRF-Token header.
func CSRF(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CSRFCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
	}
}

// Pending builds the short-lived cookie that carries the request token
// across the provider redirect. Lax so it survives the top-level callback.
func Pending(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     PendingCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
	}
}

// Clear builds a cookie that deletes name on the client.
func Clear(name string) *http.Cookie {
	return &http.Cookie{
		Name:    name,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	}
}
