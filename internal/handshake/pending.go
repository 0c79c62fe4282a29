package handshake

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/traduwiki/internal/securecookie"
)

// PendingTTL bounds how long a user may spend on the provider's authorize page.
const PendingTTL = 10 * time.Minute

// RequestToken is the temporary credential from the first leg.
type RequestToken struct {
	Token       string
	TokenSecret string
}

// AccessToken is the credential from the second leg. It is folded into the
// session and never stored.
type AccessToken struct {
	Token       string
	TokenSecret string
	UserID      string
	ScreenName  string
}

// pending is what survives the redirect to the provider.
type pending struct {
	Provider string
	Token    RequestToken
	Next     string
}

func (p pending) encode() []byte {
	v := url.Values{
		"provider": {p.Provider},
		"token":    {p.Token.Token},
		"secret":   {p.Token.TokenSecret},
	}
	if p.Next != "" {
		v.Set("next", p.Next)
	}
	return []byte(v.Encode())
}

func decodePending(codec securecookie.Codec, raw string, now time.Time) (pending, error) {
	payload, err := codec.Decode(raw, now)
	if err != nil {
		return pending{}, err
	}
	v, err := url.ParseQuery(string(payload))
	if err != nil {
		return pending{}, fmt.Errorf("%w: %v", securecookie.ErrMalformed, err)
	}
	p := pending{
		Provider: v.Get("provider"),
		Token:    RequestToken{Token: v.Get("token"), TokenSecret: v.Get("secret")},
		Next:     v.Get("next"),
	}
	if p.Provider == "" || p.Token.Token == "" {
		return pending{}, fmt.Errorf("%w: incomplete pending token", securecookie.ErrMalformed)
	}
	return p, nil
}

// SafeNext keeps only same-origin absolute paths so the post-login redirect
// cannot leave the site.
func SafeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return next
}
