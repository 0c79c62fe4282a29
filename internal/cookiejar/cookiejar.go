// Package cookiejar reads the cookies a user agent transmitted with a request.
//
// It deliberately works on the raw Cookie header rather than net/http's
// parser: values are returned exactly as sent (no quote stripping, no
// validation), which is what signed cookie verification needs.
package cookiejar

import (
	"net/http"
	"strings"
)

// Jar maps cookie names to their raw values.
type Jar map[string]string

// Parse splits a raw Cookie header into a Jar. When present is false the
// user agent sent no Cookie header at all and Parse returns (nil, false);
// callers can tell that apart from a header that held no matching cookie.
func Parse(raw string, present bool) (Jar, bool) {
	if !present {
		return nil, false
	}

	jar := make(Jar)
	for _, segment := range strings.Split(raw, ";") {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		name, value, _ := strings.Cut(segment, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		jar[name] = strings.TrimSpace(value)
	}
	return jar, true
}

// FromRequest parses every Cookie header of r. It reports false when the
// request carried no Cookie header.
func FromRequest(r *http.Request) (Jar, bool) {
	values, ok := r.Header["Cookie"]
	if !ok {
		return nil, false
	}
	return Parse(strings.Join(values, ";"), true)
}

// Get returns the value of name and whether it was transmitted.
func (j Jar) Get(name string) (string, bool) {
	v, ok := j[name]
	return v, ok
}
