// Package response assembles an HTTP response as an immutable value so each
// step of a flow can add cookies or a redirect without sharing a writer.
// Nothing reaches the client until Write is called, once.
package response

import (
	"net/http"
	"slices"
)

// Builder is a value type; every With* method returns a modified copy.
type Builder struct {
	status  int
	headers http.Header
	cookies []*http.Cookie
}

// New returns an empty 200 OK builder.
func New() Builder {
	return Builder{status: http.StatusOK}
}

// WithStatus returns a copy with the status code set.
func (b Builder) WithStatus(status int) Builder {
	b.headers = b.headers.Clone()
	b.cookies = slices.Clone(b.cookies)
	b.status = status
	return b
}

// WithHeader returns a copy with header key set to value.
func (b Builder) WithHeader(key, value string) Builder {
	next := b.WithStatus(b.status)
	if next.headers == nil {
		next.headers = make(http.Header)
	}
	next.headers.Set(key, value)
	return next
}

// WithCookie returns a copy carrying c. A later cookie with the same name and
// path replaces an earlier one.
func (b Builder) WithCookie(c *http.Cookie) Builder {
	next := b.WithStatus(b.status)
	cp := *c
	next.cookies = slices.DeleteFunc(next.cookies, func(existing *http.Cookie) bool {
		return existing.Name == cp.Name && existing.Path == cp.Path
	})
	next.cookies = append(next.cookies, &cp)
	return next
}

// Redirect returns a copy that answers 302 Found with location.
func (b Builder) Redirect(location string) Builder {
	return b.WithStatus(http.StatusFound).WithHeader("Location", location)
}

// Status returns the status code.
func (b Builder) Status() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

// Location returns the redirect target, if any.
func (b Builder) Location() string {
	return b.headers.Get("Location")
}

// Cookie returns the cookie named name that will be set, if any.
func (b Builder) Cookie(name string) (*http.Cookie, bool) {
	for _, c := range b.cookies {
		if c.Name == name {
			cp := *c
			return &cp, true
		}
	}
	return nil, false
}

// Cookies returns copies of every cookie that will be set.
func (b Builder) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, len(b.cookies))
	for i, c := range b.cookies {
		cp := *c
		out[i] = &cp
	}
	return out
}

// Apply copies headers and cookies onto w without writing the status line,
// for handlers that go on to render a body.
func (b Builder) Apply(w http.ResponseWriter) {
	for key, values := range b.headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	for _, c := range b.cookies {
		http.SetCookie(w, c)
	}
}

// Write applies headers and cookies and writes the status line.
func (b Builder) Write(w http.ResponseWriter) {
	b.Apply(w)
	w.WriteHeader(b.Status())
}
