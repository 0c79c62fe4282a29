// Package oauth1 signs outbound OAuth 1.0a requests with HMAC-SHA1.
package oauth1

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

const (
	SignatureMethod = "HMAC-SHA1"
	Version         = "1.0"
)

// Param is a single protocol parameter.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter list. Order is significant: it is the
// order parameters are serialized into the signature base string.
type Params []Param

// Add returns a copy of p with key=value appended.
func (p Params) Add(key, value string) Params {
	out := make(Params, len(p), len(p)+1)
	copy(out, p)
	return append(out, Param{Key: key, Value: value})
}

// Get returns the first value for key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Sorted returns a copy of p in lexicographic key order, ties broken by value.
func (p Params) Sorted() Params {
	out := make(Params, len(p))
	copy(out, p)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Serialize renders the parameters as percent-encoded key=value pairs joined by '&'.
func (p Params) Serialize() string {
	pairs := make([]string, len(p))
	for i, kv := range p {
		pairs[i] = PercentEncode(kv.Key) + "=" + PercentEncode(kv.Value)
	}
	return strings.Join(pairs, "&")
}

// PercentEncode applies RFC 3986 encoding: only unreserved characters
// (ALPHA, DIGIT, '-', '.', '_', '~') pass through.
func PercentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// BaseString builds METHOD&enc(url)&enc(serialize(params)).
func BaseString(method, rawURL string, params Params) string {
	return strings.ToUpper(method) + "&" + PercentEncode(rawURL) + "&" + PercentEncode(params.Serialize())
}

// SigningKey joins the consumer secret and the token secret. tokenSecret is
// empty until the provider has issued a token.
func SigningKey(consumerSecret, tokenSecret string) string {
	return PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
}

// Sign returns the base64 HMAC-SHA1 of the base string under key. It has no
// hidden inputs: the same arguments always produce the same signature.
func Sign(method, rawURL string, params Params, key string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(BaseString(method, rawURL, params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
