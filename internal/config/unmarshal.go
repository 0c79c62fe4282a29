package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	errConfigValue      = errors.New("config value must be string or {\"$env\": \"VAR\"} reference")
	errUnknownReference = errors.New("unknown reference type in config value")
)

type missingEnvError struct {
	name string
}

func (e *missingEnvError) Error() string {
	return fmt.Sprintf("environment variable %s not set", e.name)
}

// lookupEnv is swapped in tests.
var lookupEnv = os.Getenv

// UnmarshalJSON resolves credential references while parsing the auth section
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		ConsumerKey      json.RawMessage `json:"consumerKey"`
		ConsumerSecret   json.RawMessage `json:"consumerSecret"`
		CallbackURL      json.RawMessage `json:"callbackURL"`
		CookieSecret     json.RawMessage `json:"cookieSecret"`
		CookieName       string          `json:"cookieName"`
		DefaultProvider  string          `json:"defaultProvider"`
		HandshakeTimeout string          `json:"handshakeTimeout"`
		HandshakeRetries *int            `json:"handshakeRetries"`
		Providers        Providers       `json:"providers"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.CookieName = raw.CookieName
	a.DefaultProvider = raw.DefaultProvider
	a.Providers = raw.Providers
	a.HandshakeRetries = -1
	if raw.HandshakeRetries != nil {
		a.HandshakeRetries = *raw.HandshakeRetries
	}

	if raw.HandshakeTimeout != "" {
		timeout, err := time.ParseDuration(raw.HandshakeTimeout)
		if err != nil {
			return fmt.Errorf("parsing handshakeTimeout: %w", err)
		}
		a.HandshakeTimeout = timeout
	}

	fields := []struct {
		name string
		raw  json.RawMessage
		set  func(string)
	}{
		{"consumerKey", raw.ConsumerKey, func(v string) { a.ConsumerKey = v }},
		{"consumerSecret", raw.ConsumerSecret, func(v string) { a.ConsumerSecret = Secret(v) }},
		{"callbackURL", raw.CallbackURL, func(v string) { a.CallbackURL = v }},
		{"cookieSecret", raw.CookieSecret, func(v string) { a.CookieSecret = Secret(v) }},
	}
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		value, err := ParseConfigValue(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", f.name, err)
		}
		f.set(value)
	}

	return nil
}

// UnmarshalJSON parses the cache TTL from its string form
func (c *CacheConfig) UnmarshalJSON(data []byte) error {
	type rawCache struct {
		Kind  string   `json:"kind"`
		Addrs []string `json:"addrs"`
		TTL   string   `json:"ttl"`
	}

	var raw rawCache
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Kind = raw.Kind
	c.Addrs = raw.Addrs
	if raw.TTL != "" {
		ttl, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return fmt.Errorf("parsing cache ttl: %w", err)
		}
		c.TTL = ttl
	}
	return nil
}
