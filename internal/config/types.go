package config

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Storage kinds
const (
	StorageMemory    = "memory"
	StorageFirestore = "firestore"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheValkey = "valkey"
)

// ProviderConfig describes one OAuth 1.0a identity provider.
type ProviderConfig struct {
	Host             string `json:"host"`
	Scheme           string `json:"scheme,omitempty"` // defaults to https
	RequestTokenPath string `json:"requestTokenPath"`
	AccessTokenPath  string `json:"accessTokenPath"`
	AuthorizePath    string `json:"authorizePath"`

	// CallbackURL overrides auth.callbackURL for this provider.
	CallbackURL string `json:"callbackURL,omitempty"`

	// SortParams signs parameters in lexicographic order (RFC 5849). Leave
	// off for providers verified against insertion order.
	SortParams bool `json:"sortParams,omitempty"`

	// TimestampMillis sends oauth_timestamp in milliseconds instead of seconds.
	TimestampMillis bool `json:"timestampMillis,omitempty"`
}

func (p ProviderConfig) endpoint(path string) string {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "https"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + p.Host + path
}

// RequestTokenURL is the step-one endpoint.
func (p ProviderConfig) RequestTokenURL() string { return p.endpoint(p.RequestTokenPath) }

// AccessTokenURL is the step-two endpoint.
func (p ProviderConfig) AccessTokenURL() string { return p.endpoint(p.AccessTokenPath) }

// AuthorizeURL is where the user agent is sent to grant access.
func (p ProviderConfig) AuthorizeURL() string { return p.endpoint(p.AuthorizePath) }

// Providers is the provider table keyed by name.
type Providers map[string]ProviderConfig

// Get looks up a provider by name.
func (p Providers) Get(name string) (ProviderConfig, bool) {
	cfg, ok := p[name]
	return cfg, ok
}

// Names returns the provider names in sorted order.
func (p Providers) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultProviders is used when the config declares no provider table.
func DefaultProviders() Providers {
	return Providers{
		"twitter": {
			Host:             "api.twitter.com",
			Scheme:           "https",
			RequestTokenPath: "/oauth/request_token",
			AccessTokenPath:  "/oauth/access_token",
			AuthorizePath:    "/oauth/authorize",
		},
	}
}

// Credentials are supplied by the application and never logged.
type Credentials struct {
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret Secret `json:"consumerSecret"`
	CallbackURL    string `json:"callbackURL"`
	CookieSecret   Secret `json:"cookieSecret"`
}

// CallbackFor returns the callback URL to announce to provider.
func (c Credentials) CallbackFor(p ProviderConfig) string {
	if p.CallbackURL != "" {
		return p.CallbackURL
	}
	return c.CallbackURL
}

// AuthConfig holds the handshake and session settings with resolved values
type AuthConfig struct {
	Credentials
	CookieName       string        `json:"cookieName"`
	DefaultProvider  string        `json:"defaultProvider"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout"`
	HandshakeRetries int           `json:"handshakeRetries"`
	Providers        Providers     `json:"providers"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Addr           string `json:"addr"`
	BaseURL        string `json:"baseURL"`
	LoginURL       string `json:"loginURL"`
	TemplateDir    string `json:"templateDir,omitempty"`
	WatchTemplates bool   `json:"watchTemplates,omitempty"`
}

// CacheConfig selects the cache in front of the document store
type CacheConfig struct {
	Kind  string        `json:"kind"`
	Addrs []string      `json:"addrs,omitempty"`
	TTL   time.Duration `json:"ttl"`
}

// StorageConfig selects the document store
type StorageConfig struct {
	Kind              string      `json:"kind"`
	GCPProject        string      `json:"gcpProject,omitempty"`
	FirestoreDatabase string      `json:"firestoreDatabase,omitempty"`
	CredentialsFile   string      `json:"credentialsFile,omitempty"`
	Cache             CacheConfig `json:"cache"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version string        `json:"version"`
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference resolved immediately.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", errConfigValue
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", errUnknownReference
	}
	value := lookupEnv(envVar)
	if value == "" {
		return "", &missingEnvError{name: envVar}
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
