package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dgellow/traduwiki/internal/log"
)

// SupportedVersion is the only config version this build understands.
const SupportedVersion = "v1"

// Defaults applied by Load
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultHandshakeRetries = 1
	DefaultCacheTTL         = 5 * time.Minute
	DefaultLoginURL         = "/login"
	DefaultAddr             = ":8080"
	DefaultCookieName       = "traduwiki"
	DefaultProviderName     = "twitter"
	minCookieSecretLength   = 16
)

// secretFields must be {"$env": ...} references in the file.
var secretFields = []string{"consumerSecret", "cookieSecret"}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse processes config bytes the same way Load does.
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != SupportedVersion {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// validateRawConfig checks, before env resolution, that secrets are not
// written inline in the file.
func validateRawConfig(rawConfig map[string]any) error {
	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		return fmt.Errorf("auth section is required")
	}
	for _, name := range secretFields {
		value, exists := auth[name]
		if !exists {
			return fmt.Errorf("auth.%s is required", name)
		}
		if _, isString := value.(string); isString {
			return fmt.Errorf("auth.%s must use environment variable reference for security", name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("auth.%s must use {\"$env\": \"VAR_NAME\"} format", name)
			}
		}
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = DefaultAddr
	}
	if config.Auth.CookieName == "" {
		config.Auth.CookieName = DefaultCookieName
	}
	if config.Server.LoginURL == "" {
		config.Server.LoginURL = DefaultLoginURL
	}
	if config.Auth.HandshakeTimeout == 0 {
		config.Auth.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.Auth.HandshakeRetries < 0 {
		config.Auth.HandshakeRetries = DefaultHandshakeRetries
	}
	if len(config.Auth.Providers) == 0 {
		config.Auth.Providers = DefaultProviders()
	}
	if config.Auth.DefaultProvider == "" {
		if _, ok := config.Auth.Providers[DefaultProviderName]; ok || len(config.Auth.Providers) != 1 {
			config.Auth.DefaultProvider = DefaultProviderName
		} else {
			config.Auth.DefaultProvider = config.Auth.Providers.Names()[0]
		}
	}
	if config.Storage.Kind == "" {
		config.Storage.Kind = StorageMemory
	}
	if config.Storage.Cache.Kind == "" {
		config.Storage.Cache.Kind = CacheMemory
	}
	if config.Storage.Cache.TTL == 0 {
		config.Storage.Cache.TTL = DefaultCacheTTL
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if config.Server.BaseURL != "" {
		if _, err := url.Parse(config.Server.BaseURL); err != nil {
			return fmt.Errorf("server.baseURL: %w", err)
		}
	}

	if err := validateAuth(&config.Auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := validateStorage(&config.Storage); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

func validateAuth(auth *AuthConfig) error {
	var errs []error
	if auth.ConsumerKey == "" {
		errs = append(errs, fmt.Errorf("consumerKey is required"))
	}
	if auth.ConsumerSecret == "" {
		errs = append(errs, fmt.Errorf("consumerSecret is required"))
	}
	if len(auth.CookieSecret) < minCookieSecretLength {
		errs = append(errs, fmt.Errorf("cookieSecret must be at least %d characters (got %d). Generate with: openssl rand -hex 32", minCookieSecretLength, len(auth.CookieSecret)))
	}
	if auth.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("handshakeTimeout cannot be negative"))
	}
	if auth.HandshakeRetries > 3 {
		log.LogWarn("handshakeRetries is %d; each retry holds the user's request open", auth.HandshakeRetries)
	}

	if _, ok := auth.Providers.Get(auth.DefaultProvider); !ok {
		errs = append(errs, fmt.Errorf("defaultProvider %q is not in the provider table", auth.DefaultProvider))
	}
	for name, p := range auth.Providers {
		if p.Host == "" {
			errs = append(errs, fmt.Errorf("provider %s: host is required", name))
		}
		if p.RequestTokenPath == "" || p.AccessTokenPath == "" || p.AuthorizePath == "" {
			errs = append(errs, fmt.Errorf("provider %s: requestTokenPath, accessTokenPath and authorizePath are required", name))
		}
		if p.Scheme != "" && p.Scheme != "https" && p.Scheme != "http" {
			errs = append(errs, fmt.Errorf("provider %s: scheme must be http or https", name))
		}
		if auth.CallbackFor(p) == "" {
			errs = append(errs, fmt.Errorf("provider %s: no callbackURL configured", name))
		}
	}
	return errors.Join(errs...)
}

func validateStorage(storage *StorageConfig) error {
	switch storage.Kind {
	case StorageMemory:
	case StorageFirestore:
		if storage.GCPProject == "" {
			return fmt.Errorf("gcpProject is required when using firestore storage")
		}
	default:
		return fmt.Errorf("unknown kind %q (memory or firestore)", storage.Kind)
	}

	switch storage.Cache.Kind {
	case CacheNone, CacheMemory:
	case CacheValkey:
		if len(storage.Cache.Addrs) == 0 {
			return fmt.Errorf("cache.addrs is required when using valkey cache")
		}
	default:
		return fmt.Errorf("unknown cache kind %q (none, memory or valkey)", storage.Cache.Kind)
	}
	if storage.Cache.TTL < time.Millisecond {
		return fmt.Errorf("cache.ttl must be at least 1ms (got %s)", storage.Cache.TTL)
	}
	return nil
}
