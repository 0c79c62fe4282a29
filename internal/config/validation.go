package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) errorf(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) warnf(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes is ValidateFile on an in-memory document.
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.errorf("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.errorf("version", "version field is required. Hint: Add \"version\": %q", SupportedVersion)
	} else if version != SupportedVersion {
		result.errorf("version", "unsupported version '%s' - use '%s'", version, SupportedVersion)
	}

	validateAuthStructure(rawConfig, result)
	validateStorageStructure(rawConfig, result)

	return result
}

func validateAuthStructure(rawConfig map[string]any, result *ValidationResult) {
	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		result.errorf("auth", "auth field is required and must be an object")
		return
	}

	for _, name := range []string{"consumerKey", "callbackURL"} {
		if _, exists := auth[name]; !exists {
			result.errorf("auth."+name, "%s is required", name)
		}
	}
	for _, name := range secretFields {
		value, exists := auth[name]
		if !exists {
			result.errorf("auth."+name, "%s is required", name)
			continue
		}
		ref, isMap := value.(map[string]any)
		if !isMap {
			result.errorf("auth."+name, "%s must use {\"$env\": \"VAR_NAME\"} format", name)
			continue
		}
		if _, hasEnv := ref["$env"]; !hasEnv {
			result.errorf("auth."+name, "%s must use {\"$env\": \"VAR_NAME\"} format", name)
		}
	}

	if raw, ok := auth["handshakeTimeout"].(string); ok {
		if _, err := time.ParseDuration(raw); err != nil {
			result.errorf("auth.handshakeTimeout", "invalid duration %q. Hint: use values like \"10s\"", raw)
		}
	}
	if raw, ok := auth["handshakeRetries"].(float64); ok && raw > 3 {
		result.warnf("auth.handshakeRetries", "%v retries holds the user's request open for a long time", raw)
	}

	providers, _ := auth["providers"].(map[string]any)
	for name, v := range providers {
		p, ok := v.(map[string]any)
		if !ok {
			result.errorf("auth.providers."+name, "provider must be an object")
			continue
		}
		for _, field := range []string{"host", "requestTokenPath", "accessTokenPath", "authorizePath"} {
			if s, _ := p[field].(string); s == "" {
				result.errorf("auth.providers."+name+"."+field, "%s is required", field)
			}
		}
	}
	if def, ok := auth["defaultProvider"].(string); ok && len(providers) > 0 {
		if _, exists := providers[def]; !exists {
			result.errorf("auth.defaultProvider", "provider %q is not declared in auth.providers", def)
		}
	}
}

func validateStorageStructure(rawConfig map[string]any, result *ValidationResult) {
	storage, ok := rawConfig["storage"].(map[string]any)
	if !ok {
		return
	}

	kind, _ := storage["kind"].(string)
	switch kind {
	case "", StorageMemory:
		if kind == StorageMemory {
			result.warnf("storage.kind", "memory storage loses users on restart")
		}
	case StorageFirestore:
		if s, _ := storage["gcpProject"].(string); s == "" {
			result.errorf("storage.gcpProject", "gcpProject is required when using firestore storage")
		}
	default:
		result.errorf("storage.kind", "unknown storage kind %q (memory or firestore)", kind)
	}

	cache, ok := storage["cache"].(map[string]any)
	if !ok {
		return
	}
	cacheKind, _ := cache["kind"].(string)
	switch cacheKind {
	case "", CacheNone, CacheMemory:
	case CacheValkey:
		if addrs, _ := cache["addrs"].([]any); len(addrs) == 0 {
			result.errorf("storage.cache.addrs", "addrs is required when using valkey cache")
		}
	default:
		result.errorf("storage.cache.kind", "unknown cache kind %q (none, memory or valkey)", cacheKind)
	}
	if raw, ok := cache["ttl"].(string); ok {
		if ttl, err := time.ParseDuration(raw); err != nil {
			result.errorf("storage.cache.ttl", "invalid duration %q", raw)
		} else if ttl < 0 {
			result.errorf("storage.cache.ttl", "ttl cannot be negative")
		} else if ttl > 0 && ttl < time.Millisecond {
			result.errorf("storage.cache.ttl", "ttl must be at least 1ms")
		}
	}
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.warnf(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
