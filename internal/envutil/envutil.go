package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether TRADUWIKI_ENV selects development mode, where
// cookies are sent without the Secure flag so plain-http localhost works.
func IsDev() bool {
	switch strings.ToLower(os.Getenv("TRADUWIKI_ENV")) {
	case "development", "dev":
		return true
	}
	return false
}
