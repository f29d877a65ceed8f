package inject

import "strings"

// restrictedPrefixes are URL schemes where the browser refuses script
// execution from automation or extensions.
var restrictedPrefixes = []string{
	"chrome:",
	"chrome-extension:",
	"chrome-search:",
	"chrome-untrusted:",
	"devtools:",
	"edge:",
	"brave:",
	"opera:",
	"moz-extension:",
	"safari-web-extension:",
	"view-source:",
	"about:",
}

// IsRestrictedURL reports whether a page at url must never be injected into.
// An empty URL is treated as restricted.
func IsRestrictedURL(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	if u == "" {
		return true
	}
	for _, p := range restrictedPrefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}
