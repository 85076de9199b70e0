package auth

import "strings"

// ParseAllowedOrigins splits a comma-separated origins value, falling back
// to defaults when the value is empty.
func ParseAllowedOrigins(value string, defaults []string) []string {
	if value == "" {
		return defaults
	}
	parts := strings.Split(value, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return defaults
	}
	return origins
}
