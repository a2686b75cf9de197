package config

import "strings"

// IsValidChannel checks a public channel username: 5-32 characters of
// letters, digits and underscores
func IsValidChannel(name string) bool {
	if len(name) < 5 || len(name) > 32 {
		return false
	}
	for _, char := range name {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_') {
			return false
		}
	}
	return true
}

// SanitizeChannel strips a leading @ or t.me prefix and trailing slashes
func SanitizeChannel(name string) string {
	name = strings.TrimSpace(name)
	for _, prefix := range []string{"https://t.me/s/", "https://t.me/", "t.me/", "@"} {
		name = strings.TrimPrefix(name, prefix)
	}
	return strings.TrimRight(name, "/ ")
}

func sanitizeChannels(names []string) []string {
	var out []string
	for _, name := range names {
		if name = SanitizeChannel(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
