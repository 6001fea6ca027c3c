// Address helpers used by sender filters and sender-based layouts
package utils

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IsValidEmail validates email format
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	return len(email) > 0 && emailRegex.MatchString(email)
}

// ExtractEmail handles "Name <email>" and plain email formats
func ExtractEmail(input string) string {
	input = strings.TrimSpace(input)

	if start := strings.Index(input, "<"); start != -1 {
		if end := strings.Index(input[start:], ">"); end != -1 {
			return strings.TrimSpace(input[start+1 : start+end])
		}
	}

	return input
}

// SenderDirectory turns a From header into a directory name, "unknown_sender" when empty
func SenderDirectory(from string) string {
	addr := strings.ToLower(ExtractEmail(from))
	if addr == "" {
		return "unknown_sender"
	}
	return SanitizeFilename(addr)
}
