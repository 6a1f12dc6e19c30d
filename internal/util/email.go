package util

import "strings"

// NormalizeEmail lowercases and trims an address. Empty stays empty.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// FullName joins first and last names the way providers send them, skipping empty parts.
func FullName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
