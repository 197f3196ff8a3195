package helpers

import (
	"strings"
)

// TruncateString truncates a string to the specified length and adds an ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// SanitizeCommitMessage removes any unwanted characters from a commit message
func SanitizeCommitMessage(message string) string {
	message = strings.TrimSpace(message)
	message = strings.ReplaceAll(message, "\r\n", "\n")
	for strings.Contains(message, "\n\n\n") {
		message = strings.ReplaceAll(message, "\n\n\n", "\n\n")
	}
	return message
}

// ComposeMessage joins a subject line and an optional body into a commit message
func ComposeMessage(subject, body string) string {
	subject = strings.TrimSpace(subject)
	body = SanitizeCommitMessage(body)
	if body == "" || body == subject {
		return subject
	}
	body = strings.TrimPrefix(body, subject+"\n\n")
	return subject + "\n\n" + body
}

// Indent prefixes every line of s with prefix
func Indent(s, prefix string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
