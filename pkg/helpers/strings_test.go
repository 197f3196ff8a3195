package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	assert.Equal(t, "abcdef", TruncateString("abcdef", 0))
}

func TestSanitizeCommitMessage(t *testing.T) {
	assert.Equal(t, "a\n\nb", SanitizeCommitMessage("  a\r\n\r\n\r\n\r\n\r\nb \n"))
}

func TestComposeMessage(t *testing.T) {
	tests := []struct {
		subject, body, want string
	}{
		{"Add parser", "", "Add parser"},
		{"Add parser", "  \n", "Add parser"},
		{"Add parser", "Adds the lexer.", "Add parser\n\nAdds the lexer."},
		{"Add parser", "Add parser\n\nAdds the lexer.", "Add parser\n\nAdds the lexer."},
		{"Add parser", "Add parser", "Add parser"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ComposeMessage(tt.subject, tt.body))
	}
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n  b", Indent("a\nb\n", "  "))
	assert.Equal(t, "", Indent("", "  "))
}
