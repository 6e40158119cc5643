package sensitive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSensitive(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"password like", "Tr0ub4dor&3", true},
		{"two words", "hello world", false},
		{"path", "/home/user/x", false},
		{"single class", "password", false},
		{"upper lower digit", "Abcdefg1", true},
		{"lower digit other", "abc123!?", true},
		{"only two classes", "abcdefg1", false},
		{"too short", "Ab1!", false},
		{"too long", "Aa1!" + strings.Repeat("x", 125), false},
		{"max length", "Aa1!" + strings.Repeat("x", 124), true},
		{"multi line", "Tr0ub4dor&3\nnext", false},
		{"carriage return", "Tr0ub4dor&3\r", false},
		{"surrounding blanks trimmed", "  Tr0ub4dor&3\t", true},
		{"home path", "~/Code/Proj1", false},
		{"url", "https://Example.com/a1", false},
		{"plain url", "http://X1.org/path", false},
		{"hex color", "#A1b2C3", false},
		{"email", "John.Doe1@mail.com", false},
		{"at without domain dot", "Us3r@localhost", true},
		{"digits only", "1234567890", false},
		{"unicode other class", "Pässwort1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSensitive(tt.text))
		})
	}
}

func TestExcluded_Order(t *testing.T) {
	assert.Equal(t, "path", Excluded("/https://x"))
	assert.Equal(t, "url", Excluded("https://a@b.c"))
	assert.Equal(t, "hex_color", Excluded("#abc"))
	assert.Equal(t, "email", Excluded("a@b.c"))
	assert.Equal(t, "number", Excluded("42"))
	assert.Equal(t, "", Excluded("Tr0ub4dor&3"))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "[sensitive] ••••••••", Mask("Abcdefg1"))
	assert.Equal(t, "[sensitive] ••••••••••••", Mask("Tr0ub4dor&3-and-more"))
	assert.True(t, strings.HasPrefix(Mask("x"), MaskPrefix))
}
