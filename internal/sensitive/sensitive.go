// Package sensitive recognises clipboard text that looks like a password or
// token so it can be masked and expired.
package sensitive

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MinLength = 8
	MaxLength = 128

	// MaskPrefix starts the preview stored for sensitive items.
	MaskPrefix = "[sensitive] "
	maskRune   = "•"
	maxMask    = 12
)

var hexColorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{3,8}$`)

// exclusion is a shape of text that is never treated as a secret even when
// it has enough character classes.
type exclusion struct {
	name  string
	match func(t string) bool
}

// exclusions are checked in order; the first match wins.
var exclusions = []exclusion{
	{"path", func(t string) bool {
		return strings.HasPrefix(t, "/") || strings.HasPrefix(t, "~")
	}},
	{"url", func(t string) bool {
		return strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://")
	}},
	{"hex_color", hexColorRegex.MatchString},
	{"email", func(t string) bool {
		at := strings.LastIndex(t, "@")
		return at >= 0 && strings.Contains(t[at+1:], ".")
	}},
	{"number", isDigits},
}

// IsSensitive reports whether text looks like a secret: a single line of
// 8 to 128 characters without spaces that mixes at least three of upper
// case, lower case, digits and other characters.
func IsSensitive(text string) bool {
	if strings.ContainsAny(text, "\n\r") {
		return false
	}

	t := strings.TrimSpace(text)
	if n := utf8.RuneCountInString(t); n < MinLength || n > MaxLength {
		return false
	}
	if strings.Contains(t, " ") {
		return false
	}

	if Excluded(t) != "" {
		return false
	}

	return classCount(t) >= 3
}

// Excluded returns the name of the first exclusion t matches, or "".
func Excluded(t string) string {
	for _, ex := range exclusions {
		if ex.match(t) {
			return ex.name
		}
	}
	return ""
}

func isDigits(t string) bool {
	if t == "" {
		return false
	}
	for i := 0; i < len(t); i++ {
		if t[i] < '0' || t[i] > '9' {
			return false
		}
	}
	return true
}

func classCount(t string) int {
	var upper, lower, digit, other bool
	for _, r := range t {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			other = true
		}
	}

	n := 0
	for _, present := range []bool{upper, lower, digit, other} {
		if present {
			n++
		}
	}
	return n
}

// Mask returns the preview stored in place of sensitive text.
func Mask(text string) string {
	n := utf8.RuneCountInString(text)
	if n > maxMask {
		n = maxMask
	}
	return MaskPrefix + strings.Repeat(maskRune, n)
}
