package server

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var placeholderPattern = regexp.MustCompile(`^User\d+$`)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		name string
		in   string
		keep bool
	}{
		{"simple", "Alice", true},
		{"digits", "bob42", true},
		{"punctuation", "x_y-z.!?", true},
		{"unicode letters", "Zoë日本", true},
		{"exactly 32 chars", strings.Repeat("a", 32), true},
		{"32 multi-byte chars", strings.Repeat("é", 32), true},
		{"superscript digit", "x\u00b2", true},
		{"roman numeral", "\u216b", true},
		{"vulgar fraction", "half\u00bd", true},
		{"empty", "", false},
		{"33 chars", strings.Repeat("a", 33), false},
		{"space", "Alice Smith", false},
		{"emoji", "cool🎉", false},
		{"control character", "bad\nname", false},
		{"invalid utf8", string([]byte{0xff}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeUsername(tt.in)
			if tt.keep {
				assert.Equal(t, tt.in, got)
			} else {
				assert.Regexp(t, placeholderPattern, got)
				assert.NotEqual(t, tt.in, got)
			}
		})
	}
}

func TestPlaceholderIsValid(t *testing.T) {
	for i := 0; i < 100; i++ {
		name := placeholderUsername()
		assert.True(t, validUsername(name), name)
	}
}

func TestASCIIPunctuation(t *testing.T) {
	for _, r := range "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~" {
		assert.True(t, isASCIIPunct(r), "%q", r)
	}
	for _, r := range " a1\t\x7f«" {
		assert.False(t, isASCIIPunct(r), "%q", r)
	}
}
