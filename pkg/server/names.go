package server

import (
	"fmt"
	"math/rand/v2"
	"unicode"
	"unicode/utf8"
)

// MaxUsernameLength is the longest display name kept as given, in characters
const MaxUsernameLength = 32

// NormalizeUsername returns name if it is acceptable as a display name, or a
// placeholder "User<n>" if it is empty, too long, or contains a character
// that is neither a letter, a number nor ASCII punctuation.
func NormalizeUsername(name string) string {
	if validUsername(name) {
		return name
	}
	return placeholderUsername()
}

func validUsername(name string) bool {
	if name == "" || !utf8.ValidString(name) || utf8.RuneCountInString(name) > MaxUsernameLength {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) && !isASCIIPunct(r) {
			return false
		}
	}
	return true
}

func isASCIIPunct(r rune) bool {
	return r < utf8.RuneSelf && unicode.IsPrint(r) && !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' '
}

func placeholderUsername() string {
	return fmt.Sprintf("User%d", rand.IntN(32768))
}
