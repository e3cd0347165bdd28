package utils

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var nameCaser = cases.Title(language.English, cases.NoLower)

// Collapses whitespace and capitalizes the first letter of each word. Letters
// the user typed in upper case stay that way, and punctuation is kept.
func CleanupName(s string) string {
	return nameCaser.String(strings.Join(strings.Fields(s), " "))
}
