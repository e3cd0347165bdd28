package ical

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const maxLineOctets = 75

// Transform a normal writer into one that writes a whole content line,
// folding it every 75 octets and terminating it with CRLF. Example:
//
//	var sb strings.Builder
//	writer := Split75wrapper(sb.WriteString)
//	writer("DESCRIPTION:" + strings.Repeat("a", 100))
//
// Output:
//
//	`DESCRIPTION:aaa...a\r\n
//	 aaa...a\r\n`
func Split75wrapper(writer func(string) (int, error)) func(string) (int, error) {
	return func(str string) (int, error) {
		written := 0
		limit := maxLineOctets
		for first := true; first || str != ""; first = false {
			end := len(str)
			if end > limit {
				end = limit
				// don't cut a multi-byte character in half
				for end > 0 && !utf8.RuneStart(str[end]) {
					end--
				}
			}
			chunk := str[:end]
			str = str[end:]
			if !first {
				chunk = " " + chunk
			}
			n, err := writer(chunk + "\r\n")
			written += n
			if err != nil {
				return written, err
			}
			// the leading space counts towards the limit
			limit = maxLineOctets - 1
		}
		return written, nil
	}
}

// Convert a time to a string in iCalendar UTC format: YYYYMMDDTHHMMSSZ
func TimeToIcalDatetime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// Create a new iCalendar-compatible common name.
//
// The name and email must not contain any of the following characters:
// `:`, `;`, `,`, `\n`, `\r`, `\t`.
func NewCommonName(name string, email string) (string, error) {
	prohibitChars := []string{":", ";", ",", "\n", "\r", "\t"}
	for _, c := range prohibitChars {
		if strings.Contains(name, c) || strings.Contains(email, c) {
			return "", fmt.Errorf("name and email must not contain %s", c)
		}
	}
	if name == "" || email == "" {
		return "", fmt.Errorf("name and email must not be empty")
	}
	return fmt.Sprintf("CN=%s:mailto:%s", name, email), nil
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	",", `\,`,
	"\r\n", `\n`,
	"\n", `\n`,
)

// Escape a TEXT value per RFC5545 3.3.11.
func escapeText(s string) string {
	return textEscaper.Replace(s)
}
