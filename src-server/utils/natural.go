package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted before falling back to natural language.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// Turns user input into a time. Accepts unix seconds, a handful of layouts in
// the configured timezone, and phrases like "next friday at 3pm" relative to
// base.
func (as *AppState) ParseDate(text string, base time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("ParseDate: date is blank")
	}
	if unix, err := strconv.ParseInt(text, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}

	loc := as.Config.GetLocation()
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t.UTC(), nil
		}
	}

	result, err := as.When.Parse(text, base.In(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("ParseDate: %w", err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("ParseDate: can't understand %q", text)
	}
	return result.Time.UTC(), nil
}
