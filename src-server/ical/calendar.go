// The `ical` package serializes events into iCalendar files.
//
// # References:
// - RFC5545: https://datatracker.ietf.org/doc/html/rfc5545
//
// # Notes:
// - Only writing is supported. All datetimes are written in UTC.
// - Content lines are folded at 75 octets, never inside a UTF-8 sequence.
//
// # Example usage:
//
//	calendar := ical.NewCalendar("GanApp")
//	calendar.AddEvent(ical.Event{ID: "...", Summary: "Orientation", ...})
//	output, _ := calendar.ToIcal()
package ical

import (
	"fmt"
	"io"
	"strings"
)

const prodID = "-//GanApp//Event Calendar//EN"

type Calendar struct {
	name        string
	description string
	events      []Event
}

func NewCalendar(name string) Calendar {
	return Calendar{name: name}
}

func (cal *Calendar) SetDescription(description string) {
	cal.description = description
}

func (cal *Calendar) AddEvent(event Event) {
	cal.events = append(cal.events, event)
}

func (cal *Calendar) GetEvents() []Event {
	return cal.events
}

// Marshal a Calendar{} struct into an iCalendar string.
func (cal *Calendar) ToIcal() (string, error) {
	var sb strings.Builder
	if _, err := cal.WriteTo(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (cal *Calendar) WriteTo(w io.Writer) (int64, error) {
	var total int64
	writer := Split75wrapper(func(s string) (int, error) {
		n, err := io.WriteString(w, s)
		total += int64(n)
		return n, err
	})

	for _, line := range []string{
		"BEGIN:VCALENDAR",
		"PRODID:" + prodID,
		"VERSION:2.0",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"X-WR-CALNAME:" + escapeText(cal.name),
	} {
		if _, err := writer(line); err != nil {
			return total, err
		}
	}
	if cal.description != "" {
		if _, err := writer("X-WR-CALDESC:" + escapeText(cal.description)); err != nil {
			return total, err
		}
	}
	for _, event := range cal.events {
		if err := event.write(writer); err != nil {
			return total, fmt.Errorf("can't marshal event %s: %w", event.ID, err)
		}
	}
	if _, err := writer("END:VCALENDAR"); err != nil {
		return total, err
	}
	return total, nil
}
