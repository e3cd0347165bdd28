package ical

import (
	"fmt"
	"strings"
	"time"
)

type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	URL         string
	// iCalendar STATUS: TENTATIVE, CONFIRMED or CANCELLED
	Status string
	// written as-is after "ORGANIZER;", see NewCommonName
	Organizer string
	// unix seconds UTC
	StartDate    int64
	EndDate      int64
	WholeDay     bool
	RRule        string
	Sequence     int
	Created      int64
	LastModified int64
}

func (e *Event) write(writer func(string) (int, error)) error {
	if e.ID == "" {
		return fmt.Errorf("event has no id")
	}
	if e.StartDate == 0 || e.EndDate == 0 {
		return fmt.Errorf("event has no start or end date")
	}

	lines := []string{
		"BEGIN:VEVENT",
		"UID:" + e.ID,
		"DTSTAMP:" + TimeToIcalDatetime(time.Now()),
	}
	if e.WholeDay {
		lines = append(lines,
			"DTSTART;VALUE=DATE:"+time.Unix(e.StartDate, 0).UTC().Format("20060102"),
			"DTEND;VALUE=DATE:"+time.Unix(e.EndDate, 0).UTC().Format("20060102"),
		)
	} else {
		lines = append(lines,
			"DTSTART:"+TimeToIcalDatetime(time.Unix(e.StartDate, 0)),
			"DTEND:"+TimeToIcalDatetime(time.Unix(e.EndDate, 0)),
		)
	}
	lines = append(lines, "SUMMARY:"+escapeText(e.Summary))
	optional := []struct{ name, value string }{
		{"DESCRIPTION", escapeText(e.Description)},
		{"LOCATION", escapeText(e.Location)},
		{"URL", e.URL},
		{"STATUS", e.Status},
		{"RRULE", strings.TrimPrefix(e.RRule, "RRULE:")},
	}
	for _, prop := range optional {
		if prop.value != "" {
			lines = append(lines, prop.name+":"+prop.value)
		}
	}
	if e.Organizer != "" {
		lines = append(lines, "ORGANIZER;"+e.Organizer)
	}
	lines = append(lines, fmt.Sprintf("SEQUENCE:%d", e.Sequence))
	if e.Created != 0 {
		lines = append(lines, "CREATED:"+TimeToIcalDatetime(time.Unix(e.Created, 0)))
	}
	if e.LastModified != 0 {
		lines = append(lines, "LAST-MODIFIED:"+TimeToIcalDatetime(time.Unix(e.LastModified, 0)))
	}
	lines = append(lines, "END:VEVENT")

	for _, line := range lines {
		if _, err := writer(line); err != nil {
			return err
		}
	}
	return nil
}
