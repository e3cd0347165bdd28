// Package certificate renders the printable certificate page issued to
// attendees.
package certificate

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"ganapp/src-server/model"
	"ganapp/src-server/qr"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Certificate of Participation - {{.EventTitle}}</title>
<style>
body { font-family: Georgia, serif; background: #f4f1ea; margin: 0; }
.certificate { width: 960px; margin: 40px auto; padding: 64px; background: #fff; border: 12px double #1f4e79; text-align: center; }
h1 { font-size: 42px; letter-spacing: 4px; color: #1f4e79; margin: 0 0 16px; }
.name { font-size: 36px; font-weight: bold; border-bottom: 2px solid #333; display: inline-block; padding: 0 32px 8px; margin: 24px 0; }
.event { font-size: 24px; font-style: italic; }
.meta { margin-top: 48px; display: flex; justify-content: space-between; align-items: flex-end; font-size: 14px; }
.qr img { width: 120px; height: 120px; }
</style>
</head>
<body>
<div class="certificate">
<h1>CERTIFICATE OF PARTICIPATION</h1>
<p>This certifies that</p>
<div class="name">{{.Name}}</div>
<p>has attended</p>
<p class="event">{{.EventTitle}}</p>
<p>{{.Dates}}{{if .Venue}} at {{.Venue}}{{end}}</p>
<div class="meta">
<div>Issued {{.IssuedAt}}<br>Code <strong>{{.Code}}</strong></div>
{{if .QRCode}}<div class="qr"><img alt="verify" src="{{.QRCode}}"><br><a href="{{.VerifyURL}}">Verify</a></div>{{end}}
</div>
</div>
</body>
</html>
`

var page = template.Must(template.New("certificate").Parse(pageTemplate))

type View struct {
	Name       string
	EventTitle string
	Venue      string
	Dates      string
	IssuedAt   string
	Code       string
	VerifyURL  string
	QRCode     template.URL
}

// Builds the view of a certificate loaded with its Event and User.
func NewView(cert *model.Certificate, hostname string, loc *time.Location) (*View, error) {
	if cert.Event == nil || cert.User == nil {
		return nil, fmt.Errorf("NewView: certificate %s is missing its event or user", cert.ID)
	}
	if loc == nil {
		loc = time.UTC
	}
	view := &View{
		Name:       cert.User.FullName(),
		EventTitle: cert.Event.Title,
		Venue:      cert.Event.Venue,
		Dates:      FormatDates(cert.Event, loc),
		IssuedAt:   time.Unix(cert.IssuedAt, 0).In(loc).Format("January 2, 2006"),
		Code:       cert.Code,
		VerifyURL:  hostname + "/certificates/verify/" + cert.Code,
	}
	png, err := qr.PNG(view.VerifyURL, 256)
	if err != nil {
		return nil, fmt.Errorf("NewView: %w", err)
	}
	view.QRCode = template.URL(qr.DataURI(png))
	return view, nil
}

// "March 3, 2025" or "March 3 - 5, 2025" style range.
func FormatDates(event *model.Event, loc *time.Location) string {
	start := time.Unix(event.StartDateUnixUTC, 0).In(loc)
	// whole day events end at midnight of the next day
	end := time.Unix(event.EndDateUnixUTC-1, 0).In(loc)
	switch {
	case start.Year() != end.Year():
		return start.Format("January 2, 2006") + " - " + end.Format("January 2, 2006")
	case start.Month() != end.Month():
		return start.Format("January 2") + " - " + end.Format("January 2, 2006")
	case start.Day() != end.Day():
		return start.Format("January 2") + fmt.Sprintf(" - %d, %d", end.Day(), end.Year())
	}
	return start.Format("January 2, 2006")
}

func Render(w io.Writer, view *View) error {
	var buf bytes.Buffer
	if err := page.Execute(&buf, view); err != nil {
		return fmt.Errorf("certificate.Render: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}
