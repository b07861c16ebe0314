package mail

import (
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"
)

// NewDeviceAlert is the data rendered into the new-device email.
type NewDeviceAlert struct {
	AppName    string
	To         string
	FirstName  string
	DeviceName string
	IP         string
	City       string
	Country    string
	SeenAt     time.Time
	TrustURL   string
	RevokeURL  string
}

// ReplayAlert is the data rendered into the session-revoked email.
type ReplayAlert struct {
	AppName    string
	To         string
	FirstName  string
	IP         string
	DetectedAt time.Time
}

var (
	newDeviceText = template.Must(template.New("new_device_text").Parse(
		`Hello {{if .FirstName}}{{.FirstName}}{{else}}there{{end}},

A new device signed in to your {{.AppName}} account.

Device:   {{.DeviceName}}
Address:  {{.IP}}{{if .City}} ({{.City}}, {{.Country}}){{end}}
When:     {{.SeenAt.Format "2006-01-02 15:04 MST"}}

If this was you, you can mark the device as trusted:
{{.TrustURL}}

If this wasn't you, revoke the device and sign out every session now:
{{.RevokeURL}}

These links expire in 24 hours.
`))

	newDeviceHTML = htmltemplate.Must(htmltemplate.New("new_device_html").Parse(
		`<p>Hello {{if .FirstName}}{{.FirstName}}{{else}}there{{end}},</p>
<p>A new device signed in to your {{.AppName}} account.</p>
<ul>
<li><strong>Device:</strong> {{.DeviceName}}</li>
<li><strong>Address:</strong> {{.IP}}{{if .City}} ({{.City}}, {{.Country}}){{end}}</li>
<li><strong>When:</strong> {{.SeenAt.Format "2006-01-02 15:04 MST"}}</li>
</ul>
<p><a href="{{.TrustURL}}">Yes, this was me</a></p>
<p><a href="{{.RevokeURL}}">No, revoke this device and sign out everywhere</a></p>
<p>These links expire in 24 hours.</p>
`))

	replayText = template.Must(template.New("replay_text").Parse(
		`Hello {{if .FirstName}}{{.FirstName}}{{else}}there{{end}},

We detected a reused session token on your {{.AppName}} account{{if .IP}} from {{.IP}}{{end}} at {{.DetectedAt.Format "2006-01-02 15:04 MST"}}.
The affected session was signed out. If you did not expect this, change your password and review your devices.
`))
)

// RenderNewDeviceAlert builds the new-device message.
func RenderNewDeviceAlert(a NewDeviceAlert) (Message, error) {
	var text, html strings.Builder
	if err := newDeviceText.Execute(&text, a); err != nil {
		return Message{}, err
	}
	if err := newDeviceHTML.Execute(&html, a); err != nil {
		return Message{}, err
	}
	return Message{
		To:      a.To,
		Subject: "[" + a.AppName + "] New sign-in from " + a.DeviceName,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// RenderReplayAlert builds the session-revoked message.
func RenderReplayAlert(a ReplayAlert) (Message, error) {
	var text strings.Builder
	if err := replayText.Execute(&text, a); err != nil {
		return Message{}, err
	}
	return Message{
		To:      a.To,
		Subject: "[" + a.AppName + "] A session was signed out for your security",
		Text:    text.String(),
	}, nil
}
