package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"sort"
	texttemplate "text/template"

	"forms-api/internal/models"
)

// EmailData is everything a template can reference
type EmailData struct {
	Channel        string
	FormName       string
	FormType       models.FormType
	SubmissionID   string
	SubmitterEmail string
	Fields         []EmailField
	CustomSubject  string
	PixelURL       string
	UnsubscribeURL string
}

// EmailField is one submitted key/value pair
type EmailField struct {
	Key   string
	Value string
}

// RenderedEmail is the output of a Renderer
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer turns notification data into email content
type Renderer interface {
	Render(data EmailData) (RenderedEmail, error)
}

// TrackingLinks builds tracked URLs for one sent email
type TrackingLinks struct {
	BaseURL     string
	SentEmailID string
}

// Pixel returns the open-tracking image URL
func (l TrackingLinks) Pixel() string {
	q := url.Values{"sentEmailId": {l.SentEmailID}}
	return l.BaseURL + "/api/track/open?" + q.Encode()
}

// Click wraps target in the click-tracking redirect
func (l TrackingLinks) Click(target string) string {
	q := url.Values{"sentEmailId": {l.SentEmailID}, "url": {target}}
	return l.BaseURL + "/api/track/click?" + q.Encode()
}

// Unsubscribe returns the tracked opt-out link for a submitter
func (l TrackingLinks) Unsubscribe(email, formID string) string {
	q := url.Values{"email": {email}, "formId": {formID}}
	return l.Click(l.BaseURL + "/api/unsubscribe?" + q.Encode())
}

// fieldsOf flattens submission data into sorted display rows
func fieldsOf(data map[string]interface{}) []EmailField {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]EmailField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, EmailField{Key: k, Value: csvCell(data[k])})
	}
	return fields
}

const confirmationHTML = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px;">
		<h1 style="color: #333; margin-bottom: 20px;">{{.Heading}}</h1>
		<p style="color: #666; font-size: 16px;">{{.Intro}}</p>
		<table style="width: 100%; border-collapse: collapse; margin-top: 20px;">
		{{- range .Data.Fields}}
			<tr><td style="padding: 6px; color: #999;">{{.Key}}</td><td style="padding: 6px; color: #333;">{{.Value}}</td></tr>
		{{- end}}
		</table>
		{{- if .Data.UnsubscribeURL}}
		<p style="color: #999; font-size: 12px; margin-top: 30px;"><a href="{{.Data.UnsubscribeURL}}">Unsubscribe</a></p>
		{{- end}}
	</div>
	<img src="{{.Data.PixelURL}}" width="1" height="1" alt="" style="display:none;">
</body>
</html>`

const confirmationText = `{{.Heading}}

{{.Intro}}
{{range .Data.Fields}}
{{.Key}}: {{.Value}}{{end}}
{{if .Data.UnsubscribeURL}}
Unsubscribe: {{.Data.UnsubscribeURL}}{{end}}
`

type templateView struct {
	Subject string
	Heading string
	Intro   string
	Data    EmailData
}

// TemplateRenderer is the built-in Renderer
type TemplateRenderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// NewTemplateRenderer parses the built-in templates
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		html: htmltemplate.Must(htmltemplate.New("email.html").Parse(confirmationHTML)),
		text: texttemplate.Must(texttemplate.New("email.txt").Parse(confirmationText)),
	}
}

// Render implements Renderer
func (r *TemplateRenderer) Render(data EmailData) (RenderedEmail, error) {
	view := templateView{Data: data}

	switch data.Channel {
	case models.ChannelSubmissionConfirmation:
		view.Subject = data.CustomSubject
		if view.Subject == "" {
			view.Subject = confirmationSubject(data)
		}
		view.Heading = view.Subject
		view.Intro = "Thanks, we received your submission. Here is a copy for your records."
	case models.ChannelDeveloperNotification:
		view.Subject = fmt.Sprintf("New submission on %s", data.FormName)
		view.Heading = view.Subject
		view.Intro = "Someone just submitted your form."
		if data.SubmitterEmail != "" {
			view.Intro = fmt.Sprintf("%s just submitted your form.", data.SubmitterEmail)
		}
	default:
		return RenderedEmail{}, fmt.Errorf("no template for channel %s", data.Channel)
	}

	var html, text bytes.Buffer
	if err := r.html.Execute(&html, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("failed to render html: %w", err)
	}
	if err := r.text.Execute(&text, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("failed to render text: %w", err)
	}
	return RenderedEmail{Subject: view.Subject, HTML: html.String(), Text: text.String()}, nil
}

func confirmationSubject(data EmailData) string {
	switch data.FormType {
	case models.FormTypeWaitlist:
		return fmt.Sprintf("You're on the %s waitlist", data.FormName)
	case models.FormTypeFeedback:
		return fmt.Sprintf("Thanks for your feedback on %s", data.FormName)
	case models.FormTypeContact:
		return fmt.Sprintf("We got your message - %s", data.FormName)
	}
	return fmt.Sprintf("Submission received - %s", data.FormName)
}
