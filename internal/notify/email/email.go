// Package email is the templated async email pipeline (spec §1 names
// "email dispatch" as one of the four durable async pipelines). SMTP
// transport itself is out of scope — Sender is the seam a real
// integration would implement.
package email

import (
	"bytes"
	"context"
	"text/template"
)

// Message is a rendered, ready-to-send email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a rendered Message. LogSender is the only
// implementation this module ships; a production SMTP sender is an
// external integration point.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Template renders a Message body from a whitelisted variable set only —
// template bodies are trusted operator-authored content, but the
// variables interpolated into them are not, so Render takes its vars as
// a flat map[string]string rather than an arbitrary struct that might
// leak an unintended field.
type Template struct {
	Subject string
	Body    *template.Template
}

// ParseTemplate compiles body as a text/template. Using text/template
// rather than html/template is deliberate: email bodies here are plain
// text notifications, not HTML the recipient's client renders.
func ParseTemplate(name, subject, body string) (*Template, error) {
	t, err := template.New(name).Parse(body)
	if err != nil {
		return nil, err
	}
	return &Template{Subject: subject, Body: t}, nil
}

// Render fills the template with vars and returns a Message addressed to
// to.
func (t *Template) Render(to string, vars map[string]string) (Message, error) {
	var buf bytes.Buffer
	if err := t.Body.Execute(&buf, vars); err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: t.Subject, Body: buf.String()}, nil
}

// LogSender records what would have been sent instead of performing a
// live SMTP delivery. This is the default Sender: the contract the
// outbox dispatcher needs to exercise is "render, attempt send, record
// delivery audit," not a live SMTP integration (spec §1 Non-goals).
type LogSender struct {
	Sent []Message
}

// Send appends msg to Sent.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.Sent = append(s.Sent, msg)
	return nil
}
