// Package notify turns queued notification tasks into delivered messages.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"signline/internal/domain"
	"signline/internal/logging"
)

// Message is a rendered notification ready for a mailer.
type Message struct {
	To      string
	Name    string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers one message. A returned error is final: nothing is retried.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var subjects = map[domain.MessageKind]string{
	domain.MessageSignRequest:     "Please sign the documents",
	domain.MessageDocumentReady:   "Document Ready for View",
	domain.MessageSignerCompleted: "Document Completed: Review The Document",
}

// Subject returns the subject line for a message kind.
func Subject(kind domain.MessageKind) string {
	return subjects[kind]
}

type view struct {
	Name         string
	DocumentName string
	Link         string
	Intro        string
	Action       string
}

var page = template.Must(template.New("page").Parse(`<!doctype html>
<html><body style="font-family:Helvetica,Arial,sans-serif;color:#222">
<p>Hello {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>{{.Intro}} <strong>{{.DocumentName}}</strong>.</p>
{{if .Link}}<p><a href="{{.Link}}" style="display:inline-block;padding:10px 18px;background:#1f4ed8;color:#fff;text-decoration:none;border-radius:4px">{{.Action}}</a></p>
<p style="font-size:12px;color:#666">If the button does not work, open {{.Link}}</p>{{end}}
</body></html>`))

func viewFor(task domain.NotificationTask) (view, error) {
	v := view{Name: task.Name, DocumentName: task.DocumentName, Link: task.Link}
	if v.DocumentName == "" {
		v.DocumentName = "Document"
	}
	switch task.Kind {
	case domain.MessageSignRequest:
		v.Intro, v.Action = "You have been asked to sign", "Review and sign"
	case domain.MessageDocumentReady:
		v.Intro, v.Action = "A copy is ready for you:", "View document"
	case domain.MessageSignerCompleted:
		v.Intro, v.Action = "You have completed", "Review the document"
	default:
		return view{}, fmt.Errorf("unknown message kind %q", task.Kind)
	}
	return v, nil
}

// Compose renders the message for a queued task.
func Compose(task domain.NotificationTask) (Message, error) {
	v, err := viewFor(task)
	if err != nil {
		return Message{}, err
	}
	var html bytes.Buffer
	if err := page.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", task.Kind, err)
	}
	text := fmt.Sprintf("Hello %s,\n\n%s %s.\n", firstNonEmpty(v.Name, "there"), v.Intro, v.DocumentName)
	if v.Link != "" {
		text += fmt.Sprintf("\n%s: %s\n", v.Action, v.Link)
	}
	return Message{
		To:      task.Email,
		Name:    task.Name,
		Subject: Subject(task.Kind),
		HTML:    html.String(),
		Text:    text,
	}, nil
}

// Dispatcher composes and sends notification tasks, one attempt each.
type Dispatcher struct {
	Mailer Mailer
	Logger *slog.Logger
}

// Deliver sends the task's message. Failures come back as NotificationError.
func (d Dispatcher) Deliver(ctx context.Context, task domain.NotificationTask) error {
	msg, err := Compose(task)
	if err != nil {
		return domain.NotificationError{Target: task.Email, Err: err}
	}
	if err := d.Mailer.Send(ctx, msg); err != nil {
		return domain.NotificationError{Target: task.Email, Err: err}
	}
	logging.FromContext(ctx, d.Logger).Debug("notification sent",
		logging.FieldEnvelopeID, task.EnvelopeID,
		logging.FieldSignerEmail, task.Email,
		"kind", string(task.Kind))
	return nil
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Message) error {
	logging.FromContext(ctx, m.Logger).Info("mail",
		"to", msg.To,
		"subject", msg.Subject,
		"body", strings.TrimSpace(msg.Text))
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
