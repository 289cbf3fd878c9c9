package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/odyssey-erp/expenseflow/jobs"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Message is a rendered e-mail ready for delivery.
type Message struct {
	To      jobs.Recipient
	Subject string
	Body    string
}

// Renderer renders notification e-mails from embedded templates.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	kinds := []string{jobs.KindSubmitted, jobs.KindDecided, jobs.KindReviewNeeded}
	r := &Renderer{templates: make(map[string]*template.Template, len(kinds))}
	for _, kind := range kinds {
		tmpl, err := template.New(kind).Option("missingkey=zero").ParseFS(templateFS, "templates/"+kind+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s template: %w", kind, err)
		}
		r.templates[kind] = tmpl
	}
	return r, nil
}

type templateData struct {
	ExpenseID string
	Recipient jobs.Recipient
	fields    map[string]string
}

// Field returns a payload field, empty when absent.
func (d templateData) Field(name string) string {
	return d.fields[name]
}

// Render produces the message for one recipient.
func (r *Renderer) Render(payload jobs.NotifyEmailPayload, to jobs.Recipient) (Message, error) {
	tmpl, ok := r.templates[payload.Kind]
	if !ok {
		return Message{}, fmt.Errorf("notify: no template for kind %q", payload.Kind)
	}
	data := templateData{ExpenseID: payload.ExpenseID, Recipient: to, fields: payload.Fields}
	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return Message{}, err
	}
	if err := tmpl.ExecuteTemplate(&body, "body", data); err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: strings.TrimSpace(subject.String()),
		Body:    strings.TrimSpace(body.String()) + "\n",
	}, nil
}
