// Package mail builds the transactional messages students receive and hands
// them to a transport. Rendering happens downstream; a Message only names
// the template and carries its data.
package mail

import (
	"context"
	"net/url"
	"strings"

	"student-registry/internal/model"
)

const (
	TemplateActivateAccount = "activate-account"
	TemplateResetPassword   = "reset-password"
	TemplatePasswordChanged = "password-changed"
)

type Message struct {
	Template string            `json:"template"`
	From     string            `json:"from"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Data     map[string]string `json:"data"`
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Composer fills sender, subject and links for the three student mails.
type Composer struct {
	Sender    string
	PublicURL string
}

func (c Composer) ActivateAccount(student model.Student, activationToken string) Message {
	return c.message(TemplateActivateAccount, "Activa tu cuenta", student, map[string]string{
		"url": c.link("/h/activate", url.Values{"token": {activationToken}}),
	})
}

func (c Composer) ResetPassword(student model.Student, resetToken string) Message {
	return c.message(TemplateResetPassword, "Recuperación de contraseña", student, map[string]string{
		"url": c.link("/j/recoverpwd", url.Values{"token": {resetToken}, "useremail": {student.Email}}),
	})
}

func (c Composer) PasswordChanged(student model.Student) Message {
	return c.message(TemplatePasswordChanged, "Cambio de contraseña", student, nil)
}

func (c Composer) message(template string, subject string, student model.Student, extra map[string]string) Message {
	data := map[string]string{
		"names":          student.Names,
		"lastname":       student.Lastname,
		"secondLastname": student.SecondLastname,
	}
	for key, value := range extra {
		data[key] = value
	}

	return Message{
		Template: template,
		From:     c.Sender,
		To:       student.Email,
		Subject:  subject,
		Data:     data,
	}
}

func (c Composer) link(path string, query url.Values) string {
	return strings.TrimRight(c.PublicURL, "/") + path + "?" + query.Encode()
}
