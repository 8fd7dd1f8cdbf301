package notify

import (
	"fmt"
	"log"
	"net/smtp"
)

// Notifier delivers a reminder to a user. The queue consumer only depends on
// this interface so delivery can be swapped without touching the queue.
type Notifier interface {
	Notify(to, subject, body string) error
}

// LogNotifier writes reminders to the process log. Used when no SMTP
// credentials are configured.
type LogNotifier struct{}

// Notify logs the reminder instead of delivering it.
func (LogNotifier) Notify(to, subject, body string) error {
	log.Printf("reminder for %s: %s - %s", to, subject, body)
	return nil
}

// SMTPNotifier delivers reminders by email through an SMTP server.
type SMTPNotifier struct {
	addr string
	host string
	from string
	auth smtp.Auth
}

// NewSMTPNotifier sets up an email notifier for the given SMTP server.
// It dials the server once to verify the connection before returning.
func NewSMTPNotifier(host string, port int, sender, password string) (*SMTPNotifier, error) {
	n := &SMTPNotifier{
		addr: fmt.Sprintf("%s:%d", host, port),
		host: host,
		from: sender,
		auth: smtp.PlainAuth("", sender, password, host),
	}

	c, err := smtp.Dial(n.addr)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to the SMTP server: %v", err)
	}
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("cannot close the SMTP connection: %v", err)
	}

	return n, nil
}

// Notify sends the reminder as a plain-text email.
func (n *SMTPNotifier) Notify(to, subject, body string) error {
	headers := make(map[string]string)
	headers["From"] = n.from
	headers["To"] = to
	headers["Subject"] = subject
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = `text/plain; charset="utf-8"`

	message := ""
	for k, v := range headers {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	message += "\r\n" + body

	err := smtp.SendMail(n.addr, n.auth, n.from, []string{to}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send reminder email: %v", err)
	}
	return nil
}
