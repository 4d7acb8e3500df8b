package notification

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// EmailChannel delivers messages over SMTP.
type EmailChannel struct {
	host     string
	port     int
	username string
	password string
	from     string
	send     func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an email channel. An empty host leaves the
// channel unconfigured.
func NewEmailChannel(host string, port int, username, password, from string) *EmailChannel {
	return &EmailChannel{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		send:     smtp.SendMail,
	}
}

func (c *EmailChannel) Type() models.TargetType { return models.TargetEmail }

// Send mails the task message to the target's recipients. The first line
// of the message becomes the subject.
func (c *EmailChannel) Send(_ context.Context, target models.NotifyTarget, task *models.NotificationTask) error {
	if c.host == "" {
		return errors.New("smtp host not configured")
	}
	if len(target.To) == 0 {
		return errors.New("email target has no recipients")
	}

	subject := task.Message
	if idx := strings.IndexByte(subject, '\n'); idx >= 0 {
		subject = subject[:idx]
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(target.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(task.Message)

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}
	if err := c.send(addr, auth, c.from, target.To, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email via %s: %w", addr, err)
	}
	return nil
}
