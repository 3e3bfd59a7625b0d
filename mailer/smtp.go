package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"github.com/sinanisler/gumroad-api/config"
	"github.com/sinanisler/gumroad-api/gumsync"
)

// Mailer sends welcome mail over plain SMTP. All connection settings come
// from the environment; site branding fills the template tags.
type Mailer struct {
	host     string
	port     string
	username string
	password string
	from     string

	siteName string
	siteURL  string
	loginURL string
}

func NewMailer() *Mailer {
	siteURL := strings.TrimRight(strings.TrimSpace(os.Getenv("SITE_URL")), "/")
	loginURL := strings.TrimSpace(os.Getenv("LOGIN_URL"))
	if loginURL == "" && siteURL != "" {
		loginURL = siteURL + "/login"
	}
	return &Mailer{
		host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		port:     strings.TrimSpace(os.Getenv("SMTP_PORT")),
		username: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     strings.TrimSpace(os.Getenv("SMTP_FROM")),
		siteName: strings.TrimSpace(os.Getenv("SITE_NAME")),
		siteURL:  siteURL,
		loginURL: loginURL,
	}
}

// SendWelcome renders the template tags and hands the mail to SMTP. It
// returns whether the mail was accepted; delivery problems are logged but
// never fail provisioning.
func (m *Mailer) SendWelcome(ctx context.Context, mail gumsync.WelcomeMail) bool {
	log := config.GetLogger()
	if m.host == "" || mail.To == "" {
		return false
	}

	replacer := strings.NewReplacer(
		"{{site_name}}", m.siteName,
		"{{site_url}}", m.siteURL,
		"{{product_name}}", mail.ProductName,
		"{{username}}", mail.Username,
		"{{password}}", mail.Password,
		"{{email}}", mail.To,
		"{{login_url}}", m.loginURL,
		"{{password_reset_url}}", m.loginURL+"?action=lostpassword",
	)
	subject := replacer.Replace(mail.Subject)
	body := replacer.Replace(mail.Template)

	port := m.port
	if port == "" {
		port = "587"
	}
	addr := m.host + ":" + port
	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}
	from := m.from
	if from == "" {
		from = m.username
	}

	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-version: 1.0;\r\nContent-Type: text/plain; charset=\"UTF-8\";\r\n\r\n%s", from, mail.To, subject, body))
	if err := smtp.SendMail(addr, auth, from, []string{mail.To}, msg); err != nil {
		log.WithContext(ctx).WithError(err).WithField("to", mail.To).Warn("welcome mail delivery failed")
		return false
	}
	return true
}
