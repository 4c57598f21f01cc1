package main

import (
	"bytes"
	"embed"
	"fmt"
	"net/smtp"
	"regexp"
	"strings"
	"text/template"

	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var mailTemplates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

// smtpSendMail is swapped out in tests.
var smtpSendMail = smtp.SendMail

type EmailJob struct {
	To       string      `json:"to"`
	Template string      `json:"template"`
	Data     interface{} `json:"data"`
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var htmlPolicy = bluemonday.UGCPolicy()

// sanitizeEmailHeader removes CRLF characters that could be used for header injection
func sanitizeEmailHeader(input string) string {
	sanitized := strings.ReplaceAll(input, "\r", "")
	sanitized = strings.ReplaceAll(sanitized, "\n", "")
	return strings.TrimSpace(sanitized)
}

func sanitizeAndValidateEmail(email string) (string, error) {
	sanitized := sanitizeEmailHeader(email)
	if sanitized == "" {
		return "", fmt.Errorf("email address cannot be empty")
	}
	if !emailRegex.MatchString(sanitized) {
		return "", fmt.Errorf("invalid email address format: %s", sanitized)
	}
	return sanitized, nil
}

func sendEmail(c Config, j EmailJob) error {
	to, err := sanitizeAndValidateEmail(j.To)
	if err != nil {
		return fmt.Errorf("invalid To address: %w", err)
	}
	from, err := sanitizeAndValidateEmail(c.SMTPFrom)
	if err != nil {
		return fmt.Errorf("invalid From address: %w", err)
	}

	var subjBuf, bodyBuf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&subjBuf, j.Template+"_subject", j.Data); err != nil {
		return err
	}
	if err := mailTemplates.ExecuteTemplate(&bodyBuf, j.Template+"_body", j.Data); err != nil {
		return err
	}

	msg := bytes.Buffer{}
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + sanitizeEmailHeader(subjBuf.String()) + "\r\n\r\n")
	msg.Write(htmlPolicy.SanitizeBytes(bodyBuf.Bytes()))
	addr := c.SMTPHost + ":" + c.SMTPPort
	var auth smtp.Auth
	if c.SMTPUser != "" {
		auth = smtp.PlainAuth("", c.SMTPUser, c.SMTPPass, c.SMTPHost)
	}
	return smtpSendMail(addr, auth, from, []string{to}, msg.Bytes())
}
