package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"log"
	"strings"
	texttemplate "text/template"

	"casefile_billing_go/config"

	"github.com/resend/resend-go/v2"
)

// Email represents an email message
type Email struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// SendEmail sends an email using Resend API
func SendEmail(cfg *config.Config, email *Email) error {
	// In test mode, log the email instead of sending
	if cfg.EmailTestMode {
		logEmailToConsole(email)
		log.Printf("[EMAIL] logged (test mode - not actually sent)")
		return nil
	}

	if cfg.ResendAPIKey == "" {
		return fmt.Errorf("RESEND_API_KEY not configured")
	}

	client := resend.NewClient(cfg.ResendAPIKey)

	fromAddress := fmt.Sprintf("%s <%s>", cfg.EmailFromName, cfg.EmailFrom)

	params := &resend.SendEmailRequest{
		From:    fromAddress,
		To:      email.To,
		Subject: email.Subject,
	}

	// Set body (prefer HTML if available)
	if email.HTMLBody != "" {
		params.Html = email.HTMLBody
	}
	if email.TextBody != "" {
		params.Text = email.TextBody
	}

	if params.Html == "" && params.Text == "" {
		return fmt.Errorf("email must have either HTMLBody or TextBody")
	}

	sent, err := client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send email via Resend: %w", err)
	}

	log.Printf("[EMAIL] sent via Resend (ID: %s) to: %v", sent.Id, email.To)
	return nil
}

// logEmailToConsole logs email details to console in test mode
func logEmailToConsole(email *Email) {
	separator := strings.Repeat("=", 80)
	log.Printf("\n%s\n📧 EMAIL (Test Mode - Not Actually Sent)\n%s", separator, separator)
	log.Printf("To: %v", email.To)
	log.Printf("Subject: %s", email.Subject)
	log.Printf("\n--- TEXT BODY ---\n%s", email.TextBody)
	log.Printf("\n--- HTML BODY (first 500 chars) ---\n%s...", truncate(email.HTMLBody, 500))
	log.Printf("%s\n", separator)
}

// truncate truncates a string to a maximum length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ValidationEmailData contains data for the validation report email
type ValidationEmailData struct {
	Scope     string
	Summary   string
	CheckedAt string
	Errors    []Finding
	Warnings  []Finding
}

var validationHTML = htmltemplate.Must(htmltemplate.New("validation").Parse(`<html><body>
<h2>{{.Summary}}</h2>
<p>Scope: {{.Scope}}<br>Checked at: {{.CheckedAt}}</p>
{{if .Errors}}<h3>Errors</h3><ul>{{range .Errors}}<li><b>{{.Check}}</b> ({{.Table}}): {{.Message}}</li>{{end}}</ul>{{end}}
{{if .Warnings}}<h3>Warnings</h3><ul>{{range .Warnings}}<li><b>{{.Check}}</b> ({{.Table}}): {{.Message}}</li>{{end}}</ul>{{end}}
</body></html>`))

var validationText = texttemplate.Must(texttemplate.New("validation").Parse(`{{.Summary}}
Scope: {{.Scope}}
Checked at: {{.CheckedAt}}
{{if .Errors}}
Errors:
{{range .Errors}}- {{.Check}} ({{.Table}}): {{.Message}}
{{end}}{{end}}{{if .Warnings}}
Warnings:
{{range .Warnings}}- {{.Check}} ({{.Table}}): {{.Message}}
{{end}}{{end}}`))

// BuildValidationReportEmail creates the operator email for a validation run
func BuildValidationReportEmail(toEmail string, report *Report) (*Email, error) {
	data := ValidationEmailData{
		Scope:     "all case files",
		Summary:   report.Summary(),
		CheckedAt: report.CheckedAt.Format("2006-01-02 15:04 MST"),
		Errors:    report.Errors(),
		Warnings:  report.Warnings(),
	}
	if report.CaseID != nil {
		data.Scope = fmt.Sprintf("case file %d", *report.CaseID)
	}

	var html, text bytes.Buffer
	if err := validationHTML.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("failed to render validation email: %w", err)
	}
	if err := validationText.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render validation email: %w", err)
	}

	subject := "Case file validation " + statusWord(report)
	if report.CaseID != nil {
		subject = fmt.Sprintf("%s (case %d)", subject, *report.CaseID)
	}
	return &Email{
		To:       []string{toEmail},
		Subject:  subject,
		HTMLBody: html.String(),
		TextBody: text.String(),
	}, nil
}

// NotifyValidationReport emails the report to the operator. Without an
// OPERATOR_EMAIL nothing is sent.
func NotifyValidationReport(cfg *config.Config, report *Report) error {
	if cfg.OperatorEmail == "" {
		log.Printf("[EMAIL] OPERATOR_EMAIL not set, skipping notification: %s", report.Summary())
		return nil
	}
	email, err := BuildValidationReportEmail(cfg.OperatorEmail, report)
	if err != nil {
		return err
	}
	return SendEmail(cfg, email)
}

func statusWord(report *Report) string {
	if report.Passed() {
		return "passed"
	}
	return "failed"
}
