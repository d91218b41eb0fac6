package services

import (
	"testing"
	"time"

	"casefile_billing_go/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingReport(caseID *int64) *Report {
	return &Report{
		CaseID:    caseID,
		CheckedAt: time.Date(2024, 1, 5, 2, 0, 0, 0, time.UTC),
		Findings: []Finding{
			{Check: CheckInvertedWindow, Severity: SeverityError, Table: "case_file_entries", Keys: []int64{4}, Message: "entry 4 stops billing before it starts"},
			{Check: CheckDuplicateBilling, Severity: SeverityWarning, Table: "billing_entries", Keys: []int64{7, 8}, Message: "billing entries [7 8] bill the same entry and window"},
		},
	}
}

func TestBuildValidationReportEmail(t *testing.T) {
	t.Run("All case files", func(t *testing.T) {
		email, err := BuildValidationReportEmail("ops@example.com", failingReport(nil))
		require.NoError(t, err)

		assert.Equal(t, []string{"ops@example.com"}, email.To)
		assert.Equal(t, "Case file validation failed", email.Subject)
		assert.Contains(t, email.TextBody, "validation failed: 1 errors, 1 warnings")
		assert.Contains(t, email.TextBody, "Scope: all case files")
		assert.Contains(t, email.TextBody, "- inverted_window (case_file_entries): entry 4 stops billing before it starts")
		assert.Contains(t, email.HTMLBody, "<h3>Warnings</h3>")
	})

	t.Run("One case", func(t *testing.T) {
		caseID := int64(3)
		email, err := BuildValidationReportEmail("ops@example.com", failingReport(&caseID))
		require.NoError(t, err)
		assert.Equal(t, "Case file validation failed (case 3)", email.Subject)
		assert.Contains(t, email.TextBody, "Scope: case file 3")
	})

	t.Run("Passed", func(t *testing.T) {
		email, err := BuildValidationReportEmail("ops@example.com", &Report{CheckedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, "Case file validation passed", email.Subject)
		assert.NotContains(t, email.TextBody, "Errors:")
	})
}

func TestSendEmailTestMode(t *testing.T) {
	cfg := config.Default()
	cfg.EmailTestMode = true

	err := SendEmail(cfg, &Email{To: []string{"ops@example.com"}, Subject: "Hi", TextBody: "body"})
	assert.NoError(t, err)
}

func TestSendEmailRequiresAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.EmailTestMode = false
	cfg.ResendAPIKey = ""

	err := SendEmail(cfg, &Email{To: []string{"ops@example.com"}, Subject: "Hi", TextBody: "body"})
	assert.ErrorContains(t, err, "RESEND_API_KEY")
}

func TestNotifyValidationReport(t *testing.T) {
	cfg := config.Default()

	t.Run("Skipped without operator", func(t *testing.T) {
		cfg.OperatorEmail = ""
		cfg.EmailTestMode = false
		assert.NoError(t, NotifyValidationReport(cfg, failingReport(nil)))
	})

	t.Run("Logged in test mode", func(t *testing.T) {
		cfg.OperatorEmail = "ops@example.com"
		cfg.EmailTestMode = true
		assert.NoError(t, NotifyValidationReport(cfg, failingReport(nil)))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
}
