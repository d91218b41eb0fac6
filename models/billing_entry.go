package models

import "time"

// BillingEntry is a billable line attributed to a case file. EntryID is
// nil for lines added by hand without a source entry.
type BillingEntry struct {
	BillingID int64 `gorm:"column:billing_id;primaryKey;autoIncrement" json:"billing_id"`

	CaseID   int64     `gorm:"column:case_id;not null;index" json:"case_id"`
	CaseFile *CaseFile `gorm:"foreignKey:CaseID;references:CaseID" json:"-"`

	EntryID *int64         `gorm:"column:entry_id;index" json:"entry_id,omitempty"`
	Entry   *CaseFileEntry `gorm:"foreignKey:EntryID;references:EntryID" json:"-"`

	BillingCategory    string     `gorm:"column:billing_category" json:"billing_category"`
	BillingStart       *time.Time `gorm:"column:billing_start" json:"billing_start,omitempty"`
	BillingStop        *time.Time `gorm:"column:billing_stop" json:"billing_stop,omitempty"`
	BillingHours       float64    `gorm:"column:billing_hours" json:"billing_hours"`
	BillingDescription string     `gorm:"column:billing_description;type:text" json:"billing_description"`
}

// TableName specifies the table name for BillingEntry model
func (BillingEntry) TableName() string {
	return "billing_entries"
}

// IsManual checks if the line was added without a source entry
func (b *BillingEntry) IsManual() bool {
	return b.EntryID == nil
}

// HasInvertedWindow checks if the billing window ends before it starts
func (b *BillingEntry) HasInvertedWindow() bool {
	return b.BillingStart != nil && b.BillingStop != nil && b.BillingStop.Before(*b.BillingStart)
}

// BillingCategories lists the usual billing categories for billing-type
// entries. Other categories are accepted and reported as warnings.
var BillingCategories = []string{
	"Hearing Preparation",
	"Hearing",
	"Hearing Notes & Follow-up",
	"Billing & Invoicing",
	"Draft correspondence",
	"Draft email",
	"Draft documents",
	"Draft records",
	"Review correspondence",
	"Review email",
	"Review documents",
	"Review records",
	"Client Interview Preparation",
	"Client Interview",
	"Client Interview Notes & Follow-up",
	"Client Meeting Preparation",
	"Client Meeting",
	"Client Meeting Notes & Follow-up",
	"Client Status Update Preparation",
	"Client Status Update",
	"Client Status Update Notes & Follow-up",
	"Conference with Attorney Preparation",
	"Conference with Attorney",
	"Conference with Attorney Notes & Follow-up",
	"Settlement Agreement Drafting",
	"Settlement Agreement Review & Analysis",
	"Court Appearance Preparation",
	"Court Appearance",
	"Court Appearance Notes & Follow-up",
	"Mediation Meeting Preparation",
	"Mediation Meeting",
	"Mediation Meeting Notes & Follow-up",
	"Discovery Drafting",
	"Discovery Review",
	"Discovery Production",
	"Legal Research",
	"Settlement Preparation",
	"Settlement",
	"Settlement Notes & Follow-up",
	"Mediation Preparation",
	"Mediation",
	"Mediation Notes & Follow-up",
	"Meeting with Opposing Counsel Preparation",
	"Meeting with Opposing Counsel",
	"Meeting with Opposing Counsel Notes & Follow-up",
	"Phone Call Preparation",
	"Phone Call",
	"Phone Call Notes & Follow-up",
	"Prepare Report",
	"Review Report",
	"Team/Case Strategy Meeting Preparation",
	"Team/Case Strategy Meeting",
	"Team/Case Strategy Meeting Notes & Follow-up",
	"Trial Preparation",
	"Travel Time",
}

// All returns the models that make up the case file schema, in
// dependency order.
func All() []interface{} {
	return []interface{}{
		&Client{},
		&CaseFile{},
		&CaseFileEntry{},
		&BillingEntry{},
	}
}

// ExpectedColumns lists the columns of every table in the schema
var ExpectedColumns = map[string][]string{
	"clients":    {"client_id", "client_name", "contact_info"},
	"case_files": {"case_id", "client_id", "case_name", "case_status"},
	"case_file_entries": {
		"entry_id", "case_id", "type", "date", "title", "from_party", "to_party",
		"cc_party", "content", "attachments", "synopsis", "comments",
		"billing_start", "billing_stop", "billing_hrs",
	},
	"billing_entries": {
		"billing_id", "case_id", "entry_id", "billing_category",
		"billing_start", "billing_stop", "billing_hours", "billing_description",
	},
}
