package models

import (
	"encoding/json"
	"time"
)

// Entry type values used by existing case files. Like case status, the
// column is open: any non-empty tag is accepted.
const (
	EntryTypeEmail     = "email-type"
	EntryTypeDocument  = "doc-type"
	EntryTypeMeeting   = "meeting-type"
	EntryTypePhoneCall = "phone-call-type"
	EntryTypeCaseNote  = "case-note-type"
	EntryTypeBilling   = "billing-type"
	EntryTypeOther     = "other-type"
)

// EntryTypes lists the well-known entry types
var EntryTypes = []string{
	EntryTypeEmail, EntryTypeDocument, EntryTypeMeeting, EntryTypePhoneCall,
	EntryTypeCaseNote, EntryTypeBilling, EntryTypeOther,
}

// CaseFileEntry is a single logged event within a case file
type CaseFileEntry struct {
	EntryID int64 `gorm:"column:entry_id;primaryKey;autoIncrement" json:"entry_id"`

	CaseID   int64     `gorm:"column:case_id;not null;index" json:"case_id"`
	CaseFile *CaseFile `gorm:"foreignKey:CaseID;references:CaseID" json:"-"`

	Type  string     `gorm:"column:type" json:"type"`
	Date  *time.Time `gorm:"column:date" json:"date,omitempty"`
	Title string     `gorm:"column:title" json:"title"`

	// Parties
	FromParty string `gorm:"column:from_party" json:"from_party"`
	ToParty   string `gorm:"column:to_party" json:"to_party"`
	CcParty   string `gorm:"column:cc_party" json:"cc_party"`

	Content     string `gorm:"column:content;type:text" json:"content"`
	Attachments string `gorm:"column:attachments;type:text" json:"attachments"` // JSON array of references
	Synopsis    string `gorm:"column:synopsis;type:text" json:"synopsis"`
	Comments    string `gorm:"column:comments;type:text" json:"comments"`

	// Billing window
	BillingStart *time.Time `gorm:"column:billing_start" json:"billing_start,omitempty"`
	BillingStop  *time.Time `gorm:"column:billing_stop" json:"billing_stop,omitempty"`
	BillingHrs   *float64   `gorm:"column:billing_hrs" json:"billing_hrs,omitempty"`
}

// TableName specifies the table name for CaseFileEntry model
func (CaseFileEntry) TableName() string {
	return "case_file_entries"
}

// HasBillingWindow checks if both billing timestamps are set
func (e *CaseFileEntry) HasBillingWindow() bool {
	return e.BillingStart != nil && e.BillingStop != nil
}

// HasInvertedWindow checks if the billing window ends before it starts
func (e *CaseFileEntry) HasInvertedWindow() bool {
	return e.HasBillingWindow() && e.BillingStop.Before(*e.BillingStart)
}

// BillingDuration returns the elapsed time of the billing window
func (e *CaseFileEntry) BillingDuration() time.Duration {
	if !e.HasBillingWindow() {
		return 0
	}
	return e.BillingStop.Sub(*e.BillingStart)
}

// AttachmentList decodes the stored attachment references
func (e *CaseFileEntry) AttachmentList() []string {
	if e.Attachments == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(e.Attachments), &list); err != nil {
		// Rows written by other tools may hold a bare reference
		return []string{e.Attachments}
	}
	return list
}

// SetAttachments stores the attachment references as a JSON array
func (e *CaseFileEntry) SetAttachments(refs []string) {
	if len(refs) == 0 {
		e.Attachments = ""
		return
	}
	data, _ := json.Marshal(refs)
	e.Attachments = string(data)
}
