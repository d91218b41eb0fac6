package models

import "strings"

// Case status values in common use. The column is free text, so these are
// conventions rather than an enforced set.
const (
	CaseStatusOpen    = "open"
	CaseStatusPending = "pending"
	CaseStatusClosed  = "closed"
)

// CaseFile is the record of legal matters for one client
type CaseFile struct {
	CaseID int64 `gorm:"column:case_id;primaryKey;autoIncrement" json:"case_id"`

	// Client relationship. Nullable only while an import is resolving it.
	ClientID *int64  `gorm:"column:client_id;index" json:"client_id,omitempty"`
	Client   *Client `gorm:"foreignKey:ClientID;references:ClientID" json:"client,omitempty"`

	CaseName   string `gorm:"column:case_name" json:"case_name"`
	CaseStatus string `gorm:"column:case_status" json:"case_status"`
}

// TableName specifies the table name for CaseFile model
func (CaseFile) TableName() string {
	return "case_files"
}

// HasClient checks if the case file is attached to a client
func (c *CaseFile) HasClient() bool {
	return c.ClientID != nil && *c.ClientID != 0
}

// IsOpen checks if the case file is open
func (c *CaseFile) IsOpen() bool {
	return strings.EqualFold(c.CaseStatus, CaseStatusOpen)
}

// IsClosed checks if the case file is closed
func (c *CaseFile) IsClosed() bool {
	return strings.EqualFold(c.CaseStatus, CaseStatusClosed)
}
