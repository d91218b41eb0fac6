package models

// Client is the party a case file is kept for. Clients are shared by case
// files and never owned by them.
type Client struct {
	ClientID    int64   `gorm:"column:client_id;primaryKey;autoIncrement" json:"client_id"`
	ClientName  string  `gorm:"column:client_name;not null" json:"client_name"`
	ContactInfo *string `gorm:"column:contact_info" json:"contact_info,omitempty"`
}

// TableName specifies the table name for Client model
func (Client) TableName() string {
	return "clients"
}

// GetContactInfo returns the contact info or an empty string
func (c *Client) GetContactInfo() string {
	if c.ContactInfo == nil {
		return ""
	}
	return *c.ContactInfo
}
