package models

import "time"

// Account stores one configured external integration (an issue tracker
// site, a code host, a mailbox, a cloud console).
type Account struct {
	ID        string `gorm:"primaryKey"` // UUID
	Name      string `gorm:"uniqueIndex:idx_name_connector"`
	Connector string `gorm:"uniqueIndex:idx_name_connector"` // e.g. "tracker", "codehost", "mailbox"
	IsActive  bool   `gorm:"default:true"`

	// ConfigBlob is the AEAD-encrypted JSON configuration for the account
	// (client credentials, refresh token, tenant, provider extras).
	// Access tokens are never written here.
	ConfigBlob []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}
