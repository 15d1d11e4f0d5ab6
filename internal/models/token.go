package models

import (
	"time"

	"gorm.io/datatypes"
)

// OAuthToken holds one provider's OAuth grant as a JSON blob
type OAuthToken struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Provider  string         `gorm:"type:varchar(50);uniqueIndex;not null" json:"provider"`
	Token     datatypes.JSON `gorm:"type:jsonb;not null" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (OAuthToken) TableName() string {
	return "oauth_tokens"
}
