package models

import "time"

// DeviceToken is an FCM registration of an admin device.
type DeviceToken struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"userId" gorm:"not null;index"`
	Token     string    `json:"token" gorm:"not null;uniqueIndex"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (DeviceToken) TableName() string {
	return "device_tokens"
}
