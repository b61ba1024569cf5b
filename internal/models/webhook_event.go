package models

import "time"

// WebhookEvent records Stripe event ids that were already handled.
type WebhookEvent struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(255)"`
	Type        string    `json:"type" gorm:"not null"`
	ProcessedAt time.Time `json:"processedAt" gorm:"not null"`
}

// TableName specifies the table name
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
