package models

import "time"

// Vehicle is an entry of the fleet shown on the marketing pages.
type Vehicle struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`
	Capacity    int       `json:"capacity" gorm:"not null;default:6"`
	ImageURL    string    `json:"imageUrl"`
	ImageKey    string    `json:"-"`
	SortOrder   int       `json:"sortOrder" gorm:"not null;default:0"`
	IsActive    bool      `json:"isActive" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (Vehicle) TableName() string {
	return "vehicles"
}

// DefaultFleet is seeded into an empty vehicles table.
var DefaultFleet = []Vehicle{
	{Name: "Cadillac Escalade", Description: "2019 Cadillac Escalade", Capacity: 6, ImageURL: "/images/cadillac.png", SortOrder: 1, IsActive: true},
	{Name: "Chevy Suburban", Description: "2020 Chevy Suburban", Capacity: 7, ImageURL: "/images/suburban2.png", SortOrder: 2, IsActive: true},
}
