package models

import "time"

// Gender is a subscriber's push preference
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderBoth   Gender = "both"
)

// User is an end user subscribing to stores
type User struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Email     string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Gender    Gender    `json:"gender" gorm:"type:varchar(16);not null;default:both"`
	CreatedAt time.Time `json:"created_at"`
	Devices   []Device  `json:"devices,omitempty" gorm:"foreignKey:UserID"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// Device holds a push token registered by a user's app install
type Device struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	PushToken string    `json:"push_token" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Device
func (Device) TableName() string {
	return "devices"
}
