// Package domain contains core types for the identity service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User represents a system user account.
type User struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Email         string       `gorm:"type:text;not null;uniqueIndex:ux_users_email" json:"email"`
	FirstName     string       `gorm:"type:text;not null" json:"first_name"`
	LastName      string       `gorm:"type:text;not null" json:"last_name"`
	PasswordHash  string       `gorm:"type:text;not null" json:"-"`
	EmailVerified bool         `gorm:"not null;default:false" json:"email_verified"`
	IsActive      bool         `gorm:"not null;default:true" json:"is_active"`
	LastLoginAt   *time.Time   `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// FullName joins the name parts for display.
func (u User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
