// Package domain contains persistence models for the organization service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a tenant.
type Organization struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	Name             string       `gorm:"type:text;not null" json:"name"`
	Slug             string       `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	Description      string       `gorm:"type:text" json:"description"`
	OwnerID          snowflake.ID `gorm:"column:owner_id;not null;index" json:"owner_id"`
	AllowInvitations bool         `gorm:"not null;default:true" json:"allow_invitations"`
	MaxMembers       int          `gorm:"not null;default:100" json:"max_members"`
	IsActive         bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// Membership binds one user to one organization. It is the single source of
// truth for the relationship; user-side and organization-side member views
// are queries over this table.
type Membership struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_memberships_org_user,priority:1" json:"org_id"`
	UserID      snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_memberships_org_user,priority:2" json:"user_id"`
	Role        string            `gorm:"type:text;not null" json:"role"`
	Permissions datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"permissions"`
	Status      string            `gorm:"type:text;not null;default:'active'" json:"status"`
	InvitedBy   *snowflake.ID     `gorm:"column:invited_by" json:"invited_by,omitempty"`
	JoinedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"joined_at"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "memberships" }

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

const (
	MemberStatusActive    = "active"
	MemberStatusSuspended = "suspended"
)

// ValidRole reports whether role is one of the known membership roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// PermissionsMap converts a typed permission set into the stored JSON form.
func PermissionsMap(perms map[string]bool) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for name, granted := range perms {
		if name == "" {
			continue
		}
		out[name] = granted
	}
	return out
}

// PermissionGranted reads one override out of the stored JSON form. Absent
// or non-boolean values read as false.
func PermissionGranted(perms datatypes.JSONMap, name string) bool {
	if perms == nil {
		return false
	}
	granted, _ := perms[name].(bool)
	return granted
}
