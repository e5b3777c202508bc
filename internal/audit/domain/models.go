// Package domain contains the append-only audit log model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog is one privileged action. Rows are never updated or deleted.
type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorID      snowflake.ID      `gorm:"column:actor_id;not null;index" json:"actor_id"`
	OrgID        *snowflake.ID     `gorm:"column:org_id;index" json:"org_id,omitempty"`
	Action       string            `gorm:"type:text;not null" json:"action"`
	ResourceType string            `gorm:"type:text;not null" json:"resource_type"`
	ResourceID   *string           `gorm:"type:text" json:"resource_id,omitempty"`
	Details      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"details"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// Action tags recorded by the membership and invitation workflows.
const (
	ActionOrganizationCreated = "ORGANIZATION_CREATED"
	ActionMemberAdded         = "MEMBER_ADDED"
	ActionMemberRoleUpdated   = "MEMBER_ROLE_UPDATED"
	ActionMemberRemoved       = "MEMBER_REMOVED"
	ActionInvitationSent      = "INVITATION_SENT"
	ActionInvitationAccepted  = "INVITATION_ACCEPTED"
	ActionInvitationRevoked   = "INVITATION_REVOKED"
)

const (
	ResourceOrganization = "organization"
	ResourceMembership   = "membership"
	ResourceInvitation   = "invitation"
	ResourceUser         = "user"
)
