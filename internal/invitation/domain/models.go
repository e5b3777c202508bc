package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusExpired  = "expired"
	StatusRevoked  = "revoked"
)

type Invitation struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"index:ux_invitations_org_email,unique,where:status = 'pending'" json:"org_id"`
	Email       string            `gorm:"index:ux_invitations_org_email,unique,where:status = 'pending'" json:"email"`
	Role        string            `json:"role"`
	Permissions datatypes.JSONMap `gorm:"type:jsonb" json:"permissions"`
	Token       string            `gorm:"uniqueIndex:ux_invitations_token" json:"-"`
	Status      string            `gorm:"default:'pending'" json:"status"`
	InvitedBy   snowflake.ID      `json:"invited_by"`
	AcceptedBy  *snowflake.ID     `json:"accepted_by,omitempty"`
	AcceptedAt  *time.Time        `json:"accepted_at,omitempty"`
	ExpiresAt   time.Time         `json:"expires_at"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (Invitation) TableName() string {
	return "invitations"
}

// Expired reports whether the invitation's deadline has passed, regardless of
// its stored status.
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
